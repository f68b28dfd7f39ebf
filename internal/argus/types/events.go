package types

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// System event types written to the event log.
const (
	EventTamperStateChange  = "tamper_state_change"
	EventBehaviorAnomaly    = "behavior_anomaly"
	EventSourceDisconnected = "source_disconnected"
	EventSourceReconnected  = "source_reconnected"
	EventRecordingStarted   = "recording_started"
	EventRecordingFinished  = "recording_finished"
	EventRecordingFailed    = "recording_failed"
	EventFramesDropped      = "recording_frames_dropped"
	EventStoragePressure    = "storage_pressure"
	EventStorageSweep       = "storage_sweep"
	EventStorageError       = "storage_error"
	EventProfileReset       = "behavior_profile_reset"
	EventTamperReset        = "tamper_reset"
	EventSystemStarted      = "system_started"
	EventSystemStopped      = "system_stopped"
)
