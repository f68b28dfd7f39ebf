package store

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

var ErrUnknownKind = errors.New("unknown event kind")

type EventKind string

const (
	KindDetection EventKind = "detection"
	KindSystem    EventKind = "system"
)

// EventRecord is one append-only log entry. Detection records carry the
// zone, detection and recording fields; system records carry Type, Severity
// and Message.
type EventRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	Kind      EventKind         `json:"kind"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// detection
	Zone         string     `json:"zone,omitempty"`
	ClassID      int        `json:"class_id,omitempty"`
	Label        string     `json:"label,omitempty"`
	Confidence   float64    `json:"confidence,omitempty"`
	BBox         types.BBox `json:"bbox"`
	RecordingRef string     `json:"recording_ref,omitempty"`
	Alerted      bool       `json:"alerted,omitempty"`

	// system
	Type     string         `json:"type,omitempty"`
	Severity types.Severity `json:"severity,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// DetectionRecord builds the log entry for a zone violation.
func DetectionRecord(v types.ZoneViolation, alerted bool, recordingRef string) EventRecord {
	return EventRecord{
		Timestamp:    v.Timestamp,
		Kind:         KindDetection,
		Zone:         v.Zone,
		ClassID:      v.Detection.ClassID,
		Label:        v.Detection.Label,
		Confidence:   v.Detection.Confidence,
		BBox:         v.Detection.BBox,
		RecordingRef: recordingRef,
		Alerted:      alerted,
	}
}

// SystemRecord builds a system log entry.
func SystemRecord(ts time.Time, typ string, sev types.Severity, msg string, meta map[string]string) EventRecord {
	return EventRecord{
		Timestamp: ts,
		Kind:      KindSystem,
		Type:      typ,
		Severity:  sev,
		Message:   msg,
		Metadata:  meta,
	}
}

// DailyStat is the per-day, per-zone rollup maintained alongside the log.
type DailyStat struct {
	Date            string `json:"date"` // YYYY-MM-DD, UTC
	Zone            string `json:"zone"`
	TotalViolations int    `json:"total_violations"`
	TotalAlerts     int    `json:"total_alerts"`
}

// EventStore is the durable append-only event log. Range queries take a
// half-open [from, to) interval.
type EventStore interface {
	Append(ctx context.Context, rec EventRecord) error
	Detections(ctx context.Context, from, to time.Time) ([]EventRecord, error)
	SystemEvents(ctx context.Context, from, to time.Time) ([]EventRecord, error)
	DailyStats(ctx context.Context, fromDate, toDate string) ([]DailyStat, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ZoneStore lists the zones known to the event log.
type ZoneStore interface {
	ListZones(ctx context.Context) ([]types.ZoneDefinition, error)
}

// DateKey is the daily_stats key for t.
func DateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
