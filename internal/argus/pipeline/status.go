package pipeline

import (
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/alert"
	"github.com/BrandonDHaskell/Argus/internal/argus/behavior"
	"github.com/BrandonDHaskell/Argus/internal/argus/motion"
	"github.com/BrandonDHaskell/Argus/internal/argus/recorder"
	"github.com/BrandonDHaskell/Argus/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/internal/argus/storage"
	"github.com/BrandonDHaskell/Argus/internal/argus/tamper"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

// Status is a point-in-time copy of every component's state.
type Status struct {
	Connected   bool                   `json:"connected"`
	LastFrame   time.Time              `json:"last_frame"`
	Counters    Counters               `json:"counters"`
	Tamper      types.TamperState      `json:"tamper"`
	TamperStats tamper.Stats           `json:"tamper_stats"`
	Motion      motion.Stats           `json:"motion"`
	Zones       map[string]uint64      `json:"zone_violations"`
	Recorder    recorder.Status        `json:"recorder"`
	Storage     storage.Usage          `json:"storage"`
	Alerts      alert.Stats            `json:"alerts"`
	Behavior    []behavior.ZoneSummary `json:"behavior"`
	EventLog    service.EventLogStats  `json:"event_log"`
}

func (p *Pipeline) Snapshot() Status {
	p.mu.Lock()
	st := Status{Connected: p.connected, LastFrame: p.lastFrame, Counters: p.counters}
	p.mu.Unlock()

	st.Tamper = p.deps.Tamper.State()
	st.TamperStats = p.deps.Tamper.Stats()
	st.Motion = p.deps.Motion.Stats()
	st.Zones = p.deps.Zones.Stats()
	st.Recorder = p.deps.Recorder.Status()
	st.Storage = p.deps.Storage.Usage()
	st.Alerts = p.deps.Alerts.Stats()
	st.Behavior = p.deps.Learner.Snapshot()
	st.EventLog = p.deps.Events.Stats()
	return st
}

// Healthy reports whether the camera is delivering an untampered view.
func (p *Pipeline) Healthy() bool {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	return connected && p.deps.Tamper.State().Status == types.TamperNormal
}
