// Package pipeline drives frames through the detectors in a fixed order
// and turns what they report into alerts, recordings and event records.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/alert"
	"github.com/BrandonDHaskell/Argus/internal/argus/behavior"
	"github.com/BrandonDHaskell/Argus/internal/argus/motion"
	"github.com/BrandonDHaskell/Argus/internal/argus/recorder"
	"github.com/BrandonDHaskell/Argus/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/internal/argus/storage"
	"github.com/BrandonDHaskell/Argus/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/internal/argus/tamper"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/internal/argus/zone"
)

var ErrMissingDependency = errors.New("pipeline dependency missing")

// FrameSource yields frames in capture order. io.EOF ends the stream; any
// other error is treated as a transient disconnect and retried.
type FrameSource interface {
	Next(ctx context.Context) (types.Frame, error)
}

// Detector runs object detection on a frame, returning detections with
// confidence of at least threshold. An empty classes list means every
// class.
type Detector interface {
	Detect(ctx context.Context, f types.Frame, threshold float64, classes []int) ([]types.Detection, error)
}

type Dependencies struct {
	Source   FrameSource
	Detector Detector
	Motion   *motion.Gate
	Zones    *zone.Monitor
	Tamper   *tamper.Monitor
	Learner  *behavior.Learner
	Recorder *recorder.Recorder
	Storage  *storage.Manager
	Sweeper  *storage.Sweeper
	Alerts   *alert.Dispatcher
	Events   *service.EventLog
	Logger   *log.Logger
}

func (d Dependencies) validate() error {
	missing := func(name string) error { return fmt.Errorf("%w: %s", ErrMissingDependency, name) }
	switch {
	case d.Source == nil:
		return missing("source")
	case d.Detector == nil:
		return missing("detector")
	case d.Motion == nil:
		return missing("motion gate")
	case d.Zones == nil:
		return missing("zone monitor")
	case d.Tamper == nil:
		return missing("tamper monitor")
	case d.Learner == nil:
		return missing("behavior learner")
	case d.Recorder == nil:
		return missing("recorder")
	case d.Storage == nil:
		return missing("storage manager")
	case d.Alerts == nil:
		return missing("alert dispatcher")
	case d.Events == nil:
		return missing("event log")
	case d.Logger == nil:
		return missing("logger")
	}
	return nil
}

type Config struct {
	// FrameSkip runs the detection steps on every K-th frame. Default 1.
	FrameSkip int
	// MaintenanceEvery is the frame cadence of storage sweeps and profile
	// flushes. Default 300.
	MaintenanceEvery int
	SourceTimeout    time.Duration // default 10s
	DetectTimeout    time.Duration // default 5s
	BackoffInitial   time.Duration // default 500ms
	BackoffMax       time.Duration // default 30s
	// DetectThreshold is passed to the detector. Default is the lowest
	// effective zone threshold, so no zone misses detections it would
	// accept.
	DetectThreshold float64
	TargetClasses   []int
}

func (c Config) withDefaults() Config {
	if c.FrameSkip <= 0 {
		c.FrameSkip = 1
	}
	if c.MaintenanceEvery <= 0 {
		c.MaintenanceEvery = 300
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = 10 * time.Second
	}
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = 5 * time.Second
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 500 * time.Millisecond
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = max(30*time.Second, c.BackoffInitial)
	}
	return c
}

// Counters are the pipeline's own running totals.
type Counters struct {
	Frames         uint64 `json:"frames"`
	Skipped        uint64 `json:"skipped"`
	MotionFrames   uint64 `json:"motion_frames"`
	DetectorCalls  uint64 `json:"detector_calls"`
	DetectorErrors uint64 `json:"detector_errors"`
	Violations     uint64 `json:"violations"`
	Anomalies      uint64 `json:"anomalies"`
	SourceErrors   uint64 `json:"source_errors"`
	Reconnects     uint64 `json:"reconnects"`
}

// FrameReport is what ProcessFrame did with one frame.
type FrameReport struct {
	Tamper     tamper.Result
	Skipped    bool
	Motion     bool
	Detected   bool
	Violations []types.ZoneViolation
	Alerted    int
	Records    int
}

// Pipeline is driven by a single goroutine (Run, or a caller of
// ProcessFrame). Snapshot and Healthy may be called from anywhere.
type Pipeline struct {
	deps   Dependencies
	cfg    Config
	logger *log.Logger

	mu        sync.Mutex
	counters  Counters
	connected bool
	lastFrame time.Time
	stopped   bool
}

func New(deps Dependencies, cfg Config) (*Pipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if cfg.DetectThreshold <= 0 {
		cfg.DetectThreshold = lowestThreshold(deps.Zones)
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: deps.Logger}, nil
}

func lowestThreshold(m *zone.Monitor) float64 {
	low := 1.0
	for _, z := range m.Zones() {
		if z.Enabled {
			low = min(low, m.EffectiveThreshold(z))
		}
	}
	return low
}

// Run pulls frames until ctx is cancelled or the source reports io.EOF.
// Transient source errors are retried with exponential backoff.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Printf("pipeline started (frame_skip=%d, maintenance_every=%d, detect_threshold=%.2f)",
		p.cfg.FrameSkip, p.cfg.MaintenanceEvery, p.cfg.DetectThreshold)
	p.deps.Events.Record(ctx, store.SystemRecord(time.Now().UTC(), types.EventSystemStarted, types.SeverityInfo, "pipeline started", nil))

	backoff := p.cfg.BackoffInitial
	everConnected := false

	for {
		if ctx.Err() != nil {
			return nil
		}

		f, err := p.next(ctx)
		if err == nil {
			if !p.isConnected() {
				p.markConnected(ctx, everConnected, f.CaptureTime)
			}
			everConnected = true
			backoff = p.cfg.BackoffInitial
			p.ProcessFrame(ctx, f)
			continue
		}

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, io.EOF) {
			p.logger.Printf("pipeline: frame source ended")
			return nil
		}

		p.markDisconnected(ctx, err)
		p.logger.Printf("pipeline: frame source error, retrying in %s: %v", backoff, err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, p.cfg.BackoffMax)

		// The recorder timer keeps closing sessions while the source is
		// down; record what it reports.
		p.deps.Events.Record(ctx, p.drain()...)
	}
}

func (p *Pipeline) next(ctx context.Context) (types.Frame, error) {
	sctx, cancel := context.WithTimeout(ctx, p.cfg.SourceTimeout)
	defer cancel()
	return p.deps.Source.Next(sctx)
}

func (p *Pipeline) markConnected(ctx context.Context, reconnect bool, at time.Time) {
	p.mu.Lock()
	p.connected = true
	if reconnect {
		p.counters.Reconnects++
	}
	p.mu.Unlock()

	if !reconnect {
		return
	}
	// The view may have shifted while the camera was away.
	p.deps.Motion.Reset()
	p.logger.Printf("pipeline: frame source reconnected")
	p.deps.Events.Record(ctx, store.SystemRecord(at, types.EventSourceReconnected, types.SeverityInfo, "frame source reconnected", nil))
}

func (p *Pipeline) markDisconnected(ctx context.Context, cause error) {
	p.mu.Lock()
	p.counters.SourceErrors++
	was := p.connected
	p.connected = false
	p.mu.Unlock()

	if !was {
		return
	}
	now := time.Now().UTC()
	msg := fmt.Sprintf("frame source disconnected: %v", cause)
	p.deps.Events.Record(ctx, store.SystemRecord(now, types.EventSourceDisconnected, types.SeverityCritical, msg, nil))
	p.deps.Alerts.Critical(alert.Alert{Level: alert.LevelCritical, Message: msg, Timestamp: now})
}

// ProcessFrame runs one frame through every stage and appends the records
// it produced, in the order they were produced.
func (p *Pipeline) ProcessFrame(ctx context.Context, f types.Frame) FrameReport {
	var rep FrameReport
	var records []store.EventRecord

	p.mu.Lock()
	p.counters.Frames++
	n := p.counters.Frames
	p.lastFrame = f.CaptureTime
	p.mu.Unlock()

	// 1. tamper, on every frame
	rep.Tamper = p.deps.Tamper.Check(f)
	if rep.Tamper.Changed && rep.Tamper.Event != nil {
		records = append(records, p.tamperChanged(*rep.Tamper.Event))
	}

	// 2-6. detection steps, on every K-th frame
	if (n-1)%uint64(p.cfg.FrameSkip) != 0 {
		rep.Skipped = true
		p.count(func(c *Counters) { c.Skipped++ })
	} else {
		records = p.detect(ctx, f, &rep, records)
	}

	p.deps.Recorder.AddFrame(f)
	p.deps.Recorder.Tick(f.CaptureTime)

	// 7. append
	records = append(records, p.drain()...)
	rep.Records = p.deps.Events.Record(ctx, records...)

	// 8. maintenance
	if n%uint64(p.cfg.MaintenanceEvery) == 0 {
		p.maintain(f.CaptureTime)
	}
	return rep
}

func (p *Pipeline) detect(ctx context.Context, f types.Frame, rep *FrameReport, records []store.EventRecord) []store.EventRecord {
	if !p.deps.Motion.Detect(f).Triggered {
		return records
	}
	rep.Motion = true
	p.count(func(c *Counters) { c.MotionFrames++; c.DetectorCalls++ })

	dctx, cancel := context.WithTimeout(ctx, p.cfg.DetectTimeout)
	dets, err := p.deps.Detector.Detect(dctx, f, p.cfg.DetectThreshold, p.cfg.TargetClasses)
	cancel()
	if err != nil {
		p.count(func(c *Counters) { c.DetectorErrors++ })
		p.logger.Printf("pipeline: detector failed on frame %d: %v", f.Seq, err)
		return records
	}
	rep.Detected = true

	rep.Violations = p.deps.Zones.Check(dets, f.CaptureTime, f.Seq)
	for _, v := range rep.Violations {
		ref := p.deps.Recorder.Trigger(v)
		alerted := p.deps.Alerts.Offer(v, ref)
		if alerted {
			rep.Alerted++
		}
		records = append(records, store.DetectionRecord(v, alerted, ref))

		a := p.deps.Learner.Observe(v)
		if a.Anomalous && !a.Repeat {
			p.count(func(c *Counters) { c.Anomalies++ })
			records = append(records, anomalyRecord(v, a))
		}
	}
	p.count(func(c *Counters) { c.Violations += uint64(len(rep.Violations)) })
	return records
}

func (p *Pipeline) tamperChanged(ev types.TamperEvent) store.EventRecord {
	sev := types.SeverityInfo
	msg := "camera view restored"
	switch ev.To {
	case types.TamperCovered:
		sev, msg = types.SeverityCritical, "camera covered or blinded"
	case types.TamperMoved:
		sev, msg = types.SeverityCritical, "camera moved"
	}
	p.logger.Printf("pipeline: tamper %s -> %s", ev.From, ev.To)

	if ev.To != types.TamperNormal {
		p.deps.Alerts.Critical(alert.Alert{Level: alert.LevelCritical, Message: msg, Timestamp: ev.At})
	}
	return store.SystemRecord(ev.At, types.EventTamperStateChange, sev, msg, map[string]string{
		"from":           string(ev.From),
		"to":             string(ev.To),
		"previous_since": ev.PreviousSince.UTC().Format(time.RFC3339Nano),
		"brightness":     fmt.Sprintf("%.1f", ev.Brightness),
		"difference":     fmt.Sprintf("%.3f", ev.Difference),
	})
}

func anomalyRecord(v types.ZoneViolation, a behavior.Assessment) store.EventRecord {
	msg := fmt.Sprintf("unusual activity in zone %s (%s)", v.Zone, a.Reason)
	return store.SystemRecord(v.Timestamp, types.EventBehaviorAnomaly, types.SeverityWarning, msg, map[string]string{
		"zone":         v.Zone,
		"reason":       a.Reason,
		"slot":         a.Slot,
		"period":       a.Period,
		"sample_count": fmt.Sprint(a.SampleCount),
		"period_count": fmt.Sprint(a.PeriodCount),
		"z_score":      fmt.Sprintf("%.2f", a.ZScore),
	})
}

func (p *Pipeline) maintain(now time.Time) {
	if p.deps.Sweeper != nil {
		p.deps.Sweeper.Request()
	}
	if removed := p.deps.Learner.Cleanup(now); removed > 0 {
		p.logger.Printf("pipeline: behavior cleanup dropped %d stale periods", removed)
	}
	if err := p.deps.Learner.Save(); err != nil {
		p.logger.Printf("pipeline: save behavior profile: %v", err)
	}
}

func (p *Pipeline) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Pipeline) count(fn func(*Counters)) {
	p.mu.Lock()
	fn(&p.counters)
	p.mu.Unlock()
}

// Shutdown finalizes the active recording, records what the background
// tasks reported, flushes the behavior profile and stops the sweeper and
// alert outbox. It is safe to call more than once.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.connected = false
	p.mu.Unlock()

	var errs []error
	if err := p.deps.Recorder.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if p.deps.Sweeper != nil {
		p.deps.Sweeper.Stop()
	}
	records := p.drain()
	if err := p.deps.Learner.Save(); err != nil {
		errs = append(errs, fmt.Errorf("save behavior profile: %w", err))
	}
	records = append(records, store.SystemRecord(time.Now().UTC(), types.EventSystemStopped, types.SeverityInfo, "pipeline stopped", nil))
	p.deps.Events.Record(ctx, records...)
	p.deps.Alerts.Close()

	p.logger.Printf("pipeline stopped")
	return errors.Join(errs...)
}
