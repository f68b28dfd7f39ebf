package pipeline_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/alert"
	"github.com/BrandonDHaskell/Argus/internal/argus/behavior"
	"github.com/BrandonDHaskell/Argus/internal/argus/motion"
	"github.com/BrandonDHaskell/Argus/internal/argus/pipeline"
	"github.com/BrandonDHaskell/Argus/internal/argus/recorder"
	"github.com/BrandonDHaskell/Argus/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/internal/argus/storage"
	"github.com/BrandonDHaskell/Argus/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/internal/argus/store/memory"
	"github.com/BrandonDHaskell/Argus/internal/argus/tamper"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/internal/argus/zone"
)

var t0 = time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)

const (
	frameW = 64
	frameH = 48
)

func silentLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// ── Frames ──────────────────────────────────────────────────────────────────

// scene builds a flat gray image. A busy scene has a bright block over
// roughly a tenth of the frame: enough for the motion gate, not enough to
// look like a moved camera.
func scene(level uint8, busy bool) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, frameW, frameH))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	if busy {
		for y := 10; y < 30; y++ {
			for x := 20; x < 36; x++ {
				img.SetGray(x, y, color.Gray{Y: 220})
			}
		}
	}
	return img
}

func frameAt(seq uint64, at time.Duration, img image.Image) types.Frame {
	return types.Frame{Seq: seq, CaptureTime: t0.Add(at), Image: img}
}

// ── Fakes ───────────────────────────────────────────────────────────────────

type fakeDetector struct {
	mu        sync.Mutex
	calls     int
	threshold float64
	err       error
}

func (d *fakeDetector) Detect(_ context.Context, _ types.Frame, threshold float64, _ []int) ([]types.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.threshold = threshold
	if d.err != nil {
		return nil, d.err
	}
	return []types.Detection{{
		ClassID:    0,
		Label:      "person",
		Confidence: 0.9,
		BBox:       types.BBox{X1: 20, Y1: 10, X2: 36, Y2: 30},
	}}, nil
}

func (d *fakeDetector) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type step struct {
	frame types.Frame
	err   error
}

// scriptedSource replays steps, then reports io.EOF.
type scriptedSource struct {
	mu    sync.Mutex
	steps []step
}

func (s *scriptedSource) Next(context.Context) (types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return types.Frame{}, io.EOF
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.frame, st.err
}

type collectChannel struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (c *collectChannel) Notify(_ context.Context, a alert.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *collectChannel) got() []alert.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]alert.Alert(nil), c.alerts...)
}

// fileEncoder writes one byte per frame to the clip path.
type fileEncoder struct {
	path   string
	frames int
}

func (e *fileEncoder) WriteFrame(types.Frame) error { e.frames++; return nil }

func (e *fileEncoder) Close() error {
	return os.WriteFile(e.path, []byte(strings.Repeat("x", e.frames)), 0o644)
}

// ── Harness ─────────────────────────────────────────────────────────────────

type harness struct {
	p        *pipeline.Pipeline
	deps     pipeline.Dependencies
	events   *memory.EventStore
	detector *fakeDetector
	alerts   *collectChannel
	dir      string
}

func newHarness(t *testing.T, cfg pipeline.Config, tune func(*pipeline.Dependencies)) *harness {
	t.Helper()
	dir := t.TempDir()
	logger := silentLogger()

	zones, err := zone.NewMonitor([]types.ZoneDefinition{{
		Name:        "yard",
		Polygon:     []types.Point{{X: 0, Y: 0}, {X: frameW, Y: 0}, {X: frameW, Y: frameH}, {X: 0, Y: frameH}},
		Sensitivity: 1,
		Enabled:     true,
	}}, 0.5)
	if err != nil {
		t.Fatalf("zone monitor: %v", err)
	}

	rec, err := recorder.New(recorder.Config{
		OutputDir: dir,
		FPS:       10,
		QueueSize: 1000,
		Now:       func() time.Time { return t0 },
	}, func(path string, _, _, _ int) (recorder.ClipEncoder, error) {
		return &fileEncoder{path: path}, nil
	}, logger)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}

	mgr, err := storage.NewManager(storage.Config{Dir: dir, MaxBytes: 1 << 30})
	if err != nil {
		t.Fatalf("storage: %v", err)
	}

	h := &harness{
		events:   memory.NewEventStore(),
		detector: &fakeDetector{},
		alerts:   &collectChannel{},
		dir:      dir,
	}
	dispatcher := alert.NewDispatcher(h.alerts, alert.Config{Cooldown: 60 * time.Second}, logger)

	h.deps = pipeline.Dependencies{
		Source:   &scriptedSource{},
		Detector: h.detector,
		Motion:   motion.New(motion.Config{}),
		Zones:    zones,
		Tamper:   tamper.New(tamper.Config{CheckInterval: time.Hour}),
		Learner:  behavior.New(behavior.Config{Location: time.UTC}),
		Recorder: rec,
		Storage:  mgr,
		Alerts:   dispatcher,
		Events:   service.NewEventLog(h.events, 0, logger),
		Logger:   logger,
	}
	if tune != nil {
		tune(&h.deps)
	}

	h.p, err = pipeline.New(h.deps, cfg)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	ctx := context.Background()
	rec.Start(ctx)
	dispatcher.Start(ctx)
	t.Cleanup(func() { _ = h.p.Shutdown(context.Background()) })
	return h
}

func (h *harness) shutdown(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func (h *harness) systemEvents(typ string) []store.EventRecord {
	var out []store.EventRecord
	for _, e := range h.events.Events() {
		if e.Kind == store.KindSystem && e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) detections() []store.EventRecord {
	var out []store.EventRecord
	for _, e := range h.events.Events() {
		if e.Kind == store.KindDetection {
			out = append(out, e)
		}
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════
// ProcessFrame
// ═══════════════════════════════════════════════════════════════════════════

func TestProcessFrame_NoMotionNeverCallsDetector(t *testing.T) {
	h := newHarness(t, pipeline.Config{}, nil)
	ctx := context.Background()

	for i := range 20 {
		rep := h.p.ProcessFrame(ctx, frameAt(uint64(i), time.Duration(i)*100*time.Millisecond, scene(100, false)))
		if rep.Motion {
			t.Fatalf("frame %d: unexpected motion", i)
		}
	}
	if n := h.detector.count(); n != 0 {
		t.Errorf("expected detector never invoked, got %d calls", n)
	}
	if n := len(h.detections()); n != 0 {
		t.Errorf("expected no detection records, got %d", n)
	}
}

func TestProcessFrame_ViolationAlertsRecordsAndLogs(t *testing.T) {
	h := newHarness(t, pipeline.Config{}, nil)
	ctx := context.Background()

	h.p.ProcessFrame(ctx, frameAt(0, 0, scene(100, false)))
	for i := 1; i <= 3; i++ {
		rep := h.p.ProcessFrame(ctx, frameAt(uint64(i), time.Duration(i)*100*time.Millisecond, scene(100, true)))
		if !rep.Motion || len(rep.Violations) != 1 {
			t.Fatalf("frame %d: expected motion and one violation, got %+v", i, rep)
		}
	}
	h.shutdown(t)

	if n := h.detector.count(); n != 3 {
		t.Errorf("expected 3 detector calls, got %d", n)
	}
	if h.detector.threshold != 0.5 {
		t.Errorf("expected detector threshold 0.5, got %v", h.detector.threshold)
	}

	dets := h.detections()
	if len(dets) != 3 {
		t.Fatalf("expected every violation logged, got %d", len(dets))
	}
	if !dets[0].Alerted || dets[1].Alerted || dets[2].Alerted {
		t.Errorf("expected only the first violation alerted, got %v %v %v", dets[0].Alerted, dets[1].Alerted, dets[2].Alerted)
	}
	if dets[0].RecordingRef == "" || dets[0].RecordingRef != dets[2].RecordingRef {
		t.Errorf("expected all violations in one recording, got %q / %q", dets[0].RecordingRef, dets[2].RecordingRef)
	}

	if got := h.alerts.got(); len(got) != 1 || got[0].Zone != "yard" {
		t.Errorf("expected one alert for yard, got %+v", got)
	}
	if n := len(h.systemEvents(types.EventRecordingStarted)); n != 1 {
		t.Errorf("expected 1 recording_started, got %d", n)
	}
	if n := len(h.systemEvents(types.EventRecordingFinished)); n != 1 {
		t.Errorf("expected 1 recording_finished, got %d", n)
	}
	if u := h.deps.Storage.Usage(); u.Files != 1 {
		t.Errorf("expected finished clip tracked by storage, got %+v", u)
	}

	st := h.p.Snapshot()
	if st.Counters.Violations != 3 || st.Zones["yard"] != 3 || st.Alerts.Forwarded != 1 {
		t.Errorf("unexpected snapshot %+v", st)
	}
}

// Pre buffer 5s at 10fps, post buffer 10s, violations at 0s and 8s: one
// alert and one clip covering -5s..18s.
func TestProcessFrame_RecordingScenario(t *testing.T) {
	h := newHarness(t, pipeline.Config{}, nil)
	ctx := context.Background()

	seq := uint64(0)
	for ms := -5000; ms <= 20000; ms += 100 {
		busy := ms == 0 || ms == 8000
		h.p.ProcessFrame(ctx, frameAt(seq, time.Duration(ms)*time.Millisecond, scene(100, busy)))
		seq++
	}
	h.shutdown(t)

	if n := h.detector.count(); n != 2 {
		t.Errorf("expected detector called for the two busy frames, got %d", n)
	}
	if got := h.alerts.got(); len(got) != 1 {
		t.Errorf("expected exactly one alert, got %d", len(got))
	}

	finished := h.systemEvents(types.EventRecordingFinished)
	if len(finished) != 1 {
		t.Fatalf("expected one finished recording, got %d", len(finished))
	}
	meta := finished[0].Metadata
	if meta["frames"] != "231" || meta["reason"] != recorder.ReasonPostBuffer {
		t.Errorf("expected 231 frames closed by post buffer, got %v", meta)
	}
	if !finished[0].Timestamp.Equal(t0.Add(18 * time.Second)) {
		t.Errorf("expected clip to end at 18s, got %s", finished[0].Timestamp.Sub(t0))
	}
	if _, err := os.Stat(filepath.Join(h.dir, meta["file"])); err != nil {
		t.Errorf("expected clip on disk: %v", err)
	}
}

func TestProcessFrame_FrameSkip(t *testing.T) {
	h := newHarness(t, pipeline.Config{FrameSkip: 3}, nil)
	ctx := context.Background()

	for i := range 9 {
		img := scene(100, i > 0)
		h.p.ProcessFrame(ctx, frameAt(uint64(i), time.Duration(i)*100*time.Millisecond, img))
	}

	// frames 1, 4 and 7 are processed; the first only seeds the gate
	if n := h.detector.count(); n != 2 {
		t.Errorf("expected 2 detector calls, got %d", n)
	}
	if c := h.p.Snapshot().Counters; c.Skipped != 6 || c.Frames != 9 {
		t.Errorf("unexpected counters %+v", c)
	}
}

func TestProcessFrame_DetectorFailureSkipsFrame(t *testing.T) {
	h := newHarness(t, pipeline.Config{}, nil)
	h.detector.err = errors.New("inference worker gone")
	ctx := context.Background()

	h.p.ProcessFrame(ctx, frameAt(0, 0, scene(100, false)))
	rep := h.p.ProcessFrame(ctx, frameAt(1, 100*time.Millisecond, scene(100, true)))

	if !rep.Motion || rep.Detected || len(rep.Violations) != 0 {
		t.Errorf("unexpected report %+v", rep)
	}
	if c := h.p.Snapshot().Counters; c.DetectorErrors != 1 {
		t.Errorf("expected 1 detector error, got %d", c.DetectorErrors)
	}
	if st := h.p.Snapshot().Recorder; st.BufferFill != 2 {
		t.Errorf("expected both frames buffered for recording, got %d", st.BufferFill)
	}
}

func TestProcessFrame_TamperRaisesCriticalAlert(t *testing.T) {
	h := newHarness(t, pipeline.Config{}, func(d *pipeline.Dependencies) {
		d.Tamper = tamper.New(tamper.Config{CheckInterval: time.Second})
	})
	ctx := context.Background()

	h.p.ProcessFrame(ctx, frameAt(0, 0, scene(100, false)))
	rep := h.p.ProcessFrame(ctx, frameAt(1, time.Second, scene(5, false)))
	if !rep.Tamper.Changed || rep.Tamper.Status != types.TamperCovered {
		t.Fatalf("expected transition to COVERED, got %+v", rep.Tamper)
	}
	h.shutdown(t)

	changes := h.systemEvents(types.EventTamperStateChange)
	if len(changes) != 1 || changes[0].Severity != types.SeverityCritical || changes[0].Metadata["to"] != "COVERED" {
		t.Errorf("unexpected tamper events %+v", changes)
	}
	got := h.alerts.got()
	if len(got) != 1 || got[0].Level != alert.LevelCritical {
		t.Errorf("expected one critical alert, got %+v", got)
	}
	if h.p.Healthy() {
		t.Error("expected unhealthy while covered")
	}
}

func TestProcessFrame_MaintenanceFlushesProfile(t *testing.T) {
	profile := filepath.Join(t.TempDir(), "profile.msgpack")
	h := newHarness(t, pipeline.Config{MaintenanceEvery: 2}, func(d *pipeline.Dependencies) {
		d.Learner = behavior.New(behavior.Config{ProfilePath: profile, Location: time.UTC})
	})
	ctx := context.Background()

	h.p.ProcessFrame(ctx, frameAt(0, 0, scene(100, false)))
	if _, err := os.Stat(profile); !os.IsNotExist(err) {
		t.Fatalf("expected no profile before maintenance, got %v", err)
	}
	h.p.ProcessFrame(ctx, frameAt(1, 100*time.Millisecond, scene(100, true)))
	if _, err := os.Stat(profile); err != nil {
		t.Errorf("expected profile written on maintenance frame: %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Run
// ═══════════════════════════════════════════════════════════════════════════

func TestRun_ReconnectsAfterSourceError(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{frame: frameAt(0, 0, scene(100, false))},
		{frame: frameAt(1, 100*time.Millisecond, scene(100, false))},
		{err: errors.New("rtsp: connection reset")},
		{err: errors.New("rtsp: connection refused")},
		{frame: frameAt(2, 5*time.Second, scene(100, false))},
	}}
	h := newHarness(t, pipeline.Config{BackoffInitial: time.Millisecond, BackoffMax: 2 * time.Millisecond}, func(d *pipeline.Dependencies) {
		d.Source = src
	})

	if err := h.p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	h.shutdown(t)

	if n := len(h.systemEvents(types.EventSourceDisconnected)); n != 1 {
		t.Errorf("expected 1 source_disconnected, got %d", n)
	}
	if n := len(h.systemEvents(types.EventSourceReconnected)); n != 1 {
		t.Errorf("expected 1 source_reconnected, got %d", n)
	}
	c := h.p.Snapshot().Counters
	if c.Frames != 3 || c.SourceErrors != 2 || c.Reconnects != 1 {
		t.Errorf("unexpected counters %+v", c)
	}
	if n := len(h.systemEvents(types.EventSystemStarted)); n != 1 {
		t.Errorf("expected system_started, got %d", n)
	}
	if n := len(h.systemEvents(types.EventSystemStopped)); n != 1 {
		t.Errorf("expected system_stopped, got %d", n)
	}
	if got := h.alerts.got(); len(got) != 1 || got[0].Level != alert.LevelCritical {
		t.Errorf("expected one critical disconnect alert, got %+v", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, pipeline.Config{BackoffInitial: time.Hour}, func(d *pipeline.Dependencies) {
		d.Source = &scriptedSource{steps: []step{{err: errors.New("no camera")}}}
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := pipeline.New(pipeline.Dependencies{}, pipeline.Config{})
	if !errors.Is(err, pipeline.ErrMissingDependency) {
		t.Errorf("expected ErrMissingDependency, got %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Operator controls
// ═══════════════════════════════════════════════════════════════════════════

func TestResetTamper_AcceptsRepositionedView(t *testing.T) {
	var steps []step
	for i := range 3 {
		steps = append(steps, step{frame: frameAt(uint64(i), time.Duration(i)*time.Second, scene(100, false))})
	}
	for i := 3; i < 6; i++ {
		steps = append(steps, step{frame: frameAt(uint64(i), time.Duration(i)*time.Second, scene(180, false))})
	}
	h := newHarness(t, pipeline.Config{}, func(d *pipeline.Dependencies) {
		d.Source = &scriptedSource{steps: steps}
		d.Tamper = tamper.New(tamper.Config{CheckInterval: time.Second})
	})
	ctx := context.Background()

	if err := h.p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st := h.p.Snapshot().Tamper.Status; st != types.TamperMoved {
		t.Fatalf("expected MOVED after reposition, got %s", st)
	}
	if h.p.Healthy() {
		t.Fatal("expected unhealthy while MOVED")
	}

	if prev := h.p.ResetTamper(ctx); prev != types.TamperMoved {
		t.Errorf("expected previous status MOVED, got %s", prev)
	}
	if !h.p.Healthy() {
		t.Error("expected healthy after reset")
	}

	// The new view becomes the reference.
	for i := 6; i < 10; i++ {
		rep := h.p.ProcessFrame(ctx, frameAt(uint64(i), time.Duration(i)*time.Second, scene(180, false)))
		if rep.Tamper.Status != types.TamperNormal {
			t.Fatalf("frame %d: expected NORMAL on the accepted view, got %s", i, rep.Tamper.Status)
		}
	}

	snap := h.p.Snapshot()
	if snap.TamperStats.Moved != 1 || snap.TamperStats.Checks < 7 {
		t.Errorf("unexpected tamper stats %+v", snap.TamperStats)
	}

	resets := h.systemEvents(types.EventTamperReset)
	if len(resets) != 1 || resets[0].Metadata["previous"] != "MOVED" || resets[0].Severity != types.SeverityInfo {
		t.Errorf("unexpected tamper reset events %+v", resets)
	}
}

func TestResetAlertCooldown_ForwardsNextViolation(t *testing.T) {
	h := newHarness(t, pipeline.Config{}, nil)
	ctx := context.Background()

	h.p.ProcessFrame(ctx, frameAt(0, 0, scene(100, false)))
	h.p.ProcessFrame(ctx, frameAt(1, 100*time.Millisecond, scene(100, true)))
	h.p.ProcessFrame(ctx, frameAt(2, 200*time.Millisecond, scene(100, true)))
	if st := h.p.Snapshot().Alerts; st.Forwarded != 1 || st.Suppressed != 1 {
		t.Fatalf("expected second violation suppressed by cooldown, got %+v", st)
	}

	h.p.ResetAlertCooldown("yard")
	h.p.ProcessFrame(ctx, frameAt(3, 300*time.Millisecond, scene(100, true)))
	if st := h.p.Snapshot().Alerts; st.Forwarded != 2 || st.Suppressed != 1 {
		t.Errorf("expected violation after reset forwarded, got %+v", st)
	}
}
