// Package tamper watches for the camera being covered or pointed away.
package tamper

import (
	"image"
	"slices"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/imaging"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

type Config struct {
	// BrightnessThreshold is the absolute mean luma below which the lens
	// may be covered. Default 20.
	BrightnessThreshold float64
	// RelativeDrop is the required fractional drop from the baseline for
	// a cover. Default 0.7.
	RelativeDrop float64
	// MovementThreshold is the fraction of changed pixels against the
	// reference frame that means the camera moved. Default 0.15.
	MovementThreshold float64
	// PixelDelta is the per-pixel luma difference counted as changed.
	// Default 30.
	PixelDelta int
	// HistorySize is how many NORMAL brightness samples feed the median
	// baseline. Default 30.
	HistorySize int
	// BaselineSamples is how many samples are needed before the relative
	// test applies. Default 10.
	BaselineSamples int
	// CheckInterval rate-limits checks on frame capture time. Default 1s.
	CheckInterval time.Duration
	ScaleWidth    int
}

func (c Config) withDefaults() Config {
	if c.BrightnessThreshold <= 0 {
		c.BrightnessThreshold = 20
	}
	if c.RelativeDrop <= 0 || c.RelativeDrop > 1 {
		c.RelativeDrop = 0.7
	}
	if c.MovementThreshold <= 0 {
		c.MovementThreshold = 0.15
	}
	if c.PixelDelta <= 0 {
		c.PixelDelta = 30
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 30
	}
	if c.BaselineSamples <= 0 {
		c.BaselineSamples = min(10, c.HistorySize)
	}
	c.BaselineSamples = min(c.BaselineSamples, c.HistorySize)
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Second
	}
	if c.ScaleWidth <= 0 {
		c.ScaleWidth = 160
	}
	return c
}

type Result struct {
	// Checked is false when the frame fell inside the check interval.
	Checked    bool
	Status     types.TamperStatus
	Changed    bool
	Event      *types.TamperEvent
	Brightness float64
	Difference float64
}

type Stats struct {
	Checks  uint64 `json:"checks"`
	Covered uint64 `json:"covered"`
	Moved   uint64 `json:"moved"`
}

// Monitor is a three-state machine. The brightness baseline and the
// reference frame only advance while NORMAL, so a covered or moved camera
// never teaches itself that the tampered view is normal.
type Monitor struct {
	cfg Config

	mu        sync.Mutex
	status    types.TamperStatus
	since     time.Time
	lastCheck time.Time
	history   []float64 // ring of NORMAL brightness samples
	next      int
	baseline  float64
	reference *image.Gray
	stats     Stats
}

func New(cfg Config) *Monitor {
	return &Monitor{
		cfg:    cfg.withDefaults(),
		status: types.TamperNormal,
	}
}

func (m *Monitor) Check(f types.Frame) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastCheck.IsZero() && f.CaptureTime.Sub(m.lastCheck) < m.cfg.CheckInterval {
		return Result{Status: m.status}
	}
	m.lastCheck = f.CaptureTime
	m.stats.Checks++
	if m.since.IsZero() {
		m.since = f.CaptureTime
	}

	gray := imaging.Gray(f.Image, m.cfg.ScaleWidth)
	brightness := imaging.MeanLuma(gray)

	covered := brightness < m.cfg.BrightnessThreshold
	if covered && m.baselineReady() {
		covered = m.baseline-brightness >= m.cfg.RelativeDrop*m.baseline
	}

	var diff float64
	moved := false
	if !covered && m.reference != nil {
		diff = imaging.DiffFraction(m.reference, gray, m.cfg.PixelDelta)
		moved = diff > m.cfg.MovementThreshold
	}

	next := types.TamperNormal
	switch {
	case covered:
		next = types.TamperCovered
	case moved:
		next = types.TamperMoved
	}

	if next == types.TamperNormal {
		m.learn(brightness, gray)
	}

	res := Result{Checked: true, Status: next, Brightness: brightness, Difference: diff}
	if next != m.status {
		res.Changed = true
		res.Event = &types.TamperEvent{
			From:          m.status,
			To:            next,
			At:            f.CaptureTime,
			PreviousSince: m.since,
			Brightness:    brightness,
			Difference:    diff,
		}
		switch next {
		case types.TamperCovered:
			m.stats.Covered++
		case types.TamperMoved:
			m.stats.Moved++
		}
		m.status = next
		m.since = f.CaptureTime
	}
	return res
}

// Reset forgets the baseline and reference, e.g. after an authorized
// camera adjustment. The status returns to NORMAL.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = types.TamperNormal
	m.since = time.Time{}
	m.lastCheck = time.Time{}
	m.history = nil
	m.next = 0
	m.baseline = 0
	m.reference = nil
}

func (m *Monitor) State() types.TamperState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.TamperState{
		Status:             m.status,
		BaselineBrightness: m.baseline,
		BaselineReady:      m.baselineReady(),
		LastCheck:          m.lastCheck,
		Since:              m.since,
	}
}

func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Monitor) baselineReady() bool {
	return len(m.history) >= m.cfg.BaselineSamples
}

func (m *Monitor) learn(brightness float64, gray *image.Gray) {
	if len(m.history) < m.cfg.HistorySize {
		m.history = append(m.history, brightness)
	} else {
		m.history[m.next] = brightness
		m.next = (m.next + 1) % m.cfg.HistorySize
	}
	m.baseline = median(m.history)
	m.reference = gray
}

func median(xs []float64) float64 {
	s := slices.Clone(xs)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
