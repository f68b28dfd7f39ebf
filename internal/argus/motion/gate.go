// Package motion implements the cheap pre-filter that decides whether a
// frame is worth sending to the object detector.
package motion

import (
	"sync"

	"github.com/BrandonDHaskell/Argus/internal/argus/imaging"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

type Config struct {
	// Threshold is the foreground pixel fraction at or above which a
	// frame counts as motion. Default 0.02.
	Threshold float64
	// LearningRate is the weight of each new frame in the running-average
	// background. Default 0.05.
	LearningRate float64
	// PixelDelta is the luma difference for a pixel to be foreground.
	// Default 25.
	PixelDelta float64
	// ScaleWidth is the analysis width; frames are downscaled to it.
	// Default 160.
	ScaleWidth int
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 0.02
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		c.LearningRate = 0.05
	}
	if c.PixelDelta <= 0 {
		c.PixelDelta = 25
	}
	if c.ScaleWidth <= 0 {
		c.ScaleWidth = 160
	}
	return c
}

type Result struct {
	Triggered bool
	// Score is the foreground fraction, in [0,1].
	Score float64
}

type Stats struct {
	Frames    uint64 `json:"frames"`
	Triggered uint64 `json:"triggered"`
}

// Gate keeps an exponential running-average background model. The model
// only resets on Reset (camera reconnect); it otherwise adapts slowly to
// lighting changes.
type Gate struct {
	cfg Config

	mu         sync.Mutex
	background []float64
	w, h       int
	stats      Stats
}

func New(cfg Config) *Gate {
	return &Gate{cfg: cfg.withDefaults()}
}

// Detect compares f against the background and folds f into it. The first
// frame after construction or Reset only seeds the model.
func (g *Gate) Detect(f types.Frame) Result {
	gray := imaging.Gray(f.Image, g.cfg.ScaleWidth)
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.Frames++

	if g.background == nil || w != g.w || h != g.h {
		g.seed(gray.Pix, w, h)
		return Result{}
	}

	alpha := g.cfg.LearningRate
	var fg int
	for i, p := range gray.Pix {
		v := float64(p)
		d := v - g.background[i]
		if d > g.cfg.PixelDelta || -d > g.cfg.PixelDelta {
			fg++
		}
		g.background[i] += alpha * d
	}

	score := 0.0
	if n := len(gray.Pix); n > 0 {
		score = float64(fg) / float64(n)
	}
	triggered := score >= g.cfg.Threshold
	if triggered {
		g.stats.Triggered++
	}
	return Result{Triggered: triggered, Score: score}
}

// Reset discards the background model.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.background = nil
	g.mu.Unlock()
}

func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (g *Gate) seed(pix []uint8, w, h int) {
	g.background = make([]float64, len(pix))
	for i, p := range pix {
		g.background[i] = float64(p)
	}
	g.w, g.h = w, h
}
