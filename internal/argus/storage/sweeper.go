package storage

import (
	"context"
	"log"
	"time"
)

// Report is what the sweeper publishes after a pass that did something
// worth recording.
type Report struct {
	At     time.Time
	Result SweepResult
	Err    error
}

type SweeperConfig struct {
	// Interval is the backup cadence for sweeps when nobody requests one.
	// Default 5 minutes.
	Interval time.Duration
}

// Sweeper runs Manager.Sweep in the background, on request and on a
// backup interval. It is stopped via its context or Stop.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *log.Logger

	requests chan struct{}
	reports  chan Report
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a sweeper but does not start it.
func NewSweeper(m *Manager, cfg SweeperConfig, logger *log.Logger) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		manager:  m,
		interval: interval,
		logger:   logger,
		requests: make(chan struct{}, 1),
		reports:  make(chan Report, 16),
		done:     make(chan struct{}),
	}
}

// Start runs one sweep immediately, then waits for requests or the
// interval.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
	s.logger.Printf("storage sweeper started (max=%d bytes, interval=%s)", s.manager.cfg.MaxBytes, s.interval)
}

// Request asks for a sweep without blocking. Requests made while one is
// already pending collapse into it.
func (s *Sweeper) Request() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// Reports delivers sweeps that deleted files, hit retention pressure or
// failed.
func (s *Sweeper) Reports() <-chan Report { return s.reports }

// Stop signals the sweeper to exit and waits for it.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	s.sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		case <-s.requests:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	res, err := s.manager.Sweep()
	if err != nil {
		s.logger.Printf("storage sweep error: %v", err)
	}
	if len(res.Deleted) > 0 {
		s.logger.Printf("storage sweep: deleted %d files, freed %d bytes (%d -> %d)",
			len(res.Deleted), res.Freed, res.Before, res.After)
	}
	if res.Pressure {
		s.logger.Printf("storage pressure: %d bytes held by recordings inside the retention window", res.After)
	}
	if err == nil && len(res.Deleted) == 0 && !res.Pressure {
		return
	}

	select {
	case s.reports <- Report{At: time.Now().UTC(), Result: res, Err: err}:
	default:
		s.logger.Printf("storage sweeper: report channel full, report dropped")
	}
}
