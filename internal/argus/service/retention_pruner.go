package service

import (
	"context"
	"log"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/store"
)

// RetentionPruner periodically deletes detection and system events older
// than a configurable retention period. Daily stats are kept. It runs as a
// background goroutine and is stopped via its context or Stop.
//
// A retention of 0 disables pruning entirely.
type RetentionPruner struct {
	store     store.EventStore
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *log.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

type PrunerConfig struct {
	// RetentionDays is how many days of event history to keep.
	// 0 means keep everything (pruner will not start).
	RetentionDays int

	// IntervalHours is how often the pruner runs. Defaults to 6.
	IntervalHours int

	Now func() time.Time
}

// NewRetentionPruner creates a pruner but does not start it.
func NewRetentionPruner(s store.EventStore, cfg PrunerConfig, logger *log.Logger) *RetentionPruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &RetentionPruner{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		now:       now,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs an immediate prune, then repeats on the configured interval.
func (p *RetentionPruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.logger.Printf("event pruner disabled (retention=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)

	go p.loop(ctx)

	p.logger.Printf("event pruner started (retention=%dd, interval=%s)",
		int(p.retention.Hours()/24), p.interval)
}

// Stop signals the pruner to exit and waits for it to finish.
func (p *RetentionPruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *RetentionPruner) loop(ctx context.Context) {
	defer close(p.done)

	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *RetentionPruner) prune(ctx context.Context) {
	cutoff := p.now().UTC().Add(-p.retention)
	deleted, err := p.store.PruneOlderThan(context.WithoutCancel(ctx), cutoff)
	if err != nil {
		p.logger.Printf("event prune error: %v", err)
		return
	}
	if deleted > 0 {
		p.logger.Printf("event prune: deleted %d rows older than %s",
			deleted, cutoff.Format(time.RFC3339))
	}
}
