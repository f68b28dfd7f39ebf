package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/store"
)

// EventLog appends pipeline records to the event store. A failed append is
// retried once and then dropped: losing an audit row must never stall
// frame processing.
type EventLog struct {
	store   store.EventStore
	timeout time.Duration
	logger  *log.Logger

	mu        sync.Mutex
	stats     EventLogStats
	listeners []func(store.EventRecord)
}

type EventLogStats struct {
	Appended uint64 `json:"appended"`
	Retried  uint64 `json:"retried"`
	Dropped  uint64 `json:"dropped"`
}

// NewEventLog wraps s. timeout bounds each append attempt; 0 means 2s.
func NewEventLog(s store.EventStore, timeout time.Duration, logger *log.Logger) *EventLog {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &EventLog{store: s, timeout: timeout, logger: logger}
}

// OnAppend registers fn to be called with every record that was stored.
// Listeners run on the caller's goroutine and must not block.
func (l *EventLog) OnAppend(fn func(store.EventRecord)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Record appends recs in order and returns how many were stored.
func (l *EventLog) Record(ctx context.Context, recs ...store.EventRecord) int {
	n := 0
	for _, rec := range recs {
		if l.append(ctx, rec) {
			n++
		}
	}
	return n
}

func (l *EventLog) Stats() EventLogStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *EventLog) append(ctx context.Context, rec store.EventRecord) bool {
	err := l.try(ctx, rec)
	if err != nil {
		l.count(func(s *EventLogStats) { s.Retried++ })
		err = l.try(ctx, rec)
	}
	if err != nil {
		l.count(func(s *EventLogStats) { s.Dropped++ })
		l.logger.Printf("event log: dropped %s record at %s: %v",
			rec.Kind, rec.Timestamp.Format(time.RFC3339), err)
		return false
	}

	l.mu.Lock()
	l.stats.Appended++
	listeners := l.listeners
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(rec)
	}
	return true
}

func (l *EventLog) try(ctx context.Context, rec store.EventRecord) error {
	// Appends outlive the caller's cancellation so shutdown records land.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	return l.store.Append(actx, rec)
}

func (l *EventLog) count(fn func(*EventLogStats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}
