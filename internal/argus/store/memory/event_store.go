package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/store"
)

// EventStore is an in-memory append-only event log with the same rollup
// behaviour as the sqlite implementation.
type EventStore struct {
	mu     sync.Mutex
	events []store.EventRecord
	daily  map[[2]string]*store.DailyStat

	// remaining injected Append failures, see FailNext
	failNext int
}

func NewEventStore() *EventStore {
	return &EventStore{daily: make(map[[2]string]*store.DailyStat)}
}

func (s *EventStore) Append(_ context.Context, rec store.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext > 0 {
		s.failNext--
		return fmt.Errorf("memory event store: injected failure")
	}

	switch rec.Kind {
	case store.KindDetection:
		key := [2]string{store.DateKey(rec.Timestamp), rec.Zone}
		st, ok := s.daily[key]
		if !ok {
			st = &store.DailyStat{Date: key[0], Zone: key[1]}
			s.daily[key] = st
		}
		st.TotalViolations++
		if rec.Alerted {
			st.TotalAlerts++
		}
	case store.KindSystem:
	default:
		return fmt.Errorf("%w: %q", store.ErrUnknownKind, rec.Kind)
	}

	s.events = append(s.events, rec)
	return nil
}

func (s *EventStore) Detections(_ context.Context, from, to time.Time) ([]store.EventRecord, error) {
	return s.between(store.KindDetection, from, to), nil
}

func (s *EventStore) SystemEvents(_ context.Context, from, to time.Time) ([]store.EventRecord, error) {
	return s.between(store.KindSystem, from, to), nil
}

func (s *EventStore) DailyStats(_ context.Context, fromDate, toDate string) ([]store.DailyStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.DailyStat
	for _, st := range s.daily {
		if st.Date >= fromDate && st.Date <= toDate {
			out = append(out, *st)
		}
	}
	slices.SortFunc(out, func(a, b store.DailyStat) int {
		return cmp.Or(strings.Compare(a.Date, b.Date), strings.Compare(a.Zone, b.Zone))
	})
	return out, nil
}

func (s *EventStore) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for _, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return deleted, nil
}

// Events returns a copy of every record in append order. Test helper.
func (s *EventStore) Events() []store.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// FailNext makes the next n appends fail. Test helper.
func (s *EventStore) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

func (s *EventStore) between(kind store.EventKind, from, to time.Time) []store.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.EventRecord
	for _, e := range s.events {
		if e.Kind == kind && !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b store.EventRecord) int { return a.Timestamp.Compare(b.Timestamp) })
	return out
}
