package service_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/internal/argus/store/memory"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func sysRecord(at time.Time, msg string) store.EventRecord {
	return store.SystemRecord(at, types.EventSystemStarted, types.SeverityInfo, msg, nil)
}

// ═══════════════════════════════════════════════════════════════════════════
// EventLog
// ═══════════════════════════════════════════════════════════════════════════

func TestEventLog_AppendsInOrderAndNotifies(t *testing.T) {
	ms := memory.NewEventStore()
	el := service.NewEventLog(ms, 0, silentLogger())

	var seen []string
	el.OnAppend(func(r store.EventRecord) { seen = append(seen, r.Message) })

	n := el.Record(context.Background(), sysRecord(now, "a"), sysRecord(now, "b"))
	if n != 2 {
		t.Fatalf("expected 2 appended, got %d", n)
	}
	events := ms.Events()
	if len(events) != 2 || events[0].Message != "a" || events[1].Message != "b" {
		t.Errorf("unexpected store contents %+v", events)
	}
	if len(seen) != 2 || seen[1] != "b" {
		t.Errorf("expected listener to see both records, got %v", seen)
	}
}

func TestEventLog_RetriesOnce(t *testing.T) {
	ms := memory.NewEventStore()
	el := service.NewEventLog(ms, 0, silentLogger())
	ms.FailNext(1)

	if n := el.Record(context.Background(), sysRecord(now, "a")); n != 1 {
		t.Fatalf("expected append to succeed on retry, got %d", n)
	}
	if s := el.Stats(); s.Retried != 1 || s.Appended != 1 || s.Dropped != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestEventLog_DropsAfterSecondFailure(t *testing.T) {
	ms := memory.NewEventStore()
	el := service.NewEventLog(ms, 0, silentLogger())
	called := false
	el.OnAppend(func(store.EventRecord) { called = true })
	ms.FailNext(2)

	if n := el.Record(context.Background(), sysRecord(now, "lost"), sysRecord(now, "kept")); n != 1 {
		t.Fatalf("expected 1 appended, got %d", n)
	}
	if s := el.Stats(); s.Dropped != 1 || s.Appended != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
	if events := ms.Events(); len(events) != 1 || events[0].Message != "kept" {
		t.Errorf("expected only the second record stored, got %+v", events)
	}
	if !called {
		t.Error("expected listener called for the stored record")
	}
}

func TestEventLog_SurvivesCancelledContext(t *testing.T) {
	ms := memory.NewEventStore()
	el := service.NewEventLog(ms, 0, silentLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if n := el.Record(ctx, sysRecord(now, "shutdown")); n != 1 {
		t.Errorf("expected shutdown record appended, got %d", n)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// RetentionPruner
// ═══════════════════════════════════════════════════════════════════════════

func TestRetentionPruner_DisabledWhenRetentionZero(t *testing.T) {
	pruner := service.NewRetentionPruner(memory.NewEventStore(), service.PrunerConfig{
		RetentionDays: 0,
		IntervalHours: 1,
	}, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pruner.Start(ctx)
	// Stop should return immediately without error.
	pruner.Stop()
}

func TestRetentionPruner_PrunesOnStart(t *testing.T) {
	ms := memory.NewEventStore()
	ctx := context.Background()

	v := types.ZoneViolation{Zone: "porch", Timestamp: now.AddDate(0, 0, -40)}
	if err := ms.Append(ctx, store.DetectionRecord(v, true, "")); err != nil {
		t.Fatalf("insert old: %v", err)
	}
	if err := ms.Append(ctx, sysRecord(now.AddDate(0, 0, -1), "recent")); err != nil {
		t.Fatalf("insert recent: %v", err)
	}

	pruner := service.NewRetentionPruner(ms, service.PrunerConfig{
		RetentionDays: 30,
		IntervalHours: 1,
		Now:           func() time.Time { return now },
	}, silentLogger())
	pruner.Start(ctx)
	pruner.Stop()

	events := ms.Events()
	if len(events) != 1 || events[0].Message != "recent" {
		t.Fatalf("expected only the recent record to survive, got %+v", events)
	}

	stats, err := ms.DailyStats(ctx, "2026-01-01", "2026-12-31")
	if err != nil {
		t.Fatalf("DailyStats: %v", err)
	}
	if len(stats) != 1 || stats[0].TotalAlerts != 1 {
		t.Errorf("expected daily rollup kept after prune, got %+v", stats)
	}
}

func TestRetentionPruner_StopIsIdempotent(t *testing.T) {
	pruner := service.NewRetentionPruner(memory.NewEventStore(), service.PrunerConfig{
		RetentionDays: 30,
		IntervalHours: 1,
	}, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	pruner.Start(ctx)

	cancel()
	// Multiple stops should not panic.
	pruner.Stop()
	pruner.Stop()
}
