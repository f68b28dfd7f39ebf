package alert_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/alert"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

var t0 = time.Date(2026, 3, 2, 22, 15, 0, 0, time.UTC)

func silentLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// recordingChannel collects delivered alerts.
type recordingChannel struct {
	mu     sync.Mutex
	alerts []alert.Alert
	err    error
}

func (c *recordingChannel) Notify(_ context.Context, a alert.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *recordingChannel) got() []alert.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]alert.Alert(nil), c.alerts...)
}

func violation(zone string, at time.Duration) types.ZoneViolation {
	return types.ZoneViolation{
		Zone:      zone,
		Timestamp: t0.Add(at),
		Detection: types.Detection{Label: "person", Confidence: 0.91},
	}
}

func newDispatcher(ch alert.Channel) *alert.Dispatcher {
	d := alert.NewDispatcher(ch, alert.Config{Cooldown: 60 * time.Second}, silentLogger())
	d.Start(context.Background())
	return d
}

// ═══════════════════════════════════════════════════════════════════════════
// Cooldown
// ═══════════════════════════════════════════════════════════════════════════

func TestOffer_SuppressesInsideCooldown(t *testing.T) {
	ch := &recordingChannel{}
	d := newDispatcher(ch)

	if !d.Offer(violation("porch", 0), "a.mp4") {
		t.Fatal("expected first violation forwarded")
	}
	if d.Offer(violation("porch", 8*time.Second), "a.mp4") {
		t.Error("expected violation 8s later suppressed")
	}
	if d.Offer(violation("porch", 59*time.Second), "a.mp4") {
		t.Error("expected violation 59s later suppressed")
	}
	if !d.Offer(violation("porch", 60*time.Second), "b.mp4") {
		t.Error("expected violation at exactly cooldown forwarded")
	}
	d.Close()

	got := ch.got()
	if len(got) != 2 {
		t.Fatalf("expected 2 alerts delivered, got %d", len(got))
	}
	if got[0].RecordingRef != "a.mp4" || got[0].Level != alert.LevelWarning || got[0].Zone != "porch" {
		t.Errorf("unexpected first alert %+v", got[0])
	}
	if got[0].ID == "" || got[0].ID == got[1].ID {
		t.Errorf("expected distinct alert ids, got %q and %q", got[0].ID, got[1].ID)
	}

	s := d.Stats()
	if s.Offered != 4 || s.Forwarded != 2 || s.Suppressed != 2 || s.Delivered != 2 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestOffer_CooldownIsPerZone(t *testing.T) {
	ch := &recordingChannel{}
	d := newDispatcher(ch)

	if !d.Offer(violation("porch", 0), "") || !d.Offer(violation("driveway", time.Second), "") {
		t.Error("expected each zone's first violation forwarded")
	}
	if d.Offer(violation("driveway", 2*time.Second), "") {
		t.Error("expected driveway repeat suppressed")
	}
	d.Close()

	if n := len(ch.got()); n != 2 {
		t.Errorf("expected 2 alerts, got %d", n)
	}
}

func TestResetCooldown(t *testing.T) {
	d := newDispatcher(&recordingChannel{})
	defer d.Close()

	d.Offer(violation("porch", 0), "")
	d.ResetCooldown("porch")
	if !d.Offer(violation("porch", time.Second), "") {
		t.Error("expected forward after cooldown reset")
	}
}

func TestOffer_NegativeCooldownForwardsEverything(t *testing.T) {
	ch := &recordingChannel{}
	d := alert.NewDispatcher(ch, alert.Config{Cooldown: -1}, silentLogger())
	d.Start(context.Background())

	for i, at := range []time.Duration{0, 10 * time.Second, 11 * time.Second, 5 * time.Second} {
		if !d.Offer(violation("porch", at), "") {
			t.Errorf("violation %d: expected forward with cooldown disabled", i)
		}
	}
	d.Close()

	if n := len(ch.got()); n != 4 {
		t.Errorf("expected 4 alerts, got %d", n)
	}
}

func TestOffer_ZeroCooldownUsesDefault(t *testing.T) {
	d := alert.NewDispatcher(&recordingChannel{}, alert.Config{}, silentLogger())
	defer d.Close()

	d.Offer(violation("porch", 0), "")
	if d.Offer(violation("porch", 59*time.Second), "") {
		t.Error("expected the 60s default cooldown to suppress")
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Critical
// ═══════════════════════════════════════════════════════════════════════════

func TestCritical_BypassesAndLeavesCooldown(t *testing.T) {
	ch := &recordingChannel{}
	d := newDispatcher(ch)

	d.Offer(violation("porch", 0), "")
	d.Critical(alert.Alert{Zone: "porch", Message: "camera covered", Timestamp: t0.Add(time.Second)})
	d.Critical(alert.Alert{Message: "camera moved", Timestamp: t0.Add(2 * time.Second)})
	if d.Offer(violation("porch", 3*time.Second), "") {
		t.Error("expected zone still in cooldown after critical alerts")
	}
	d.Close()

	got := ch.got()
	if len(got) != 3 {
		t.Fatalf("expected 3 alerts delivered, got %d", len(got))
	}
	if got[1].Level != alert.LevelCritical || got[1].ID == "" {
		t.Errorf("expected critical alert with id, got %+v", got[1])
	}
	if s := d.Stats(); s.Critical != 2 {
		t.Errorf("expected 2 critical, got %d", s.Critical)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Delivery
// ═══════════════════════════════════════════════════════════════════════════

func TestDelivery_FailuresAreCountedNotRetried(t *testing.T) {
	var calls int
	var mu sync.Mutex
	ch := alert.ChannelFunc(func(context.Context, alert.Alert) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("broker down")
	})
	d := newDispatcher(ch)

	if !d.Offer(violation("porch", 0), "") {
		t.Error("expected forward decision even when delivery will fail")
	}
	d.Close()

	if calls != 1 {
		t.Errorf("expected exactly 1 delivery attempt, got %d", calls)
	}
	if s := d.Stats(); s.Failed != 1 || s.Delivered != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestDelivery_SlowChannelDoesNotBlockOffer(t *testing.T) {
	release := make(chan struct{})
	ch := alert.ChannelFunc(func(context.Context, alert.Alert) error {
		<-release
		return nil
	})
	d := alert.NewDispatcher(ch, alert.Config{QueueSize: 1}, silentLogger())
	d.Start(context.Background())

	done := make(chan struct{})
	go func() {
		for i := range 5 {
			d.Offer(violation("zone-"+string(rune('a'+i)), 0), "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Offer blocked on a slow channel")
	}
	close(release)
	d.Close()

	if s := d.Stats(); s.Forwarded != 5 || s.Dropped == 0 {
		t.Errorf("expected 5 forwarded with some dropped, got %+v", s)
	}
}

func TestClose_WithoutStartAndTwice(t *testing.T) {
	d := alert.NewDispatcher(&recordingChannel{}, alert.Config{}, silentLogger())
	d.Offer(violation("porch", 0), "")
	d.Close()
	d.Close()
	d.Critical(alert.Alert{Message: "after close"})
	if s := d.Stats(); s.Dropped != 1 {
		t.Errorf("expected alert after close dropped, got %+v", s)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Channels
// ═══════════════════════════════════════════════════════════════════════════

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &recordingChannel{}
	bad := &recordingChannel{err: errors.New("nope")}
	err := alert.Multi{ok, bad, alert.LogChannel{Logger: silentLogger()}}.Notify(context.Background(), alert.Alert{Message: "x"})
	if err == nil {
		t.Error("expected joined error")
	}
	if len(ok.got()) != 1 {
		t.Error("expected healthy channel to receive the alert")
	}
}

func TestMQTTChannel_NotifyBeforeConnect(t *testing.T) {
	c := alert.NewMQTTChannel(alert.MQTTConfig{Broker: "localhost:1883"}, silentLogger())
	if err := c.Notify(context.Background(), alert.Alert{Level: alert.LevelCritical}); !errors.Is(err, alert.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if got := c.Topic(alert.Alert{Level: alert.LevelCritical}); got != "argus/alerts/critical" {
		t.Errorf("expected argus/alerts/critical, got %q", got)
	}
	c.Disconnect()
}
