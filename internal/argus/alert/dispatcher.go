package alert

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

type Config struct {
	// Cooldown is the minimum gap between forwarded alerts for one zone,
	// measured on violation timestamps. Default 60s; negative forwards
	// every violation.
	Cooldown time.Duration
	// QueueSize bounds the outbox. Alerts offered to a full outbox are
	// dropped and counted. Default 64.
	QueueSize int
	// NotifyTimeout bounds a single channel delivery. Default 5s.
	NotifyTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Cooldown < 0 {
		c.Cooldown = 0
	} else if c.Cooldown == 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 5 * time.Second
	}
	return c
}

type Stats struct {
	Offered    uint64 `json:"offered"`
	Forwarded  uint64 `json:"forwarded"`
	Suppressed uint64 `json:"suppressed"`
	Critical   uint64 `json:"critical"`
	Delivered  uint64 `json:"delivered"`
	Failed     uint64 `json:"failed"`
	Dropped    uint64 `json:"dropped"`
}

// Dispatcher applies the per-zone cooldown and forwards alerts to its
// channel from a background outbox worker, so a slow channel never holds
// up the caller.
type Dispatcher struct {
	channel Channel
	cfg     Config
	logger  *log.Logger

	mu        sync.Mutex
	lastAlert map[string]time.Time
	stats     Stats
	closed    bool

	outbox chan Alert
	done   chan struct{}
	start  sync.Once
	begun  bool
}

// NewDispatcher creates a dispatcher. Alerts are queued until Start runs
// the outbox worker.
func NewDispatcher(ch Channel, cfg Config, logger *log.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		channel:   ch,
		cfg:       cfg,
		logger:    logger,
		lastAlert: make(map[string]time.Time),
		outbox:    make(chan Alert, cfg.QueueSize),
		done:      make(chan struct{}),
	}
}

// Offer reports whether the violation clears its zone's cooldown. When it
// does, an alert is queued for the channel and the zone's cooldown
// restarts at the violation's timestamp.
func (d *Dispatcher) Offer(v types.ZoneViolation, recordingRef string) bool {
	d.mu.Lock()
	d.stats.Offered++
	if last, ok := d.lastAlert[v.Zone]; ok && d.cfg.Cooldown > 0 && v.Timestamp.Sub(last) < d.cfg.Cooldown {
		d.stats.Suppressed++
		d.mu.Unlock()
		return false
	}
	d.lastAlert[v.Zone] = v.Timestamp
	d.stats.Forwarded++
	d.mu.Unlock()

	d.enqueue(FromViolation(v, recordingRef))
	return true
}

// Critical queues an alert without consulting or touching any cooldown.
func (d *Dispatcher) Critical(a Alert) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Level == "" {
		a.Level = LevelCritical
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	d.mu.Lock()
	d.stats.Critical++
	d.mu.Unlock()

	d.enqueue(a)
}

// ResetCooldown forgets the cooldown for zone, or for every zone when
// zone is empty.
func (d *Dispatcher) ResetCooldown(zone string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if zone == "" {
		clear(d.lastAlert)
		return
	}
	delete(d.lastAlert, zone)
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Start runs the outbox worker. Only the first call has an effect.
func (d *Dispatcher) Start(ctx context.Context) {
	d.start.Do(func() {
		d.mu.Lock()
		d.begun = true
		d.mu.Unlock()
		go d.run(ctx)
	})
}

// Close stops accepting alerts and waits for the worker to drain the
// outbox.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.outbox)
	begun := d.begun
	d.mu.Unlock()

	if begun {
		<-d.done
	}
}

func (d *Dispatcher) enqueue(a Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.stats.Dropped++
		return
	}
	select {
	case d.outbox <- a:
	default:
		d.stats.Dropped++
		d.logger.Printf("alert outbox full, dropped alert %s (zone=%q)", a.ID, a.Zone)
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	for a := range d.outbox {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.NotifyTimeout)
		err := d.channel.Notify(nctx, a)
		cancel()

		d.mu.Lock()
		if err != nil {
			d.stats.Failed++
		} else {
			d.stats.Delivered++
		}
		d.mu.Unlock()

		if err != nil {
			d.logger.Printf("alert delivery failed (id=%s zone=%q): %v", a.ID, a.Zone, err)
		}
	}
}
