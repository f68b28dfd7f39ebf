// Package behavior learns when each zone is normally active and flags
// violations that fall outside that pattern.
package behavior

import (
	"cmp"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

var ErrCorruptProfile = errors.New("behavior profile corrupt")

const (
	ReasonUnusualTime   = "unusual_time"
	ReasonHighFrequency = "high_frequency"
)

type Config struct {
	SlotMinutes        int     // default 30
	LearningPeriodDays int     // default 7
	MinSamples         int     // default 10
	ZThreshold         float64 // default 2.5
	// ProfilePath is where Save/Load persist the profile. Empty disables
	// persistence.
	ProfilePath string
	// Location decides weekday and slot boundaries. Default time.Local.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.SlotMinutes <= 0 || 24*60%c.SlotMinutes != 0 {
		c.SlotMinutes = 30
	}
	if c.LearningPeriodDays <= 0 {
		c.LearningPeriodDays = 7
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 10
	}
	if c.ZThreshold <= 0 {
		c.ZThreshold = 2.5
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

func (c Config) window() time.Duration {
	return time.Duration(c.LearningPeriodDays) * 24 * time.Hour
}

func (c Config) slot() time.Duration {
	return time.Duration(c.SlotMinutes) * time.Minute
}

// Assessment is the learner's verdict on one violation.
type Assessment struct {
	Zone        string  `json:"zone"`
	Slot        string  `json:"slot"`
	Period      string  `json:"period"`
	SampleCount int     `json:"sample_count"`
	PeriodCount int     `json:"period_count"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"stddev"`
	ZScore      float64 `json:"z_score"`
	Learning    bool    `json:"learning"`
	Anomalous   bool    `json:"anomalous"`
	Reason      string  `json:"reason,omitempty"`
	// Repeat is set when the same anomaly was already reported for this
	// zone and period.
	Repeat bool `json:"repeat"`
}

type zoneProfile struct {
	Since   time.Time          `msgpack:"since"`
	Buckets map[string]*Bucket `msgpack:"buckets"`
}

type Learner struct {
	cfg Config

	mu       sync.Mutex
	zones    map[string]*zoneProfile
	reported map[occurrence]map[string]bool // reasons already reported
}

// occurrence is one zone in one slot occurrence.
type occurrence struct {
	zone   string
	period string
}

func New(cfg Config) *Learner {
	return &Learner{
		cfg:      cfg.withDefaults(),
		zones:    make(map[string]*zoneProfile),
		reported: make(map[occurrence]map[string]bool),
	}
}

// Observe learns v and judges it against the history that existed before
// the current slot occurrence.
func (l *Learner) Observe(v types.ZoneViolation) Assessment {
	ts := v.Timestamp.In(l.cfg.Location)
	key, period := l.locate(ts)

	l.mu.Lock()
	defer l.mu.Unlock()

	zp, ok := l.zones[v.Zone]
	if !ok {
		zp = &zoneProfile{Since: v.Timestamp, Buckets: make(map[string]*Bucket)}
		l.zones[v.Zone] = zp
	}
	b, ok := zp.Buckets[key.String()]
	if !ok {
		b = newBucket()
		zp.Buckets[key.String()] = b
	}
	count := b.add(period, v.Timestamp)

	a := Assessment{
		Zone:        v.Zone,
		Slot:        key.String(),
		Period:      period,
		SampleCount: b.SampleCount,
		PeriodCount: count,
	}
	if b.SampleCount < l.cfg.MinSamples {
		a.Learning = true
		return a
	}

	prev, mean, std := b.without(period)
	a.Mean, a.StdDev = mean, std
	if prev == 0 {
		// Nothing at this time in any earlier occurrence. Only meaningful
		// once the zone has been watched for a whole learning period.
		if v.Timestamp.Sub(zp.Since) >= l.cfg.window() {
			a.Anomalous, a.Reason = true, ReasonUnusualTime
		}
	} else {
		std = max(std, 1)
		a.ZScore = (float64(count) - mean) / std
		if a.ZScore > l.cfg.ZThreshold {
			a.Anomalous, a.Reason = true, ReasonHighFrequency
		}
	}

	if a.Anomalous {
		occ := occurrence{zone: v.Zone, period: period}
		reasons := l.reported[occ]
		if reasons == nil {
			reasons = make(map[string]bool, 2)
			l.reported[occ] = reasons
		}
		a.Repeat = reasons[a.Reason]
		reasons[a.Reason] = true
	}
	return a
}

// Cleanup drops slot occurrences that left the learning window and
// re-derives every bucket from what remains. It returns the number of
// occurrences removed.
func (l *Learner) Cleanup(now time.Time) int {
	// One extra slot keeps the same slot exactly one window ago.
	cutoff := now.Add(-l.cfg.window() - l.cfg.slot())

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for _, zp := range l.zones {
		for key, b := range zp.Buckets {
			changed := false
			for p := range b.Periods {
				start, err := time.ParseInLocation(periodLayout, p, l.cfg.Location)
				if err != nil || start.Before(cutoff) {
					delete(b.Periods, p)
					removed++
					changed = true
				}
			}
			if changed {
				b.rederive()
			}
			if len(b.Periods) == 0 {
				delete(zp.Buckets, key)
			}
		}
	}
	for occ := range l.reported {
		start, err := time.ParseInLocation(periodLayout, occ.period, l.cfg.Location)
		if err != nil || start.Before(cutoff) {
			delete(l.reported, occ)
		}
	}
	return removed
}

// SlotSummary describes one learned bucket.
type SlotSummary struct {
	Weekday     string  `json:"weekday"`
	Start       string  `json:"start"` // HH:MM local
	SampleCount int     `json:"sample_count"`
	Mean        float64 `json:"mean"`
}

// ZoneSummary is the learned profile of a zone.
type ZoneSummary struct {
	Zone         string        `json:"zone"`
	Since        time.Time     `json:"since"`
	Buckets      int           `json:"buckets"`
	TotalSamples int           `json:"total_samples"`
	PeakSlots    []SlotSummary `json:"peak_slots"`
}

// Snapshot summarises every zone, busiest slots first (at most three).
func (l *Learner) Snapshot() []ZoneSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]ZoneSummary, 0, len(l.zones))
	for name, zp := range l.zones {
		zs := ZoneSummary{Zone: name, Since: zp.Since, Buckets: len(zp.Buckets)}
		for ks, b := range zp.Buckets {
			zs.TotalSamples += b.SampleCount
			k, err := parseSlotKey(ks)
			if err != nil {
				continue
			}
			mins := k.slot * l.cfg.SlotMinutes
			zs.PeakSlots = append(zs.PeakSlots, SlotSummary{
				Weekday:     time.Weekday(k.weekday).String(),
				Start:       time.Date(0, 1, 1, mins/60, mins%60, 0, 0, time.UTC).Format("15:04"),
				SampleCount: b.SampleCount,
				Mean:        b.Mean,
			})
		}
		slices.SortFunc(zs.PeakSlots, func(a, b SlotSummary) int {
			return cmp.Or(cmp.Compare(b.SampleCount, a.SampleCount),
				strings.Compare(a.Weekday, b.Weekday), strings.Compare(a.Start, b.Start))
		})
		if len(zs.PeakSlots) > 3 {
			zs.PeakSlots = zs.PeakSlots[:3]
		}
		out = append(out, zs)
	}
	slices.SortFunc(out, func(a, b ZoneSummary) int { return strings.Compare(a.Zone, b.Zone) })
	return out
}

// Bucket returns a copy of the bucket covering ts in zone, if any.
func (l *Learner) Bucket(zone string, ts time.Time) (Bucket, bool) {
	key, _ := l.locate(ts.In(l.cfg.Location))

	l.mu.Lock()
	defer l.mu.Unlock()
	zp, ok := l.zones[zone]
	if !ok {
		return Bucket{}, false
	}
	b, ok := zp.Buckets[key.String()]
	if !ok {
		return Bucket{}, false
	}
	cp := *b
	cp.Periods = make(map[string]int, len(b.Periods))
	for p, c := range b.Periods {
		cp.Periods[p] = c
	}
	return cp, true
}

func (l *Learner) locate(ts time.Time) (slotKey, string) {
	slot := (ts.Hour()*60 + ts.Minute()) / l.cfg.SlotMinutes
	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, l.cfg.Location)
	start := day.Add(time.Duration(slot*l.cfg.SlotMinutes) * time.Minute)
	return slotKey{weekday: int(ts.Weekday()), slot: slot}, start.Format(periodLayout)
}
