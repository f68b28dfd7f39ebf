package behavior

import (
	"fmt"
	"math"
	"time"
)

const periodLayout = "2006-01-02T15:04"

// Bucket holds the activity history of one (weekday, slot) for one zone.
// Periods maps each concrete occurrence of the slot (its local start time)
// to the number of violations seen during it.
type Bucket struct {
	SampleCount int            `msgpack:"sample_count" json:"sample_count"`
	Mean        float64        `msgpack:"mean" json:"mean"`
	Variance    float64        `msgpack:"variance" json:"variance"`
	LastUpdated time.Time      `msgpack:"last_updated" json:"last_updated"`
	Periods     map[string]int `msgpack:"periods" json:"periods"`

	sum   float64
	sumSq float64
}

func newBucket() *Bucket {
	return &Bucket{Periods: make(map[string]int)}
}

// add records one observation in period and returns the updated count for
// that period. Mean and variance are kept in step from running sums.
func (b *Bucket) add(period string, ts time.Time) int {
	c := b.Periods[period]
	b.Periods[period] = c + 1
	b.SampleCount++
	b.sum++
	b.sumSq += float64(2*c + 1) // (c+1)^2 - c^2
	b.LastUpdated = ts
	b.refresh()
	return c + 1
}

// rederive recomputes all statistics from Periods.
func (b *Bucket) rederive() {
	b.SampleCount, b.sum, b.sumSq = 0, 0, 0
	for _, c := range b.Periods {
		b.SampleCount += c
		b.sum += float64(c)
		b.sumSq += float64(c * c)
	}
	b.refresh()
}

func (b *Bucket) refresh() {
	n := float64(len(b.Periods))
	if n == 0 {
		b.Mean, b.Variance = 0, 0
		return
	}
	b.Mean = b.sum / n
	b.Variance = math.Max(0, b.sumSq/n-b.Mean*b.Mean)
}

// without returns count, mean and stddev over every period except the
// given one.
func (b *Bucket) without(period string) (n int, mean, std float64) {
	c := float64(b.Periods[period])
	n = len(b.Periods)
	if _, ok := b.Periods[period]; ok {
		n--
	}
	if n == 0 {
		return 0, 0, 0
	}
	mean = (b.sum - c) / float64(n)
	v := (b.sumSq-c*c)/float64(n) - mean*mean
	return n, mean, math.Sqrt(math.Max(0, v))
}

type slotKey struct {
	weekday int // 0 = Sunday, as time.Weekday
	slot    int
}

func (k slotKey) String() string {
	return fmt.Sprintf("%d:%d", k.weekday, k.slot)
}

func parseSlotKey(s string) (slotKey, error) {
	var k slotKey
	if _, err := fmt.Sscanf(s, "%d:%d", &k.weekday, &k.slot); err != nil {
		return slotKey{}, fmt.Errorf("bad slot key %q: %w", s, err)
	}
	return k, nil
}
