// Package zone matches detections against the configured monitored regions.
package zone

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

var (
	ErrInvalidZone      = errors.New("invalid zone")
	ErrInvalidThreshold = errors.New("confidence threshold must be in (0,1]")
)

// Monitor holds an immutable set of zones and per-zone violation counters.
type Monitor struct {
	zones          []types.ZoneDefinition
	baseConfidence float64

	mu     sync.Mutex
	counts map[string]uint64
}

// NewMonitor validates zones and returns a monitor. baseConfidence is the
// detector confidence needed in a zone of sensitivity 1.
func NewMonitor(zones []types.ZoneDefinition, baseConfidence float64) (*Monitor, error) {
	if baseConfidence <= 0 || baseConfidence > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, baseConfidence)
	}
	if err := Validate(zones); err != nil {
		return nil, err
	}

	m := &Monitor{
		zones:          make([]types.ZoneDefinition, len(zones)),
		baseConfidence: baseConfidence,
		counts:         make(map[string]uint64, len(zones)),
	}
	for i, z := range zones {
		z.Polygon = append([]types.Point(nil), z.Polygon...)
		m.zones[i] = z
		m.counts[z.Name] = 0
	}
	return m, nil
}

// Validate checks names, vertex counts and sensitivities.
func Validate(zones []types.ZoneDefinition) error {
	seen := make(map[string]struct{}, len(zones))
	for i, z := range zones {
		if z.Name == "" {
			return fmt.Errorf("%w: zone #%d has no name", ErrInvalidZone, i)
		}
		if _, dup := seen[z.Name]; dup {
			return fmt.Errorf("%w: duplicate name %q", ErrInvalidZone, z.Name)
		}
		seen[z.Name] = struct{}{}
		if len(z.Polygon) < 3 {
			return fmt.Errorf("%w: %q needs at least 3 vertices, has %d", ErrInvalidZone, z.Name, len(z.Polygon))
		}
		if z.Sensitivity <= 0 {
			return fmt.Errorf("%w: %q sensitivity must be positive", ErrInvalidZone, z.Name)
		}
	}
	return nil
}

// EffectiveThreshold is base / sensitivity: sensitive zones accept weaker
// detections.
func (m *Monitor) EffectiveThreshold(z types.ZoneDefinition) float64 {
	return m.baseConfidence / z.Sensitivity
}

// Check returns one violation per (enabled zone, detection) pair whose
// bbox center is inside the zone with enough confidence.
func (m *Monitor) Check(dets []types.Detection, ts time.Time, seq uint64) []types.ZoneViolation {
	var out []types.ZoneViolation
	for _, z := range m.zones {
		if !z.Enabled {
			continue
		}
		need := m.EffectiveThreshold(z)
		for _, d := range dets {
			if d.Confidence < need || !Contains(z.Polygon, d.BBox.Center()) {
				continue
			}
			out = append(out, types.ZoneViolation{
				Zone:      z.Name,
				Detection: d,
				Timestamp: ts,
				FrameSeq:  seq,
			})
		}
	}

	if len(out) > 0 {
		m.mu.Lock()
		for _, v := range out {
			m.counts[v.Zone]++
		}
		m.mu.Unlock()
	}
	return out
}

// Zones returns a copy of the configured zones.
func (m *Monitor) Zones() []types.ZoneDefinition {
	out := make([]types.ZoneDefinition, len(m.zones))
	copy(out, m.zones)
	return out
}

// Stats returns violation counts per zone.
func (m *Monitor) Stats() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.counts)
}
