package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

// ZoneStore serves a fixed zone list, typically the configured zones.
type ZoneStore struct {
	zones []types.ZoneDefinition
}

func NewZoneStore(zones []types.ZoneDefinition) *ZoneStore {
	z := slices.Clone(zones)
	slices.SortFunc(z, func(a, b types.ZoneDefinition) int { return strings.Compare(a.Name, b.Name) })
	return &ZoneStore{zones: z}
}

func (s *ZoneStore) ListZones(context.Context) ([]types.ZoneDefinition, error) {
	return slices.Clone(s.zones), nil
}
