package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

type ZoneStore struct {
	db *sql.DB
}

func NewZoneStore(db *sql.DB) *ZoneStore {
	return &ZoneStore{db: db}
}

func (s *ZoneStore) ListZones(ctx context.Context) ([]types.ZoneDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT name, enabled, sensitivity, polygon_json FROM zones ORDER BY name;
`)
	if err != nil {
		return nil, fmt.Errorf("ListZones query: %w", err)
	}
	defer rows.Close()

	var out []types.ZoneDefinition
	for rows.Next() {
		var (
			z       types.ZoneDefinition
			enabled int
			poly    string
		)
		if err := rows.Scan(&z.Name, &enabled, &z.Sensitivity, &poly); err != nil {
			return nil, fmt.Errorf("ListZones scan: %w", err)
		}
		z.Enabled = enabled == 1
		if err := json.Unmarshal([]byte(poly), &z.Polygon); err != nil {
			return nil, fmt.Errorf("ListZones polygon %s: %w", z.Name, err)
		}
		out = append(out, z)
	}
	return out, rows.Err()
}
