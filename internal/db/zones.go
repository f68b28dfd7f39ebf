package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

// SyncZones upserts the configured zones into the zones table so event rows
// can reference them. Zones that disappeared from the config stay in the
// table (their history still points at them) but are marked disabled.
func SyncZones(ctx context.Context, db *sql.DB, zones []types.ZoneDefinition) error {
	now := time.Now().UTC().UnixMilli()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sync zones begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE zones SET enabled = 0, updated_at_ms = ?;`, now); err != nil {
		return fmt.Errorf("sync zones reset: %w", err)
	}

	for _, z := range zones {
		poly, err := json.Marshal(z.Polygon)
		if err != nil {
			return fmt.Errorf("sync zone %s: encode polygon: %w", z.Name, err)
		}
		enabled := 0
		if z.Enabled {
			enabled = 1
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO zones(name, enabled, sensitivity, polygon_json, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  enabled = excluded.enabled,
  sensitivity = excluded.sensitivity,
  polygon_json = excluded.polygon_json,
  updated_at_ms = excluded.updated_at_ms;
`, z.Name, enabled, z.Sensitivity, string(poly), now, now); err != nil {
			return fmt.Errorf("sync zone %s: %w", z.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sync zones commit: %w", err)
	}
	return nil
}
