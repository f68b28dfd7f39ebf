package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// ensureZone guarantees a zones row exists so the foreign keys from
// detection_events and daily_stats hold even for a zone that was never
// synced from config. Such rows start disabled.
//
// Must be called inside an existing transaction.
func ensureZone(ctx context.Context, tx *sql.Tx, zone string, nowMs int64) error {
	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO zones(name, enabled, created_at_ms, updated_at_ms)
VALUES (?, 0, ?, ?);
`, zone, nowMs, nowMs); err != nil {
		return fmt.Errorf("ensureZone %s: %w", zone, err)
	}
	return nil
}
