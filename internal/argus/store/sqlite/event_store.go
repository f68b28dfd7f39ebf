package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
	dbpkg "github.com/BrandonDHaskell/Argus/internal/db"
)

// EventStore writes through the shared db.Worker and reads directly from
// the connection pool.
type EventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewEventStore(db *sql.DB, writer *dbpkg.Worker) *EventStore {
	return &EventStore{db: db, writer: writer}
}

func (s *EventStore) Append(ctx context.Context, rec store.EventRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	switch rec.Kind {
	case store.KindDetection:
		return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return appendDetection(ctx, tx, rec, meta)
		})
	case store.KindSystem:
		return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO system_events(ts_ms, type, severity, message, metadata_json)
VALUES (?, ?, ?, ?, ?);
`, rec.Timestamp.UTC().UnixMilli(), rec.Type, string(rec.Severity), rec.Message, meta); err != nil {
				return fmt.Errorf("Append system insert: %w", err)
			}
			return nil
		})
	default:
		return fmt.Errorf("%w: %q", store.ErrUnknownKind, rec.Kind)
	}
}

// appendDetection inserts the row and bumps the daily rollup in the same
// transaction so the two never disagree.
func appendDetection(ctx context.Context, tx *sql.Tx, rec store.EventRecord, meta any) error {
	tsMs := rec.Timestamp.UTC().UnixMilli()
	if err := ensureZone(ctx, tx, rec.Zone, tsMs); err != nil {
		return err
	}

	var ref any
	if rec.RecordingRef != "" {
		ref = rec.RecordingRef
	}
	alerted := 0
	if rec.Alerted {
		alerted = 1
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO detection_events(
  ts_ms, zone, class_id, label, confidence,
  bbox_x1, bbox_y1, bbox_x2, bbox_y2,
  recording_ref, alerted, metadata_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		tsMs, rec.Zone, rec.ClassID, rec.Label, rec.Confidence,
		rec.BBox.X1, rec.BBox.Y1, rec.BBox.X2, rec.BBox.Y2,
		ref, alerted, meta,
	); err != nil {
		return fmt.Errorf("Append detection insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO daily_stats(date, zone, total_violations, total_alerts)
VALUES (?, ?, 1, ?)
ON CONFLICT(date, zone) DO UPDATE SET
  total_violations = daily_stats.total_violations + 1,
  total_alerts = daily_stats.total_alerts + excluded.total_alerts;
`, store.DateKey(rec.Timestamp), rec.Zone, alerted); err != nil {
		return fmt.Errorf("Append daily_stats: %w", err)
	}
	return nil
}

func (s *EventStore) Detections(ctx context.Context, from, to time.Time) ([]store.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT ts_ms, zone, class_id, label, confidence,
       bbox_x1, bbox_y1, bbox_x2, bbox_y2,
       recording_ref, alerted, metadata_json
FROM detection_events
WHERE ts_ms >= ? AND ts_ms < ?
ORDER BY ts_ms, id;
`, from.UTC().UnixMilli(), to.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("Detections query: %w", err)
	}
	defer rows.Close()

	var out []store.EventRecord
	for rows.Next() {
		var (
			rec     store.EventRecord
			tsMs    int64
			ref     sql.NullString
			alerted int
			meta    sql.NullString
		)
		if err := rows.Scan(
			&tsMs, &rec.Zone, &rec.ClassID, &rec.Label, &rec.Confidence,
			&rec.BBox.X1, &rec.BBox.Y1, &rec.BBox.X2, &rec.BBox.Y2,
			&ref, &alerted, &meta,
		); err != nil {
			return nil, fmt.Errorf("Detections scan: %w", err)
		}
		rec.Kind = store.KindDetection
		rec.Timestamp = time.UnixMilli(tsMs).UTC()
		rec.RecordingRef = ref.String
		rec.Alerted = alerted == 1
		if rec.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *EventStore) SystemEvents(ctx context.Context, from, to time.Time) ([]store.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT ts_ms, type, severity, message, metadata_json
FROM system_events
WHERE ts_ms >= ? AND ts_ms < ?
ORDER BY ts_ms, id;
`, from.UTC().UnixMilli(), to.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("SystemEvents query: %w", err)
	}
	defer rows.Close()

	var out []store.EventRecord
	for rows.Next() {
		var (
			rec  store.EventRecord
			tsMs int64
			sev  string
			meta sql.NullString
		)
		if err := rows.Scan(&tsMs, &rec.Type, &sev, &rec.Message, &meta); err != nil {
			return nil, fmt.Errorf("SystemEvents scan: %w", err)
		}
		rec.Kind = store.KindSystem
		rec.Timestamp = time.UnixMilli(tsMs).UTC()
		rec.Severity = types.Severity(sev)
		if rec.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DailyStats returns rollups with fromDate <= date <= toDate.
func (s *EventStore) DailyStats(ctx context.Context, fromDate, toDate string) ([]store.DailyStat, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT date, zone, total_violations, total_alerts
FROM daily_stats
WHERE date >= ? AND date <= ?
ORDER BY date, zone;
`, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("DailyStats query: %w", err)
	}
	defer rows.Close()

	var out []store.DailyStat
	for rows.Next() {
		var st store.DailyStat
		if err := rows.Scan(&st.Date, &st.Zone, &st.TotalViolations, &st.TotalAlerts); err != nil {
			return nil, fmt.Errorf("DailyStats scan: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// PruneOlderThan deletes detection and system events older than cutoff.
// Daily rollups are kept.
func (s *EventStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()
	var total int64

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, table := range []string{"detection_events", "system_events"} {
			res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE ts_ms < ?;`, cutoffMs)
			if err != nil {
				return fmt.Errorf("PruneOlderThan %s: %w", table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("PruneOlderThan %s rows: %w", table, err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func encodeMetadata(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}
