package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skobkin/btrover/internal/domain"
)

type TelemetryRepo struct {
	db *sql.DB
}

func NewTelemetryRepo(db *sql.DB) *TelemetryRepo {
	return &TelemetryRepo{db: db}
}

func (r *TelemetryRepo) Insert(ctx context.Context, rec domain.TelemetryRecord) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO telemetry(device_id, temperature, humidity, received_at)
		VALUES (?, ?, ?, ?)
	`, rec.DeviceID, rec.Reading.Temperature, rec.Reading.Humidity, receivedAtMillis(rec.ReceivedAt))
	if err != nil {
		return 0, fmt.Errorf("insert telemetry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read telemetry id: %w", err)
	}

	return id, nil
}

// ListRecent returns up to limit records, newest first.
func (r *TelemetryRepo) ListRecent(ctx context.Context, limit int) ([]domain.TelemetryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, temperature, humidity, received_at
		FROM telemetry
		ORDER BY received_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list telemetry: %w", err)
	}
	defer rows.Close()

	var out []domain.TelemetryRecord
	for rows.Next() {
		var (
			rec        domain.TelemetryRecord
			receivedMs int64
		)
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.Reading.Temperature, &rec.Reading.Humidity, &receivedMs); err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		rec.ReceivedAt = time.UnixMilli(receivedMs)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry: %w", err)
	}

	return out, nil
}

// Prune keeps the newest keep records and returns how many were removed.
func (r *TelemetryRepo) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM telemetry
		WHERE id NOT IN (
			SELECT id FROM telemetry
			ORDER BY received_at DESC, id DESC
			LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune telemetry: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read pruned rows: %w", err)
	}

	return removed, nil
}

// Clear removes all history and restarts record ids. It returns the number of removed records.
func (r *TelemetryRepo) Clear(ctx context.Context) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin clear telemetry: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	//goland:noinspection SqlWithoutWhere
	res, err := tx.ExecContext(ctx, `DELETE FROM telemetry;`)
	if err != nil {
		return 0, fmt.Errorf("clear telemetry: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read cleared rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = 'telemetry';`); err != nil {
		return 0, fmt.Errorf("reset telemetry ids: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit clear telemetry: %w", err)
	}

	return removed, nil
}

// receivedAtMillis stamps records that arrive without a time with the insert time.
func receivedAtMillis(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixMilli()
	}

	return t.UnixMilli()
}

var _ domain.TelemetryRepository = (*TelemetryRepo)(nil)
