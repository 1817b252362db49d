package scanlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/lamemoria/baldosas/internal/geo"
)

// Postgres unique_violation.
const uniqueViolation = "23505"

// PostgresRepository stores scan records in PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a PostgreSQL-backed scan log.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// Record inserts a scan row. The unique index on (user_id, marker_id) maps
// to ErrAlreadyScanned.
func (r *PostgresRepository) Record(ctx context.Context, rec *ScanRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	var lat, lng sql.NullFloat64
	if rec.Point != nil {
		lat = sql.NullFloat64{Float64: rec.Point.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: rec.Point.Lng, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO scan_records (id, user_id, marker_id, lat, lng)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		rec.ID, rec.UserID, rec.MarkerID, lat, lng,
	).Scan(&rec.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return ErrAlreadyScanned
		}
		return fmt.Errorf("inserting scan record: %w", err)
	}
	return nil
}

// ListByUser returns the user's scans, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*ScanRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, marker_id, lat, lng, created_at
		FROM scan_records
		WHERE user_id = $1
		ORDER BY created_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying scan records: %w", err)
	}
	defer rows.Close()

	var out []*ScanRecord
	for rows.Next() {
		var rec ScanRecord
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.MarkerID, &lat, &lng, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning scan record: %w", err)
		}
		if lat.Valid && lng.Valid {
			rec.Point = &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scan records: %w", err)
	}
	return out, nil
}

// CountForMarker returns the number of users that found the marker.
func (r *PostgresRepository) CountForMarker(ctx context.Context, markerID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scan_records WHERE marker_id = $1`,
		markerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting scan records: %w", err)
	}
	return n, nil
}
