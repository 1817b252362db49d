package marker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/lamemoria/baldosas/internal/geo"
)

// uniqueViolation is the Postgres error code for unique constraint violations.
const uniqueViolation = "23505"

// PostgresRepository implements Repository on PostgreSQL with PostGIS.
// Radius queries use ST_DWithin over a geography column backed by a GiST
// index; distance is recomputed in the application layer with the same
// haversine formula the proximity engine uses, so both paths agree.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

const markerColumns = `id, code, name, category, description, extended_info, ar_message,
	address, neighborhood, ST_Y(location::geometry), ST_X(location::geometry),
	image_ref, portrait_ref, audio_ref, ar_target_ref, cluster_id,
	scan_count, active, created_at, updated_at`

// Create inserts a new marker, assigning an id when empty.
func (r *PostgresRepository) Create(ctx context.Context, m *Marker) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO markers (
			id, code, name, category, description, extended_info, ar_message,
			address, neighborhood, location, image_ref, portrait_ref, audio_ref,
			ar_target_ref, cluster_id, scan_count, active
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			ST_SetSRID(ST_MakePoint($10, $11), 4326)::geography,
			$12, $13, $14, $15, $16, $17, $18
		)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		m.ID, m.Code, m.Name, m.Category, m.Description, m.ExtendedInfo,
		m.ARMessage, m.Address, m.Neighborhood, m.Point.Lng, m.Point.Lat,
		m.ImageRef, m.PortraitRef, m.AudioRef, m.ARTargetRef,
		m.ClusterID, m.ScanCount, m.Active,
	).Scan(&m.CreatedAt, &m.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("failed to insert marker: %w", err)
	}
	return nil
}

// Update replaces the stored marker.
func (r *PostgresRepository) Update(ctx context.Context, m *Marker) error {
	query := `
		UPDATE markers SET
			code = $2, name = $3, category = $4, description = $5,
			extended_info = $6, ar_message = $7, address = $8, neighborhood = $9,
			location = ST_SetSRID(ST_MakePoint($10, $11), 4326)::geography,
			image_ref = $12, portrait_ref = $13, audio_ref = $14,
			ar_target_ref = $15, cluster_id = $16, active = $17,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query,
		m.ID, m.Code, m.Name, m.Category, m.Description, m.ExtendedInfo,
		m.ARMessage, m.Address, m.Neighborhood, m.Point.Lng, m.Point.Lat,
		m.ImageRef, m.PortraitRef, m.AudioRef, m.ARTargetRef,
		m.ClusterID, m.Active,
	).Scan(&m.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateCode
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMarkerNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update marker: %w", err)
	}
	return nil
}

// Deactivate soft-deletes a marker; the row and its code stay reserved.
func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE markers SET active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate marker: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return ErrMarkerNotFound
	}
	return nil
}

// GetByIDOrCode resolves id-shaped input by id, anything else by code.
func (r *PostgresRepository) GetByIDOrCode(ctx context.Context, idOrCode string) (*Marker, error) {
	column := "code"
	if IDShaped(idOrCode) {
		column = "id"
	}

	query := fmt.Sprintf(`SELECT %s FROM markers WHERE %s = $1 AND active`, markerColumns, column)

	m, err := scanMarker(r.db.QueryRowContext(ctx, query, idOrCode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMarkerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get marker: %w", err)
	}
	return m, nil
}

// CodeExists reports whether a code is taken by any marker, active or not.
func (r *PostgresRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM markers WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check marker code: %w", err)
	}
	return exists, nil
}

// Nearby returns active markers within radiusMeters of center.
func (r *PostgresRepository) Nearby(ctx context.Context, center geo.Point, radiusMeters float64) ([]NearbyMarker, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM markers
		WHERE active AND ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY location <-> ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, id
		LIMIT %d`, markerColumns, NearbyPageSize)

	rows, err := r.db.QueryContext(ctx, query, center.Lng, center.Lat, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby markers: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warn("failed to close nearby rows", slog.String("error", err.Error()))
		}
	}()

	results := make([]NearbyMarker, 0)
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan nearby marker: %w", err)
		}
		results = append(results, NearbyMarker{
			Marker:         *m,
			DistanceMeters: geo.Haversine(center, m.Point),
		})
	}
	return results, rows.Err()
}

// Pins returns the map-pin projection of every active marker.
func (r *PostgresRepository) Pins(ctx context.Context) ([]Pin, error) {
	query := `
		SELECT id, code, name, address, neighborhood,
			ST_Y(location::geometry), ST_X(location::geometry)
		FROM markers WHERE active ORDER BY code`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pins: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warn("failed to close pins rows", slog.String("error", err.Error()))
		}
	}()

	pins := make([]Pin, 0)
	for rows.Next() {
		var p Pin
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Address, &p.Neighborhood, &p.Point.Lat, &p.Point.Lng); err != nil {
			return nil, fmt.Errorf("failed to scan pin: %w", err)
		}
		pins = append(pins, p)
	}
	return pins, rows.Err()
}

// IncrementScanCount atomically bumps the scan counter. Concurrent calls may
// interleave arbitrarily; the database-side increment guarantees no update is
// lost.
func (r *PostgresRepository) IncrementScanCount(ctx context.Context, idOrCode string) (int64, error) {
	column := "code"
	if IDShaped(idOrCode) {
		column = "id"
	}

	query := fmt.Sprintf(`
		UPDATE markers SET scan_count = scan_count + 1, updated_at = now()
		WHERE %s = $1 AND active
		RETURNING scan_count`, column)

	var count int64
	err := r.db.QueryRowContext(ctx, query, idOrCode).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrMarkerNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment scan count: %w", err)
	}
	return count, nil
}

// rowScanner abstracts sql.Row and sql.Rows for scanMarker.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarker(row rowScanner) (*Marker, error) {
	var m Marker
	err := row.Scan(
		&m.ID, &m.Code, &m.Name, &m.Category, &m.Description, &m.ExtendedInfo,
		&m.ARMessage, &m.Address, &m.Neighborhood, &m.Point.Lat, &m.Point.Lng,
		&m.ImageRef, &m.PortraitRef, &m.AudioRef, &m.ARTargetRef,
		&m.ClusterID, &m.ScanCount, &m.Active, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
