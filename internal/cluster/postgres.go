package cluster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lamemoria/baldosas/internal/geo"
)

// PostgresRepository implements Repository on PostgreSQL with PostGIS.
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

const clusterColumns = `id, name, ST_Y(center::geometry), ST_X(center::geometry),
	radius_meters, member_count, bundle_ref, version, stale, created_at, updated_at`

// Create inserts a new cluster, assigning an id when empty.
func (r *PostgresRepository) Create(ctx context.Context, c *Cluster) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	query := `
		INSERT INTO clusters (id, name, center, radius_meters, member_count, bundle_ref, version, stale)
		VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		c.ID, c.Name, c.Center.Lng, c.Center.Lat, c.RadiusMeters,
		c.MemberCount, c.BundleRef, c.Version, c.Stale,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert cluster: %w", err)
	}
	return nil
}

// GetByID retrieves a cluster by id.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Cluster, error) {
	query := fmt.Sprintf(`SELECT %s FROM clusters WHERE id = $1`, clusterColumns)

	c, err := scanCluster(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClusterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster: %w", err)
	}
	return c, nil
}

// Nearby returns clusters whose center lies within radiusMeters.
func (r *PostgresRepository) Nearby(ctx context.Context, center geo.Point, radiusMeters float64) ([]*Cluster, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM clusters
		WHERE ST_DWithin(center, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY center <-> ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, id
		LIMIT %d`, clusterColumns, NearbyClusterLimit)

	rows, err := r.db.QueryContext(ctx, query, center.Lng, center.Lat, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby clusters: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warn("failed to close cluster rows", slog.String("error", err.Error()))
		}
	}()

	out := make([]*Cluster, 0)
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkStaleContaining flags clusters covering the point and bumps member
// counts in one statement.
func (r *PostgresRepository) MarkStaleContaining(ctx context.Context, p geo.Point) ([]string, error) {
	query := `
		UPDATE clusters SET stale = true, member_count = member_count + 1, updated_at = now()
		WHERE ST_DWithin(center, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, radius_meters)
		RETURNING id`

	rows, err := r.db.QueryContext(ctx, query, p.Lng, p.Lat)
	if err != nil {
		return nil, fmt.Errorf("failed to mark clusters stale: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warn("failed to close stale rows", slog.String("error", err.Error()))
		}
	}()

	var flagged []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan cluster id: %w", err)
		}
		flagged = append(flagged, id)
	}
	return flagged, rows.Err()
}

// RecordCompiled stores a fresh bundle reference, clears the stale flag, and
// advances the version.
func (r *PostgresRepository) RecordCompiled(ctx context.Context, id, bundleRef string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE clusters SET bundle_ref = $2, stale = false, version = version + 1, updated_at = now()
		WHERE id = $1`, id, bundleRef)
	if err != nil {
		return fmt.Errorf("failed to record compiled bundle: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return ErrClusterNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCluster(row rowScanner) (*Cluster, error) {
	var c Cluster
	err := row.Scan(
		&c.ID, &c.Name, &c.Center.Lat, &c.Center.Lng, &c.RadiusMeters,
		&c.MemberCount, &c.BundleRef, &c.Version, &c.Stale,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
