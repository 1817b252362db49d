package proposal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// PostgresRepository implements Repository on PostgreSQL.
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

const proposalColumns = `id, honoree_name, description,
	ST_Y(location::geometry), ST_X(location::geometry), address,
	image_payload, contact_email, status, moderation_notes,
	converted_marker_id, created_at, updated_at`

// Create inserts a new proposal with status pending.
func (r *PostgresRepository) Create(ctx context.Context, p *Proposal) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Status = StatusPending

	query := `
		INSERT INTO proposals (
			id, honoree_name, description, location, address,
			image_payload, contact_email, status
		) VALUES (
			$1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography,
			$6, $7, $8, $9
		)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		p.ID, p.HonoreeName, p.Description, p.Point.Lng, p.Point.Lat,
		p.Address, p.ImagePayload, p.ContactEmail, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert proposal: %w", err)
	}
	return nil
}

// GetByID retrieves a proposal by id.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Proposal, error) {
	query := fmt.Sprintf(`SELECT %s FROM proposals WHERE id = $1`, proposalColumns)

	p, err := scanProposal(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	return p, nil
}

// ListByStatus returns proposals with the given status, newest first.
func (r *PostgresRepository) ListByStatus(ctx context.Context, status string) ([]*Proposal, error) {
	query := fmt.Sprintf(`SELECT %s FROM proposals ORDER BY created_at DESC, id`, proposalColumns)
	args := []any{}
	if status != "" {
		query = fmt.Sprintf(`SELECT %s FROM proposals WHERE status = $1 ORDER BY created_at DESC, id`, proposalColumns)
		args = append(args, status)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warn("failed to close proposal rows", slog.String("error", err.Error()))
		}
	}()

	out := make([]*Proposal, 0)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateModeration sets status and notes.
func (r *PostgresRepository) UpdateModeration(ctx context.Context, id, status, notes string) error {
	if !ValidStatus(status) {
		return ErrInvalidStatus
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE proposals SET status = $2, moderation_notes = $3, updated_at = now() WHERE id = $1`,
		id, status, notes)
	if err != nil {
		return fmt.Errorf("failed to update proposal moderation: %w", err)
	}
	return requireRow(result)
}

// MarkConverted records the marker link and appends a note in one statement;
// status untouched.
func (r *PostgresRepository) MarkConverted(ctx context.Context, id, markerID, note string) error {
	query := `
		UPDATE proposals SET
			converted_marker_id = $2,
			moderation_notes = CASE
				WHEN moderation_notes = '' THEN $3
				ELSE moderation_notes || E'\n' || $3
			END,
			updated_at = now()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, markerID, note)
	if err != nil {
		return fmt.Errorf("failed to mark proposal converted: %w", err)
	}
	return requireRow(result)
}

// Delete removes a proposal permanently.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM proposals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete proposal: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return ErrProposalNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*Proposal, error) {
	var p Proposal
	err := row.Scan(
		&p.ID, &p.HonoreeName, &p.Description, &p.Point.Lat, &p.Point.Lng,
		&p.Address, &p.ImagePayload, &p.ContactEmail, &p.Status,
		&p.ModerationNotes, &p.ConvertedMarkerID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
