package proposal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines proposal data operations.
type Repository interface {
	// Create inserts a new proposal with status pending, assigning an id
	// when empty.
	Create(ctx context.Context, p *Proposal) error

	// GetByID retrieves a proposal. Returns ErrProposalNotFound for unknown
	// ids.
	GetByID(ctx context.Context, id string) (*Proposal, error)

	// ListByStatus returns proposals with the given status, newest first.
	// An empty status returns all proposals.
	ListByStatus(ctx context.Context, status string) ([]*Proposal, error)

	// UpdateModeration sets status and notes. Returns ErrInvalidStatus for
	// unknown status values.
	UpdateModeration(ctx context.Context, id, status, notes string) error

	// MarkConverted records the structured link to the marker the proposal
	// produced, appending a note. Status is left unchanged.
	MarkConverted(ctx context.Context, id, markerID, note string) error

	// Delete removes a proposal permanently.
	Delete(ctx context.Context, id string) error
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex. Used for tests and development.
type InMemoryRepository struct {
	mu        sync.RWMutex
	proposals map[string]*Proposal
	timeNow   func() time.Time
}

// NewInMemoryRepository creates an empty in-memory proposal repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		proposals: make(map[string]*Proposal),
		timeNow:   time.Now,
	}
}

// Create inserts a new proposal with status pending.
func (r *InMemoryRepository) Create(ctx context.Context, p *Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *p
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.Status = StatusPending
	now := r.timeNow()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	r.proposals[stored.ID] = &stored
	*p = stored
	return nil
}

// GetByID retrieves a proposal by id.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	out := *p
	return &out, nil
}

// ListByStatus returns proposals with the given status, newest first with id
// as tie-breaker.
func (r *InMemoryRepository) ListByStatus(ctx context.Context, status string) ([]*Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Proposal, 0)
	for _, p := range r.proposals {
		if status == "" || p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateModeration sets status and notes.
func (r *InMemoryRepository) UpdateModeration(ctx context.Context, id, status, notes string) error {
	if !ValidStatus(status) {
		return ErrInvalidStatus
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.proposals[id]
	if !ok {
		return ErrProposalNotFound
	}
	p.Status = status
	p.ModerationNotes = notes
	p.UpdatedAt = r.timeNow()
	return nil
}

// MarkConverted records the marker link and appends a note; status untouched.
func (r *InMemoryRepository) MarkConverted(ctx context.Context, id, markerID, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.proposals[id]
	if !ok {
		return ErrProposalNotFound
	}
	p.ConvertedMarkerID = &markerID
	if p.ModerationNotes == "" {
		p.ModerationNotes = note
	} else {
		p.ModerationNotes += "\n" + note
	}
	p.UpdatedAt = r.timeNow()
	return nil
}

// Delete removes a proposal permanently.
func (r *InMemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.proposals[id]; !ok {
		return ErrProposalNotFound
	}
	delete(r.proposals, id)
	return nil
}
