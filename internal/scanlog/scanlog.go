// Package scanlog records which markers each user has found. A user scans a
// marker at most once; repeat finds are not an error at the service level but
// do not create new rows.
package scanlog

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lamemoria/baldosas/internal/geo"
)

var (
	// ErrAlreadyScanned is returned when the user has already recorded a
	// find for the marker.
	ErrAlreadyScanned = errors.New("marker already scanned by user")
)

// ScanRecord is one user's find of one marker.
type ScanRecord struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	MarkerID  string     `json:"marker_id"`
	Point     *geo.Point `json:"point,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Repository persists scan records.
type Repository interface {
	// Record inserts a scan. Returns ErrAlreadyScanned when the (user,
	// marker) pair already exists.
	Record(ctx context.Context, rec *ScanRecord) error

	// ListByUser returns a user's scans, newest first.
	ListByUser(ctx context.Context, userID string) ([]*ScanRecord, error)

	// CountForMarker returns how many distinct users found the marker.
	CountForMarker(ctx context.Context, markerID string) (int64, error)
}

// InMemoryRepository is a map-backed Repository for tests and local
// development.
type InMemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*ScanRecord
	byPair  map[pairKey]string
	timeNow func() time.Time
}

type pairKey struct {
	userID   string
	markerID string
}

// NewInMemoryRepository creates an empty in-memory scan log.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byID:    make(map[string]*ScanRecord),
		byPair:  make(map[pairKey]string),
		timeNow: time.Now,
	}
}

// Record inserts a scan record, enforcing one row per (user, marker).
func (r *InMemoryRepository) Record(_ context.Context, rec *ScanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey{userID: rec.UserID, markerID: rec.MarkerID}
	if _, exists := r.byPair[key]; exists {
		return ErrAlreadyScanned
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = r.timeNow().UTC()

	stored := *rec
	if rec.Point != nil {
		p := *rec.Point
		stored.Point = &p
	}
	r.byID[stored.ID] = &stored
	r.byPair[key] = stored.ID
	return nil
}

// ListByUser returns the user's scans, newest first.
func (r *InMemoryRepository) ListByUser(_ context.Context, userID string) ([]*ScanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*ScanRecord
	for _, rec := range r.byID {
		if rec.UserID != userID {
			continue
		}
		c := *rec
		if rec.Point != nil {
			p := *rec.Point
			c.Point = &p
		}
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CountForMarker returns the number of users that found the marker.
func (r *InMemoryRepository) CountForMarker(_ context.Context, markerID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, rec := range r.byID {
		if rec.MarkerID == markerID {
			n++
		}
	}
	return n, nil
}

// MarkerCounter increments a marker's aggregate scan counter. Satisfied by
// marker.Repository.
type MarkerCounter interface {
	IncrementScanCount(ctx context.Context, markerID string) (int64, error)
}

// Service records finds best-effort: failures are logged and swallowed so a
// storage hiccup never interrupts the AR session.
type Service struct {
	repo    Repository
	markers MarkerCounter
	logger  *slog.Logger
}

// NewService creates a scan log service.
func NewService(repo Repository, markers MarkerCounter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, markers: markers, logger: logger}
}

// RecordFind saves a scan record and bumps the marker's scan counter. Repeat
// finds are silently ignored; any other failure is logged and dropped.
func (s *Service) RecordFind(ctx context.Context, userID, markerID string, at *geo.Point) {
	rec := &ScanRecord{UserID: userID, MarkerID: markerID, Point: at}
	if err := s.repo.Record(ctx, rec); err != nil {
		if !errors.Is(err, ErrAlreadyScanned) {
			s.logger.Warn("failed to record scan",
				"user_id", userID,
				"marker_id", markerID,
				"error", err,
			)
		}
		return
	}

	if s.markers == nil {
		return
	}
	if _, err := s.markers.IncrementScanCount(ctx, markerID); err != nil {
		s.logger.Warn("failed to increment marker scan count",
			"marker_id", markerID,
			"error", err,
		)
	}
}
