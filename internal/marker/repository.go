package marker

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lamemoria/baldosas/internal/geo"
)

// Nearby query limits.
const (
	MinRadiusMeters = 1
	MaxRadiusMeters = 10000
	NearbyPageSize  = 50
)

// uuidPattern matches id-shaped lookup input. Anything else resolves by code.
var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// IDShaped reports whether the input looks like an internal marker id.
func IDShaped(input string) bool {
	return uuidPattern.MatchString(input)
}

// Repository defines marker data operations. All read operations exclude
// deactivated markers; code uniqueness checks span deactivated ones.
type Repository interface {
	// Create inserts a new marker, assigning an id when empty.
	// Returns ErrDuplicateCode if the code is already taken (case-sensitive,
	// including deactivated markers).
	Create(ctx context.Context, m *Marker) error

	// Update replaces the stored marker. Returns ErrMarkerNotFound for
	// unknown ids.
	Update(ctx context.Context, m *Marker) error

	// Deactivate soft-deletes a marker. The record is retained and its code
	// stays reserved.
	Deactivate(ctx context.Context, id string) error

	// GetByIDOrCode resolves id-shaped input by id, anything else by code.
	// Returns ErrMarkerNotFound for deactivated or missing markers.
	GetByIDOrCode(ctx context.Context, idOrCode string) (*Marker, error)

	// CodeExists reports whether a code is taken by any marker ever created,
	// active or not.
	CodeExists(ctx context.Context, code string) (bool, error)

	// Nearby returns active markers within radiusMeters of center, with
	// distance attached, capped at NearbyPageSize.
	Nearby(ctx context.Context, center geo.Point, radiusMeters float64) ([]NearbyMarker, error)

	// Pins returns the map-pin projection of every active marker.
	Pins(ctx context.Context) ([]Pin, error)

	// IncrementScanCount atomically bumps the scan counter of the marker
	// resolved by id-or-code and returns the updated count.
	IncrementScanCount(ctx context.Context, idOrCode string) (int64, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex. Used for tests and development.
type InMemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*Marker
	byCode  map[string]string // code -> id, including deactivated markers
	timeNow func() time.Time
}

// NewInMemoryRepository creates an empty in-memory marker repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byID:    make(map[string]*Marker),
		byCode:  make(map[string]string),
		timeNow: time.Now,
	}
}

// Create inserts a new marker, assigning an id when empty.
func (r *InMemoryRepository) Create(ctx context.Context, m *Marker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byCode[m.Code]; taken {
		return ErrDuplicateCode
	}

	stored := *m
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	now := r.timeNow()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	r.byID[stored.ID] = &stored
	r.byCode[stored.Code] = stored.ID

	*m = stored
	return nil
}

// Update replaces the stored marker.
func (r *InMemoryRepository) Update(ctx context.Context, m *Marker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[m.ID]
	if !ok {
		return ErrMarkerNotFound
	}

	stored := *m
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = r.timeNow()

	// Code edits must keep the uniqueness invariant.
	if stored.Code != existing.Code {
		if _, taken := r.byCode[stored.Code]; taken {
			return ErrDuplicateCode
		}
		delete(r.byCode, existing.Code)
		r.byCode[stored.Code] = stored.ID
	}

	r.byID[stored.ID] = &stored
	return nil
}

// Deactivate soft-deletes a marker.
func (r *InMemoryRepository) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byID[id]
	if !ok {
		return ErrMarkerNotFound
	}
	m.Active = false
	m.UpdatedAt = r.timeNow()
	return nil
}

// GetByIDOrCode resolves id-shaped input by id, anything else by code.
func (r *InMemoryRepository) GetByIDOrCode(ctx context.Context, idOrCode string) (*Marker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, err := r.lookupLocked(idOrCode)
	if err != nil {
		return nil, err
	}
	out := *m
	return &out, nil
}

// lookupLocked resolves an active marker. Callers must hold at least a read lock.
func (r *InMemoryRepository) lookupLocked(idOrCode string) (*Marker, error) {
	var m *Marker
	if IDShaped(idOrCode) {
		m = r.byID[idOrCode]
	} else if id, ok := r.byCode[idOrCode]; ok {
		m = r.byID[id]
	}
	if m == nil || !m.Active {
		return nil, ErrMarkerNotFound
	}
	return m, nil
}

// CodeExists reports whether a code is taken, active or not.
func (r *InMemoryRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, taken := r.byCode[code]
	return taken, nil
}

// Nearby returns active markers within radiusMeters of center, capped at
// NearbyPageSize, ordered by ascending distance with id as tie-breaker so the
// page boundary is stable.
func (r *InMemoryRepository) Nearby(ctx context.Context, center geo.Point, radiusMeters float64) ([]NearbyMarker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]NearbyMarker, 0)
	for _, m := range r.byID {
		if !m.Active {
			continue
		}
		d := geo.Haversine(center, m.Point)
		if d <= radiusMeters {
			results = append(results, NearbyMarker{Marker: *m, DistanceMeters: d})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].DistanceMeters != results[j].DistanceMeters {
			return results[i].DistanceMeters < results[j].DistanceMeters
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > NearbyPageSize {
		results = results[:NearbyPageSize]
	}
	return results, nil
}

// Pins returns the map-pin projection of every active marker, ordered by code.
func (r *InMemoryRepository) Pins(ctx context.Context) ([]Pin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pins := make([]Pin, 0, len(r.byID))
	for _, m := range r.byID {
		if m.Active {
			pins = append(pins, m.Pin())
		}
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i].Code < pins[j].Code })
	return pins, nil
}

// IncrementScanCount atomically bumps the scan counter.
func (r *InMemoryRepository) IncrementScanCount(ctx context.Context, idOrCode string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.lookupLocked(idOrCode)
	if err != nil {
		return 0, err
	}
	m.ScanCount++
	m.UpdatedAt = r.timeNow()
	return m.ScanCount, nil
}
