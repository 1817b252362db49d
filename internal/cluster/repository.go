package cluster

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lamemoria/baldosas/internal/geo"
)

// NearbyClusterLimit caps the clusters attached to a radius query response.
const NearbyClusterLimit = 10

// Repository defines cluster data operations.
type Repository interface {
	// Create inserts a new cluster, assigning an id when empty.
	Create(ctx context.Context, c *Cluster) error

	// GetByID retrieves a cluster. Returns ErrClusterNotFound for unknown ids.
	GetByID(ctx context.Context, id string) (*Cluster, error)

	// Nearby returns clusters whose center lies within radiusMeters of the
	// point, capped at NearbyClusterLimit.
	Nearby(ctx context.Context, center geo.Point, radiusMeters float64) ([]*Cluster, error)

	// MarkStaleContaining flags every cluster whose radius covers the point
	// and bumps its member count. Returns the ids of the flagged clusters.
	MarkStaleContaining(ctx context.Context, p geo.Point) ([]string, error)

	// RecordCompiled stores a fresh bundle reference, clears the stale flag,
	// and advances the version.
	RecordCompiled(ctx context.Context, id, bundleRef string) error
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex. Used for tests and development.
type InMemoryRepository struct {
	mu       sync.RWMutex
	clusters map[string]*Cluster
	timeNow  func() time.Time
}

// NewInMemoryRepository creates an empty in-memory cluster repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		clusters: make(map[string]*Cluster),
		timeNow:  time.Now,
	}
}

// Create inserts a new cluster, assigning an id when empty.
func (r *InMemoryRepository) Create(ctx context.Context, c *Cluster) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *c
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	now := r.timeNow()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	r.clusters[stored.ID] = &stored
	*c = stored
	return nil
}

// GetByID retrieves a cluster by id.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Cluster, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clusters[id]
	if !ok {
		return nil, ErrClusterNotFound
	}
	out := *c
	return &out, nil
}

// Nearby returns clusters whose center lies within radiusMeters, distance
// sorted, capped at NearbyClusterLimit.
func (r *InMemoryRepository) Nearby(ctx context.Context, center geo.Point, radiusMeters float64) ([]*Cluster, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type scored struct {
		c *Cluster
		d float64
	}
	matches := make([]scored, 0)
	for _, c := range r.clusters {
		if d := geo.Haversine(center, c.Center); d <= radiusMeters {
			cp := *c
			matches = append(matches, scored{c: &cp, d: d})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].d != matches[j].d {
			return matches[i].d < matches[j].d
		}
		return matches[i].c.ID < matches[j].c.ID
	})

	if len(matches) > NearbyClusterLimit {
		matches = matches[:NearbyClusterLimit]
	}
	out := make([]*Cluster, len(matches))
	for i, m := range matches {
		out[i] = m.c
	}
	return out, nil
}

// MarkStaleContaining flags clusters covering the point and bumps member
// counts.
func (r *InMemoryRepository) MarkStaleContaining(ctx context.Context, p geo.Point) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var flagged []string
	for _, c := range r.clusters {
		if c.Contains(p) {
			c.Stale = true
			c.MemberCount++
			c.UpdatedAt = r.timeNow()
			flagged = append(flagged, c.ID)
		}
	}
	sort.Strings(flagged)
	return flagged, nil
}

// RecordCompiled stores a fresh bundle reference and clears the stale flag.
func (r *InMemoryRepository) RecordCompiled(ctx context.Context, id, bundleRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clusters[id]
	if !ok {
		return ErrClusterNotFound
	}
	c.BundleRef = bundleRef
	c.Stale = false
	c.Version++
	c.UpdatedAt = r.timeNow()
	return nil
}
