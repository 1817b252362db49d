package geo

import (
	"math"
	"sync"
)

// Grid is a spatial hash index over identified points. It exists for marker
// sets where a linear scan per position update stops being acceptable; its
// Nearest and Within results match a full haversine scan exactly.
//
// Insert and Remove are O(1); Nearest and Within touch only the cells
// overlapping the search area.
type Grid struct {
	mu       sync.RWMutex
	cellSize float64 // degrees per cell side
	cells    map[cellKey][]*gridEntry
	byID     map[string]*gridEntry
}

type cellKey struct {
	x, y int
}

type gridEntry struct {
	id    string
	point Point
	key   cellKey
}

// NewGrid creates a grid index with cells of roughly cellSizeMeters per side.
// A cell size at or above the largest expected search radius keeps lookups to
// a single ring of neighboring cells.
func NewGrid(cellSizeMeters float64) *Grid {
	if cellSizeMeters <= 0 {
		cellSizeMeters = 1000
	}
	return &Grid{
		cellSize: cellSizeMeters / 111320.0,
		cells:    make(map[cellKey][]*gridEntry),
		byID:     make(map[string]*gridEntry),
	}
}

// Insert adds or replaces the point for the given id.
func (g *Grid) Insert(id string, p Point) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.byID[id]; ok {
		g.removeFromCell(old)
	}

	e := &gridEntry{id: id, point: p, key: g.keyFor(p)}
	g.cells[e.key] = append(g.cells[e.key], e)
	g.byID[id] = e
}

// Remove deletes the point for the given id, if present.
func (g *Grid) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.byID[id]
	if !ok {
		return
	}
	g.removeFromCell(e)
	delete(g.byID, id)
}

// Len returns the number of indexed points.
func (g *Grid) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byID)
}

// Nearest returns the id and distance of the closest point within
// maxDistanceMeters of p. Returns ok=false when no point qualifies.
// Ties resolve to the first matching entry in cell iteration order, which is
// stable for a fixed insertion sequence.
func (g *Grid) Nearest(p Point, maxDistanceMeters float64) (id string, distance float64, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	best := math.MaxFloat64
	for _, e := range g.candidates(p, maxDistanceMeters) {
		d := Haversine(p, e.point)
		if d <= maxDistanceMeters && d < best {
			best = d
			id = e.id
			ok = true
		}
	}
	return id, best, ok
}

// Within returns the ids of all points within radiusMeters of p.
func (g *Grid) Within(p Point, radiusMeters float64) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []string
	for _, e := range g.candidates(p, radiusMeters) {
		if Haversine(p, e.point) <= radiusMeters {
			ids = append(ids, e.id)
		}
	}
	return ids
}

// candidates returns entries from every cell overlapping the search box.
// Callers must hold at least a read lock.
func (g *Grid) candidates(p Point, radiusMeters float64) []*gridEntry {
	minLat, maxLat, minLng, maxLng := BoundingBox(p, radiusMeters)

	minKey := g.keyFor(Point{Lat: minLat, Lng: minLng})
	maxKey := g.keyFor(Point{Lat: maxLat, Lng: maxLng})

	var out []*gridEntry
	for x := minKey.x; x <= maxKey.x; x++ {
		for y := minKey.y; y <= maxKey.y; y++ {
			out = append(out, g.cells[cellKey{x: x, y: y}]...)
		}
	}
	return out
}

func (g *Grid) keyFor(p Point) cellKey {
	return cellKey{
		x: int(math.Floor(p.Lng / g.cellSize)),
		y: int(math.Floor(p.Lat / g.cellSize)),
	}
}

// removeFromCell drops the entry from its cell slice. Callers must hold the
// write lock.
func (g *Grid) removeFromCell(e *gridEntry) {
	entries := g.cells[e.key]
	for i, candidate := range entries {
		if candidate.id == e.id {
			g.cells[e.key] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(g.cells[e.key]) == 0 {
		delete(g.cells, e.key)
	}
}
