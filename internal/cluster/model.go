// Package cluster provides models and repositories for AR target bundles:
// groups of nearby markers sharing one compiled image-tracking file.
package cluster

import (
	"errors"
	"time"

	"github.com/lamemoria/baldosas/internal/geo"
)

// Common errors for cluster operations.
var (
	ErrClusterNotFound = errors.New("cluster not found")
)

// Cluster groups nearby markers that share one compiled AR target bundle.
// The image-tracking compiler indexes multiple targets into a single file,
// so markers inside a cluster's radius are recognized through its bundle.
// Stale means the bundle no longer reflects the member set and needs
// recompilation (performed by the external compiler, not this service).
type Cluster struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Center      geo.Point `json:"center"`
	RadiusMeters float64  `json:"radius_meters"`
	MemberCount int       `json:"member_count"`
	BundleRef   string    `json:"bundle_ref,omitempty"`
	Version     int64     `json:"version"`
	Stale       bool      `json:"stale"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Contains reports whether the point falls inside the cluster's radius.
func (c *Cluster) Contains(p geo.Point) bool {
	return geo.Haversine(c.Center, p) <= c.RadiusMeters
}
