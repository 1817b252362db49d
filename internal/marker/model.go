// Package marker provides models and repositories for memorial markers
// ("baldosas"): physical plaques with a location, AR content references, and
// soft-delete lifecycle.
package marker

import (
	"errors"
	"slices"
	"time"

	"github.com/lamemoria/baldosas/internal/geo"
)

// Marker categories. The set is fixed; conversions and edits must use one of
// these values.
const (
	CategoryHistoric   = "historico"
	CategoryArtist     = "artista"
	CategoryPolitician = "politico"
	CategoryAthlete    = "deportista"
	CategoryCultural   = "cultural"
	CategoryOther      = "otro"
)

// Categories is the exhaustive list of valid marker categories.
var Categories = []string{
	CategoryHistoric,
	CategoryArtist,
	CategoryPolitician,
	CategoryAthlete,
	CategoryCultural,
	CategoryOther,
}

// Common errors for marker operations.
var (
	ErrMarkerNotFound  = errors.New("marker not found")
	ErrDuplicateCode   = errors.New("marker code already exists")
	ErrInvalidCategory = errors.New("invalid marker category")
)

// ValidCategory reports whether category is one of the fixed values.
func ValidCategory(category string) bool {
	return slices.Contains(Categories, category)
}

// Marker represents one physical memorial plaque.
// Code is the stable external reference (e.g. "BALD-0005") used in file and
// AR asset names; it is unique among all markers ever created, including
// deactivated ones.
type Marker struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Description  string    `json:"description,omitempty"`
	ExtendedInfo string    `json:"extended_info,omitempty"`
	ARMessage    string    `json:"ar_message,omitempty"`
	Address      string    `json:"address,omitempty"`
	Neighborhood string    `json:"neighborhood,omitempty"`
	Point        geo.Point `json:"point"`

	// Media references. ARTargetRef points at the compiled image-tracking
	// asset; without it the camera experience cannot recognize the plaque.
	ImageRef    string `json:"image_ref,omitempty"`
	PortraitRef string `json:"portrait_ref,omitempty"`
	AudioRef    string `json:"audio_ref,omitempty"`
	ARTargetRef string `json:"ar_target_ref,omitempty"`

	ClusterID *string `json:"cluster_id,omitempty"`

	ScanCount int64 `json:"scan_count"`
	Active    bool  `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pin is the minimal projection of a marker used for map rendering.
type Pin struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Address      string    `json:"address,omitempty"`
	Neighborhood string    `json:"neighborhood,omitempty"`
	Point        geo.Point `json:"point"`
}

// Pin returns the map-pin projection of the marker.
func (m *Marker) Pin() Pin {
	return Pin{
		ID:           m.ID,
		Code:         m.Code,
		Name:         m.Name,
		Address:      m.Address,
		Neighborhood: m.Neighborhood,
		Point:        m.Point,
	}
}

// NearbyMarker is a marker with its distance from a query point attached.
type NearbyMarker struct {
	Marker
	DistanceMeters float64 `json:"distance_meters"`
}
