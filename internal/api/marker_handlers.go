// Package api provides HTTP handlers for the baldosas API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/lamemoria/baldosas/internal/cache"
	"github.com/lamemoria/baldosas/internal/cluster"
	"github.com/lamemoria/baldosas/internal/geo"
	"github.com/lamemoria/baldosas/internal/marker"
	"github.com/lamemoria/baldosas/internal/middleware"
	"github.com/lamemoria/baldosas/internal/scanlog"
)

// NearbyResponse is the response body for GET /markers/nearby. Clusters
// within twice the search radius ride along so the client can prefetch
// compiled AR bundles before any single marker is close.
type NearbyResponse struct {
	Markers      []marker.NearbyMarker `json:"markers"`
	Clusters     []*cluster.Cluster    `json:"clusters"`
	Total        int                   `json:"total"`
	UserLocation geo.Point             `json:"userLocation"`
	Radius       float64               `json:"radius"`
}

// PinsResponse is the response body for GET /markers/pins.
type PinsResponse struct {
	Pins  []*marker.Pin `json:"pins"`
	Total int           `json:"total"`
}

// UpdateMarkerRequest represents the request body for editing a marker.
// Only mutable fields are included (code and point are immutable).
type UpdateMarkerRequest struct {
	Name         *string `json:"name,omitempty"`
	Category     *string `json:"category,omitempty"`
	Description  *string `json:"description,omitempty"`
	ExtendedInfo *string `json:"extended_info,omitempty"`
	ARMessage    *string `json:"ar_message,omitempty"`
	Address      *string `json:"address,omitempty"`
	Neighborhood *string `json:"neighborhood,omitempty"`
	AudioRef     *string `json:"audio_ref,omitempty"`
	PortraitRef  *string `json:"portrait_ref,omitempty"`
}

// ScanCountResponse is the response body for POST /markers/{idOrCode}/scan.
type ScanCountResponse struct {
	ScanCount int64 `json:"scanCount"`
}

// RecordScanRequest represents the request body for POST /scans.
type RecordScanRequest struct {
	MarkerID string   `json:"marker_id"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
}

// MarkerHandlers holds dependencies for marker HTTP handlers.
type MarkerHandlers struct {
	repo     marker.Repository
	clusters cluster.Repository
	pins     *cache.PinsCache
	scans    *scanlog.Service
	metrics  *middleware.Metrics
}

// NewMarkerHandlers creates a new MarkerHandlers instance. clusters, pins,
// scans, and metrics may be nil; the corresponding behavior is skipped.
func NewMarkerHandlers(repo marker.Repository, clusters cluster.Repository, pins *cache.PinsCache, scans *scanlog.Service, metrics *middleware.Metrics) *MarkerHandlers {
	return &MarkerHandlers{repo: repo, clusters: clusters, pins: pins, scans: scans, metrics: metrics}
}

// parseCoordinate parses a required query parameter as a float.
func parseCoordinate(r *http.Request, name string) (float64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Nearby handles GET /markers/nearby - radius search around a point.
func (h *MarkerHandlers) Nearby(w http.ResponseWriter, r *http.Request) {
	lat, okLat := parseCoordinate(r, "lat")
	lng, okLng := parseCoordinate(r, "lng")
	if !okLat || !okLng {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "lat and lng query parameters are required")
		return
	}

	center := geo.Point{Lat: lat, Lng: lng}
	if !center.Valid() {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidCoordinates)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidCoordinates, "Coordinates are out of range")
		return
	}

	radius := float64(marker.MaxRadiusMeters)
	if raw := r.URL.Query().Get("radius"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidRadius)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidRadius, "radius must be a number")
			return
		}
		radius = v
	}
	if radius < marker.MinRadiusMeters || radius > marker.MaxRadiusMeters {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidRadius)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidRadius, "radius must be between 1 and 10000 meters")
		return
	}

	results, err := h.repo.Nearby(r.Context(), center, radius)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to search markers")
		return
	}

	// Cluster attachment is best-effort; a lookup failure serves the
	// markers alone.
	nearClusters := []*cluster.Cluster{}
	if h.clusters != nil {
		if cs, err := h.clusters.Nearby(r.Context(), center, 2*radius); err == nil && cs != nil {
			nearClusters = cs
		}
	}

	writeJSON(w, r.Context(), http.StatusOK, NearbyResponse{
		Markers:      results,
		Clusters:     nearClusters,
		Total:        len(results),
		UserLocation: center,
		Radius:       radius,
	})
}

// Pins handles GET /markers/pins - the full map-pin projection.
// The pin list is served from Redis when available; a cache failure falls
// back to the repository.
func (h *MarkerHandlers) Pins(w http.ResponseWriter, r *http.Request) {
	if h.pins != nil {
		if cached, ok := h.pins.Get(r.Context()); ok {
			writeJSON(w, r.Context(), http.StatusOK, PinsResponse{Pins: cached, Total: len(cached)})
			return
		}
	}

	pins, err := h.repo.Pins(r.Context())
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load map pins")
		return
	}

	out := make([]*marker.Pin, len(pins))
	for i := range pins {
		p := pins[i]
		out[i] = &p
	}
	if h.pins != nil {
		h.pins.Set(r.Context(), out)
	}

	writeJSON(w, r.Context(), http.StatusOK, PinsResponse{Pins: out, Total: len(out)})
}

// GetMarker handles GET /markers/{idOrCode} - resolves a single marker.
// Id-shaped input resolves by id, anything else by code.
func (h *MarkerHandlers) GetMarker(w http.ResponseWriter, r *http.Request) {
	idOrCode := markerPathID(r)
	if idOrCode == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Marker ID or code is required")
		return
	}

	m, err := h.repo.GetByIDOrCode(r.Context(), idOrCode)
	if err != nil {
		if errors.Is(err, marker.ErrMarkerNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Marker not found")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve marker")
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, m)
}

// UpdateMarker handles PATCH /markers/{idOrCode} - moderator edits to a
// marker's descriptive fields.
func (h *MarkerHandlers) UpdateMarker(w http.ResponseWriter, r *http.Request) {
	idOrCode := markerPathID(r)
	if idOrCode == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Marker ID or code is required")
		return
	}

	var req UpdateMarkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	m, err := h.repo.GetByIDOrCode(r.Context(), idOrCode)
	if err != nil {
		if errors.Is(err, marker.ErrMarkerNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Marker not found")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve marker")
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "name must not be empty")
			return
		}
		m.Name = name
	}
	if req.Category != nil {
		if !marker.ValidCategory(*req.Category) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidCategory)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidCategory, "Unknown marker category")
			return
		}
		m.Category = *req.Category
	}
	if req.Description != nil {
		m.Description = *req.Description
	}
	if req.ExtendedInfo != nil {
		m.ExtendedInfo = *req.ExtendedInfo
	}
	if req.ARMessage != nil {
		m.ARMessage = *req.ARMessage
	}
	if req.Address != nil {
		m.Address = *req.Address
	}
	if req.Neighborhood != nil {
		m.Neighborhood = *req.Neighborhood
	}
	if req.AudioRef != nil {
		m.AudioRef = *req.AudioRef
	}
	if req.PortraitRef != nil {
		m.PortraitRef = *req.PortraitRef
	}

	if err := h.repo.Update(r.Context(), m); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to update marker")
		return
	}

	if h.pins != nil {
		h.pins.Invalidate(r.Context())
	}

	writeJSON(w, r.Context(), http.StatusOK, m)
}

// DeactivateMarker handles DELETE /markers/{idOrCode} - soft-deletes a
// marker. The record stays and its code remains reserved.
func (h *MarkerHandlers) DeactivateMarker(w http.ResponseWriter, r *http.Request) {
	idOrCode := markerPathID(r)
	if idOrCode == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Marker ID or code is required")
		return
	}

	m, err := h.repo.GetByIDOrCode(r.Context(), idOrCode)
	if err != nil {
		if errors.Is(err, marker.ErrMarkerNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Marker not found")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve marker")
		return
	}

	if err := h.repo.Deactivate(r.Context(), m.ID); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to deactivate marker")
		return
	}

	if h.pins != nil {
		h.pins.Invalidate(r.Context())
	}

	w.WriteHeader(http.StatusNoContent)
}

// IncrementScan handles POST /markers/{idOrCode}/scan - the anonymous scan
// counter bump fired when a visitor scans a plaque. No body, no auth.
func (h *MarkerHandlers) IncrementScan(w http.ResponseWriter, r *http.Request) {
	idOrCode := markerPathID(r)
	if idOrCode == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Marker ID or code is required")
		return
	}

	count, err := h.repo.IncrementScanCount(r.Context(), idOrCode)
	if err != nil {
		if errors.Is(err, marker.ErrMarkerNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Marker not found")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to update scan count")
		return
	}

	if h.metrics != nil {
		h.metrics.IncMarkerScans()
	}

	writeJSON(w, r.Context(), http.StatusOK, ScanCountResponse{ScanCount: count})
}

// RecordScan handles POST /scans - records that the authenticated user found
// a marker in person. First find per user/marker bumps the scan counter;
// repeats are silently accepted.
func (h *MarkerHandlers) RecordScan(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	var req RecordScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if strings.TrimSpace(req.MarkerID) == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "marker_id is required")
		return
	}

	m, err := h.repo.GetByIDOrCode(r.Context(), req.MarkerID)
	if err != nil {
		if errors.Is(err, marker.ErrMarkerNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Marker not found")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve marker")
		return
	}

	var at *geo.Point
	if req.Lat != nil && req.Lng != nil {
		p := geo.Point{Lat: *req.Lat, Lng: *req.Lng}
		if p.Valid() {
			at = &p
		}
	}

	if h.scans != nil {
		h.scans.RecordFind(r.Context(), userID, m.ID, at)
	}
	if h.metrics != nil {
		h.metrics.IncMarkerScans()
	}

	w.WriteHeader(http.StatusNoContent)
}

// markerPathID extracts the trailing id-or-code segment of /markers/{x}.
func markerPathID(r *http.Request) string {
	rest := strings.TrimPrefix(r.URL.Path, "/markers/")
	parts := strings.Split(rest, "/")
	if len(parts) == 0 {
		return ""
	}
	return strings.TrimSpace(parts[0])
}
