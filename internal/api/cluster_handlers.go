package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lamemoria/baldosas/internal/cluster"
	"github.com/lamemoria/baldosas/internal/geo"
	"github.com/lamemoria/baldosas/internal/marker"
	"github.com/lamemoria/baldosas/internal/middleware"
)

// CreateClusterRequest represents the request body for creating an AR target
// cluster.
type CreateClusterRequest struct {
	Name         string   `json:"name"`
	Lat          *float64 `json:"lat"`
	Lng          *float64 `json:"lng"`
	RadiusMeters float64  `json:"radius_meters"`
}

// RecordCompiledRequest represents the request body for registering a fresh
// bundle compilation.
type RecordCompiledRequest struct {
	BundleRef string `json:"bundle_ref"`
}

// ClusterListResponse is the response body for GET /clusters.
type ClusterListResponse struct {
	Clusters []*cluster.Cluster `json:"clusters"`
	Total    int                `json:"total"`
}

// ClusterHandlers holds dependencies for cluster HTTP handlers.
type ClusterHandlers struct {
	repo    cluster.Repository
	markers marker.Repository
}

// NewClusterHandlers creates a new ClusterHandlers instance.
func NewClusterHandlers(repo cluster.Repository, markers marker.Repository) *ClusterHandlers {
	return &ClusterHandlers{repo: repo, markers: markers}
}

// CreateCluster handles POST /clusters - registers a new AR target cluster.
func (h *ClusterHandlers) CreateCluster(w http.ResponseWriter, r *http.Request) {
	var req CreateClusterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "name is required")
		return
	}
	if req.Lat == nil || req.Lng == nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "lat and lng are required")
		return
	}
	center := geo.Point{Lat: *req.Lat, Lng: *req.Lng}
	if !center.Valid() {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidCoordinates)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidCoordinates, "Coordinates are out of range")
		return
	}
	if req.RadiusMeters <= 0 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "radius_meters must be positive")
		return
	}

	c := &cluster.Cluster{
		Name:         strings.TrimSpace(req.Name),
		Center:       center,
		RadiusMeters: req.RadiusMeters,
	}
	if err := h.repo.Create(r.Context(), c); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to create cluster")
		return
	}

	writeJSON(w, r.Context(), http.StatusCreated, c)
}

// ListNearby handles GET /clusters - clusters around a point.
func (h *ClusterHandlers) ListNearby(w http.ResponseWriter, r *http.Request) {
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
		if err != nil || v < marker.MinRadiusMeters || v > marker.MaxRadiusMeters {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidRadius)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidRadius, "radius must be between 1 and 10000 meters")
			return
		}
		radius = v
	}

	clusters, err := h.repo.Nearby(r.Context(), center, radius)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to search clusters")
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, ClusterListResponse{Clusters: clusters, Total: len(clusters)})
}

// GetCluster handles GET /clusters/{id}.
func (h *ClusterHandlers) GetCluster(w http.ResponseWriter, r *http.Request) {
	id, _ := clusterPathParts(r)
	c, ok := h.lookup(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, c)
}

// Manifest handles GET /clusters/{id}/manifest - the CBOR bundle manifest.
// Member codes are derived from the active markers inside the cluster's
// radius, so the manifest always reflects the current member set even when
// the compiled bundle is stale.
func (h *ClusterHandlers) Manifest(w http.ResponseWriter, r *http.Request) {
	id, action := clusterPathParts(r)
	if action != "manifest" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Cluster ID is required")
		return
	}
	c, ok := h.lookup(w, r, id)
	if !ok {
		return
	}

	members, err := h.markers.Nearby(r.Context(), c.Center, c.RadiusMeters)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to resolve cluster members")
		return
	}
	codes := make([]string, len(members))
	for i, m := range members {
		codes[i] = m.Code
	}

	data, err := cluster.EncodeManifest(cluster.Manifest{
		ClusterID:   c.ID,
		Version:     c.Version,
		MemberCodes: codes,
		CompiledAt:  time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, cluster.ErrEmptyManifest) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Cluster has no members")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to encode manifest")
		return
	}

	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// RecordCompiled handles POST /clusters/{id}/compiled - registers a freshly
// compiled bundle, clearing the stale flag and advancing the version.
func (h *ClusterHandlers) RecordCompiled(w http.ResponseWriter, r *http.Request) {
	id, action := clusterPathParts(r)
	if action != "compiled" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Cluster ID is required")
		return
	}

	var req RecordCompiledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if strings.TrimSpace(req.BundleRef) == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "bundle_ref is required")
		return
	}

	if err := h.repo.RecordCompiled(r.Context(), id, req.BundleRef); err != nil {
		if errors.Is(err, cluster.ErrClusterNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Cluster not found")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to record compilation")
		return
	}

	c, ok := h.lookup(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, c)
}

// lookup resolves a cluster by id, writing the error response on failure.
func (h *ClusterHandlers) lookup(w http.ResponseWriter, r *http.Request, id string) (*cluster.Cluster, bool) {
	if id == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Cluster ID is required")
		return nil, false
	}

	c, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, cluster.ErrClusterNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Cluster not found")
			return nil, false
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve cluster")
		return nil, false
	}
	return c, true
}

// clusterPathParts extracts the id and optional action segment of
// /clusters/{id}[/{action}].
func clusterPathParts(r *http.Request) (id, action string) {
	rest := strings.TrimPrefix(r.URL.Path, "/clusters/")
	parts := strings.Split(rest, "/")
	if len(parts) >= 1 {
		id = strings.TrimSpace(parts[0])
	}
	if len(parts) >= 2 {
		action = parts[1]
	}
	return id, action
}
