// Package api provides the WebSocket endpoint driving the AR proximity
// session.
package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lamemoria/baldosas/internal/geo"
	"github.com/lamemoria/baldosas/internal/marker"
	"github.com/lamemoria/baldosas/internal/middleware"
	"github.com/lamemoria/baldosas/internal/proximity"
	"github.com/lamemoria/baldosas/internal/scanlog"
)

// candidateRadiusMeters bounds the marker set loaded into one proximity
// session. Reloads are keyed on the geohash cell of the position: the set
// refreshes when the user crosses into a new cell, and stays put under GPS
// jitter inside one. A precision-6 cell is a fraction of the load radius, so
// the loaded set always covers the current cell and its neighbors.
const candidateRadiusMeters = 2000.0

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin enforcement happens in the CORS middleware; the upgrade
		// itself accepts any origin.
		return true
	},
}

// Client message types for the proximity session.
const (
	msgPosition          = "position"
	msgPermissionGranted = "permission_granted"
	msgPermissionDenied  = "permission_denied"
	msgGeoError          = "geo_error"
	msgRetry             = "retry"
	msgViewAR            = "view_ar"
	msgDismiss           = "dismiss"
	msgExitAR            = "exit_ar"
	msgResume            = "resume"
)

// Server message types.
const (
	msgState    = "state"
	msgAudioCue = "audio_cue"
	msgError    = "error"
)

// ProximityClientMessage is one inbound frame from the AR client.
type ProximityClientMessage struct {
	Type   string   `json:"type"`
	Lat    *float64 `json:"lat,omitempty"`
	Lng    *float64 `json:"lng,omitempty"`
	Reason string   `json:"reason,omitempty"`
}

// ProximityServerMessage is one outbound frame to the AR client.
type ProximityServerMessage struct {
	Type     string               `json:"type"`
	State    *proximity.Snapshot  `json:"state,omitempty"`
	Marker   *proximity.Candidate `json:"marker,omitempty"`
	ErrorMsg string               `json:"error,omitempty"`
}

// ProximityWSHandlers holds dependencies for the proximity WebSocket.
type ProximityWSHandlers struct {
	markers marker.Repository
	scans   *scanlog.Service
	metrics *middleware.Metrics
	logger  *slog.Logger
}

// NewProximityWSHandlers creates a new ProximityWSHandlers instance. scans
// and metrics may be nil.
func NewProximityWSHandlers(markers marker.Repository, scans *scanlog.Service, metrics *middleware.Metrics, logger *slog.Logger) *ProximityWSHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProximityWSHandlers{markers: markers, scans: scans, metrics: metrics, logger: logger}
}

// Session handles GET /proximity/ws - one WebSocket connection drives one
// phase state machine. The client streams position samples and user actions;
// the server answers every frame with the resulting state and pushes audio
// cues as they fire.
func (h *ProximityWSHandlers) Session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to upgrade websocket connection", "error", err)
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.ProximitySessionStarted()
		defer h.metrics.ProximitySessionEnded()
	}

	// Writes come from the read loop and from engine hooks, so they share a
	// mutex; gorilla connections allow one concurrent writer.
	var writeMu sync.Mutex
	send := func(msg ProximityServerMessage) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(msg); err != nil {
			h.logger.DebugContext(ctx, "proximity session write failed", "error", err)
		}
	}

	engine := proximity.NewEngine(nil,
		proximity.WithLogger(h.logger),
		proximity.WithHooks(proximity.Hooks{
			OnAudioCue: func(c proximity.Candidate) {
				cand := c
				send(ProximityServerMessage{Type: msgAudioCue, Marker: &cand})
			},
			OnDetailEntered: func(c proximity.Candidate, at *geo.Point) {
				if h.scans != nil && userID != "" {
					h.scans.RecordFind(ctx, userID, c.ID, at)
				}
				if h.metrics != nil {
					h.metrics.IncMarkerScans()
				}
			},
		}),
	)

	requestID := middleware.GetRequestID(ctx)
	h.logger.InfoContext(ctx, "proximity session opened",
		"user_id", userID,
		"request_id", requestID,
	)
	defer h.logger.InfoContext(ctx, "proximity session closed",
		"user_id", userID,
		"request_id", requestID,
	)

	var lastCell string
	for {
		var msg ProximityClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WarnContext(ctx, "proximity session closed unexpectedly", "error", err)
			}
			return
		}

		switch msg.Type {
		case msgPosition:
			if msg.Lat == nil || msg.Lng == nil {
				send(ProximityServerMessage{Type: msgError, ErrorMsg: "position requires lat and lng"})
				continue
			}
			p := geo.Point{Lat: *msg.Lat, Lng: *msg.Lng}
			if !p.Valid() {
				send(ProximityServerMessage{Type: msgError, ErrorMsg: "coordinates out of range"})
				continue
			}
			lastCell = h.maybeReloadCandidates(r, engine, p, lastCell)
			snap := engine.UpdatePosition(p)
			send(ProximityServerMessage{Type: msgState, State: &snap})

		case msgPermissionGranted:
			h.apply(send, engine.PermissionGranted())
		case msgPermissionDenied:
			h.apply(send, engine.Fail(proximity.ReasonDenied))
		case msgGeoError:
			reason := proximity.ErrorReason(msg.Reason)
			if reason != proximity.ReasonUnavailable && reason != proximity.ReasonTimeout {
				reason = proximity.ReasonUnavailable
			}
			h.apply(send, engine.Fail(reason))
		case msgRetry:
			h.apply(send, engine.Retry())
		case msgViewAR:
			h.apply(send, engine.ViewAR())
		case msgDismiss:
			h.apply(send, engine.Dismiss())
		case msgExitAR:
			h.apply(send, engine.ExitAR())
		case msgResume:
			h.apply(send, engine.Resume())
		default:
			send(ProximityServerMessage{Type: msgError, ErrorMsg: "unknown message type"})
		}
	}
}

// apply sends the snapshot resulting from a user action, reporting illegal
// transitions without closing the session.
func (h *ProximityWSHandlers) apply(send func(ProximityServerMessage), snap proximity.Snapshot, err error) {
	if err != nil {
		send(ProximityServerMessage{Type: msgError, ErrorMsg: err.Error(), State: &snap})
		return
	}
	send(ProximityServerMessage{Type: msgState, State: &snap})
}

// maybeReloadCandidates refreshes the engine's candidate set when the
// position crosses into a new geohash cell. Load failures keep the previous
// set and cell; the session degrades rather than drops.
func (h *ProximityWSHandlers) maybeReloadCandidates(r *http.Request, engine *proximity.Engine, p geo.Point, lastCell string) string {
	cell := geo.EncodeGeohash(p, geo.DefaultGeohashPrecision)
	if cell == lastCell {
		return lastCell
	}

	nearby, err := h.markers.Nearby(r.Context(), p, candidateRadiusMeters)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load proximity candidates", "error", err)
		return lastCell
	}

	candidates := make([]proximity.Candidate, len(nearby))
	for i, m := range nearby {
		candidates[i] = proximity.Candidate{
			ID:       m.ID,
			Code:     m.Code,
			Name:     m.Name,
			Point:    m.Point,
			AudioRef: m.AudioRef,
		}
	}
	engine.SetCandidates(candidates)
	return cell
}
