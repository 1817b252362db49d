// Package proximity implements the phase state machine that gates the AR
// experience: a live position stream is evaluated against the candidate
// marker set, and the nearest marker within the activation radius latches the
// session into the near phase.
package proximity

import (
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/lamemoria/baldosas/internal/geo"
)

// Phase is the engine's current state.
type Phase string

// Engine phases. The flow is initializing → walking ⇄ near → viewing-ar →
// detail, with error reachable from initializing and walking and recoverable
// via Retry.
const (
	PhaseInitializing Phase = "initializing"
	PhaseWalking      Phase = "walking"
	PhaseNear         Phase = "near"
	PhaseViewingAR    Phase = "viewing-ar"
	PhaseDetail       Phase = "detail"
	PhaseError        Phase = "error"
)

// ErrorReason classifies geolocation failures.
type ErrorReason string

// Geolocation failure reasons.
const (
	ReasonDenied      ErrorReason = "denied"
	ReasonUnavailable ErrorReason = "unavailable"
	ReasonTimeout     ErrorReason = "timeout"
)

// Proximity thresholds.
const (
	// ActivationRadiusMeters is the distance at which a marker is "found".
	ActivationRadiusMeters = 20.0

	// DisengageFactor scales the activation radius into the distance at
	// which a latched nearby marker is let go while walking.
	DisengageFactor = 2.0

	// gridIndexThreshold is the candidate count above which the engine
	// switches from a linear scan to a geo.Grid index per position update.
	gridIndexThreshold = 64
)

// ErrInvalidTransition is returned when a user action is not legal in the
// current phase.
var ErrInvalidTransition = errors.New("invalid phase transition")

// Candidate is a marker as seen by the engine: just enough to rank by
// distance and fire side effects.
type Candidate struct {
	ID       string    `json:"id"`
	Code     string    `json:"code"`
	Name     string    `json:"name"`
	Point    geo.Point `json:"point"`
	AudioRef string    `json:"audio_ref,omitempty"`
}

// Hooks are optional side-effect callbacks. Both are best-effort: they are
// invoked outside the engine lock and their failures never affect the phase.
type Hooks struct {
	// OnAudioCue fires when a marker with an audio reference enters near.
	OnAudioCue func(c Candidate)

	// OnDetailEntered fires when the session reaches the detail phase, with
	// the last known position. Used to persist a "found it" record.
	OnDetailEntered func(c Candidate, at *geo.Point)
}

// Snapshot is a point-in-time view of the engine, safe to serialize.
type Snapshot struct {
	Phase          Phase       `json:"phase"`
	ErrorReason    ErrorReason `json:"error_reason,omitempty"`
	NearbyMarker   *Candidate  `json:"nearby_marker,omitempty"`
	ActiveMarker   *Candidate  `json:"active_marker,omitempty"`
	DistanceMeters float64     `json:"distance_meters,omitempty"`
}

// Engine drives one session's phase state machine. Position updates and user
// actions arrive on separate goroutines; all state is guarded by a mutex and
// the latest position update is authoritative.
type Engine struct {
	mu sync.Mutex

	phase       Phase
	errorReason ErrorReason

	candidates []Candidate
	index      *geo.Grid            // nil below gridIndexThreshold
	byID       map[string]Candidate // backs index lookups
	nearby     *Candidate           // latched by walking→near
	active     *Candidate           // carried through viewing-ar and detail
	distance   float64              // meters to nearby/active marker at last update
	lastPos    *geo.Point

	activationRadius float64
	hooks            Hooks
	logger           *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithActivationRadius overrides the activation radius. Values at or below
// zero keep the default.
func WithActivationRadius(meters float64) Option {
	return func(e *Engine) {
		if meters > 0 {
			e.activationRadius = meters
		}
	}
}

// WithHooks installs side-effect callbacks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine in the initializing phase with the given
// candidate marker set.
func NewEngine(candidates []Candidate, opts ...Option) *Engine {
	e := &Engine{
		phase:            PhaseInitializing,
		candidates:       append([]Candidate(nil), candidates...),
		activationRadius: ActivationRadiusMeters,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.rebuildIndexLocked()
	return e
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Snapshot returns the current engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:          e.phase,
		ErrorReason:    e.errorReason,
		DistanceMeters: e.distance,
	}
	if e.nearby != nil {
		c := *e.nearby
		s.NearbyMarker = &c
	}
	if e.active != nil {
		c := *e.active
		s.ActiveMarker = &c
	}
	return s
}

// SetCandidates replaces the candidate marker set. The latched and active
// markers are kept even if no longer in the set; they clear through the
// normal transitions.
func (e *Engine) SetCandidates(candidates []Candidate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append([]Candidate(nil), candidates...)
	e.rebuildIndexLocked()
}

// rebuildIndexLocked rebuilds the spatial index over the candidate set. Small
// sets stay on the linear scan. Callers must hold the lock (NewEngine runs
// before the engine is shared).
func (e *Engine) rebuildIndexLocked() {
	if len(e.candidates) < gridIndexThreshold {
		e.index = nil
		e.byID = nil
		return
	}
	e.index = geo.NewGrid(e.activationRadius * DisengageFactor)
	e.byID = make(map[string]Candidate, len(e.candidates))
	for _, c := range e.candidates {
		e.index.Insert(c.ID, c.Point)
		e.byID[c.ID] = c
	}
}

// PermissionGranted moves initializing → walking once the position stream is
// live.
func (e *Engine) PermissionGranted() (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseInitializing {
		return e.snapshotLocked(), ErrInvalidTransition
	}
	e.phase = PhaseWalking
	e.errorReason = ""
	return e.snapshotLocked(), nil
}

// Fail moves initializing or walking into the error phase with a reason.
func (e *Engine) Fail(reason ErrorReason) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseInitializing && e.phase != PhaseWalking {
		return e.snapshotLocked(), ErrInvalidTransition
	}
	e.phase = PhaseError
	e.errorReason = reason
	e.nearby = nil
	e.distance = 0
	return e.snapshotLocked(), nil
}

// Retry recovers from the error phase back to initializing.
func (e *Engine) Retry() (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseError {
		return e.snapshotLocked(), ErrInvalidTransition
	}
	e.phase = PhaseInitializing
	e.errorReason = ""
	return e.snapshotLocked(), nil
}

// UpdatePosition feeds one position sample. In walking it may latch the
// nearest marker and enter near; in near it only refreshes the distance.
// While viewing-ar or detail the sample is recorded but cannot change the
// phase: the user already advanced past proximity and only explicit actions
// move the session on.
func (e *Engine) UpdatePosition(p geo.Point) Snapshot {
	e.mu.Lock()

	pos := p
	e.lastPos = &pos

	var cueHook func(c Candidate)
	var cueMarker Candidate

	switch e.phase {
	case PhaseWalking:
		nearest, dist, found := e.nearestLocked(p)
		switch {
		case found && dist <= e.activationRadius:
			c := nearest
			e.nearby = &c
			e.distance = dist
			e.phase = PhaseNear
			if e.hooks.OnAudioCue != nil && c.AudioRef != "" {
				cueHook = e.hooks.OnAudioCue
				cueMarker = c
			}
		case e.nearby != nil:
			// A marker latched earlier stays referenced until the user walks
			// clearly away.
			if geo.Haversine(p, e.nearby.Point) > e.activationRadius*DisengageFactor {
				e.nearby = nil
				e.distance = 0
			}
		}
	case PhaseNear:
		if e.nearby != nil {
			e.distance = geo.Haversine(p, e.nearby.Point)
		}
	default:
		// initializing, viewing-ar, detail, error: position samples are
		// recorded but never move the phase.
	}

	snap := e.snapshotLocked()
	e.mu.Unlock()

	if cueHook != nil {
		cueHook(cueMarker)
	}
	return snap
}

// nearestLocked performs the nearest-candidate scan. Callers must hold the
// lock. Indexed sets go through geo.Grid bounded by the activation radius;
// the walking latch only fires inside that radius, so a miss there and a
// linear-scan result beyond it lead to the same transition. Small sets stay
// on the linear scan.
func (e *Engine) nearestLocked(p geo.Point) (Candidate, float64, bool) {
	if e.index != nil {
		id, dist, ok := e.index.Nearest(p, e.activationRadius)
		if !ok {
			return Candidate{}, 0, false
		}
		return e.byID[id], dist, true
	}

	best := math.MaxFloat64
	var nearest Candidate
	found := false
	for _, c := range e.candidates {
		if d := geo.Haversine(p, c.Point); d < best {
			best = d
			nearest = c
			found = true
		}
	}
	return nearest, best, found
}

// ViewAR enters the AR session from near or re-enters it from detail.
func (e *Engine) ViewAR() (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.phase {
	case PhaseNear:
		e.active = e.nearby
	case PhaseDetail:
		// active marker already set
	default:
		return e.snapshotLocked(), ErrInvalidTransition
	}
	e.phase = PhaseViewingAR
	return e.snapshotLocked(), nil
}

// Dismiss leaves near back to walking. The latched marker is kept; the
// disengage threshold clears it once the user walks away.
func (e *Engine) Dismiss() (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseNear {
		return e.snapshotLocked(), ErrInvalidTransition
	}
	e.phase = PhaseWalking
	return e.snapshotLocked(), nil
}

// ExitAR leaves viewing-ar into detail, preserving the active marker. The
// best-effort found-it hook fires here.
func (e *Engine) ExitAR() (Snapshot, error) {
	e.mu.Lock()

	if e.phase != PhaseViewingAR {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap, ErrInvalidTransition
	}
	e.phase = PhaseDetail

	var detailHook func(c Candidate, at *geo.Point)
	var marker Candidate
	var at *geo.Point
	if e.hooks.OnDetailEntered != nil && e.active != nil {
		detailHook = e.hooks.OnDetailEntered
		marker = *e.active
		if e.lastPos != nil {
			p := *e.lastPos
			at = &p
		}
	}

	snap := e.snapshotLocked()
	e.mu.Unlock()

	if detailHook != nil {
		detailHook(marker, at)
	}
	return snap, nil
}

// Resume returns from detail to walking, clearing the active and nearby
// marker state.
func (e *Engine) Resume() (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseDetail {
		return e.snapshotLocked(), ErrInvalidTransition
	}
	e.phase = PhaseWalking
	e.active = nil
	e.nearby = nil
	e.distance = 0
	return e.snapshotLocked(), nil
}
