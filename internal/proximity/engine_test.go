package proximity

import (
	"fmt"
	"sync"
	"testing"

	"github.com/lamemoria/baldosas/internal/geo"
)

var plaza = geo.Point{Lat: -34.6037, Lng: -58.3816}

// pointNorth returns a point the given number of meters north of base.
func pointNorth(base geo.Point, meters float64) geo.Point {
	const metersPerDegreeLat = 111194.9
	return geo.Point{Lat: base.Lat + meters/metersPerDegreeLat, Lng: base.Lng}
}

func startedEngine(t *testing.T, candidates []Candidate, opts ...Option) *Engine {
	t.Helper()
	e := NewEngine(candidates, opts...)
	if _, err := e.PermissionGranted(); err != nil {
		t.Fatalf("PermissionGranted: %v", err)
	}
	return e
}

func TestApproachLatchesNearestMarker(t *testing.T) {
	e := startedEngine(t, []Candidate{
		{ID: "m1", Code: "BALD-0001", Point: plaza},
	})

	snap := e.UpdatePosition(pointNorth(plaza, 25))
	if snap.Phase != PhaseWalking {
		t.Fatalf("at 25m phase = %q, want walking", snap.Phase)
	}
	if snap.NearbyMarker != nil {
		t.Fatalf("at 25m nearby = %v, want nil", snap.NearbyMarker)
	}

	snap = e.UpdatePosition(pointNorth(plaza, 15))
	if snap.Phase != PhaseNear {
		t.Fatalf("at 15m phase = %q, want near", snap.Phase)
	}
	if snap.NearbyMarker == nil || snap.NearbyMarker.ID != "m1" {
		t.Fatalf("at 15m nearby = %v, want m1", snap.NearbyMarker)
	}

	snap = e.UpdatePosition(pointNorth(plaza, 5))
	if snap.Phase != PhaseNear {
		t.Fatalf("at 5m phase = %q, want near", snap.Phase)
	}
	if snap.DistanceMeters > 6 {
		t.Fatalf("at 5m distance = %.1f, want refreshed below 6", snap.DistanceMeters)
	}
}

func TestNearestCandidateWins(t *testing.T) {
	far := pointNorth(plaza, 18)
	e := startedEngine(t, []Candidate{
		{ID: "far", Code: "BALD-0002", Point: far},
		{ID: "close", Code: "BALD-0001", Point: plaza},
	})

	snap := e.UpdatePosition(pointNorth(plaza, 4))
	if snap.Phase != PhaseNear {
		t.Fatalf("phase = %q, want near", snap.Phase)
	}
	if snap.NearbyMarker.ID != "close" {
		t.Fatalf("latched %q, want close", snap.NearbyMarker.ID)
	}
}

func TestPositionUpdatesIgnoredAfterNear(t *testing.T) {
	e := startedEngine(t, []Candidate{
		{ID: "m1", Code: "BALD-0001", Point: plaza},
	})
	e.UpdatePosition(pointNorth(plaza, 10))
	if _, err := e.ViewAR(); err != nil {
		t.Fatalf("ViewAR: %v", err)
	}

	// A flood of far-away samples must not move the session.
	for i := 0; i < 50; i++ {
		snap := e.UpdatePosition(pointNorth(plaza, 500))
		if snap.Phase != PhaseViewingAR {
			t.Fatalf("update %d moved phase to %q", i, snap.Phase)
		}
	}

	if _, err := e.ExitAR(); err != nil {
		t.Fatalf("ExitAR: %v", err)
	}
	for i := 0; i < 50; i++ {
		snap := e.UpdatePosition(pointNorth(plaza, 500))
		if snap.Phase != PhaseDetail {
			t.Fatalf("update %d moved detail phase to %q", i, snap.Phase)
		}
		if snap.ActiveMarker == nil || snap.ActiveMarker.ID != "m1" {
			t.Fatalf("update %d lost active marker", i)
		}
	}
}

func TestDismissKeepsLatchUntilDisengage(t *testing.T) {
	e := startedEngine(t, []Candidate{
		{ID: "m1", Code: "BALD-0001", Point: plaza},
	})
	e.UpdatePosition(pointNorth(plaza, 10))
	if _, err := e.Dismiss(); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}

	// 500m is well past the disengage threshold, so the latch clears and
	// the phase stays walking.
	snap := e.UpdatePosition(pointNorth(plaza, 500))
	if snap.Phase != PhaseWalking {
		t.Fatalf("phase = %q, want walking", snap.Phase)
	}
	if snap.NearbyMarker != nil {
		t.Fatalf("nearby = %v, want cleared past disengage distance", snap.NearbyMarker)
	}
}

func TestDismissRetainsLatchInsideDisengage(t *testing.T) {
	e := startedEngine(t, []Candidate{
		{ID: "m1", Code: "BALD-0001", Point: plaza},
	})
	e.UpdatePosition(pointNorth(plaza, 10))
	if _, err := e.Dismiss(); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}

	snap := e.UpdatePosition(pointNorth(plaza, 30))
	if snap.Phase != PhaseWalking {
		t.Fatalf("phase = %q, want walking", snap.Phase)
	}
	if snap.NearbyMarker == nil || snap.NearbyMarker.ID != "m1" {
		t.Fatalf("latch dropped inside disengage distance: %+v", snap)
	}

	// Stepping back inside the activation radius re-enters near.
	snap = e.UpdatePosition(pointNorth(plaza, 12))
	if snap.Phase != PhaseNear {
		t.Fatalf("phase = %q, want near after re-approach", snap.Phase)
	}
}

func TestResumeClearsSession(t *testing.T) {
	e := startedEngine(t, []Candidate{
		{ID: "m1", Code: "BALD-0001", Point: plaza},
	})
	e.UpdatePosition(pointNorth(plaza, 10))
	mustTransition(t, e.ViewAR)
	mustTransition(t, e.ExitAR)

	snap, err := e.Resume()
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if snap.Phase != PhaseWalking {
		t.Fatalf("phase = %q, want walking", snap.Phase)
	}
	if snap.ActiveMarker != nil || snap.NearbyMarker != nil {
		t.Fatalf("markers not cleared: %+v", snap)
	}
}

func TestDetailReentersAR(t *testing.T) {
	e := startedEngine(t, []Candidate{
		{ID: "m1", Code: "BALD-0001", Point: plaza},
	})
	e.UpdatePosition(pointNorth(plaza, 10))
	mustTransition(t, e.ViewAR)
	mustTransition(t, e.ExitAR)

	snap, err := e.ViewAR()
	if err != nil {
		t.Fatalf("ViewAR from detail: %v", err)
	}
	if snap.Phase != PhaseViewingAR {
		t.Fatalf("phase = %q, want viewing-ar", snap.Phase)
	}
	if snap.ActiveMarker == nil || snap.ActiveMarker.ID != "m1" {
		t.Fatalf("active marker lost on re-entry: %+v", snap)
	}
}

func TestErrorAndRetry(t *testing.T) {
	e := NewEngine(nil)

	snap, err := e.Fail(ReasonDenied)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if snap.Phase != PhaseError || snap.ErrorReason != ReasonDenied {
		t.Fatalf("snapshot = %+v, want error/denied", snap)
	}

	// Position samples cannot escape the error phase.
	if got := e.UpdatePosition(plaza).Phase; got != PhaseError {
		t.Fatalf("phase after update = %q, want error", got)
	}

	snap, err = e.Retry()
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if snap.Phase != PhaseInitializing || snap.ErrorReason != "" {
		t.Fatalf("snapshot after retry = %+v", snap)
	}
	if _, err := e.PermissionGranted(); err != nil {
		t.Fatalf("PermissionGranted after retry: %v", err)
	}
}

func TestInvalidTransitions(t *testing.T) {
	e := NewEngine(nil)

	tests := []struct {
		name string
		do   func() (Snapshot, error)
	}{
		{"view before walking", e.ViewAR},
		{"dismiss before near", e.Dismiss},
		{"exit before viewing", e.ExitAR},
		{"resume before detail", e.Resume},
		{"retry outside error", e.Retry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.do(); err != ErrInvalidTransition {
				t.Fatalf("err = %v, want ErrInvalidTransition", err)
			}
		})
	}

	if _, err := e.PermissionGranted(); err != nil {
		t.Fatalf("PermissionGranted: %v", err)
	}
	if _, err := e.PermissionGranted(); err != ErrInvalidTransition {
		t.Fatalf("second PermissionGranted err = %v, want ErrInvalidTransition", err)
	}
}

func TestAudioCueFiresOnNear(t *testing.T) {
	var mu sync.Mutex
	var cues []string
	e := startedEngine(t, []Candidate{
		{ID: "m1", Code: "BALD-0001", Point: plaza, AudioRef: "audio/m1.mp3"},
	}, WithHooks(Hooks{
		OnAudioCue: func(c Candidate) {
			mu.Lock()
			cues = append(cues, c.ID)
			mu.Unlock()
		},
	}))

	e.UpdatePosition(pointNorth(plaza, 10))
	e.UpdatePosition(pointNorth(plaza, 8))

	mu.Lock()
	defer mu.Unlock()
	if len(cues) != 1 || cues[0] != "m1" {
		t.Fatalf("cues = %v, want one cue for m1", cues)
	}
}

func TestDetailHookReceivesLastPosition(t *testing.T) {
	var got *geo.Point
	var gotID string
	e := startedEngine(t, []Candidate{
		{ID: "m1", Code: "BALD-0001", Point: plaza},
	}, WithHooks(Hooks{
		OnDetailEntered: func(c Candidate, at *geo.Point) {
			gotID = c.ID
			got = at
		},
	}))

	last := pointNorth(plaza, 7)
	e.UpdatePosition(last)
	mustTransition(t, e.ViewAR)
	mustTransition(t, e.ExitAR)

	if gotID != "m1" {
		t.Fatalf("hook marker = %q, want m1", gotID)
	}
	if got == nil || got.Lat != last.Lat || got.Lng != last.Lng {
		t.Fatalf("hook position = %v, want %v", got, last)
	}
}

func TestConcurrentUpdatesKeepConsistentState(t *testing.T) {
	e := startedEngine(t, []Candidate{
		{ID: "m1", Code: "BALD-0001", Point: plaza},
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		dist := float64(i * 3)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				e.UpdatePosition(pointNorth(plaza, dist))
			}
		}()
	}
	wg.Wait()

	snap := e.Snapshot()
	if snap.Phase != PhaseWalking && snap.Phase != PhaseNear {
		t.Fatalf("phase = %q, want walking or near", snap.Phase)
	}
	if snap.Phase == PhaseNear && snap.NearbyMarker == nil {
		t.Fatal("near phase without latched marker")
	}
}

func TestLargeCandidateSetLatchesThroughIndex(t *testing.T) {
	candidates := make([]Candidate, 0, 120)
	for i := 0; i < 120; i++ {
		candidates = append(candidates, Candidate{
			ID:    fmt.Sprintf("m%d", i),
			Code:  fmt.Sprintf("BALD-%04d", i),
			Point: pointNorth(plaza, float64(i)*100),
		})
	}
	e := startedEngine(t, candidates)
	if e.index == nil {
		t.Fatal("expected a grid index for a large candidate set")
	}

	// Just outside every marker's activation radius: no latch.
	snap := e.UpdatePosition(pointNorth(plaza, 50))
	if snap.Phase != PhaseWalking {
		t.Fatalf("at 50m phase = %q, want walking", snap.Phase)
	}

	// 15m from marker m3, far from every other one.
	snap = e.UpdatePosition(pointNorth(plaza, 315))
	if snap.Phase != PhaseNear {
		t.Fatalf("phase = %q, want near", snap.Phase)
	}
	if snap.NearbyMarker == nil || snap.NearbyMarker.ID != "m3" {
		t.Fatalf("nearby = %v, want m3", snap.NearbyMarker)
	}
	if snap.DistanceMeters > 16 {
		t.Fatalf("distance = %.1f, want about 15", snap.DistanceMeters)
	}
}

func TestSetCandidatesRebuildsIndex(t *testing.T) {
	e := startedEngine(t, []Candidate{{ID: "m1", Code: "BALD-0001", Point: plaza}})
	if e.index != nil {
		t.Fatal("small candidate set should use the linear scan")
	}

	candidates := make([]Candidate, 0, 80)
	for i := 0; i < 80; i++ {
		candidates = append(candidates, Candidate{
			ID:    fmt.Sprintf("m%d", i),
			Point: pointNorth(plaza, float64(i)*200),
		})
	}
	e.SetCandidates(candidates)
	if e.index == nil {
		t.Fatal("expected the index after growing the candidate set")
	}

	snap := e.UpdatePosition(pointNorth(plaza, 410))
	if snap.Phase != PhaseNear || snap.NearbyMarker == nil || snap.NearbyMarker.ID != "m2" {
		t.Fatalf("snap = %+v, want near m2", snap)
	}

	e.SetCandidates(nil)
	if e.index != nil {
		t.Fatal("expected the index cleared after shrinking the candidate set")
	}
}

func mustTransition(t *testing.T, f func() (Snapshot, error)) {
	t.Helper()
	if _, err := f(); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
}
