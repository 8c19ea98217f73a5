package tracking

import (
	"testing"

	"example/lanefinder/geometry"
	"example/lanefinder/lanefit"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fit(side lanefit.Side, a, b, c float64) lanefit.LaneFit {
	return lanefit.LaneFit{Side: side, Poly: lanefit.Polynomial{A: a, B: b, C: c}, Detected: true}
}

func lost(side lanefit.Side) lanefit.LaneFit {
	return lanefit.LaneFit{Side: side, Reason: lanefit.ErrInsufficientPixels}
}

func newState(cfg Config) *State {
	return New(cfg, geometry.NewEstimator(1280, 720))
}

func TestInitialStateHasNoHistory(t *testing.T) {
	s := newState(Config{})
	out := s.Update(lost(lanefit.Left), lost(lanefit.Right), geometry.Unknown)

	assert.Equal(t, Uninitialized, out.Left.Phase)
	assert.Equal(t, Uninitialized, out.Right.Phase)
	assert.False(t, out.Left.Available())
	assert.False(t, out.HasLane())
	assert.ErrorIs(t, out.Err(), ErrNoHistory)
	assert.False(t, out.Geometry.Known)
	assert.Equal(t, uint64(1), out.Frame)
	// Undetected sides never coast before they have tracked.
	assert.Zero(t, out.Left.Coasted)
}

func TestPhaseTransitions(t *testing.T) {
	s := newState(Config{Window: 3})
	l := fit(lanefit.Left, 0, 0, 300)
	r := fit(lanefit.Right, 0, 0, 1000)

	out := s.Update(l, lost(lanefit.Right), geometry.Unknown)
	assert.Equal(t, Tracking, out.Left.Phase)
	assert.Equal(t, Uninitialized, out.Right.Phase)
	assert.NoError(t, out.Err())

	out = s.Update(l, r, geometry.Unknown)
	assert.Equal(t, Tracking, out.Right.Phase)
	assert.True(t, out.HasLane())

	out = s.Update(lost(lanefit.Left), r, geometry.Unknown)
	assert.Equal(t, Coasting, out.Left.Phase)
	assert.Equal(t, 1, out.Left.Coasted)
	assert.InDelta(t, 300, out.Left.Fit.C, 1e-9)

	out = s.Update(lost(lanefit.Left), r, geometry.Unknown)
	assert.Equal(t, 2, out.Left.Coasted)

	out = s.Update(l, r, geometry.Unknown)
	assert.Equal(t, Tracking, out.Left.Phase)
	assert.Zero(t, out.Left.Coasted)
}

func TestNeverEmptyAfterTracking(t *testing.T) {
	s := newState(Config{Window: 4, MaxCoast: 5})
	s.Update(fit(lanefit.Left, 0, 0, 300), fit(lanefit.Right, 0, 0, 1000), geometry.Unknown)

	for i := 0; i < 200; i++ {
		out := s.Update(lost(lanefit.Left), lost(lanefit.Right), geometry.Unknown)
		require.True(t, out.Left.Available(), "frame %d", i)
		require.True(t, out.Right.Available(), "frame %d", i)
		require.True(t, out.HasLane(), "frame %d", i)
		assert.InDelta(t, 1000, out.Right.Fit.C, 1e-9)
		// Degraded only once the coast exceeds MaxCoast.
		assert.Equal(t, i+1 > 5, out.Degraded, "frame %d", i)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	s := newState(Config{Window: 3})
	for i := 0; i < 10; i++ {
		s.Update(fit(lanefit.Left, 0, 0, float64(100+i)), lost(lanefit.Right), geometry.Unknown)
	}

	got := s.History(lanefit.Left)
	want := []lanefit.Polynomial{{C: 107}, {C: 108}, {C: 109}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("History mismatch (-want +got):\n%s", diff)
	}
	out := s.Last()
	assert.Equal(t, 3, out.Left.History)
	assert.InDelta(t, 108, out.Left.Fit.C, 1e-9)
}

func TestSmoothingConvergesToRepeatedFit(t *testing.T) {
	const n = 6
	s := newState(Config{Window: n})
	s.Update(fit(lanefit.Left, 1e-3, -0.5, 200), lost(lanefit.Right), geometry.Unknown)

	target := fit(lanefit.Left, -2e-4, 0.1, 350)
	var out Renderable
	for i := 0; i < n; i++ {
		out = s.Update(target, lost(lanefit.Right), geometry.Unknown)
	}
	opt := cmpopts.EquateApprox(0, 1e-12)
	if diff := cmp.Diff(target.Poly, out.Left.Fit, opt); diff != "" {
		t.Errorf("smoothed fit did not converge (-want +got):\n%s", diff)
	}
}

func TestRightDropoutAfterTrackingStillRenders(t *testing.T) {
	s := newState(Config{Window: 5, MaxCoast: 25})
	l := fit(lanefit.Left, 0, 0, 300)
	r := fit(lanefit.Right, 0, 0, 1000)
	for i := 0; i < 10; i++ {
		s.Update(l, r, geometry.Unknown)
	}

	out := s.Update(l, lost(lanefit.Right), geometry.Unknown)
	assert.Equal(t, Coasting, out.Right.Phase)
	assert.True(t, out.HasLane())
	assert.InDelta(t, 1000, out.Right.Fit.C, 1e-9)
	assert.False(t, out.Degraded)
}

func TestGeometryPolicy(t *testing.T) {
	e := geometry.NewEstimator(1280, 720)
	s := New(Config{}, e)
	l := fit(lanefit.Left, 0, 0, 300)
	r := fit(lanefit.Right, 0, 0, 1000)

	measured := geometry.LaneGeometry{RadiusM: 1234, OffsetM: 0.5, Known: true}
	out := s.Update(l, r, measured)
	assert.Equal(t, measured, out.Geometry, "measured geometry is reported when both sides are accepted")

	// Right side lost: geometry comes from the smoothed fits instead.
	out = s.Update(l, lost(lanefit.Right), measured)
	want := e.Estimate(l, r)
	assert.InDelta(t, want.OffsetM, out.Geometry.OffsetM, 1e-12)
	assert.Equal(t, want.RadiusM, out.Geometry.RadiusM)
}

func TestGeometryCarriedWithoutEstimator(t *testing.T) {
	s := New(Config{}, nil)
	l := fit(lanefit.Left, 0, 0, 300)
	r := fit(lanefit.Right, 0, 0, 1000)
	measured := geometry.LaneGeometry{RadiusM: 900, OffsetM: -0.2, Known: true}

	s.Update(l, r, measured)
	out := s.Update(lost(lanefit.Left), lost(lanefit.Right), geometry.Unknown)
	assert.Equal(t, measured, out.Geometry)
}

func TestJumpGate(t *testing.T) {
	s := newState(Config{Window: 3, MaxCoast: 2, MaxJumpPx: 50})
	s.Update(fit(lanefit.Left, 0, 0, 300), lost(lanefit.Right), geometry.Unknown)

	// A 200px jump is rejected and the side coasts.
	out := s.Update(fit(lanefit.Left, 0, 0, 500), lost(lanefit.Right), geometry.Unknown)
	assert.Equal(t, Coasting, out.Left.Phase)
	assert.InDelta(t, 300, out.Left.Fit.C, 1e-9)

	// A small move is accepted.
	out = s.Update(fit(lanefit.Left, 0, 0, 320), lost(lanefit.Right), geometry.Unknown)
	assert.Equal(t, Tracking, out.Left.Phase)
	assert.InDelta(t, 310, out.Left.Fit.C, 1e-9)

	// Keep jumping: after MaxCoast rejected frames the new position wins.
	s.Update(fit(lanefit.Left, 0, 0, 600), lost(lanefit.Right), geometry.Unknown)
	s.Update(fit(lanefit.Left, 0, 0, 600), lost(lanefit.Right), geometry.Unknown)
	out = s.Update(fit(lanefit.Left, 0, 0, 600), lost(lanefit.Right), geometry.Unknown)
	assert.Equal(t, Tracking, out.Left.Phase)
	assert.InDelta(t, 600, out.Left.Fit.C, 1e-9)
	assert.Equal(t, 1, out.Left.History)
}

func TestReset(t *testing.T) {
	s := newState(Config{})
	s.Update(fit(lanefit.Left, 0, 0, 300), fit(lanefit.Right, 0, 0, 1000), geometry.Unknown)
	s.Reset()

	out := s.Last()
	assert.ErrorIs(t, out.Err(), ErrNoHistory)
	assert.Zero(t, s.Frames())
	assert.Empty(t, s.History(lanefit.Left))
}

func TestIndependentStates(t *testing.T) {
	a := newState(Config{})
	b := newState(Config{})
	a.Update(fit(lanefit.Left, 0, 0, 300), lost(lanefit.Right), geometry.Unknown)

	assert.True(t, a.Last().Left.Available())
	assert.False(t, b.Last().Left.Available())
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "coasting", Coasting.String())
	assert.Equal(t, "Phase(9)", Phase(9).String())
}
