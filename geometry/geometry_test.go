package geometry

import (
	"errors"
	"math"
	"testing"

	"example/lanefinder/lanefit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detected(side lanefit.Side, p lanefit.Polynomial) lanefit.LaneFit {
	return lanefit.LaneFit{Side: side, Poly: p, Detected: true}
}

func missing(side lanefit.Side) lanefit.LaneFit {
	return lanefit.LaneFit{Side: side, Reason: lanefit.ErrInsufficientPixels}
}

// arc returns a pixel-space polynomial whose radius at row y0 is radiusM
// metres and whose slope there is zero. A positive radius curves left.
func arc(e *Estimator, radiusM, y0, c float64) lanefit.Polynomial {
	// In metres x = A*y^2 with curvature -2A = 1/R at the vertex.
	aM := -1 / (2 * radiusM)
	a := aM * e.YMPerPix * e.YMPerPix / e.XMPerPix
	return lanefit.Polynomial{A: a, B: -2 * a * y0, C: c + a*y0*y0}
}

func TestStraightLanes(t *testing.T) {
	e := NewEstimator(1280, 720)
	g := e.Estimate(
		detected(lanefit.Left, lanefit.Polynomial{C: 300}),
		detected(lanefit.Right, lanefit.Polynomial{C: 1000}),
	)

	require.True(t, g.Known)
	assert.Equal(t, float64(DefaultStraightRadiusM), g.RadiusM)
	// (1280/2 - 650) px * 3.7/700 m/px
	assert.InDelta(t, -10*DefaultXMPerPix, g.OffsetM, 1e-12)
	assert.InDelta(t, 0, g.OffsetM, 0.06)
}

func TestNearlyStraightIsCapped(t *testing.T) {
	e := NewEstimator(1280, 720)
	r := e.RadiusAt(lanefit.Polynomial{A: 1e-9, C: 300}, 719)
	assert.Equal(t, float64(DefaultStraightRadiusM), r)
}

func TestCurvatureSign(t *testing.T) {
	e := NewEstimator(1280, 720)
	left := arc(e, 500, 719, 300)
	right := arc(e, -500, 719, 300)

	rl := e.RadiusAt(left, 719)
	rr := e.RadiusAt(right, 719)
	assert.InDelta(t, 500, rl, 1e-6)
	assert.InDelta(t, -500, rr, 1e-6)

	// A left curve bends towards smaller x further up the image.
	assert.Less(t, left.Eval(0), left.Eval(719))
	assert.Greater(t, right.Eval(0), right.Eval(719))
}

func TestAveragesCurvatureOfBothSides(t *testing.T) {
	e := NewEstimator(1280, 720)
	g := e.Estimate(
		detected(lanefit.Left, arc(e, 400, 719, 300)),
		detected(lanefit.Right, arc(e, 600, 719, 1000)),
	)
	require.True(t, g.Known)
	// Mean curvature (1/400 + 1/600)/2 = 1/480.
	assert.InDelta(t, 480, g.RadiusM, 1e-6)
}

func TestSingleSide(t *testing.T) {
	e := NewEstimator(1280, 720)
	laneWidthPx := DefaultLaneWidthM / DefaultXMPerPix // 700

	g := e.Estimate(detected(lanefit.Left, arc(e, 800, 719, 290)), missing(lanefit.Right))
	require.True(t, g.Known)
	assert.InDelta(t, 800, g.RadiusM, 1e-6)
	assert.InDelta(t, (640-(290+laneWidthPx/2))*DefaultXMPerPix, g.OffsetM, 1e-9)

	g = e.Estimate(missing(lanefit.Left), detected(lanefit.Right, lanefit.Polynomial{C: 1000}))
	require.True(t, g.Known)
	assert.InDelta(t, (640-(1000-laneWidthPx/2))*DefaultXMPerPix, g.OffsetM, 1e-9)
}

func TestNeitherSideIsUnknown(t *testing.T) {
	e := NewEstimator(1280, 720)
	g := e.Estimate(missing(lanefit.Left), missing(lanefit.Right))
	assert.Equal(t, Unknown, g)
	assert.False(t, g.Known)
	assert.Equal(t, "unknown", g.String())
}

func TestEstimateAtRow(t *testing.T) {
	e := NewEstimator(1280, 720)
	// Lines converge towards the top: centre at row 0 is 640, offset 0.
	l := detected(lanefit.Left, lanefit.Polynomial{B: -0.1, C: 340})
	r := detected(lanefit.Right, lanefit.Polynomial{B: 0.1, C: 940})
	g := e.EstimateAt(l, r, 0)
	assert.InDelta(t, 0, g.OffsetM, 1e-12)
}

func TestCheckPlausible(t *testing.T) {
	e := NewEstimator(1280, 720)

	assert.NoError(t, e.CheckPlausible(lanefit.Polynomial{C: 300}))
	assert.NoError(t, e.CheckPlausible(arc(e, 150, 719, 300)))

	err := e.CheckPlausible(arc(e, 2, 719, 300))
	assert.True(t, errors.Is(err, ErrImplausible), "got %v", err)

	err = e.CheckPlausible(lanefit.Polynomial{A: math.NaN()})
	assert.ErrorIs(t, err, ErrImplausible)
}
