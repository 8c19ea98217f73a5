// Package geometry converts lane fits in warped pixel space into real-world
// measurements: the radius of curvature of the lane and the lateral offset of
// the vehicle from the lane centre.
//
// Sign conventions: a positive radius is a lane curving left, a negative one
// a lane curving right. A positive offset means the vehicle sits right of the
// lane centre.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"example/lanefinder/lanefit"
)

// Scale factors for a US highway seen through the default bird's-eye warp:
// a 3.7 m lane spans about 700 columns and 30 m of road about 720 rows.
const (
	DefaultXMPerPix        = 3.7 / 700
	DefaultYMPerPix        = 30.0 / 720
	DefaultLaneWidthM      = 3.7
	DefaultStraightRadiusM = 10000
	DefaultMinRadiusM      = 10
)

// ErrImplausible marks a fit no real road could produce.
var ErrImplausible = errors.New("implausible lane geometry")

// LaneGeometry is the measurement for one frame.
type LaneGeometry struct {
	RadiusM float64
	OffsetM float64
	Known   bool
}

// Unknown is reported when no lane line is available.
var Unknown = LaneGeometry{}

func (g LaneGeometry) String() string {
	if !g.Known {
		return "unknown"
	}
	return fmt.Sprintf("radius=%.1fm offset=%.3fm", g.RadiusM, g.OffsetM)
}

// Estimator computes LaneGeometry for a fixed camera setup.
type Estimator struct {
	XMPerPix   float64 // metres per column in the warped image
	YMPerPix   float64 // metres per row in the warped image
	EvalRow    float64 // row at which curvature and offset are measured
	ImageWidth int

	// LaneWidthM is used to infer the missing line when only one is known.
	LaneWidthM float64
	// StraightRadiusM caps the reported radius; larger means straight.
	StraightRadiusM float64
	// MinRadiusM is the tightest radius CheckPlausible accepts.
	MinRadiusM float64
}

// NewEstimator returns an Estimator for a width x height warped image using
// the default scale factors, measuring at the bottom row.
func NewEstimator(width, height int) *Estimator {
	return &Estimator{
		XMPerPix:        DefaultXMPerPix,
		YMPerPix:        DefaultYMPerPix,
		EvalRow:         float64(height - 1),
		ImageWidth:      width,
		LaneWidthM:      DefaultLaneWidthM,
		StraightRadiusM: DefaultStraightRadiusM,
		MinRadiusM:      DefaultMinRadiusM,
	}
}

// Estimate measures both lines at the configured evaluation row.
func (e *Estimator) Estimate(left, right lanefit.LaneFit) LaneGeometry {
	return e.EstimateAt(left, right, e.EvalRow)
}

// EstimateAt measures both lines at row. Only detected sides contribute;
// with neither detected the result is Unknown.
func (e *Estimator) EstimateAt(left, right lanefit.LaneFit, row float64) LaneGeometry {
	var curvature float64
	var n int
	for _, f := range []lanefit.LaneFit{left, right} {
		if f.Detected {
			curvature += e.curvatureAt(f.Poly, row)
			n++
		}
	}
	if n == 0 {
		return Unknown
	}

	laneWidthPx := e.LaneWidthM / e.XMPerPix
	var xl, xr float64
	switch {
	case left.Detected && right.Detected:
		xl, xr = left.Poly.Eval(row), right.Poly.Eval(row)
	case left.Detected:
		xl = left.Poly.Eval(row)
		xr = xl + laneWidthPx
	default:
		xr = right.Poly.Eval(row)
		xl = xr - laneWidthPx
	}
	center := float64(e.ImageWidth) / 2

	return LaneGeometry{
		RadiusM: e.radius(curvature / float64(n)),
		OffsetM: (center - (xl+xr)/2) * e.XMPerPix,
		Known:   true,
	}
}

// RadiusAt returns the signed radius of curvature of p at row, in metres.
func (e *Estimator) RadiusAt(p lanefit.Polynomial, row float64) float64 {
	return e.radius(e.curvatureAt(p, row))
}

// CheckPlausible rejects fits with non-finite coefficients or a radius
// tighter than MinRadiusM. It is meant as a lanefit.Fitter Check hook.
func (e *Estimator) CheckPlausible(p lanefit.Polynomial) error {
	if !p.Finite() {
		return fmt.Errorf("%w: non-finite coefficients %+v", ErrImplausible, p)
	}
	if r := e.RadiusAt(p, e.EvalRow); math.Abs(r) < e.MinRadiusM {
		return fmt.Errorf("%w: radius %.2fm below %.2fm", ErrImplausible, r, e.MinRadiusM)
	}
	return nil
}

// curvatureAt returns the signed curvature in 1/m, positive for left curves.
func (e *Estimator) curvatureAt(p lanefit.Polynomial, row float64) float64 {
	m := p.Scale(e.XMPerPix, e.YMPerPix)
	slope := m.Slope(row * e.YMPerPix)
	return -m.Curvature() / math.Pow(1+slope*slope, 1.5)
}

func (e *Estimator) radius(curvature float64) float64 {
	limit := e.StraightRadiusM
	if limit <= 0 {
		limit = DefaultStraightRadiusM
	}
	if curvature == 0 || math.Abs(1/curvature) > limit {
		return limit
	}
	return 1 / curvature
}
