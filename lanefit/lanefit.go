// Package lanefit fits a quadratic x = f(y) to each lane line from the
// candidate pixels found in the bird's-eye image.
//
// Coefficients stay in the warped image's pixel coordinates; conversion to
// real-world units belongs to the geometry package.
package lanefit

import (
	"errors"
	"fmt"
	"image"
)

// Per-side, per-frame failures. Both are recoverable: the tracker keeps
// using its history for the side.
var (
	ErrInsufficientPixels = errors.New("not enough candidate pixels to fit lane line")
	ErrDegenerateFit      = errors.New("degenerate lane fit")
)

// DefaultMinPixels is the stability threshold used when none is configured.
// Three points determine a quadratic, but far more are needed for a fit that
// does not chase noise.
const DefaultMinPixels = 50

// Side identifies a lane line.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// LaneFit is the fit of one lane line in one frame.
type LaneFit struct {
	Side     Side
	Poly     Polynomial
	Detected bool
	Pixels   []image.Point
	// RMSE is the root mean square horizontal residual in pixels.
	RMSE float64
	// Reason says why the side was not detected. Nil when Detected.
	Reason error
}

// Fitter fits both lane lines of a frame.
type Fitter struct {
	// MinPixels is the minimum candidate count for a side to be detected.
	MinPixels int
	// MaxRMSE rejects fits whose residual exceeds it. Zero disables the check.
	MaxRMSE float64
	// Check optionally rejects implausible fits, e.g. impossibly tight curves.
	Check func(Polynomial) error
}

// NewFitter creates a Fitter. minPixels below 3 is raised to 3.
func NewFitter(minPixels int) *Fitter {
	if minPixels < 3 {
		minPixels = 3
	}
	return &Fitter{MinPixels: minPixels}
}

// Fit fits the left and right candidate pixel sets independently.
func (f *Fitter) Fit(left, right []image.Point) (LaneFit, LaneFit) {
	return f.FitSide(Left, left), f.FitSide(Right, right)
}

// FitSide fits a single lane line. A side that cannot be fitted is returned
// with Detected false, zero coefficients and the reason set.
func (f *Fitter) FitSide(side Side, pixels []image.Point) LaneFit {
	out := LaneFit{Side: side, Pixels: pixels}

	minPixels := f.MinPixels
	if minPixels < 3 {
		minPixels = 3
	}
	if len(pixels) < minPixels {
		out.Reason = fmt.Errorf("%s: %w (%d < %d)", side, ErrInsufficientPixels, len(pixels), minPixels)
		return out
	}

	poly, err := FitQuadratic(pixels)
	if err != nil {
		out.Reason = fmt.Errorf("%s: %w: %v", side, ErrDegenerateFit, err)
		return out
	}

	rmse := residual(pixels, poly)
	if f.MaxRMSE > 0 && rmse > f.MaxRMSE {
		out.Reason = fmt.Errorf("%s: %w: residual %.1fpx exceeds %.1fpx", side, ErrDegenerateFit, rmse, f.MaxRMSE)
		return out
	}
	if f.Check != nil {
		if err := f.Check(poly); err != nil {
			out.Reason = fmt.Errorf("%s: %w: %v", side, ErrDegenerateFit, err)
			return out
		}
	}

	out.Poly = poly
	out.RMSE = rmse
	out.Detected = true
	return out
}
