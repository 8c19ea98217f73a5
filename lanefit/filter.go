package lanefit

import (
	"image"
	"math"
)

// residual calculates the root mean square horizontal distance between the
// pixels and the fitted curve.
func residual(pixels []image.Point, p Polynomial) float64 {
	if len(pixels) == 0 {
		return 0
	}
	var sum float64
	for _, px := range pixels {
		d := float64(px.X) - p.Eval(float64(px.Y))
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(pixels)))
}

// WithinMargin returns the pixels lying at most margin columns from the curve.
// It is used to re-select candidates around a previous fit.
func WithinMargin(pixels []image.Point, p Polynomial, margin float64) []image.Point {
	var kept []image.Point
	for _, px := range pixels {
		if math.Abs(float64(px.X)-p.Eval(float64(px.Y))) <= margin {
			kept = append(kept, px)
		}
	}
	return kept
}
