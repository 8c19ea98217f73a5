package lanefit

import (
	"errors"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Polynomial represents the coefficients of a lane line x = A*y^2 + B*y + C,
// with y the image row and x the image column.
type Polynomial struct {
	A, B, C float64
}

var errSingular = errors.New("failed to fit curve (singular system)")

// FitQuadratic fits x = A*y^2 + B*y + C to the pixels by least squares.
// At least three distinct rows are required for the system to have a unique
// solution.
func FitQuadratic(pixels []image.Point) (Polynomial, error) {
	n := len(pixels)
	if n < 3 {
		return Polynomial{}, ErrInsufficientPixels
	}
	if distinctRows(pixels, 3) < 3 {
		return Polynomial{}, errSingular
	}

	// Vandermonde system |y^2 y 1| * |A B C|^T = x, solved by QR.
	v := mat.NewDense(n, 3, nil)
	x := mat.NewVecDense(n, nil)
	for i, p := range pixels {
		y := float64(p.Y)
		v.Set(i, 0, y*y)
		v.Set(i, 1, y)
		v.Set(i, 2, 1)
		x.SetVec(i, float64(p.X))
	}

	var qr mat.QR
	qr.Factorize(v)

	var coef mat.VecDense
	if err := qr.SolveVecTo(&coef, false, x); err != nil {
		return Polynomial{}, errSingular
	}

	poly := Polynomial{A: coef.AtVec(0), B: coef.AtVec(1), C: coef.AtVec(2)}
	if !poly.Finite() {
		return Polynomial{}, errSingular
	}
	return poly, nil
}

// distinctRows counts distinct y values, stopping once limit is reached.
func distinctRows(pixels []image.Point, limit int) int {
	seen := make(map[int]struct{}, limit)
	for _, p := range pixels {
		seen[p.Y] = struct{}{}
		if len(seen) >= limit {
			break
		}
	}
	return len(seen)
}

// Eval evaluates the polynomial at row y.
func (p Polynomial) Eval(y float64) float64 {
	return p.A*y*y + p.B*y + p.C
}

// Slope evaluates the first derivative dx/dy at row y.
func (p Polynomial) Slope(y float64) float64 {
	return 2*p.A*y + p.B
}

// Curvature returns the second derivative d2x/dy2.
func (p Polynomial) Curvature() float64 {
	return 2 * p.A
}

// Finite reports whether every coefficient is a finite number.
func (p Polynomial) Finite() bool {
	for _, c := range [3]float64{p.A, p.B, p.C} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Scale returns the polynomial of the same curve measured in other units,
// where a column is sx units wide and a row is sy units tall.
func (p Polynomial) Scale(sx, sy float64) Polynomial {
	return Polynomial{
		A: p.A * sx / (sy * sy),
		B: p.B * sx / sy,
		C: p.C * sx,
	}
}

// Add returns the coefficient-wise sum of p and q.
func (p Polynomial) Add(q Polynomial) Polynomial {
	return Polynomial{A: p.A + q.A, B: p.B + q.B, C: p.C + q.C}
}

// Mul returns p with every coefficient multiplied by k.
func (p Polynomial) Mul(k float64) Polynomial {
	return Polynomial{A: p.A * k, B: p.B * k, C: p.C * k}
}
