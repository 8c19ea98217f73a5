package overlay

import (
	"fmt"
	"image"
	"image/color"

	"example/lanefinder/lanefit"
	"example/lanefinder/tracking"

	"gocv.io/x/gocv"
)

var (
	leftPixelColor  = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	rightPixelColor = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	rawFitColor     = color.RGBA{R: 0, G: 255, B: 255, A: 255}
	bestFitColor    = color.RGBA{R: 255, G: 255, B: 0, A: 255}
)

// BirdsEye draws a debug view in warped space: a dimmed copy of warped with
// each side's candidate pixels, this frame's raw fits in cyan and the
// smoothed fits in yellow.
func BirdsEye(warped gocv.Mat, left, right lanefit.LaneFit, st tracking.Renderable) gocv.Mat {
	img := gocv.NewMat()
	gocv.AddWeighted(warped, 0.5, warped, 0, 0, &img)
	rows := img.Rows()

	paint(&img, left.Pixels, leftPixelColor)
	paint(&img, right.Pixels, rightPixelColor)

	for _, fit := range []lanefit.LaneFit{left, right} {
		if fit.Detected {
			drawCurve(&img, fit.Poly, rows, rawFitColor, 2)
		}
	}
	for _, side := range []tracking.SideEstimate{st.Left, st.Right} {
		if side.Available() {
			drawCurve(&img, side.Fit, rows, bestFitColor, 4)
		}
	}

	label := fmt.Sprintf("L: %s  R: %s", describe(st.Left), describe(st.Right))
	gocv.PutText(&img, label, image.Pt(20, 40), gocv.FontHersheySimplex, 1, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 2)
	return img
}

func describe(s tracking.SideEstimate) string {
	if s.Phase == tracking.Coasting {
		return fmt.Sprintf("%s(%d)", s.Phase, s.Coasted)
	}
	return s.Phase.String()
}

// paint colours individual pixels of a CV_8UC3 image.
func paint(img *gocv.Mat, pts []image.Point, c color.RGBA) {
	rows, cols := img.Rows(), img.Cols()
	bgr := [3]uint8{c.B, c.G, c.R}
	for _, p := range pts {
		if p.X < 0 || p.Y < 0 || p.X >= cols || p.Y >= rows {
			continue
		}
		for ch := 0; ch < 3; ch++ {
			img.SetUCharAt(p.Y, p.X*3+ch, bgr[ch])
		}
	}
}

func drawCurve(img *gocv.Mat, p lanefit.Polynomial, rows int, c color.RGBA, thickness int) {
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{Boundary(p, 0, rows-1)})
	defer pv.Close()
	gocv.Polylines(img, pv, false, c, thickness)
}
