// Package overlay draws the tracked lane onto the undistorted camera frame.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"example/lanefinder/lanefit"
	"example/lanefinder/tracking"

	"gocv.io/x/gocv"
)

// DefaultStartRow is the first warped row of the drawn lane area. Rows above
// it are far enough ahead that the fits are unreliable.
const DefaultStartRow = 360

// Renderer composites the lane area and measurements onto frames.
type Renderer struct {
	Alpha         float64 // opacity of the lane layer
	StartRow      int
	LaneColor     color.RGBA
	DegradedColor color.RGBA
	LineColor     color.RGBA
	LineThickness int
	TextColor     color.RGBA
	TextScale     float64
}

// NewRenderer returns a Renderer with the default style.
func NewRenderer() *Renderer {
	return &Renderer{
		Alpha:         0.3,
		StartRow:      DefaultStartRow,
		LaneColor:     color.RGBA{R: 0, G: 255, B: 0, A: 255},
		DegradedColor: color.RGBA{R: 255, G: 191, B: 0, A: 255},
		LineColor:     color.RGBA{R: 255, G: 0, B: 0, A: 255},
		LineThickness: 8,
		TextColor:     color.RGBA{R: 255, G: 255, B: 255, A: 255},
		TextScale:     1.2,
	}
}

// Render returns a new image: undistorted with the lane of st projected back
// through inverse and blended on top, plus curvature and offset text. The
// input is not modified. While st has no lane history the result is an
// unmodified copy of undistorted.
func (r *Renderer) Render(undistorted gocv.Mat, st tracking.Renderable, inverse gocv.Mat) (gocv.Mat, error) {
	if undistorted.Empty() {
		return gocv.NewMat(), fmt.Errorf("undistorted image is empty")
	}
	if st.Err() != nil {
		return undistorted.Clone(), nil
	}

	rows, cols := undistorted.Rows(), undistorted.Cols()
	layer := r.drawLayer(st, rows, cols, undistorted.Type())
	defer layer.Close()

	unwarped := gocv.NewMat()
	defer unwarped.Close()
	gocv.WarpPerspective(layer, &unwarped, inverse, image.Pt(cols, rows))

	out := gocv.NewMat()
	gocv.AddWeighted(undistorted, 1, unwarped, r.Alpha, 0, &out)

	r.drawText(&out, st)
	return out, nil
}

// drawLayer paints the lane area and boundaries in warped space.
func (r *Renderer) drawLayer(st tracking.Renderable, rows, cols int, mt gocv.MatType) gocv.Mat {
	layer := gocv.NewMatWithSize(rows, cols, mt)
	layer.SetTo(gocv.NewScalar(0, 0, 0, 0))

	start := r.startRow(rows)
	if poly := Polygon(st, start, rows-1); len(poly) > 0 {
		fill := r.LaneColor
		if st.Degraded {
			fill = r.DegradedColor
		}
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{poly})
		gocv.FillPoly(&layer, pv, fill)
		pv.Close()
	}

	for _, side := range []tracking.SideEstimate{st.Left, st.Right} {
		if !side.Available() {
			continue
		}
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{Boundary(side.Fit, start, rows-1)})
		gocv.Polylines(&layer, pv, false, r.LineColor, r.LineThickness)
		pv.Close()
	}
	return layer
}

func (r *Renderer) drawText(img *gocv.Mat, st tracking.Renderable) {
	curvature, position := "curvature: unknown", "vehicle position: unknown"
	if g := st.Geometry; g.Known {
		curvature = fmt.Sprintf("curvature: %.1f m", g.RadiusM)
		position = fmt.Sprintf("vehicle position: %.4f m", g.OffsetM)
	}
	gocv.PutText(img, curvature, image.Pt(100, 200), gocv.FontHersheySimplex, r.TextScale, r.TextColor, 2)
	gocv.PutText(img, position, image.Pt(100, 250), gocv.FontHersheySimplex, r.TextScale, r.TextColor, 2)

	if st.Degraded {
		coasted := max(st.Left.Coasted, st.Right.Coasted)
		gocv.PutText(img, fmt.Sprintf("coasting: %d frames", coasted), image.Pt(100, 300),
			gocv.FontHersheySimplex, r.TextScale, r.DegradedColor, 2)
	}
}

func (r *Renderer) startRow(rows int) int {
	switch {
	case r.StartRow < 0:
		return 0
	case r.StartRow > rows-1:
		return rows - 1
	default:
		return r.StartRow
	}
}

// Boundary samples p on every row from start to end inclusive.
func Boundary(p lanefit.Polynomial, start, end int) []image.Point {
	if end < start {
		return nil
	}
	pts := make([]image.Point, 0, end-start+1)
	for y := start; y <= end; y++ {
		pts = append(pts, image.Point{X: int(p.Eval(float64(y)) + 0.5), Y: y})
	}
	return pts
}

// Polygon returns the closed outline of the lane area between rows start and
// end: down the left boundary and back up the right one. It is empty unless
// both boundaries are available.
func Polygon(st tracking.Renderable, start, end int) []image.Point {
	if !st.HasLane() {
		return nil
	}
	left := Boundary(st.Left.Fit, start, end)
	right := Boundary(st.Right.Fit, start, end)
	poly := make([]image.Point, 0, len(left)+len(right))
	poly = append(poly, left...)
	for i := len(right) - 1; i >= 0; i-- {
		poly = append(poly, right[i])
	}
	return poly
}
