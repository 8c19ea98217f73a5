// Package segment finds candidate lane pixels in a bird's-eye frame with a
// colour threshold. It is a simple default; callers with a better detector
// plug theirs into the pipeline instead.
package segment

import (
	"fmt"
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"
)

const (
	DefaultSThreshold = 170
	DefaultLThreshold = 220
	DefaultMargin     = 100
	DefaultTrimFactor = 0.1
)

// Threshold keeps saturated (yellow paint) or bright (white paint) pixels and
// assigns them to the left or right line by their distance from each line's
// base column.
type Threshold struct {
	SThreshold uint8 // minimum HLS saturation, 0 disables
	LThreshold uint8 // minimum HLS lightness, 0 disables
	Margin     int   // max distance in columns from a line base
	TrimFactor float64
}

// New returns a Threshold with the default settings.
func New() *Threshold {
	return &Threshold{
		SThreshold: DefaultSThreshold,
		LThreshold: DefaultLThreshold,
		Margin:     DefaultMargin,
		TrimFactor: DefaultTrimFactor,
	}
}

// Segment returns the left and right candidate pixels of a BGR warped frame.
func (t *Threshold) Segment(warped gocv.Mat) (left, right []image.Point, err error) {
	if warped.Empty() {
		return nil, nil, fmt.Errorf("warped frame is empty")
	}
	if warped.Channels() != 3 {
		return nil, nil, fmt.Errorf("expected 3 channels, got %d", warped.Channels())
	}

	hls := gocv.NewMat()
	defer hls.Close()
	gocv.CvtColor(warped, &hls, gocv.ColorBGRToHLS)

	pts := t.Candidates(hls.ToBytes(), hls.Cols(), hls.Rows())
	left, right = t.Split(pts, warped.Cols(), warped.Rows())
	return left, right, nil
}

// Candidates returns the pixels of an interleaved 8-bit HLS image that pass
// either threshold.
func (t *Threshold) Candidates(hls []byte, width, height int) []image.Point {
	var pts []image.Point
	for y := 0; y < height; y++ {
		row := hls[y*width*3 : (y+1)*width*3]
		for x := 0; x < width; x++ {
			l, s := row[x*3+1], row[x*3+2]
			if (t.SThreshold > 0 && s >= t.SThreshold) || (t.LThreshold > 0 && l >= t.LThreshold) {
				pts = append(pts, image.Point{X: x, Y: y})
			}
		}
	}
	return pts
}

// Split assigns candidates to the two lines. Each line's base column is the
// trimmed mean of the candidate columns in its half of the bottom half of the
// frame; candidates further than Margin from their half's base are dropped.
func (t *Threshold) Split(pts []image.Point, width, height int) (left, right []image.Point) {
	mid := width / 2
	var lx, rx []float64
	for _, p := range pts {
		if p.Y < height/2 {
			continue
		}
		if p.X < mid {
			lx = append(lx, float64(p.X))
		} else {
			rx = append(rx, float64(p.X))
		}
	}

	margin := float64(t.Margin)
	keep := func(xs []float64, onSide func(image.Point) bool) []image.Point {
		if len(xs) == 0 {
			return nil
		}
		base := trimmedMean(xs, t.TrimFactor)
		var out []image.Point
		for _, p := range pts {
			if onSide(p) && math.Abs(float64(p.X)-base) <= margin {
				out = append(out, p)
			}
		}
		return out
	}

	left = keep(lx, func(p image.Point) bool { return p.X < mid })
	right = keep(rx, func(p image.Point) bool { return p.X >= mid })
	return left, right
}

// trimmedMean averages data after dropping trimFactor of the values from
// each end. When that would drop everything the median is returned.
func trimmedMean(data []float64, trimFactor float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	trim := int(math.Floor(float64(len(sorted)) * trimFactor))
	if trim*2 >= len(sorted) {
		return sorted[len(sorted)/2]
	}

	sum := 0.0
	kept := sorted[trim : len(sorted)-trim]
	for _, v := range kept {
		sum += v
	}
	return sum / float64(len(kept))
}
