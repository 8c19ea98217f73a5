package segment

import (
	"image"
	"image/color"
	"math"
	"testing"

	"gocv.io/x/gocv"
)

// roadFrame draws a yellow left line, a white right line and a white blob of
// glare on a black 1280x720 bird's-eye frame.
func roadFrame() gocv.Mat {
	img := gocv.NewMatWithSize(720, 1280, gocv.MatTypeCV8UC3)
	img.SetTo(gocv.NewScalar(0, 0, 0, 0))
	gocv.Rectangle(&img, image.Rect(297, 0, 303, 720), color.RGBA{R: 255, G: 255, B: 0, A: 255}, -1)
	gocv.Rectangle(&img, image.Rect(997, 0, 1003, 720), color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	gocv.Rectangle(&img, image.Rect(600, 600, 620, 620), color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	return img
}

func TestSegmentSeparatesLines(t *testing.T) {
	img := roadFrame()
	defer img.Close()

	left, right, err := New().Segment(img)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}

	if len(left) < 4000 || len(right) < 4000 {
		t.Fatalf("expected both lines over full height, got %d left and %d right", len(left), len(right))
	}
	for _, p := range left {
		if p.X < 297 || p.X > 302 {
			t.Fatalf("left candidate %v is off the yellow line", p)
		}
	}
	for _, p := range right {
		if p.X < 997 || p.X > 1002 {
			t.Fatalf("right candidate %v is off the white line", p)
		}
	}
}

func TestSegmentEmptyFrame(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()
	if _, _, err := New().Segment(empty); err == nil {
		t.Error("expected an error for an empty frame")
	}
}

func TestSegmentBlankFrame(t *testing.T) {
	img := gocv.NewMatWithSize(720, 1280, gocv.MatTypeCV8UC3)
	defer img.Close()
	img.SetTo(gocv.NewScalar(40, 40, 40, 0))

	left, right, err := New().Segment(img)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if len(left) != 0 || len(right) != 0 {
		t.Errorf("expected no candidates, got %d and %d", len(left), len(right))
	}
}

func TestCandidates(t *testing.T) {
	// Three pixels: bright, saturated, dark.
	hls := []byte{
		0, 230, 10,
		30, 120, 200,
		0, 50, 50,
	}
	th := New()
	got := th.Candidates(hls, 3, 1)
	if len(got) != 2 || got[0] != (image.Point{0, 0}) || got[1] != (image.Point{1, 0}) {
		t.Errorf("unexpected candidates %v", got)
	}

	th.SThreshold = 0
	got = th.Candidates(hls, 3, 1)
	if len(got) != 1 || got[0] != (image.Point{0, 0}) {
		t.Errorf("saturation threshold not disabled: %v", got)
	}
}

func TestSplitOneSide(t *testing.T) {
	var pts []image.Point
	for y := 0; y < 100; y++ {
		pts = append(pts, image.Point{X: 150, Y: y})
	}
	left, right := New().Split(pts, 400, 100)
	if len(left) != 100 {
		t.Errorf("expected 100 left points, got %d", len(left))
	}
	if right != nil {
		t.Errorf("expected no right points, got %d", len(right))
	}
}

func TestSplitNeedsBottomHalf(t *testing.T) {
	// Candidates only above the middle give no base.
	pts := []image.Point{{X: 50, Y: 1}, {X: 50, Y: 2}}
	left, _ := New().Split(pts, 400, 100)
	if left != nil {
		t.Errorf("expected no left points without a base, got %v", left)
	}
}

func TestTrimmedMean(t *testing.T) {
	tests := []struct {
		name string
		data []float64
		trim float64
		want float64
	}{
		{"empty", nil, 0.1, 0},
		{"no trim", []float64{1, 2, 3, 4}, 0, 2.5},
		{"outliers dropped", []float64{100, 1, 2, 3, 4, 5, 6, 7, 8, -100}, 0.1, 4.5},
		{"over-trimmed falls back to median", []float64{3, 1, 2}, 0.9, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trimmedMean(tt.data, tt.trim); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("trimmedMean(%v, %v) = %v, want %v", tt.data, tt.trim, got, tt.want)
			}
		})
	}
}
