package rectify

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"example/lanefinder/calib"

	"gocv.io/x/gocv"
)

const (
	frameWidth  = 1280
	frameHeight = 720
)

var (
	roadSrc = [4]calib.Point{{585, 460}, {203, 720}, {1127, 720}, {695, 460}}
	roadDst = [4]calib.Point{{320, 0}, {320, 720}, {960, 720}, {960, 0}}
)

// testParams returns a distortion-free 1280x720 camera looking at a flat road.
func testParams(t *testing.T, dist []float64) *calib.Parameters {
	t.Helper()
	fwd, inv, err := calib.FromQuads(roadSrc, roadDst)
	if err != nil {
		t.Fatalf("FromQuads failed: %v", err)
	}
	return &calib.Parameters{
		CameraMatrix:       calib.Matrix3{{1000, 0, 640}, {0, 1000, 360}, {0, 0, 1}},
		DistCoeffs:         dist,
		Perspective:        fwd,
		InversePerspective: inv,
	}
}

// gradientFrame builds a BGR frame whose blue channel grows with x and green
// channel grows with y, so interpolation errors stay small.
func gradientFrame(t *testing.T) gocv.Mat {
	t.Helper()
	data := make([]byte, frameWidth*frameHeight*3)
	for y := 0; y < frameHeight; y++ {
		for x := 0; x < frameWidth; x++ {
			i := (y*frameWidth + x) * 3
			data[i] = uint8(x * 255 / (frameWidth - 1))
			data[i+1] = uint8(y * 255 / (frameHeight - 1))
			data[i+2] = 128
		}
	}
	m, err := gocv.NewMatFromBytes(frameHeight, frameWidth, gocv.MatTypeCV8UC3, data)
	if err != nil {
		t.Fatalf("NewMatFromBytes failed: %v", err)
	}
	return m
}

func TestRectifyKeepsDimensions(t *testing.T) {
	r, err := New(testParams(t, []float64{-0.2, 0.05, 0, 0, 0}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer r.Close()

	frame := gradientFrame(t)
	defer frame.Close()

	out, err := r.Rectify(frame)
	if err != nil {
		t.Fatalf("Rectify failed: %v", err)
	}
	defer out.Close()

	for name, m := range map[string]gocv.Mat{"undistorted": out.Undistorted, "warped": out.Warped} {
		if m.Rows() != frameHeight || m.Cols() != frameWidth {
			t.Errorf("%s image is %dx%d, want %dx%d", name, m.Cols(), m.Rows(), frameWidth, frameHeight)
		}
		if m.Type() != gocv.MatTypeCV8UC3 {
			t.Errorf("%s image has type %v, want CV8UC3", name, m.Type())
		}
	}
}

func TestRectifyIsDeterministic(t *testing.T) {
	r, err := New(testParams(t, []float64{-0.24, -0.05, -0.001, 0.0002, 0.02}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer r.Close()

	frame := gradientFrame(t)
	defer frame.Close()
	before := frame.ToBytes()

	first, err := r.Rectify(frame)
	if err != nil {
		t.Fatalf("first Rectify failed: %v", err)
	}
	defer first.Close()
	second, err := r.Rectify(frame)
	if err != nil {
		t.Fatalf("second Rectify failed: %v", err)
	}
	defer second.Close()

	if !bytes.Equal(first.Undistorted.ToBytes(), second.Undistorted.ToBytes()) {
		t.Error("undistorted output differs between identical calls")
	}
	if !bytes.Equal(first.Warped.ToBytes(), second.Warped.ToBytes()) {
		t.Error("warped output differs between identical calls")
	}
	if !bytes.Equal(before, frame.ToBytes()) {
		t.Error("Rectify modified its input frame")
	}
}

func TestWarpRoundTrip(t *testing.T) {
	r, err := New(testParams(t, nil))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer r.Close()

	frame := gradientFrame(t)
	defer frame.Close()

	warped := r.Warp(frame)
	defer warped.Close()
	back := r.Unwarp(warped)
	defer back.Close()

	// Compare inside the road trapezoid, which the bird's-eye view keeps.
	maxDiff := 0
	for y := 480; y <= 700; y += 10 {
		frac := float64(y-460) / 260
		left := 585 + frac*(203-585)
		right := 695 + frac*(1127-695)
		for x := int(math.Ceil(left)) + 10; x < int(right)-10; x += 10 {
			want := frame.GetVecbAt(y, x)
			got := back.GetVecbAt(y, x)
			for c := 0; c < 3; c++ {
				d := int(want[c]) - int(got[c])
				if d < 0 {
					d = -d
				}
				if d > maxDiff {
					maxDiff = d
				}
			}
		}
	}
	if maxDiff > 6 {
		t.Errorf("round trip differs by up to %d levels, want <= 6", maxDiff)
	}
}

func TestRectifyWithoutCalibration(t *testing.T) {
	frame := gradientFrame(t)
	defer frame.Close()

	var r Rectifier
	_, err := r.Rectify(frame)
	if !errors.Is(err, calib.ErrCalibrationMissing) {
		t.Errorf("expected ErrCalibrationMissing, got %v", err)
	}

	if _, err := New(nil); !errors.Is(err, calib.ErrCalibrationMissing) {
		t.Errorf("New(nil): expected ErrCalibrationMissing, got %v", err)
	}
}

func TestRectifyEmptyFrame(t *testing.T) {
	r, err := New(testParams(t, nil))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer r.Close()

	empty := gocv.NewMat()
	defer empty.Close()
	if _, err := r.Rectify(empty); err == nil {
		t.Error("expected an error for an empty frame")
	}
}

func TestMatFromMatrix3(t *testing.T) {
	m := MatFromMatrix3(calib.Matrix3{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}})
	defer m.Close()
	if m.GetDoubleAt(1, 2) != 6 || m.GetDoubleAt(2, 0) != 7 {
		t.Errorf("unexpected matrix contents: [1][2]=%v [2][0]=%v", m.GetDoubleAt(1, 2), m.GetDoubleAt(2, 0))
	}
}
