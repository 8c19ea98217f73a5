// Package rectify turns raw camera frames into the two images the lane
// pipeline works on: an undistorted frame in the camera's perspective and a
// bird's-eye view of the road plane.
package rectify

import (
	"fmt"
	"image"

	"example/lanefinder/calib"

	"gocv.io/x/gocv"
)

// Frame is the result of rectifying one raw frame. Both images have the
// dimensions of the input. The caller owns the Mats and must Close the Frame.
type Frame struct {
	Undistorted gocv.Mat
	Warped      gocv.Mat
}

// Close releases both images.
func (f *Frame) Close() {
	f.Undistorted.Close()
	f.Warped.Close()
}

// Rectifier applies distortion correction and the perspective warp. The
// calibration Mats are built once and shared read-only; a Rectifier may be
// used by several streams at once.
type Rectifier struct {
	params *calib.Parameters

	cameraMatrix gocv.Mat
	distCoeffs   gocv.Mat
	perspective  gocv.Mat
	inverse      gocv.Mat
}

// New prepares a Rectifier for the given calibration.
func New(p *calib.Parameters) (*Rectifier, error) {
	if p == nil {
		return nil, calib.ErrCalibrationMissing
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration: %w", err)
	}

	coeffs := p.DistCoeffs
	if len(coeffs) == 0 {
		coeffs = make([]float64, 5)
	}
	dist := gocv.NewMatWithSize(1, len(coeffs), gocv.MatTypeCV64F)
	for i, c := range coeffs {
		dist.SetDoubleAt(0, i, c)
	}

	return &Rectifier{
		params:       p,
		cameraMatrix: MatFromMatrix3(p.CameraMatrix),
		distCoeffs:   dist,
		perspective:  MatFromMatrix3(p.Perspective),
		inverse:      MatFromMatrix3(p.InversePerspective),
	}, nil
}

// Close releases the calibration Mats.
func (r *Rectifier) Close() {
	if r == nil || r.params == nil {
		return
	}
	r.cameraMatrix.Close()
	r.distCoeffs.Close()
	r.perspective.Close()
	r.inverse.Close()
}

// Parameters returns the calibration the Rectifier was built from.
func (r *Rectifier) Parameters() *calib.Parameters {
	if r == nil {
		return nil
	}
	return r.params
}

// InversePerspective returns the bird's-eye to camera homography as a Mat.
// It is owned by the Rectifier and must not be closed or modified.
func (r *Rectifier) InversePerspective() gocv.Mat {
	return r.inverse
}

// Rectify undistorts frame and warps the result to the bird's-eye view.
// The input is not modified.
func (r *Rectifier) Rectify(frame gocv.Mat) (Frame, error) {
	undistorted, err := r.Undistort(frame)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Undistorted: undistorted,
		Warped:      r.Warp(undistorted),
	}, nil
}

// Undistort removes lens distortion from frame, keeping its dimensions.
func (r *Rectifier) Undistort(frame gocv.Mat) (gocv.Mat, error) {
	if r == nil || r.params == nil {
		return gocv.NewMat(), calib.ErrCalibrationMissing
	}
	if frame.Empty() {
		return gocv.NewMat(), fmt.Errorf("input frame is empty")
	}
	dst := gocv.NewMat()
	gocv.Undistort(frame, &dst, r.cameraMatrix, r.distCoeffs, r.cameraMatrix)
	return dst, nil
}

// Warp maps a camera-perspective image to the bird's-eye view.
func (r *Rectifier) Warp(img gocv.Mat) gocv.Mat {
	return warp(img, r.perspective)
}

// Unwarp maps a bird's-eye image back to the camera perspective.
func (r *Rectifier) Unwarp(img gocv.Mat) gocv.Mat {
	return warp(img, r.inverse)
}

func warp(img, m gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	gocv.WarpPerspective(img, &dst, m, image.Pt(img.Cols(), img.Rows()))
	return dst
}

// MatFromMatrix3 copies m into a new 3x3 CV_64F Mat owned by the caller.
func MatFromMatrix3(m calib.Matrix3) gocv.Mat {
	out := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.SetDoubleAt(r, c, m[r][c])
		}
	}
	return out
}
