// Package calibrate computes camera intrinsics and lens distortion from
// photographs of a flat chessboard. It runs offline; the lane pipeline only
// consumes the resulting calib.Parameters.
package calibrate

import (
	"errors"
	"fmt"
	"image"
	"math"

	"example/lanefinder/calib"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ErrTooFewViews is returned when fewer usable chessboard views than
// MinViews were added.
var ErrTooFewViews = errors.New("not enough chessboard views")

// DefaultPattern is the inner corner grid of the usual 10x7 square board.
var DefaultPattern = image.Pt(9, 6)

// DefaultMinViews is the smallest number of views Calibrate accepts.
const DefaultMinViews = 3

// Result is the output of a calibration run.
type Result struct {
	CameraMatrix calib.Matrix3
	DistCoeffs   []float64
	RMS          float64 // reprojection error in pixels
	Views        int
}

// Calibrator accumulates chessboard views from one camera.
type Calibrator struct {
	Pattern    image.Point // inner corners per row and column
	SquareSize float64     // edge of one square in world units
	MinViews   int

	log       *zap.Logger
	size      image.Point
	objectPts gocv.Points3fVector
	imagePts  gocv.Points2fVector
	views     int
}

// New creates a Calibrator. A nil logger disables logging.
func New(pattern image.Point, squareSize float64, logger *zap.Logger) *Calibrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calibrator{
		Pattern:    pattern,
		SquareSize: squareSize,
		MinViews:   DefaultMinViews,
		log:        logger,
		objectPts:  gocv.NewPoints3fVector(),
		imagePts:   gocv.NewPoints2fVector(),
	}
}

// Close releases the collected corner sets.
func (c *Calibrator) Close() {
	c.objectPts.Close()
	c.imagePts.Close()
}

// Views returns the number of views in which the board was found.
func (c *Calibrator) Views() int {
	return c.views
}

// AddFile loads an image and adds it as a view.
func (c *Calibrator) AddFile(path string) (bool, error) {
	img, err := LoadGray(path)
	if err != nil {
		return false, err
	}
	defer img.Close()

	found, err := c.AddView(img)
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	if !found {
		c.log.Info("no chessboard found", zap.String("file", path))
	}
	return found, nil
}

// AddView searches img for the chessboard and records its corners. It
// reports whether the board was found. Every view must have the same size.
func (c *Calibrator) AddView(img gocv.Mat) (bool, error) {
	if img.Empty() {
		return false, errors.New("image is empty")
	}
	size := image.Pt(img.Cols(), img.Rows())
	if c.views > 0 && size != c.size {
		return false, fmt.Errorf("image size %v differs from earlier views %v", size, c.size)
	}

	gray := img
	if img.Channels() != 1 {
		gray = gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}

	corners := gocv.NewMat()
	defer corners.Close()
	flags := gocv.CalibCBAdaptiveThresh | gocv.CalibCBNormalizeImage
	if !gocv.FindChessboardCorners(gray, c.Pattern, &corners, flags) {
		return false, nil
	}
	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, 30, 0.001)
	gocv.CornerSubPix(gray, &corners, image.Pt(11, 11), image.Pt(-1, -1), criteria)

	pts := gocv.NewPoint2fVectorFromMat(corners)
	defer pts.Close()
	obj := gocv.NewPoint3fVectorFromPoints(c.boardPoints())
	defer obj.Close()

	c.imagePts.Append(pts)
	c.objectPts.Append(obj)
	c.size = size
	c.views++
	return true, nil
}

// boardPoints returns the inner corners in board coordinates, row by row.
func (c *Calibrator) boardPoints() []gocv.Point3f {
	pts := make([]gocv.Point3f, 0, c.Pattern.X*c.Pattern.Y)
	for y := 0; y < c.Pattern.Y; y++ {
		for x := 0; x < c.Pattern.X; x++ {
			pts = append(pts, gocv.Point3f{
				X: float32(float64(x) * c.SquareSize),
				Y: float32(float64(y) * c.SquareSize),
			})
		}
	}
	return pts
}

// Calibrate solves for the camera matrix and distortion coefficients from
// the views added so far.
func (c *Calibrator) Calibrate() (Result, error) {
	if c.views < max(c.MinViews, 1) {
		return Result{}, fmt.Errorf("%w: have %d, need %d", ErrTooFewViews, c.views, c.MinViews)
	}

	cameraMatrix := gocv.NewMat()
	defer cameraMatrix.Close()
	distCoeffs := gocv.NewMat()
	defer distCoeffs.Close()
	rvecs := gocv.NewMat()
	defer rvecs.Close()
	tvecs := gocv.NewMat()
	defer tvecs.Close()

	rms := gocv.CalibrateCamera(c.objectPts, c.imagePts, c.size, &cameraMatrix, &distCoeffs, &rvecs, &tvecs, 0)

	res := Result{RMS: rms, Views: c.views}
	for r := 0; r < 3; r++ {
		for col := 0; col < 3; col++ {
			res.CameraMatrix[r][col] = cameraMatrix.GetDoubleAt(r, col)
		}
	}
	n := distCoeffs.Total()
	res.DistCoeffs = make([]float64, n)
	for i := 0; i < n; i++ {
		if distCoeffs.Rows() == 1 {
			res.DistCoeffs[i] = distCoeffs.GetDoubleAt(0, i)
		} else {
			res.DistCoeffs[i] = distCoeffs.GetDoubleAt(i, 0)
		}
	}
	if math.IsNaN(rms) || res.CameraMatrix[0][0] <= 0 {
		return Result{}, fmt.Errorf("calibration did not converge (rms=%v)", rms)
	}

	c.log.Info("camera calibrated",
		zap.Int("views", c.views),
		zap.Float64("rms_px", rms),
		zap.Float64("fx", res.CameraMatrix[0][0]),
		zap.Float64("fy", res.CameraMatrix[1][1]))
	return res, nil
}

// Parameters combines the calibration result with a road-plane perspective
// given by four source and destination points.
func (r Result) Parameters(src, dst [4]calib.Point) (*calib.Parameters, error) {
	fwd, inv, err := calib.FromQuads(src, dst)
	if err != nil {
		return nil, err
	}
	p := &calib.Parameters{
		CameraMatrix:       r.CameraMatrix,
		DistCoeffs:         r.DistCoeffs,
		Perspective:        fwd,
		InversePerspective: inv,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadGray reads an image file and converts it to a single channel Mat.
func LoadGray(path string) (gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("failed to read image %s", path)
	}
	defer img.Close()

	gray := gocv.NewMat()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	return gray, nil
}
