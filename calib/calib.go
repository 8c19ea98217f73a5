// Package calib holds the precomputed camera parameters consumed by the lane
// pipeline: the pinhole intrinsic matrix, the lens distortion coefficients and
// the road-plane perspective transform with its inverse.
//
// Parameters are produced offline and never change while a stream runs, so a
// single *Parameters value is shared read-only by every frame and stream.
package calib

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// ErrCalibrationMissing is returned when no calibration parameters are
// available. Nothing can be rectified without them, so it aborts a stream.
var ErrCalibrationMissing = errors.New("calibration parameters missing")

// Matrix3 is a row-major 3x3 matrix.
type Matrix3 [3][3]float64

// Identity3 is the 3x3 identity matrix.
var Identity3 = Matrix3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// Point is a 2D coordinate in image space.
type Point struct {
	X, Y float64
}

// Parameters is the calibration set for one camera.
type Parameters struct {
	CameraMatrix       Matrix3
	DistCoeffs         []float64 // k1, k2, p1, p2[, k3...]
	Perspective        Matrix3   // camera view -> bird's-eye view
	InversePerspective Matrix3   // bird's-eye view -> camera view
}

// calibrationFile is the on-disk YAML layout.
type calibrationFile struct {
	CameraMatrix       [][]float64  `yaml:"camera_matrix,flow"`
	DistCoeffs         []float64    `yaml:"dist_coeffs,flow"`
	Perspective        [][]float64  `yaml:"perspective,flow"`
	InversePerspective [][]float64  `yaml:"inverse_perspective,flow"`
	Src                [][2]float64 `yaml:"src,omitempty"`
	Dst                [][2]float64 `yaml:"dst,omitempty"`
}

// Load reads calibration parameters from a YAML file.
func Load(path string) (*Parameters, error) {
	if path == "" {
		return nil, ErrCalibrationMissing
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCalibrationMissing, path)
		}
		return nil, fmt.Errorf("failed to read calibration file %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("calibration file %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes calibration YAML. Either perspective matrix may be omitted
// and is then derived from the other; if both are omitted, four src/dst
// road-plane correspondences must be given.
func Parse(data []byte) (*Parameters, error) {
	var f calibrationFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode calibration yaml: %w", err)
	}
	if f.CameraMatrix == nil {
		return nil, fmt.Errorf("%w: camera_matrix not set", ErrCalibrationMissing)
	}

	p := &Parameters{DistCoeffs: f.DistCoeffs}
	var err error
	if p.CameraMatrix, err = toMatrix3(f.CameraMatrix); err != nil {
		return nil, fmt.Errorf("camera_matrix: %w", err)
	}

	hasFwd, hasInv := f.Perspective != nil, f.InversePerspective != nil
	switch {
	case hasFwd && hasInv:
		if p.Perspective, err = toMatrix3(f.Perspective); err != nil {
			return nil, fmt.Errorf("perspective: %w", err)
		}
		if p.InversePerspective, err = toMatrix3(f.InversePerspective); err != nil {
			return nil, fmt.Errorf("inverse_perspective: %w", err)
		}
	case hasFwd:
		if p.Perspective, err = toMatrix3(f.Perspective); err != nil {
			return nil, fmt.Errorf("perspective: %w", err)
		}
		if p.InversePerspective, err = Invert(p.Perspective); err != nil {
			return nil, fmt.Errorf("perspective: %w", err)
		}
	case hasInv:
		if p.InversePerspective, err = toMatrix3(f.InversePerspective); err != nil {
			return nil, fmt.Errorf("inverse_perspective: %w", err)
		}
		if p.Perspective, err = Invert(p.InversePerspective); err != nil {
			return nil, fmt.Errorf("inverse_perspective: %w", err)
		}
	default:
		if len(f.Src) != 4 || len(f.Dst) != 4 {
			return nil, fmt.Errorf("%w: need perspective matrices or 4 src/dst points (got %d/%d)",
				ErrCalibrationMissing, len(f.Src), len(f.Dst))
		}
		var src, dst [4]Point
		for i := 0; i < 4; i++ {
			src[i] = Point{X: f.Src[i][0], Y: f.Src[i][1]}
			dst[i] = Point{X: f.Dst[i][0], Y: f.Dst[i][1]}
		}
		if p.Perspective, p.InversePerspective, err = FromQuads(src, dst); err != nil {
			return nil, err
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Marshal encodes p in the layout Parse reads.
func (p *Parameters) Marshal() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	f := calibrationFile{
		CameraMatrix:       p.CameraMatrix.rows(),
		DistCoeffs:         p.DistCoeffs,
		Perspective:        p.Perspective.rows(),
		InversePerspective: p.InversePerspective.rows(),
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode calibration yaml: %w", err)
	}
	return data, nil
}

// Save writes p to path.
func (p *Parameters) Save(path string) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Clean(path), data, 0o644); err != nil {
		return fmt.Errorf("failed to write calibration file %s: %w", path, err)
	}
	return nil
}

// Validate checks that the parameters describe a usable camera model.
func (p *Parameters) Validate() error {
	if p == nil {
		return ErrCalibrationMissing
	}
	k := p.CameraMatrix
	if k[0][0] <= 0 || k[1][1] <= 0 {
		return fmt.Errorf("camera matrix focal lengths must be positive (fx=%g, fy=%g)", k[0][0], k[1][1])
	}
	if k[2][0] != 0 || k[2][1] != 0 || k[2][2] != 1 {
		return fmt.Errorf("camera matrix last row must be [0 0 1], got %v", k[2])
	}
	switch len(p.DistCoeffs) {
	case 0, 4, 5, 8, 12, 14:
	default:
		return fmt.Errorf("unsupported number of distortion coefficients: %d", len(p.DistCoeffs))
	}
	for _, c := range p.DistCoeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("distortion coefficients must be finite, got %v", p.DistCoeffs)
		}
	}
	if det(p.Perspective) == 0 || det(p.InversePerspective) == 0 {
		return errors.New("perspective transform is singular")
	}
	return nil
}

// FromQuads solves the homography mapping src[i] onto dst[i] and returns it
// with its inverse.
func FromQuads(src, dst [4]Point) (Matrix3, Matrix3, error) {
	// x' = (h00 X + h01 Y + h02)/(h20 X + h21 Y + 1), same for y'; h22 = 1.
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		X, Y := src[i].X, src[i].Y
		x, y := dst[i].X, dst[i].Y
		r := 2 * i

		a.SetRow(r, []float64{X, Y, 1, 0, 0, 0, -X * x, -Y * x})
		b.SetVec(r, x)

		a.SetRow(r+1, []float64{0, 0, 0, X, Y, 1, -X * y, -Y * y})
		b.SetVec(r+1, y)
	}

	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return Matrix3{}, Matrix3{}, fmt.Errorf("failed to solve homography from quads: %w", err)
	}
	fwd := Matrix3{
		{h.AtVec(0), h.AtVec(1), h.AtVec(2)},
		{h.AtVec(3), h.AtVec(4), h.AtVec(5)},
		{h.AtVec(6), h.AtVec(7), 1},
	}
	inv, err := Invert(fwd)
	if err != nil {
		return Matrix3{}, Matrix3{}, err
	}
	return fwd, inv, nil
}

// Invert returns the inverse of m, normalised so that its [2][2] entry is 1
// when that entry is non-zero.
func Invert(m Matrix3) (Matrix3, error) {
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(3, 3, m.flat())); err != nil {
		return Matrix3{}, fmt.Errorf("matrix is not invertible: %w", err)
	}
	var out Matrix3
	scale := 1.0
	if s := inv.At(2, 2); s != 0 {
		scale = s
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = inv.At(r, c) / scale
		}
	}
	return out, nil
}

// Apply maps (x, y) through the homography m.
func (m Matrix3) Apply(x, y float64) (float64, float64) {
	denom := m[2][0]*x + m[2][1]*y + m[2][2]
	if denom == 0 {
		return math.Inf(1), math.Inf(1)
	}
	return (m[0][0]*x + m[0][1]*y + m[0][2]) / denom,
		(m[1][0]*x + m[1][1]*y + m[1][2]) / denom
}

func (m Matrix3) rows() [][]float64 {
	return [][]float64{m[0][:], m[1][:], m[2][:]}
}

func (m Matrix3) flat() []float64 {
	return []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	}
}

func det(m Matrix3) float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

func toMatrix3(rows [][]float64) (Matrix3, error) {
	var m Matrix3
	if len(rows) != 3 {
		return m, fmt.Errorf("expected 3 rows, got %d", len(rows))
	}
	for r, row := range rows {
		if len(row) != 3 {
			return m, fmt.Errorf("row %d: expected 3 columns, got %d", r, len(row))
		}
		copy(m[r][:], row)
	}
	return m, nil
}
