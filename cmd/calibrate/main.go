package main

import (
	"flag"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"example/lanefinder/calib"
	"example/lanefinder/calibrate"

	"go.uber.org/zap"
)

// Road-plane quads for a 1280x720 dash camera: a straight lane trapezoid and
// the rectangle it maps to in the bird's-eye view.
const (
	defaultSrc = "585,460 203,720 1127,720 695,460"
	defaultDst = "320,0 320,720 960,720 960,0"
)

func main() {
	images := flag.String("images", "camera_cal/calibration*.jpg", "Glob of chessboard photographs.")
	cols := flag.Int("cols", calibrate.DefaultPattern.X, "Inner corners per chessboard row.")
	rows := flag.Int("rows", calibrate.DefaultPattern.Y, "Inner corners per chessboard column.")
	square := flag.Float64("square", 1, "Chessboard square size in world units.")
	src := flag.String("src", defaultSrc, "Four road-plane points in the camera image, \"x,y x,y x,y x,y\".")
	dst := flag.String("dst", defaultDst, "Where the src points land in the bird's-eye view.")
	output := flag.String("out", "camera.yaml", "Path of the calibration file to write.")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	paths, err := filepath.Glob(*images)
	if err != nil || len(paths) == 0 {
		fmt.Println("Usage: calibrate -images '<glob>' [-cols 9 -rows 6] [-src ... -dst ...] [-out camera.yaml]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	srcQuad, err := parseQuad(*src)
	if err != nil {
		logger.Fatal("invalid -src", zap.Error(err))
	}
	dstQuad, err := parseQuad(*dst)
	if err != nil {
		logger.Fatal("invalid -dst", zap.Error(err))
	}

	params, err := Run(paths, image.Pt(*cols, *rows), *square, srcQuad, dstQuad, logger)
	if err != nil {
		logger.Fatal("calibration failed", zap.Error(err))
	}
	if err := params.Save(*output); err != nil {
		logger.Fatal("failed to save calibration", zap.Error(err))
	}
	logger.Info("calibration written", zap.String("output", *output))
}

// Run calibrates the camera from the chessboard images at paths and attaches
// the road-plane perspective given by src and dst.
func Run(paths []string, pattern image.Point, square float64, src, dst [4]calib.Point, logger *zap.Logger) (*calib.Parameters, error) {
	c := calibrate.New(pattern, square, logger)
	defer c.Close()

	for _, p := range paths {
		if _, err := c.AddFile(p); err != nil {
			logger.Warn("skipping image", zap.String("file", p), zap.Error(err))
		}
	}

	res, err := c.Calibrate()
	if err != nil {
		return nil, err
	}
	return res.Parameters(src, dst)
}

// parseQuad reads four "x,y" pairs separated by spaces.
func parseQuad(s string) ([4]calib.Point, error) {
	var quad [4]calib.Point
	fields := strings.Fields(s)
	if len(fields) != 4 {
		return quad, fmt.Errorf("expected 4 points, got %d", len(fields))
	}
	for i, f := range fields {
		xs, ys, ok := strings.Cut(f, ",")
		if !ok {
			return quad, fmt.Errorf("point %q is not x,y", f)
		}
		x, err := strconv.ParseFloat(xs, 64)
		if err != nil {
			return quad, fmt.Errorf("point %q: %w", f, err)
		}
		y, err := strconv.ParseFloat(ys, 64)
		if err != nil {
			return quad, fmt.Errorf("point %q: %w", f, err)
		}
		quad[i] = calib.Point{X: x, Y: y}
	}
	return quad, nil
}
