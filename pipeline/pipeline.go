// Package pipeline runs the per-frame lane pipeline for one video stream:
// rectify, segment, fit, measure, track and render.
package pipeline

import (
	"fmt"
	"image"
	"sync"

	"example/lanefinder/calib"
	"example/lanefinder/config"
	"example/lanefinder/geometry"
	"example/lanefinder/lanefit"
	"example/lanefinder/overlay"
	"example/lanefinder/rectify"
	"example/lanefinder/tracking"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Segmenter finds candidate lane pixels in a bird's-eye frame.
type Segmenter interface {
	Segment(warped gocv.Mat) (left, right []image.Point, err error)
}

// SegmenterFunc adapts a function to the Segmenter interface.
type SegmenterFunc func(warped gocv.Mat) (left, right []image.Point, err error)

// Segment calls f(warped).
func (f SegmenterFunc) Segment(warped gocv.Mat) ([]image.Point, []image.Point, error) {
	return f(warped)
}

// Result is the output for one frame. The caller owns Annotated and must
// Close the Result.
type Result struct {
	Annotated gocv.Mat
	State     tracking.Renderable
	Left      lanefit.LaneFit
	Right     lanefit.LaneFit
	// Warnings lists recoverable problems with this frame: the reasons a side
	// was not detected and tracking.ErrNoHistory while nothing has tracked.
	Warnings []error
	// BirdsEye is the warped debug view, set only when enabled on the stream.
	BirdsEye *gocv.Mat
}

// Close releases the images.
func (r *Result) Close() {
	r.Annotated.Close()
	if r.BirdsEye != nil {
		r.BirdsEye.Close()
	}
}

// Stream processes the frames of one video stream in order. It owns the
// stream's tracking state; the Rectifier is shared and is not closed by the
// Stream.
type Stream struct {
	ID string

	mu           sync.Mutex
	cfg          config.Config
	rect         *rectify.Rectifier
	seg          Segmenter
	renderer     *overlay.Renderer
	searchMargin float64
	birdsEye     bool
	log          *zap.Logger

	// Built on the first frame, once the frame size is known.
	size      image.Point
	estimator *geometry.Estimator
	fitter    *lanefit.Fitter
	state     *tracking.State
}

// NewStream creates a stream. A nil seg uses the threshold segmenter from cfg
// and a nil logger disables logging.
func NewStream(rect *rectify.Rectifier, seg Segmenter, cfg config.Config, logger *zap.Logger) (*Stream, error) {
	if rect == nil || rect.Parameters() == nil {
		return nil, calib.ErrCalibrationMissing
	}
	if err := config.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if seg == nil {
		seg = cfg.Segmenter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.NewString()
	s := &Stream{
		ID:           id,
		cfg:          cfg,
		rect:         rect,
		seg:          seg,
		renderer:     cfg.Renderer(),
		searchMargin: cfg.Fit.SearchMarginPx,
		log:          logger.With(zap.String("stream", id)),
	}
	s.log.Info("stream started")
	return s, nil
}

// Process runs one frame through the pipeline. Only a missing calibration or
// an unusable frame is an error; detection problems are reported in
// Result.Warnings and the frame is still rendered.
func (s *Stream) Process(frame gocv.Mat) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rf, err := s.rect.Rectify(frame)
	if err != nil {
		return nil, fmt.Errorf("rectify frame: %w", err)
	}
	defer rf.Close()

	s.ensureState(frame.Cols(), frame.Rows())

	leftPx, rightPx, err := s.seg.Segment(rf.Warped)
	if err != nil {
		s.log.Warn("segmenter failed, fitting no candidates", zap.Error(err))
		leftPx, rightPx = nil, nil
	}

	prev := s.state.Last()
	leftPx = s.searchAround(prev.Left, leftPx)
	rightPx = s.searchAround(prev.Right, rightPx)

	left, right := s.fitter.Fit(leftPx, rightPx)
	out := s.state.Update(left, right, s.estimator.Estimate(left, right))
	s.logTransitions(prev, out)

	annotated, err := s.renderer.Render(rf.Undistorted, out, s.rect.InversePerspective())
	if err != nil {
		return nil, fmt.Errorf("render frame %d: %w", out.Frame, err)
	}

	res := &Result{Annotated: annotated, State: out, Left: left, Right: right}
	if s.birdsEye {
		debug := overlay.BirdsEye(rf.Warped, left, right, out)
		res.BirdsEye = &debug
	}
	for _, fit := range []lanefit.LaneFit{left, right} {
		if fit.Reason != nil {
			res.Warnings = append(res.Warnings, fit.Reason)
		}
	}
	if err := out.Err(); err != nil {
		res.Warnings = append(res.Warnings, err)
	}
	return res, nil
}

// SetBirdsEye turns the warped debug view in Result.BirdsEye on or off.
func (s *Stream) SetBirdsEye(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.birdsEye = on
}

// Last returns the most recent tracking output without processing a frame.
func (s *Stream) Last() tracking.Renderable {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return tracking.Renderable{}
	}
	return s.state.Last()
}

// Reset discards the tracking history, e.g. after a scene cut.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil {
		s.state.Reset()
	}
}

// Close ends the stream.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var frames uint64
	if s.state != nil {
		frames = s.state.Frames()
	}
	s.log.Info("stream stopped", zap.Uint64("frames", frames))
}

// ensureState builds the size dependent components, starting over when the
// frame size changes mid-stream.
func (s *Stream) ensureState(width, height int) {
	size := image.Pt(width, height)
	if s.state != nil && s.size == size {
		return
	}
	if s.state != nil {
		s.log.Info("frame size changed, resetting lane history",
			zap.Stringer("from", s.size), zap.Stringer("to", size))
	}
	s.size = size
	s.estimator = s.cfg.Estimator(width, height)
	s.fitter = s.cfg.Fitter(s.estimator.CheckPlausible)
	s.state = tracking.New(s.cfg.TrackingConfig(), s.estimator)
}

// searchAround keeps the candidates near a side's current best fit. Sides
// that are not tracking search the whole frame so a lost line can be found
// again elsewhere.
func (s *Stream) searchAround(est tracking.SideEstimate, pixels []image.Point) []image.Point {
	if s.searchMargin <= 0 || est.Phase != tracking.Tracking {
		return pixels
	}
	return lanefit.WithinMargin(pixels, est.Fit, s.searchMargin)
}

func (s *Stream) logTransitions(prev, out tracking.Renderable) {
	for _, pair := range [][2]tracking.SideEstimate{{prev.Left, out.Left}, {prev.Right, out.Right}} {
		before, after := pair[0], pair[1]
		switch {
		case after.Phase == tracking.Coasting && before.Phase != tracking.Coasting:
			s.log.Info("lane line lost, coasting",
				zap.Uint64("frame", out.Frame), zap.Stringer("side", after.Side))
		case after.Phase == tracking.Tracking && before.Phase != tracking.Tracking:
			s.log.Info("lane line acquired",
				zap.Uint64("frame", out.Frame), zap.Stringer("side", after.Side))
		}
	}
	if out.Degraded && !prev.Degraded {
		s.log.Warn("lane output degraded",
			zap.Uint64("frame", out.Frame),
			zap.Int("left_coasted", out.Left.Coasted),
			zap.Int("right_coasted", out.Right.Coasted))
	}

	if ce := s.log.Check(zap.DebugLevel, "frame processed"); ce != nil {
		ce.Write(
			zap.Uint64("frame", out.Frame),
			zap.Stringer("left_phase", out.Left.Phase),
			zap.Stringer("right_phase", out.Right.Phase),
			zap.Float64("radius_m", out.Geometry.RadiusM),
			zap.Float64("offset_m", out.Geometry.OffsetM),
			zap.Bool("geometry_known", out.Geometry.Known),
		)
	}
}
