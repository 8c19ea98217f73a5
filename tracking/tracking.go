// Package tracking carries lane fits across the frames of one video stream so
// the rendered lane stays stable when a frame's detection is weak or missing.
//
// Each lane line moves through three phases:
//
//	Uninitialized -> Tracking -> (Tracking | Coasting)
//
// A side starts Uninitialized and enters Tracking on its first detected fit.
// While Tracking, every detected fit joins a fixed-size history and the best
// fit is the mean of that history. A frame without a usable fit moves the
// side to Coasting, where the last best fit is reused; the next detected fit
// returns it to Tracking. Once a side has tracked it is never reported empty
// again until Reset.
//
// A State belongs to exactly one stream and is not safe for concurrent use;
// callers that process frames from several goroutines must serialise Update.
package tracking

import (
	"errors"
	"fmt"
	"math"

	"example/lanefinder/geometry"
	"example/lanefinder/lanefit"
)

// ErrNoHistory is reported while no lane line has ever been tracked.
var ErrNoHistory = errors.New("no lane history available")

// DefaultWindow is the number of fits averaged into the best fit.
const DefaultWindow = 5

// Phase is the tracking phase of one lane line.
type Phase int

const (
	Uninitialized Phase = iota
	Tracking
	Coasting
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Tracking:
		return "tracking"
	case Coasting:
		return "coasting"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Config controls smoothing and dropout handling.
type Config struct {
	// Window is the history length N. Values below 1 use DefaultWindow.
	Window int
	// MaxCoast is the number of consecutive coasted frames after which the
	// output is flagged as degraded. Zero disables the flag.
	MaxCoast int
	// MaxJumpPx rejects a detected fit whose position at the evaluation row
	// moved more than this many pixels from the best fit. Zero disables it.
	MaxJumpPx float64
}

// SideEstimate is the best available estimate for one lane line.
type SideEstimate struct {
	Side    lanefit.Side
	Phase   Phase
	Fit     lanefit.Polynomial
	Coasted int // consecutive frames without an accepted fit
	History int // fits currently averaged into Fit
}

// Available reports whether Fit holds a usable line.
func (s SideEstimate) Available() bool {
	return s.Phase != Uninitialized
}

// Renderable is everything the overlay needs for one frame.
type Renderable struct {
	Frame    uint64
	Left     SideEstimate
	Right    SideEstimate
	Geometry geometry.LaneGeometry
	// Degraded is set when a side has coasted longer than MaxCoast.
	Degraded bool
}

// HasLane reports whether both lines are available, so a lane area exists.
func (r Renderable) HasLane() bool {
	return r.Left.Available() && r.Right.Available()
}

// Err returns ErrNoHistory while neither line has ever been tracked.
func (r Renderable) Err() error {
	if !r.Left.Available() && !r.Right.Available() {
		return ErrNoHistory
	}
	return nil
}

type lane struct {
	side    lanefit.Side
	phase   Phase
	hist    history
	best    lanefit.Polynomial
	coasted int
}

func (l *lane) estimate() SideEstimate {
	return SideEstimate{
		Side:    l.side,
		Phase:   l.phase,
		Fit:     l.best,
		Coasted: l.coasted,
		History: l.hist.len(),
	}
}

// State is the per-stream tracking state.
type State struct {
	cfg       Config
	estimator *geometry.Estimator
	evalRow   float64

	lanes        [2]lane
	frames       uint64
	lastGeometry geometry.LaneGeometry
}

// New creates a State. The estimator recomputes geometry from the smoothed
// fits on frames where the raw measurement cannot be used; it may be nil, in
// which case the last known geometry is carried forward instead.
func New(cfg Config, estimator *geometry.Estimator) *State {
	if cfg.Window < 1 {
		cfg.Window = DefaultWindow
	}
	s := &State{cfg: cfg, estimator: estimator}
	if estimator != nil {
		s.evalRow = estimator.EvalRow
	}
	s.Reset()
	return s
}

// Reset forgets all history.
func (s *State) Reset() {
	for i := range s.lanes {
		s.lanes[i] = lane{side: lanefit.Side(i), hist: newHistory(s.cfg.Window)}
	}
	s.frames = 0
	s.lastGeometry = geometry.Unknown
}

// Frames returns the number of frames seen since creation or Reset.
func (s *State) Frames() uint64 {
	return s.frames
}

// Update folds one frame's fits and measured geometry into the state and
// returns the best estimate for rendering.
//
// Geometry policy: when both fits were accepted and g is known, g is
// reported as measured. Otherwise geometry is recomputed from the smoothed
// fits, and if that is impossible the last known geometry is repeated.
func (s *State) Update(left, right lanefit.LaneFit, g geometry.LaneGeometry) Renderable {
	s.frames++
	acceptedLeft := s.updateLane(&s.lanes[lanefit.Left], left)
	acceptedRight := s.updateLane(&s.lanes[lanefit.Right], right)

	out := s.Last()
	switch {
	case acceptedLeft && acceptedRight && g.Known:
		out.Geometry = g
	case s.estimator != nil:
		out.Geometry = s.estimator.Estimate(
			lanefit.LaneFit{Side: lanefit.Left, Poly: out.Left.Fit, Detected: out.Left.Available()},
			lanefit.LaneFit{Side: lanefit.Right, Poly: out.Right.Fit, Detected: out.Right.Available()},
		)
	}
	if !out.Geometry.Known {
		out.Geometry = s.lastGeometry
	}
	s.lastGeometry = out.Geometry
	return out
}

// Last returns the current estimate without consuming a frame.
func (s *State) Last() Renderable {
	out := Renderable{
		Frame:    s.frames,
		Left:     s.lanes[lanefit.Left].estimate(),
		Right:    s.lanes[lanefit.Right].estimate(),
		Geometry: s.lastGeometry,
	}
	if s.cfg.MaxCoast > 0 {
		for _, e := range []SideEstimate{out.Left, out.Right} {
			if e.Available() && e.Coasted > s.cfg.MaxCoast {
				out.Degraded = true
			}
		}
	}
	return out
}

// History returns the fits currently averaged for side, oldest first.
func (s *State) History(side lanefit.Side) []lanefit.Polynomial {
	return s.lanes[side].hist.entries()
}

// updateLane applies one frame's fit to a lane and reports whether the fit
// was accepted into the history.
func (s *State) updateLane(l *lane, fit lanefit.LaneFit) bool {
	accept := fit.Detected
	if accept && l.phase != Uninitialized && s.cfg.MaxJumpPx > 0 {
		jump := math.Abs(fit.Poly.Eval(s.evalRow) - l.best.Eval(s.evalRow))
		if jump > s.cfg.MaxJumpPx {
			// Stale history after a long coast: restart from the new fit.
			if l.coasted >= s.reacquireAfter() {
				l.hist.reset()
			} else {
				accept = false
			}
		}
	}

	if !accept {
		if l.phase != Uninitialized {
			l.phase = Coasting
			l.coasted++
		}
		return false
	}

	l.hist.push(fit.Poly)
	l.best = l.hist.mean()
	l.phase = Tracking
	l.coasted = 0
	return true
}

func (s *State) reacquireAfter() int {
	if s.cfg.MaxCoast > 0 {
		return s.cfg.MaxCoast
	}
	return s.cfg.Window
}
