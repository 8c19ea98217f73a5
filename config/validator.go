package config

import (
	"fmt"
	"math"
)

// Validate checks cfg for values no component can work with.
func Validate(cfg *Config) error {
	if cfg.Fit.MinPixels < 0 {
		return fmt.Errorf("fit.min_pixels must be >= 0, got %d", cfg.Fit.MinPixels)
	}
	if cfg.Fit.MaxRMSE < 0 || cfg.Fit.SearchMarginPx < 0 {
		return fmt.Errorf("fit.max_rmse and fit.search_margin_px must be >= 0")
	}

	g := cfg.Geometry
	for name, v := range map[string]float64{
		"geometry.x_m_per_pix":       g.XMPerPix,
		"geometry.y_m_per_pix":       g.YMPerPix,
		"geometry.lane_width_m":      g.LaneWidthM,
		"geometry.straight_radius_m": g.StraightRadiusM,
	} {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be a positive number, got %v", name, v)
		}
	}
	if g.MinRadiusM < 0 || g.MinRadiusM >= g.StraightRadiusM {
		return fmt.Errorf("geometry.min_radius_m must be in [0, straight_radius_m), got %v", g.MinRadiusM)
	}
	if g.EvalRow < -1 {
		return fmt.Errorf("geometry.eval_row must be -1 or a row index, got %d", g.EvalRow)
	}

	t := cfg.Tracking
	if t.Window < 1 {
		return fmt.Errorf("tracking.window must be > 0, got %d", t.Window)
	}
	if t.MaxCoast < 0 {
		return fmt.Errorf("tracking.max_coast must be >= 0, got %d", t.MaxCoast)
	}
	if t.MaxJumpPx < 0 {
		return fmt.Errorf("tracking.max_jump_px must be >= 0, got %v", t.MaxJumpPx)
	}

	if a := cfg.Overlay.Alpha; a < 0 || a > 1 {
		return fmt.Errorf("overlay.alpha must be in [0, 1], got %v", a)
	}

	if cfg.Segment.Margin < 1 {
		return fmt.Errorf("segment.margin must be > 0, got %d", cfg.Segment.Margin)
	}
	return nil
}
