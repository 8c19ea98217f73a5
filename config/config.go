// Package config loads the lane pipeline settings from YAML and builds the
// configured components from them.
package config

import (
	"fmt"
	"os"

	"example/lanefinder/geometry"
	"example/lanefinder/lanefit"
	"example/lanefinder/overlay"
	"example/lanefinder/segment"
	"example/lanefinder/tracking"

	"gopkg.in/yaml.v3"
)

// Config is the complete pipeline configuration.
type Config struct {
	CalibrationFile string         `yaml:"calibration_file"`
	Fit             FitConfig      `yaml:"fit"`
	Geometry        GeometryConfig `yaml:"geometry"`
	Tracking        TrackingConfig `yaml:"tracking"`
	Overlay         OverlayConfig  `yaml:"overlay"`
	Segment         SegmentConfig  `yaml:"segment"`
}

// FitConfig controls per-frame line fitting.
type FitConfig struct {
	MinPixels int     `yaml:"min_pixels"`
	MaxRMSE   float64 `yaml:"max_rmse"` // 0 disables the residual check
	// SearchMarginPx restricts candidates to this distance from the previous
	// best fit while a side is tracked. 0 disables the search window.
	SearchMarginPx float64 `yaml:"search_margin_px"`
}

// GeometryConfig holds the pixel to metre scales and plausibility limits.
type GeometryConfig struct {
	XMPerPix        float64 `yaml:"x_m_per_pix"`
	YMPerPix        float64 `yaml:"y_m_per_pix"`
	EvalRow         int     `yaml:"eval_row"` // -1 means the bottom row
	LaneWidthM      float64 `yaml:"lane_width_m"`
	StraightRadiusM float64 `yaml:"straight_radius_m"`
	MinRadiusM      float64 `yaml:"min_radius_m"`
}

// TrackingConfig controls temporal smoothing.
type TrackingConfig struct {
	Window    int     `yaml:"window"`
	MaxCoast  int     `yaml:"max_coast"`
	MaxJumpPx float64 `yaml:"max_jump_px"`
}

// OverlayConfig controls the rendered annotation.
type OverlayConfig struct {
	Alpha    float64 `yaml:"alpha"`
	StartRow int     `yaml:"start_row"`
}

// SegmentConfig configures the default threshold segmenter.
type SegmentConfig struct {
	SThreshold uint8 `yaml:"s_threshold"`
	LThreshold uint8 `yaml:"l_threshold"`
	Margin     int   `yaml:"margin"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Fit: FitConfig{
			MinPixels: lanefit.DefaultMinPixels,
		},
		Geometry: GeometryConfig{
			XMPerPix:        geometry.DefaultXMPerPix,
			YMPerPix:        geometry.DefaultYMPerPix,
			EvalRow:         -1,
			LaneWidthM:      geometry.DefaultLaneWidthM,
			StraightRadiusM: geometry.DefaultStraightRadiusM,
			MinRadiusM:      geometry.DefaultMinRadiusM,
		},
		Tracking: TrackingConfig{
			Window:   tracking.DefaultWindow,
			MaxCoast: 25,
		},
		Overlay: OverlayConfig{
			Alpha:    0.3,
			StartRow: overlay.DefaultStartRow,
		},
		Segment: SegmentConfig{
			SThreshold: segment.DefaultSThreshold,
			LThreshold: segment.DefaultLThreshold,
			Margin:     segment.DefaultMargin,
		},
	}
}

// Load reads path and merges it over Default. Keys absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Fitter builds the line fitter. check is installed as the plausibility hook
// and may be nil.
func (c *Config) Fitter(check func(lanefit.Polynomial) error) *lanefit.Fitter {
	f := lanefit.NewFitter(c.Fit.MinPixels)
	f.MaxRMSE = c.Fit.MaxRMSE
	f.Check = check
	return f
}

// Estimator builds the geometry estimator for frames of the given size.
func (c *Config) Estimator(width, height int) *geometry.Estimator {
	e := geometry.NewEstimator(width, height)
	g := c.Geometry
	e.XMPerPix = g.XMPerPix
	e.YMPerPix = g.YMPerPix
	if g.EvalRow >= 0 && g.EvalRow < height {
		e.EvalRow = float64(g.EvalRow)
	}
	e.LaneWidthM = g.LaneWidthM
	e.StraightRadiusM = g.StraightRadiusM
	e.MinRadiusM = g.MinRadiusM
	return e
}

// TrackingConfig returns the tracking settings.
func (c *Config) TrackingConfig() tracking.Config {
	return tracking.Config{
		Window:    c.Tracking.Window,
		MaxCoast:  c.Tracking.MaxCoast,
		MaxJumpPx: c.Tracking.MaxJumpPx,
	}
}

// Renderer builds the overlay renderer.
func (c *Config) Renderer() *overlay.Renderer {
	r := overlay.NewRenderer()
	r.Alpha = c.Overlay.Alpha
	r.StartRow = c.Overlay.StartRow
	return r
}

// Segmenter builds the default threshold segmenter.
func (c *Config) Segmenter() *segment.Threshold {
	s := segment.New()
	s.SThreshold = c.Segment.SThreshold
	s.LThreshold = c.Segment.LThreshold
	s.Margin = c.Segment.Margin
	return s
}
