package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"example/lanefinder/calib"
	"example/lanefinder/config"
	"example/lanefinder/pipeline"
	"example/lanefinder/rectify"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Options are the command line settings of one run.
type Options struct {
	ConfigPath string
	CalibPath  string
	Input      string
	Output     string
	// BirdsEye, when set, receives the warped debug view of every frame.
	BirdsEye string
}

func main() {
	configPath := flag.String("config", "", "Path to the pipeline YAML config. Defaults are used when empty.")
	calibPath := flag.String("calib", "", "Path to the calibration YAML. Overrides calibration_file from the config.")
	input := flag.String("in", "", "Input video, or a single PNG/JPEG frame.")
	output := flag.String("out", "lanes_output.avi", "Output video or image path.")
	birdsEye := flag.String("birdseye", "", "Optional output path for the bird's-eye debug view.")
	debug := flag.Bool("debug", false, "Enable debug logging.")
	flag.Parse()

	if *input == "" {
		fmt.Println("Usage: lanes -in <video|image> [-out <path>] [-config <lanes.yaml>] [-calib <camera.yaml>]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := Options{ConfigPath: *configPath, CalibPath: *calibPath, Input: *input, Output: *output, BirdsEye: *birdsEye}
	frames, err := Run(ctx, opts, logger)
	if err != nil {
		logger.Fatal("lane detection failed", zap.Error(err))
	}
	logger.Info("lane detection finished", zap.Int("frames", frames), zap.String("output", opts.Output))
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Run processes opts.Input and writes one annotated frame per input frame to
// opts.Output. It returns the number of frames written. Cancelling ctx stops
// between frames and keeps what was written so far.
func Run(ctx context.Context, opts Options, logger *zap.Logger) (int, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return 0, err
		}
		cfg = *loaded
	}
	calibPath := opts.CalibPath
	if calibPath == "" {
		calibPath = cfg.CalibrationFile
	}

	params, err := calib.Load(calibPath)
	if err != nil {
		return 0, err
	}
	rect, err := rectify.New(params)
	if err != nil {
		return 0, err
	}
	defer rect.Close()

	stream, err := pipeline.NewStream(rect, nil, cfg, logger)
	if err != nil {
		return 0, err
	}
	defer stream.Close()
	stream.SetBirdsEye(opts.BirdsEye != "")

	if isImage(opts.Input) {
		return processImage(stream, opts)
	}
	return processVideo(ctx, stream, opts, logger)
}

func isImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

func processImage(stream *pipeline.Stream, opts Options) (int, error) {
	frame := gocv.IMRead(opts.Input, gocv.IMReadColor)
	if frame.Empty() {
		return 0, fmt.Errorf("failed to read image %s", opts.Input)
	}
	defer frame.Close()

	res, err := stream.Process(frame)
	if err != nil {
		return 0, err
	}
	defer res.Close()

	if ok := gocv.IMWrite(opts.Output, res.Annotated); !ok {
		return 0, fmt.Errorf("failed to write image %s", opts.Output)
	}
	if res.BirdsEye != nil {
		if ok := gocv.IMWrite(opts.BirdsEye, *res.BirdsEye); !ok {
			return 0, fmt.Errorf("failed to write image %s", opts.BirdsEye)
		}
	}
	return 1, nil
}

func processVideo(ctx context.Context, stream *pipeline.Stream, opts Options, logger *zap.Logger) (int, error) {
	capture, err := gocv.VideoCaptureFile(opts.Input)
	if err != nil {
		return 0, fmt.Errorf("failed to open video %s: %w", opts.Input, err)
	}
	defer capture.Close()

	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = 25
	}

	frame := gocv.NewMat()
	defer frame.Close()

	var writer, debugWriter *gocv.VideoWriter
	defer func() {
		for _, w := range []*gocv.VideoWriter{writer, debugWriter} {
			if w != nil {
				w.Close()
			}
		}
	}()

	frames := 0
	for {
		if err := ctx.Err(); err != nil {
			logger.Info("interrupted, stopping", zap.Int("frames", frames))
			return frames, nil
		}
		if ok := capture.Read(&frame); !ok || frame.Empty() {
			break
		}

		if writer == nil {
			writer, err = openWriter(opts.Output, fps, frame)
			if err != nil {
				return frames, err
			}
			if opts.BirdsEye != "" {
				if debugWriter, err = openWriter(opts.BirdsEye, fps, frame); err != nil {
					return frames, err
				}
			}
		}

		res, err := stream.Process(frame)
		if err != nil {
			return frames, fmt.Errorf("frame %d: %w", frames, err)
		}
		err = writer.Write(res.Annotated)
		if err == nil && debugWriter != nil && res.BirdsEye != nil {
			err = debugWriter.Write(*res.BirdsEye)
		}
		res.Close()
		if err != nil {
			return frames, fmt.Errorf("failed to write frame %d: %w", frames, err)
		}
		frames++
	}

	if frames == 0 {
		return 0, errors.New("input video has no frames")
	}
	return frames, nil
}

func openWriter(path string, fps float64, like gocv.Mat) (*gocv.VideoWriter, error) {
	w, err := gocv.VideoWriterFile(path, codecFor(path), fps, like.Cols(), like.Rows(), true)
	if err != nil {
		return nil, fmt.Errorf("failed to open video writer %s: %w", path, err)
	}
	return w, nil
}

func codecFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".mp4") {
		return "mp4v"
	}
	return "MJPG"
}
