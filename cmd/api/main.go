package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"example/lanefinder/calib"
	"example/lanefinder/config"
	"example/lanefinder/pipeline"
	"example/lanefinder/rectify"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// maxFrameBytes bounds the size of an uploaded frame.
const maxFrameBytes = 32 << 20

// StreamResponse describes a stream and its latest lane estimate.
type StreamResponse struct {
	ID         string  `json:"id"`
	Frame      uint64  `json:"frame"`
	LeftPhase  string  `json:"left_phase"`
	RightPhase string  `json:"right_phase"`
	Known      bool    `json:"geometry_known"`
	RadiusM    float64 `json:"radius_m"`
	OffsetM    float64 `json:"offset_m"`
	Degraded   bool    `json:"degraded"`
}

// server keeps one pipeline stream per client video. All streams share the
// rectifier; each has its own tracking state.
type server struct {
	rect *rectify.Rectifier
	cfg  config.Config
	log  *zap.Logger

	mu      sync.Mutex
	streams map[string]*pipeline.Stream
}

func newServer(rect *rectify.Rectifier, cfg config.Config, logger *zap.Logger) *server {
	return &server{rect: rect, cfg: cfg, log: logger, streams: make(map[string]*pipeline.Stream)}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /streams", s.createStream)
	mux.HandleFunc("GET /streams/{id}", s.getStream)
	mux.HandleFunc("POST /streams/{id}/frames", s.processFrame)
	mux.HandleFunc("DELETE /streams/{id}", s.deleteStream)
	return mux
}

func (s *server) createStream(w http.ResponseWriter, r *http.Request) {
	stream, err := pipeline.NewStream(s.rect, nil, s.cfg, s.log)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.streams[stream.ID] = stream
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, describe(stream))
}

func (s *server) getStream(w http.ResponseWriter, r *http.Request) {
	stream, ok := s.lookup(r.PathValue("id"))
	if !ok {
		http.Error(w, "Unknown stream", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, describe(stream))
}

func (s *server) processFrame(w http.ResponseWriter, r *http.Request) {
	stream, ok := s.lookup(r.PathValue("id"))
	if !ok {
		http.Error(w, "Unknown stream", http.StatusNotFound)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBytes))
	if err != nil {
		http.Error(w, "Failed to read frame", http.StatusBadRequest)
		return
	}
	frame, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		http.Error(w, "Body is not a decodable image", http.StatusBadRequest)
		return
	}
	defer frame.Close()
	if frame.Empty() {
		http.Error(w, "Body is not a decodable image", http.StatusBadRequest)
		return
	}

	res, err := stream.Process(frame)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, calib.ErrCalibrationMissing) {
			status = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), status)
		return
	}
	defer res.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, res.Annotated)
	if err != nil {
		http.Error(w, "Failed to encode image", http.StatusInternalServerError)
		return
	}
	defer buf.Close()

	h := w.Header()
	h.Set("Content-Type", "image/png")
	h.Set("X-Lane-Frame", strconv.FormatUint(res.State.Frame, 10))
	h.Set("X-Lane-Degraded", strconv.FormatBool(res.State.Degraded))
	if g := res.State.Geometry; g.Known {
		h.Set("X-Lane-Radius-M", strconv.FormatFloat(g.RadiusM, 'f', 1, 64))
		h.Set("X-Lane-Offset-M", strconv.FormatFloat(g.OffsetM, 'f', 4, 64))
	}
	if _, err := w.Write(buf.GetBytes()); err != nil {
		s.log.Warn("failed to write response", zap.String("stream", stream.ID), zap.Error(err))
	}
}

func (s *server) deleteStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	stream, ok := s.streams[id]
	delete(s.streams, id)
	s.mu.Unlock()

	if !ok {
		http.Error(w, "Unknown stream", http.StatusNotFound)
		return
	}
	stream.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) lookup(id string) (*pipeline.Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.streams[id]
	return stream, ok
}

// closeAll ends every open stream.
func (s *server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, stream := range s.streams {
		stream.Close()
		delete(s.streams, id)
	}
}

func describe(stream *pipeline.Stream) StreamResponse {
	st := stream.Last()
	return StreamResponse{
		ID:         stream.ID,
		Frame:      st.Frame,
		LeftPhase:  st.Left.Phase.String(),
		RightPhase: st.Right.Phase.String(),
		Known:      st.Geometry.Known,
		RadiusM:    st.Geometry.RadiusM,
		OffsetM:    st.Geometry.OffsetM,
		Degraded:   st.Degraded,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	configPath := flag.String("config", "", "Path to the pipeline YAML config")
	calibPath := flag.String("calib", "", "Path to the calibration YAML")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger, err := zap.NewProduction()
	if *debug {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Fatal("failed to load config", zap.Error(err))
		}
		cfg = *loaded
	}
	if *calibPath == "" {
		*calibPath = cfg.CalibrationFile
	}
	params, err := calib.Load(*calibPath)
	if err != nil {
		logger.Fatal("failed to load calibration", zap.Error(err))
	}
	rect, err := rectify.New(params)
	if err != nil {
		logger.Fatal("invalid calibration", zap.Error(err))
	}
	defer rect.Close()

	srv := newServer(rect, cfg, logger)
	defer srv.closeAll()

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("starting server", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
