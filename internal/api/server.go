package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/skyward-data/depthcap/internal/config"
	"github.com/skyward-data/depthcap/internal/dataset"
	"github.com/skyward-data/depthcap/internal/version"
)

// Collector is the operator surface the server exposes over HTTP. The
// current output directory travels inside Stats. Implemented by
// dataset.Collector.
type Collector interface {
	Stats() dataset.Stats
	ClearBatches() (int, error)
	ChangeDirectory(baseDir string, useTimestamp bool)
}

// CounterReader reports persisted per-split sequence counters. Implemented by
// counterdb.Store.
type CounterReader interface {
	Counters() (map[string]int64, error)
}

type Server struct {
	collector Collector
	counters  CounterReader
	cfg       *config.CaptureConfig
}

func NewServer(collector Collector, counters CounterReader, cfg *config.CaptureConfig) *Server {
	return &Server{
		collector: collector,
		counters:  counters,
		cfg:       cfg,
	}
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	// Handle the home page
	w.Write([]byte("Welcome to the Depth Capture Server!"))
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.statusHandler)
	mux.HandleFunc("/api/counters", s.countersHandler)
	mux.HandleFunc("/api/config", s.configHandler)
	mux.HandleFunc("/api/batches/clear", s.clearBatchesHandler)
	mux.HandleFunc("/api/dataset/dir", s.changeDirHandler)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type statusResponse struct {
	Version string        `json:"version"`
	Stats   dataset.Stats `json:"stats"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{
		Version: version.Version,
		Stats:   s.collector.Stats(),
	})
}

func (s *Server) countersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	counters, err := s.counters.Counters()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read counters: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, counters)
}

func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.cfg)
}

// clearBatchesHandler removes persisted batch files. Refused with 409 while
// the simulation is running.
func (s *Server) clearBatchesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	removed, err := s.collector.ClearBatches()
	if err != nil {
		if errors.Is(err, dataset.ErrSimulationRunning) {
			s.writeJSONError(w, http.StatusConflict, "simulation is running; stop it before clearing batches")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("clear failed: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

type changeDirRequest struct {
	OutputDir    string `json:"output_dir"`
	UseTimestamp bool   `json:"use_timestamp"`
}

func (s *Server) changeDirHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req changeDirRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.OutputDir == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing 'output_dir'")
		return
	}
	s.collector.ChangeDirectory(req.OutputDir, req.UseTimestamp)
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "requested",
		"output_dir": req.OutputDir,
	})
}
