package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwbudde/blackbox/internal/bench"
	"github.com/cwbudde/blackbox/internal/opt"
	"github.com/cwbudde/blackbox/internal/param"
	"github.com/cwbudde/blackbox/internal/store"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      store.Store
	addr       string
	server     *http.Server
}

// NewServer creates a new HTTP server. The store may be nil, which disables
// checkpointing and resume.
func NewServer(addr string, checkpointStore store.Store) *Server {
	return &Server{
		jobManager: NewJobManager(),
		store:      checkpointStore,
		addr:       addr,
	}
}

// Handler returns the configured HTTP handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/strategies", s.handleListStrategies)
	mux.HandleFunc("/api/v1/objectives", s.handleListObjectives)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	// Parse job ID from path
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]

	// Route based on subpath
	switch {
	case len(parts) == 1 || parts[1] == "status":
		s.handleGetJobStatus(w, r, jobID)
	case parts[1] == "recommendation":
		s.handleGetRecommendation(w, r, jobID)
	case parts[1] == "cancel":
		s.handleCancelJob(w, r, jobID)
	case parts[1] == "resume":
		s.handleResumeJob(w, r, jobID)
	case parts[1] == "stream":
		s.handleJobStream(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var config JobConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	// Validate config and fill defaults
	if config.Dimension <= 0 {
		http.Error(w, "dimension must be positive", http.StatusBadRequest)
		return
	}
	if config.Budget <= 0 {
		http.Error(w, "budget must be positive", http.StatusBadRequest)
		return
	}
	if config.Strategy == "" {
		config.Strategy = "NGOpt"
	}
	if config.Objective == "" {
		config.Objective = "sphere"
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if _, err := bench.LookupObjective(config.Objective); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, ok := opt.Describe(config.Strategy); !ok {
		http.Error(w, fmt.Sprintf("unknown strategy %q", config.Strategy), http.StatusBadRequest)
		return
	}

	// Create job
	job := s.jobManager.CreateJob(config)

	// Start worker in background
	go runJob(context.Background(), s.jobManager, s.store, job.ID, nil)

	// Return job
	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	var eps float64
	if elapsed.Seconds() > 0 {
		eps = float64(job.Evaluations) / elapsed.Seconds()
	}

	response := map[string]interface{}{
		"id":          job.ID,
		"state":       job.State,
		"config":      job.Config,
		"bestLoss":    job.BestLoss,
		"initialLoss": job.InitialLoss,
		"evaluations": job.Evaluations,
		"converged":   job.Converged,
		"elapsed":     elapsed.Seconds(),
		"evalsPerSec": eps,
		"startTime":   job.StartTime,
		"endTime":     job.EndTime,
		"error":       job.Error,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleGetRecommendation handles GET /api/v1/jobs/:id/recommendation
func (s *Server) handleGetRecommendation(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	if len(job.BestData) == 0 {
		http.Error(w, "No results yet", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":       job.ID,
		"data":        job.BestData,
		"loss":        job.BestLoss,
		"evaluations": job.Evaluations,
	})
}

// handleCancelJob handles POST /api/v1/jobs/:id/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	if !s.jobManager.CancelJob(jobID) {
		http.Error(w, "Job is not running", http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleResumeJob handles POST /api/v1/jobs/:id/resume, restarting an
// interrupted job from its last checkpoint.
func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "Checkpointing is disabled", http.StatusConflict)
		return
	}
	if job, exists := s.jobManager.GetJob(jobID); exists &&
		(job.State == StatePending || job.State == StateRunning) {
		http.Error(w, "Job is already running", http.StatusConflict)
		return
	}

	checkpoint, err := s.store.LoadCheckpoint(jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "No checkpoint for job", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := checkpoint.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("Corrupt checkpoint: %v", err), http.StatusInternalServerError)
		return
	}

	var restored *opt.Optimizer
	if len(checkpoint.OptimizerState) > 0 {
		restored, err = opt.Restore(checkpoint.OptimizerState, param.FromDimension(checkpoint.Config.Dimension))
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to restore optimizer: %v", err), http.StatusInternalServerError)
			return
		}
	}

	job := s.jobManager.AdoptJob(jobID, checkpoint.Config)
	s.jobManager.UpdateJob(jobID, func(j *Job) {
		j.BestData = checkpoint.BestData
		j.BestLoss = checkpoint.BestLoss
		j.InitialLoss = checkpoint.InitialLoss
		j.Evaluations = checkpoint.Evaluations
	})

	go runJob(context.Background(), s.jobManager, s.store, jobID, restored)

	writeJSON(w, http.StatusAccepted, job)
}

// handleListStrategies handles GET /api/v1/strategies
func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	names := opt.Strategies()
	out := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		reg, _ := opt.Describe(name)
		out = append(out, map[string]interface{}{
			"name":              name,
			"oneShot":           reg.OneShot,
			"recast":            reg.Recast,
			"noParallelization": reg.NoParallelization,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListObjectives handles GET /api/v1/objectives
func (s *Server) handleListObjectives(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, bench.Objectives())
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
