package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/instrument-sync/internal/scheduler"
	"github.com/aristath/instrument-sync/internal/storage"
)

const maxRunsLimit = 200

// HealthResponse is returned by GET /health
type HealthResponse struct {
	NextRun       *time.Time      `json:"next_run,omitempty"`
	Counts        *storage.Counts `json:"counts,omitempty"`
	Status        string          `json:"status"`
	Schedule      string          `json:"schedule,omitempty"`
	Uptime        string          `json:"uptime"`
	CPUPercent    float64         `json:"cpu_percent"`
	MemoryPercent float64         `json:"memory_percent"`
	RunInFlight   bool            `json:"run_in_flight"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := s.getSystemStats()

	response := HealthResponse{
		Status:        "healthy",
		Uptime:        time.Since(s.startedAt).Round(time.Second).String(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		RunInFlight:   s.runner.InFlight(),
	}

	if s.schedule != nil {
		response.Schedule = s.schedule.Schedule()
		if next := s.schedule.Next(); !next.IsZero() {
			response.NextRun = &next
		}
	}

	counts, err := s.store.Counts(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read table counts")
		response.Status = "degraded"
	} else {
		response.Counts = &counts
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleListRuns handles GET /api/runs?limit=N
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.store.RecentRuns(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list runs")
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	s.writeJSON(w, http.StatusOK, runs)
}

// handleGetRun handles GET /api/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, storage.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("run_id", id).Msg("Failed to get run")
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

// handleTriggerRun handles POST /api/runs?type=dividend|split|both.
// A missing type means both. The run executes in the background; the
// response only acknowledges it.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	jobType := string(scheduler.SelectBoth)
	if r.URL.Query().Has("type") {
		jobType = r.URL.Query().Get("type")
	}

	selector, err := scheduler.ParseSelector(jobType)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.runner.InFlight() {
		s.writeError(w, http.StatusConflict, scheduler.ErrRunInProgress.Error())
		return
	}

	s.log.Info().Str("selector", string(selector)).Msg("Manual run triggered")

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.runInBackground(s.runCtx, scheduler.ManualTrigger(selector))
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "accepted",
		"selector": string(selector),
	})
}

func (s *Server) runInBackground(ctx context.Context, trigger scheduler.Trigger) {
	err := s.runner.Run(ctx, trigger)
	switch {
	case err == nil:
	case errors.Is(err, scheduler.ErrRunInProgress):
		s.log.Warn().Msg("Triggered run lost the race to another run")
	default:
		s.log.Error().Err(err).Msg("Triggered run failed")
	}
}

// getSystemStats calculates CPU and RAM usage percentages.
// The 100ms CPU sample keeps the health endpoint fast.
func (s *Server) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
