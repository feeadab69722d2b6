package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleHealth reports storage reachability and system load
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	var storeStatus string
	if err := s.store.HealthCheck(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("store health check failed")
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
		storeStatus = err.Error()
	} else {
		storeStatus = "ok"
	}

	cpuPercent, memPercent := systemStats()

	s.writeJSON(w, httpStatus, map[string]any{
		"status":         status,
		"store":          storeStatus,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"cpu_percent":    cpuPercent,
		"memory_percent": memPercent,
		"goroutines":     runtime.NumGoroutine(),
	})
}

// handleListAccounts serves the persisted account snapshots
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListAccounts(r.Context())
	if err != nil {
		s.writeError(w, "listing accounts", err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// handleListOrders serves the persisted order snapshots
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListOrders(r.Context())
	if err != nil {
		s.writeError(w, "listing orders", err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// handleListPositions serves the persisted position snapshots
func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListPositions(r.Context())
	if err != nil {
		s.writeError(w, "listing positions", err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// handleListStrategies serves the persisted strategy state snapshots
func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListStrategyStates(r.Context())
	if err != nil {
		s.writeError(w, "listing strategies", err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// systemStats returns CPU and memory utilization percentages
func systemStats() (float64, float64) {
	var cpuPercent, memPercent float64

	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}
	if stat, err := mem.VirtualMemory(); err == nil {
		memPercent = stat.UsedPercent
	}
	return cpuPercent, memPercent
}

// writeJSON writes a JSON response. A nil record list encodes as [], not
// null.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	if records, ok := data.([]map[string]any); ok && records == nil {
		data = []map[string]any{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	s.log.Error().Err(err).Str("op", op).Msg("request failed")
	s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": op + " failed"})
}
