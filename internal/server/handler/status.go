package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/meanrevbot/internal/strategy"
)

// CycleSource exposes the most recent cycle of a strategy instance, either
// from the in-process runner or from reports observed on the bus.
type CycleSource interface {
	LastReport() (strategy.CycleReport, bool)
	Runs() int64
}

// StatusInfo is the static part of the status response.
type StatusInfo struct {
	Mode         string
	StrategyName string
	DryRun       bool
	Interval     time.Duration
	StartedAt    time.Time
}

// StatusHandler serves the bot status for the dashboard.
type StatusHandler struct {
	info   StatusInfo
	cycles CycleSource
}

// NewStatusHandler creates a StatusHandler. cycles may be nil.
func NewStatusHandler(info StatusInfo, cycles CycleSource) *StatusHandler {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	return &StatusHandler{info: info, cycles: cycles}
}

// GetStatus responds with the mode, strategy, and last-cycle summary.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.info.Mode,
		"strategy_name":  h.info.StrategyName,
		"dry_run":        h.info.DryRun,
		"interval":       h.info.Interval.String(),
		"started_at":     h.info.StartedAt,
		"uptime_seconds": int64(time.Since(h.info.StartedAt).Seconds()),
	}
	if h.cycles != nil {
		resp["cycles"] = h.cycles.Runs()
		if rep, ok := h.cycles.LastReport(); ok {
			resp["last_cycle"] = map[string]any{
				"id":          rep.ID,
				"outcome":     rep.Outcome,
				"finished_at": rep.FinishedAt,
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetLastCycle returns the full report of the most recent cycle.
// GET /api/cycles/last
func (h *StatusHandler) GetLastCycle(w http.ResponseWriter, r *http.Request) {
	if h.cycles == nil {
		writeError(w, http.StatusServiceUnavailable, "cycle reports unavailable")
		return
	}
	rep, ok := h.cycles.LastReport()
	if !ok {
		writeError(w, http.StatusNotFound, "no cycle has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
