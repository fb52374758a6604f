package handler

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"sort"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

// StateReader reads the persisted engine state.
type StateReader interface {
	Read() (*domain.EngineState, error)
}

// StateHandler serves the engine state file.
type StateHandler struct {
	state  StateReader
	logger *slog.Logger
}

// NewStateHandler creates a StateHandler.
func NewStateHandler(state StateReader, logger *slog.Logger) *StateHandler {
	return &StateHandler{state: state, logger: logger}
}

type positionView struct {
	domain.Position
	PendingIntent *domain.PendingIntent `json:"pending,omitempty"`
}

// GetState responds with the open positions, the blacklist, and pending
// intents. A missing state file reads as an empty state.
// GET /api/state
func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	st, err := h.state.Read()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			h.logger.WarnContext(r.Context(), "handler: read state", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "state unreadable")
			return
		}
		st = domain.NewEngineState()
	}

	ids := make([]string, 0, len(st.Positions))
	for id := range st.Positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	positions := make([]positionView, 0, len(ids))
	for _, id := range ids {
		v := positionView{Position: st.Positions[id]}
		if in, ok := st.Pending[id]; ok {
			v.PendingIntent = &in
		}
		positions = append(positions, v)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"positions":      positions,
		"blacklist":      st.Blacklist,
		"blacklisted_at": st.BlacklistedAt,
		"pending":        st.Pending,
	})
}
