package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/river"
	"github.com/rs/zerolog/log"
)

// River is the running river controlled by the admin API
type River interface {
	Status() river.Status
	Position() oplog.Position
	PositionTime() (time.Time, bool)
	Stop()
}

// AdminHandlers serves river status and control endpoints
type AdminHandlers struct {
	name      string
	river     River
	committed func() oplog.Position
}

// NewAdminHandlers creates a new AdminHandlers instance. committed reports
// the last position acknowledged by the sink and may be nil.
func NewAdminHandlers(name string, r River, committed func() oplog.Position) *AdminHandlers {
	return &AdminHandlers{name: name, river: r, committed: committed}
}

type statusResponse struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type positionResponse struct {
	Position     string `json:"position"`
	PositionTime string `json:"position_time,omitempty"`
	Committed    string `json:"committed,omitempty"`
}

func (h *AdminHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, statusResponse{
		Name:   h.name,
		Status: h.river.Status().String(),
	})
}

func (h *AdminHandlers) handlePosition(w http.ResponseWriter, r *http.Request) {
	resp := positionResponse{Position: h.river.Position().String()}
	if at, ok := h.river.PositionTime(); ok {
		resp.PositionTime = at.UTC().Format(time.RFC3339)
	}
	if h.committed != nil {
		if pos := h.committed(); !pos.IsZero() {
			resp.Committed = pos.String()
		}
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminHandlers) handleStop(w http.ResponseWriter, r *http.Request) {
	status := h.river.Status()
	if status.Terminal() {
		writeErrorResponse(w, http.StatusConflict, "river is already "+status.String())
		return
	}

	log.Info().Str("river", h.name).Str("remote", r.RemoteAddr).Msg("Stop requested through admin API")
	h.river.Stop()
	writeJSONResponse(w, http.StatusAccepted, statusResponse{
		Name:   h.name,
		Status: h.river.Status().String(),
	})
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
