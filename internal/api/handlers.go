package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goodtune/usagestat/internal/storage"
	"github.com/goodtune/usagestat/internal/usage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// maxTrackBody caps the size of a JSON track request.
const maxTrackBody = 4 << 10

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// TrackRequest is the body of POST /api/v1/track.
type TrackRequest struct {
	Feature string `json:"feature"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// UsageHandler handles tracking and reporting requests.
type UsageHandler struct {
	recorder usage.Recorder
	now      func() time.Time
	logger   zerolog.Logger
}

// NewUsageHandler creates a new usage handler.
func NewUsageHandler(recorder usage.Recorder, logger zerolog.Logger) *UsageHandler {
	return &UsageHandler{
		recorder: recorder,
		now:      time.Now,
		logger:   logger.With().Str("handler", "usage").Logger(),
	}
}

// TrackPath handles POST /api/v1/track/{feature}.
func (h *UsageHandler) TrackPath(w http.ResponseWriter, r *http.Request) {
	h.track(w, mux.Vars(r)["feature"])
}

// TrackBody handles POST /api/v1/track.
func (h *UsageHandler) TrackBody(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTrackBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.track(w, req.Feature)
}

func (h *UsageHandler) track(w http.ResponseWriter, featureID string) {
	featureID = strings.TrimSpace(featureID)
	if featureID == "" {
		writeError(w, http.StatusBadRequest, "Feature ID is required")
		return
	}

	h.recorder.Track(featureID)
	w.WriteHeader(http.StatusNoContent)
}

// Report handles GET /api/v1/report.
func (h *UsageHandler) Report(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.recorder.Report())
}

// Export handles GET /api/v1/report/export. The body is the stored record
// exactly as it would be persisted.
func (h *UsageHandler) Export(w http.ResponseWriter, r *http.Request) {
	report := h.recorder.Report()

	data, err := storage.Encode(report.Raw)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode usage record for export")
		writeError(w, http.StatusInternalServerError, "Failed to export usage record")
		return
	}

	filename := fmt.Sprintf("usagestat-%s.json", h.now().Format(storage.DateLayout))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Reset handles POST /api/v1/reset.
func (h *UsageHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.recorder.Reset()
	h.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Usage statistics reset via API")
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Usage statistics reset"})
}
