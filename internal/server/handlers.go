package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/archrag/archrag/internal/query"
	"github.com/archrag/archrag/internal/ragerr"
	"github.com/archrag/archrag/pkg/version"
)

// maxRequestBody bounds the query request body at 1 MiB.
const maxRequestBody = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	result, err := s.coord.Query(r.Context(), &req)
	if err != nil {
		code := ragerr.CodeOf(err)
		status := statusFor(code)
		s.logger.Warn("query failed",
			slog.String("request_id", requestIDFrom(r.Context())),
			slog.String("code", code),
			slog.String("error", err.Error()))
		writeError(w, status, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": version.Short(),
	}
	if s.health != nil {
		for k, v := range s.health(r.Context()) {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusNotFound, "stats collection disabled", "")
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

// statusFor maps engine error codes to HTTP statuses. Validation and
// unknown-embedder problems are the caller's fault; everything else is
// an internal failure.
func statusFor(code string) int {
	switch code {
	case ragerr.ErrCodeEmptyQuery, ragerr.ErrCodeTopKRange, ragerr.ErrCodeBadOption:
		return http.StatusBadRequest
	case ragerr.ErrCodeEmbedderUnavailable:
		return http.StatusBadRequest
	case ragerr.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
