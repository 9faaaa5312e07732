package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/ChatForge/internal/domain"
	"github.com/Strob0t/ChatForge/internal/domain/conversation"
	"github.com/Strob0t/ChatForge/internal/service"
)

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readBody reads the request body up to limit bytes. On failure the error
// response is already written.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, domain.CodeValidationFailed, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, domain.CodeValidationFailed, "invalid request body")
		}
		return nil, false
	}
	return body, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// geoHints reads the geolocation headers set by the edge proxy.
func geoHints(r *http.Request) conversation.RequestHints {
	return conversation.RequestHints{
		Latitude:  strings.TrimSpace(r.Header.Get("X-Geo-Latitude")),
		Longitude: strings.TrimSpace(r.Header.Get("X-Geo-Longitude")),
		City:      strings.TrimSpace(r.Header.Get("X-Geo-City")),
		Country:   strings.TrimSpace(r.Header.Get("X-Geo-Country")),
	}
}

// resumeCursor returns the last seq the client has seen, taken from the
// Last-Event-ID header or the cursor query parameter. Missing or malformed
// values mean the client has seen nothing.
func resumeCursor(r *http.Request) uint64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("cursor")
	}
	seq, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error   string          `json:"error"`
	Code    domain.Code     `json:"code"`
	Summary string          `json:"summary,omitempty"`
	Issues  []service.Issue `json:"issues,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("http: failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code domain.Code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeDomainError maps err onto the error taxonomy. Internal error details
// are logged and never sent to the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)

	var rej *service.Rejection
	if errors.As(err, &rej) {
		writeJSON(w, code.Status(), errorResponse{
			Error:   "invalid request",
			Code:    code,
			Summary: rej.Summary,
			Issues:  rej.Issues,
		})
		return
	}

	msg := string(code)
	switch code {
	case domain.CodeValidationFailed:
		msg = strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
	case domain.CodeRateLimited:
		msg = "message quota exceeded, try again later"
	case domain.CodeInternal:
		slog.ErrorContext(r.Context(), "http: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	case domain.CodeUpstreamUnavailable:
		slog.WarnContext(r.Context(), "http: upstream unavailable", "path", r.URL.Path, "error", err)
	}
	writeError(w, code.Status(), code, strings.ReplaceAll(msg, "_", " "))
}
