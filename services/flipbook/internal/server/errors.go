package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"flipbook/internal/util"
	"flipbook/pkg/domain"
	"flipbook/services/flipbook/internal/app"
)

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForFlipbook(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps the domain error taxonomy onto HTTP statuses. Only
// validation and not-found messages reach the client verbatim.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *domain.ValidationError
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Message)
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "flipbook not found")
	case errors.Is(err, domain.ErrStorage):
		util.LoggerFromContext(r.Context()).Error("storage failure", "err", err)
		writeError(w, http.StatusBadGateway, "storage unavailable")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func errorCodeForFlipbook(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "flipbook not found":
		return "FLIPBOOK_NOT_FOUND"
	case message == "job not found":
		return "FLIPBOOK_JOB_NOT_FOUND"
	case strings.HasPrefix(message, "file too large"):
		return "FLIPBOOK_FILE_TOO_LARGE"
	case strings.Contains(message, "file is required"):
		return "FLIPBOOK_FILE_REQUIRED"
	case strings.Contains(message, "only pdf files"):
		return "FLIPBOOK_UNSUPPORTED_FILE_TYPE"
	case strings.HasPrefix(message, "unreadable pdf"), message == "pdf has no pages":
		return "FLIPBOOK_INVALID_PDF"
	case message == "invalid form data":
		return "FLIPBOOK_INVALID_UPLOAD_FORM"
	case message == "invalid status":
		return "FLIPBOOK_INVALID_STATUS"
	case message == "no valid fields to update":
		return "FLIPBOOK_EMPTY_UPDATE"
	case strings.HasPrefix(message, "too many uploads"):
		return "FLIPBOOK_RATE_LIMITED"
	case message == "storage unavailable":
		return "FLIPBOOK_STORAGE_UNAVAILABLE"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "FLIPBOOK_VALIDATION"
	case http.StatusNotFound:
		return "FLIPBOOK_NOT_FOUND"
	case http.StatusTooManyRequests:
		return "FLIPBOOK_RATE_LIMITED"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
