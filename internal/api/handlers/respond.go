package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/markdave123-py/uwia/internal/core"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// statusOf maps an error code to its HTTP status.
func statusOf(code string) int {
	switch code {
	case core.CodeSessionNotFound:
		return http.StatusNotFound
	case core.CodeSessionNotReady:
		return http.StatusConflict
	case core.CodeExtractionFailed:
		return http.StatusUnprocessableEntity
	case core.CodeConversionTimeout:
		return http.StatusGatewayTimeout
	case core.CodeInvalidInput:
		return http.StatusBadRequest
	case core.CodeSynthesisFailed:
		return http.StatusBadGateway
	case core.CodeArchiveUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status of its code. Errors without a code are logged and
// reported without their details.
func fail(w http.ResponseWriter, log *slog.Logger, err error) {
	var ae *core.AppError
	if errors.As(err, &ae) {
		status := statusOf(ae.Code)
		if status >= http.StatusInternalServerError {
			log.Error("request failed", "code", ae.Code, "error", err)
		}
		writeError(w, status, ae.Code, ae.Message)
		return
	}
	log.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}
