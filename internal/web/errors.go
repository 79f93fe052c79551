package web

// errors.go turns service errors into JSON responses. The technical error is
// logged with the request id; the client gets the mapped user message and
// its code.

import (
	"errors"
	"net/http"

	"github.com/JonMunkholm/emailclean/internal/core"
	"github.com/JonMunkholm/emailclean/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes its user-facing form with statusCode.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if statusCode >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	writeJSON(w, statusCode, ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	})
}

// respondServiceError picks the status for a core error and responds.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, err, statusFor(err))
}

// statusFor maps known errors to HTTP statuses; anything else is a 500.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrUploadNotFound),
		errors.Is(err, core.ErrRunNotFound),
		errors.Is(err, core.ErrListNotFound),
		errors.Is(err, core.ErrListNotYours):
		// Another user's list is reported as missing.
		return http.StatusNotFound
	case errors.Is(err, core.ErrRunNotFinished):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusServiceUnavailable
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	}

	switch code := core.MapError(err).Code; code[:len(code)-3] {
	case "FILE":
		if code == "FILE001" {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case "MAP":
		return http.StatusBadRequest
	case "RUN":
		if code == "RUN005" {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
