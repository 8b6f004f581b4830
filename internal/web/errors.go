package web

// errors.go turns handler errors into JSON responses.
//
// The technical error is logged with the request id; the client gets the
// message, action and code from core.MapError, the same codes the CLI prints.

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/csvload/internal/core"
	"github.com/JonMunkholm/csvload/internal/logging"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes its user-facing form.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	log := logging.FromContext(r.Context())
	logFn := log.Warn
	if status >= http.StatusInternalServerError {
		logFn = log.Error
	}
	logFn("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", msg.Code,
		"error", err,
	)

	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrBatchNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrAlreadyRolledBack), errors.Is(err, core.ErrBatchNotCommitted):
		return http.StatusConflict
	case errors.Is(err, core.ErrInboxDisabled):
		return http.StatusForbidden
	case errors.Is(err, core.ErrTooManyLoads):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// invalidRequest builds an error that maps to 400 and REQ001.
func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrInvalidRequest, fmt.Sprintf(format, args...))
}
