// Package handler contains the HTTP handlers for the TitleScout API.
//
// Every response is JSON. Errors carry the domain error code so clients can
// branch on quota_exceeded, seat_limit, and the other typed denials without
// parsing messages.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/titlescout/titlescout/internal/domain"
)

// httpStatusByCode maps domain error codes to HTTP statuses. A quota
// denial is 402 because the fix is an upgrade; a seat-limit denial is
// 409 because the fix is freeing or buying a seat, not paying again.
var httpStatusByCode = map[string]int{
	domain.EINVALID:      http.StatusBadRequest,
	domain.EUNAUTHORIZED: http.StatusUnauthorized,
	domain.EQUOTA:        http.StatusPaymentRequired,
	domain.EFORBIDDEN:    http.StatusForbidden,
	domain.ENOTFOUND:     http.StatusNotFound,
	domain.ECONFLICT:     http.StatusConflict,
	domain.ESEATLIMIT:    http.StatusConflict,
	domain.EGONE:         http.StatusGone,
	domain.EINTERNAL:     http.StatusInternalServerError,
}

// ErrorCodeToHTTPStatus resolves a domain error code; unknown codes are
// treated as internal failures.
func ErrorCodeToHTTPStatus(code string) int {
	if status, ok := httpStatusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorResponse translates err into the JSON error envelope and logs
// it. 5xx failures log at error level with the full cause; 4xx are
// expected client errors and log at info.
func ErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)

	attrs := []any{
		"error", err.Error(),
		"code", code,
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
	}
	if op := domain.ErrorOp(err); op != "" {
		attrs = append(attrs, "op", op)
	}
	if status >= 500 {
		logger.Error("server error", attrs...)
	} else {
		logger.Info("client error", attrs...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": domain.ErrorMessage(err),
		},
	})
}

// NotFoundResponse writes a generic 404.
func NotFoundResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	ErrorResponse(w, r, logger, domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found"))
}

// UnauthorizedResponse writes a generic 401.
func UnauthorizedResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	ErrorResponse(w, r, logger, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
}

// ForbiddenResponse writes a generic 403.
func ForbiddenResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	ErrorResponse(w, r, logger, domain.Errorf(domain.EFORBIDDEN, "", "You don't have permission to access this resource"))
}
