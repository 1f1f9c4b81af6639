// Package apierror provides a centralized error response format for the
// resilienced HTTP surface. All handlers use WriteJSON to produce
// consistent, machine-readable error responses with stable error codes.
package apierror

import (
	"encoding/json"
	"net/http"
)

// ErrorCode is a machine-readable error classification string.
type ErrorCode string

// Daemon error codes. These form a public API contract — operators and
// tooling can program against these stable codes. Do not rename or remove
// existing codes.
const (
	AdminForbidden        ErrorCode = "RESILIENCE_ADMIN_FORBIDDEN"
	AuthMissingToken      ErrorCode = "RESILIENCE_AUTH_MISSING_TOKEN"
	AuthInvalidToken      ErrorCode = "RESILIENCE_AUTH_INVALID_TOKEN"
	AuthInsufficientScope ErrorCode = "RESILIENCE_AUTH_INSUFFICIENT_SCOPE"
	BreakerNotFound       ErrorCode = "RESILIENCE_BREAKER_NOT_FOUND"
	MethodNotAllowed      ErrorCode = "RESILIENCE_METHOD_NOT_ALLOWED"
	NotFound              ErrorCode = "RESILIENCE_NOT_FOUND"
	BadRequest            ErrorCode = "RESILIENCE_BAD_REQUEST"
	InternalError         ErrorCode = "RESILIENCE_INTERNAL_ERROR"
)

// ErrorResponse is the standardized error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Pre-serialized JSON bodies for the most common error responses. Avoids
// json.Encoder allocation on every rejection. These do NOT include
// request_id since it varies per request.
var (
	preAdminForbidden   = mustMarshal(http.StatusForbidden, AdminForbidden, "client address not in admin allowlist")
	preAuthMissingToken = mustMarshal(http.StatusUnauthorized, AuthMissingToken, "missing or malformed Authorization header")
	preMethodNotAllowed = mustMarshal(http.StatusMethodNotAllowed, MethodNotAllowed, "method not allowed")
)

func mustMarshal(status int, code ErrorCode, message string) []byte {
	b, _ := json.Marshal(ErrorResponse{
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
	})
	return append(b, '\n')
}

// WriteJSON writes a structured JSON error response. For common
// code+message combinations, pre-serialized bodies are used (no
// allocation). When a request ID is available (X-Request-ID header) it is
// included in the response. The request parameter may be nil for contexts
// where the request is not available.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	requestID := ""
	if r != nil {
		requestID = r.Header.Get("X-Request-ID")
	}

	if requestID == "" {
		if body := preSerialized(status, code, message); body != nil {
			w.Write(body) //nolint:errcheck
			return
		}
	}

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
		RequestID: requestID,
	})
}

// preSerialized returns a pre-built response body for common error
// combinations, or nil if no match.
func preSerialized(status int, code ErrorCode, message string) []byte {
	switch {
	case code == AdminForbidden && status == http.StatusForbidden && message == "client address not in admin allowlist":
		return preAdminForbidden
	case code == AuthMissingToken && status == http.StatusUnauthorized && message == "missing or malformed Authorization header":
		return preAuthMissingToken
	case code == MethodNotAllowed && status == http.StatusMethodNotAllowed && message == "method not allowed":
		return preMethodNotAllowed
	}
	return nil
}
