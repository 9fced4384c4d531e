package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tendant/simple-idm-account/pkg/domain"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// JSON writes v as a JSON response.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// Error writes an error response with a code derived from the status.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Code: statusCode(status), Error: message})
}

// WriteError maps err to a response. Client errors are returned as is; anything
// else is logged and reported as an internal error.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if ce, ok := domain.AsClientError(err); ok {
		JSON(w, ce.Status, ErrorResponse{Code: ce.Code, Error: ce.Message})
		return
	}
	if logger != nil {
		logger.Error("request failed", "error", err)
	}
	JSON(w, http.StatusInternalServerError, ErrorResponse{
		Code:  "INTERNAL_ERROR",
		Error: "internal server error",
	})
}

// DecodeJSON decodes the request body into v and writes the error response on
// failure. It returns false if the handler should stop.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	Error(w, http.StatusBadRequest, "invalid request body")
	return false
}

func statusCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusRequestEntityTooLarge:
		return "REQUEST_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusInternalServerError:
		return "INTERNAL_ERROR"
	}
	return strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}
