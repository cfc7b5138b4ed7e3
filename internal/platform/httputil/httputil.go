// Package httputil provides the JSON request/response envelope helpers used
// by transport/http, adapted from the teacher's infrastructure/httputil
// package with the mTLS / service-auth identity extraction removed (this
// node has no service mesh to authenticate against).
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	platformerrors "github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/logging"
)

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
}

var defaultLogger = logging.NewFromEnv("transport")

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		defaultLogger.WithError(err).Warn("write json response")
	}
}

func traceID(w http.ResponseWriter, r *http.Request) string {
	if r != nil {
		if id := logging.GetTraceID(r.Context()); id != "" {
			return id
		}
		if id := r.Header.Get("X-Trace-ID"); id != "" {
			return id
		}
	}
	return w.Header().Get("X-Trace-ID")
}

// WriteErrorResponse writes a structured JSON error envelope.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", status)
	}
	id := traceID(w, r)
	if id != "" && w.Header().Get("X-Trace-ID") == "" {
		w.Header().Set("X-Trace-ID", id)
	}
	WriteJSON(w, status, ErrorResponse{Code: code, Message: message, Details: details, TraceID: id})
}

// WriteServiceError maps a *platformerrors.ServiceError (or a plain error) to
// the status codes named in §6/§7 and writes the JSON envelope.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := platformerrors.As(err)
	if svcErr == nil {
		WriteErrorResponse(w, r, http.StatusInternalServerError, "", err.Error(), nil)
		return
	}
	WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
}

// BadRequest writes a 400 response.
func BadRequest(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusBadRequest, "", message, nil)
}

// NotFound writes a 404 response.
func NotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "not found"
	}
	WriteErrorResponse(w, nil, http.StatusNotFound, "", message, nil)
}

// InternalError writes a 500 response.
func InternalError(w http.ResponseWriter, message string) {
	if message == "" {
		message = "internal server error"
	}
	WriteErrorResponse(w, nil, http.StatusInternalServerError, "", message, nil)
}

// DecodeJSON decodes the request body into v. On failure it writes an error
// response and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge, "", "request body too large", map[string]any{
				"limit_bytes": maxErr.Limit,
			})
			return false
		}
		if errors.Is(err, io.EOF) {
			BadRequest(w, "request body required")
			return false
		}
		BadRequest(w, "invalid request body")
		return false
	}
	return true
}

// QueryInt extracts an integer query parameter with a default.
func QueryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	return defaultVal
}

// QueryString extracts a string query parameter with a default.
func QueryString(r *http.Request, key, defaultVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// PaginationParams extracts offset/limit query parameters, bounding limit to
// [1, maxLimit].
func PaginationParams(r *http.Request, defaultLimit, maxLimit int) (offset, limit int) {
	offset = QueryInt(r, "offset", 0)
	limit = QueryInt(r, "limit", defaultLimit)
	if limit > maxLimit {
		limit = maxLimit
	}
	if limit < 1 {
		limit = 1
	}
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}

// NormalizeBaseURL trims trailing slashes from a configured peer/explorer
// base URL.
func NormalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
