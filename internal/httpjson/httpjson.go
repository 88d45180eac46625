// Package httpjson provides small net/http helpers for the local signing
// proxy, matching the teacher's house style of
// thin stdlib wrappers rather than a router framework (see DESIGN.md).
package httpjson

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

// ErrorResponse is the JSON body written for failed requests.
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes err as a JSON error response, using its ServiceError
// code/status/details when present and falling back to 500 otherwise.
func WriteError(w http.ResponseWriter, err error) {
	if se := svcerrors.As(err); se != nil {
		WriteJSON(w, se.HTTPStatus, ErrorResponse{
			Code:    string(se.Code),
			Error:   se.Message,
			Details: se.Details,
		})
		return
	}
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Code:  string(svcerrors.CodeInternal),
		Error: err.Error(),
	})
}

// DecodeJSON decodes the request body into v, writing a 400 on failure.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, svcerrors.InvalidInput("body", err.Error()))
		return false
	}
	return true
}

// PathParamAt extracts a path segment at the given 0-based index.
func PathParamAt(path string, index int) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if index >= 0 && index < len(parts) {
		return parts[index]
	}
	return ""
}

// QueryInt extracts an integer query parameter, with a default.
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

// QueryString extracts a string query parameter, with a default.
func QueryString(r *http.Request, key, defaultVal string) string {
	if val := r.URL.Query().Get(key); val != "" {
		return val
	}
	return defaultVal
}
