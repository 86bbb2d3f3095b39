package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// ErrorResponse is the error body every endpoint returns on failure.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// Pagination carries validated limit and offset query parameters.
type Pagination struct {
	Limit  int
	Offset int
}

const defaultPageLimit = 50

// ParsePagination reads limit and offset, applying defaults when absent and
// rejecting values that are present but out of range.
func ParsePagination(r *http.Request) (Pagination, error) {
	limit, err := boundedQueryInt(r, "limit", 1, defaultPageLimit)
	if err != nil {
		return Pagination{}, err
	}
	offset, err := boundedQueryInt(r, "offset", 0, 0)
	if err != nil {
		return Pagination{}, err
	}
	return Pagination{Limit: limit, Offset: offset}, nil
}

func boundedQueryInt(r *http.Request, name string, floor, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be an integer", name, v)
	}
	if n < floor {
		return 0, fmt.Errorf("invalid %s %d: must be >= %d", name, n, floor)
	}
	return n, nil
}

// QueryString extracts a non-empty string query parameter.
func QueryString(r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	return v, v != ""
}

const maxJSONBody = 1 << 20

// DecodeJSON decodes a JSON request body into v, bounding how much it reads.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	return json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v)
}
