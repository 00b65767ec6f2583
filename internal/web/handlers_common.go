package web

// Shared request parsing helpers used across handlers.

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/laptiming/internal/timing"
)

// maxRequestBody bounds JSON request bodies. Reports are fetched by URL,
// never uploaded, so bodies are small.
const maxRequestBody = 64 * 1024

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// optionalInt64 parses an optional positive id query parameter.
func optionalInt64(r *http.Request, name string) (*int64, error) {
	val := strings.TrimSpace(r.URL.Query().Get(name))
	if val == "" {
		return nil, nil
	}
	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil || i < 1 {
		return nil, fmt.Errorf("%w: %s must be a positive integer, got %q", timing.ErrInvalidArgument, name, val)
	}
	return &i, nil
}

// optionalInt is optionalInt64 for int-sized values.
func optionalInt(r *http.Request, name string) (*int, error) {
	v, err := optionalInt64(r, name)
	if v == nil || err != nil {
		return nil, err
	}
	i := int(*v)
	return &i, nil
}

// idParam parses a positive integer URL path parameter.
func idParam(r *http.Request, name string) (int64, error) {
	val := chi.URLParam(r, name)
	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil || i < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", timing.ErrInvalidArgument, name, val)
	}
	return i, nil
}

// decodeJSON decodes a bounded JSON body into v. Unknown fields are rejected
// so that misspelled request fields do not silently fall back to defaults.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

func splitHostPort(addr string) (string, string, error) {
	return net.SplitHostPort(addr)
}
