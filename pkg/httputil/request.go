package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// ParseJSON decodes JSON from the request body into the destination. An
// empty body leaves dest untouched.
func ParseJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// ParsePathUUID extracts and parses a UUID path parameter
func ParsePathUUID(r *http.Request, key string) (uuid.UUID, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return uuid.Nil, fmt.Errorf("missing path parameter: %s", key)
	}
	id, err := uuid.Parse(str)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %s", key, str)
	}
	return id, nil
}

// ParsePathUUIDOrError extracts a UUID path parameter and writes error on failure
func ParsePathUUIDOrError(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := ParsePathUUID(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return uuid.Nil, false
	}
	return id, true
}

// ParseQueryUUID parses an optional UUID query parameter; absent returns nil
func ParseQueryUUID(r *http.Request, key string) (*uuid.UUID, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	id, err := uuid.Parse(str)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %s", key, str)
	}
	return &id, nil
}

// ParseQueryInt extracts and parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for query param %s: %s", key, str)
	}
	return val, nil
}

// ParseQueryBool extracts and parses a boolean query parameter
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for query param %s: %s", key, str)
	}
	return val, nil
}
