package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/desertthunder/dsx/internal/shared"
)

// notFoundType is the error __type the action API reports for missing entities.
const notFoundType = "Not Found Error"

// APIError is a failed action call. It unwraps to [shared.ErrNotFound] or [shared.ErrRemoteRejected].
type APIError struct {
	Action     string
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Type != "" {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Action, e.Type, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s (status %d): %s", e.Action, e.StatusCode, msg)
}

func (e *APIError) Unwrap() error {
	if e.NotFound() {
		return shared.ErrNotFound
	}
	return shared.ErrRemoteRejected
}

// NotFound reports whether the catalog said the entity does not exist.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.Type == notFoundType
}

// newAPIError builds an [APIError] from the "error" member of a response envelope.
//
// Validation errors arrive as field -> messages and are flattened into one sorted line.
func newAPIError(action string, status int, body map[string]any) *APIError {
	e := &APIError{Action: action, StatusCode: status}
	if body == nil {
		return e
	}

	if t, ok := body["__type"].(string); ok {
		e.Type = t
	}
	if m, ok := body["message"].(string); ok {
		e.Message = m
		return e
	}

	var parts []string
	for key, v := range body {
		if key == "__type" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", key, flatten(v)))
	}
	sort.Strings(parts)
	e.Message = strings.Join(parts, "; ")
	return e
}

func flatten(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			items = append(items, flatten(item))
		}
		return strings.Join(items, ", ")
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
