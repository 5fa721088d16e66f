package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnrecognizedPayload is returned when a response body matches none of the
// known shapes.
var ErrUnrecognizedPayload = errors.New("unrecognized provider payload")

// Error is a non-2xx answer from the provider.
type Error struct {
	StatusCode int    `json:"status"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Type != "" {
		parts = append(parts, e.Type)
	}
	if e.Title != "" {
		parts = append(parts, e.Title)
	}
	if e.Detail != "" && e.Detail != e.Title {
		parts = append(parts, e.Detail)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("provider returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, strings.Join(parts, ": "))
}

// decodeError builds an *Error from a failed response. Bodies that are not the
// usual problem document keep their raw text in Detail.
func decodeError(status int, body []byte) *Error {
	var doc struct {
		Status  int    `json:"status"`
		Type    string `json:"type"`
		Title   string `json:"title"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	e := &Error{StatusCode: status}
	if err := json.Unmarshal(body, &doc); err != nil {
		e.Detail = strings.TrimSpace(string(body))
		return e
	}
	e.Type = doc.Type
	e.Title = doc.Title
	e.Detail = doc.Detail
	if e.Detail == "" {
		e.Detail = doc.Message
	}
	return e
}
