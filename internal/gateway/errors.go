package gateway

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies a gateway failure.
type Kind string

const (
	KindRateLimit Kind = "rate_limit"
	KindTransient Kind = "transient"
	KindAuth      Kind = "auth"
	KindBadPrompt Kind = "bad_prompt"
	KindEmpty     Kind = "empty_response"
	KindCanceled  Kind = "canceled"
	KindUnknown   Kind = "unknown"
)

// Error is a classified provider failure.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := "gateway"
	if e.Provider != "" {
		prefix = e.Provider
	}
	if e.Message != "" {
		return fmt.Sprintf("%s error (%s): %s", prefix, e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error (%s): %v", prefix, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error (%s): status %d", prefix, e.Kind, e.StatusCode)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindUnknown when unclassified.
func KindOf(err error) Kind {
	var gErr *Error
	if errors.As(err, &gErr) {
		return gErr.Kind
	}
	return KindUnknown
}

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = errors.New("empty response")

var statusPattern = regexp.MustCompile(`\b([45]\d\d)\b`)

// extractStatusCode finds the first 4xx/5xx code in an SDK error string.
func extractStatusCode(s string) int {
	m := statusPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

// Classify wraps a provider error into an *Error. Already-classified errors pass through.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var gErr *Error
	if errors.As(err, &gErr) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Provider: provider, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTransient, Provider: provider, Message: "request timeout", Err: err}
	case errors.Is(err, ErrEmptyResponse):
		return &Error{Kind: KindEmpty, Provider: provider, Err: err}
	}

	errStr := err.Error()
	status := extractStatusCode(errStr)
	switch status {
	case 401, 403:
		return &Error{Kind: KindAuth, Provider: provider, StatusCode: status, Err: err}
	case 429:
		return &Error{Kind: KindRateLimit, Provider: provider, StatusCode: status, Err: err}
	case 400, 413:
		return &Error{Kind: KindBadPrompt, Provider: provider, StatusCode: status, Err: err}
	case 500, 502, 503, 504, 529:
		return &Error{Kind: KindTransient, Provider: provider, StatusCode: status, Err: err}
	}

	lower := strings.ToLower(errStr)
	for _, hint := range []string{"timeout", "connection", "network", "temporary", "eof", "reset"} {
		if strings.Contains(lower, hint) {
			return &Error{Kind: KindTransient, Provider: provider, Err: err}
		}
	}
	return &Error{Kind: KindUnknown, Provider: provider, Err: err}
}
