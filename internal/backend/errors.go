package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrRequestExpired means the ride request timed out before the accept landed.
	ErrRequestExpired = errors.New("ride request expired")
	// ErrRequestTaken means another driver accepted the ride request first.
	ErrRequestTaken = errors.New("ride request already taken")
)

// APIError is a non-success answer from the backend.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: backend returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.StatusCode, e.Message)
}

// classifyAccept maps accept failures onto the domain rejections the
// coordinator handles as normal outcomes.
func classifyAccept(apiErr *APIError) error {
	msg := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.StatusCode == http.StatusGone,
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "expired"):
		return fmt.Errorf("%w: %s", ErrRequestExpired, apiErr.Message)
	case apiErr.StatusCode == http.StatusConflict,
		strings.Contains(msg, "taken"),
		strings.Contains(msg, "already accepted"):
		return fmt.Errorf("%w: %s", ErrRequestTaken, apiErr.Message)
	}
	return apiErr
}
