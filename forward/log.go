// Package forward delivers stored events to downstream HTTP targets and
// records the outcome of every attempt.
package forward

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/xraph/relayhub/id"
)

// ErrNoTarget is returned when a delivery has no resolvable target URL.
var ErrNoTarget = errors.New("relayhub: no target URL configured")

// MaxErrorLength bounds Log.ErrorMessage and the stored response excerpt.
const MaxErrorLength = 500

// Failure reasons recorded on dead-letter entries.
const (
	ReasonTimeout      = "timeout"
	ReasonHTTPStatus   = "http_error"
	ReasonNetworkError = "network_error"
)

// Log is one delivery attempt. Logs are append-only.
type Log struct {
	ID        id.ID  `json:"id"`
	EventID   id.ID  `json:"event_id"`
	TargetURL string `json:"target_url"`

	// StatusCode is nil when no HTTP response was received.
	StatusCode *int `json:"status_code,omitempty"`

	Success bool `json:"success"`

	// ErrorMessage is empty on success.
	ErrorMessage string `json:"error_message,omitempty"`

	// Reason classifies a failure. Empty on success.
	Reason string `json:"reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
