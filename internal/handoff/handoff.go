// Package handoff carries the outcome of an authorization from the callback
// that finished it to the surface that started it. The two never share memory;
// they meet on the OAuth state value.
package handoff

import (
	"context"
	"time"
)

// Status of a finished connect attempt.
type Status string

const (
	StatusConnected         Status = "connected"
	StatusSelectionRequired Status = "selection_required"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s != StatusSelectionRequired
}

type Outcome struct {
	Status      Status `json:"status"`
	ClientID    string `json:"client_id,omitempty"`
	SelectionID string `json:"selection_id,omitempty"`
	Username    string `json:"instagram_username,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	Message     string `json:"message,omitempty"`
}

// TimedOut is the outcome reported when nothing was published in time.
func TimedOut() Outcome {
	return Outcome{
		Status:    StatusCancelled,
		ErrorCode: "timeout",
		Message:   "The authorization window was closed or timed out.",
	}
}

type Broker interface {
	Publish(ctx context.Context, key string, outcome Outcome) error
	// Wait blocks until an outcome for key is published, the timeout passes
	// (yielding TimedOut), or ctx ends. An outcome published before Wait was
	// called is returned immediately.
	Wait(ctx context.Context, key string, timeout time.Duration) (Outcome, error)
}
