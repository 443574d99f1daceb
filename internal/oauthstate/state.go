// Package oauthstate keeps the pending authorization requests issued by the
// connect flow. Each state value can be consumed exactly once.
package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var ErrUnknownState = errors.New("unknown or expired oauth state")

// PendingAuth is what the callback needs to finish an authorization it did not start.
type PendingAuth struct {
	CreatedAt   time.Time `json:"created_at"`
	State       string    `json:"state"`
	ClientID    string    `json:"client_id"`
	RedirectURI string    `json:"redirect_uri"`
}

type Store interface {
	Save(ctx context.Context, pending PendingAuth, ttl time.Duration) error
	// Consume returns and deletes the pending entry. A second call for the
	// same state returns ErrUnknownState.
	Consume(ctx context.Context, state string) (*PendingAuth, error)
}

// NewState returns a 256-bit URL-safe random state value.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
