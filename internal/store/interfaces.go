package store

import (
	"context"
	"errors"

	"postdeck.app/connect/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ConnectionStore defines the contract for a client's Instagram connection.
// Connections live on the client row; a client without one reads as ErrNotFound.
type ConnectionStore interface {
	Get(ctx context.Context, clientID string) (*model.Connection, error)
	// Save overwrites the client's connection. Saving identical data leaves
	// the row, including updated_at, unchanged.
	Save(ctx context.Context, conn model.Connection) (*model.Connection, error)
	Remove(ctx context.Context, clientID string) error
	UpdateProfilePicture(ctx context.Context, clientID, url string) error
	ListConnected(ctx context.Context) ([]model.Connection, error)
}
