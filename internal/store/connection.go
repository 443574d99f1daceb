package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"postdeck.app/connect/core/db/sqlc"
	"postdeck.app/connect/internal/model"
)

type connectionStore struct {
	queries *sqlc.Queries
}

func newConnectionStore(queries *sqlc.Queries) ConnectionStore {
	return &connectionStore{queries: queries}
}

func (s *connectionStore) Get(ctx context.Context, clientID string) (*model.Connection, error) {
	row, err := s.queries.GetClientConnection(ctx, clientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !isConnected(row) {
		return nil, ErrNotFound
	}
	return toConnectionModel(row), nil
}

func (s *connectionStore) Save(ctx context.Context, conn model.Connection) (*model.Connection, error) {
	row, err := s.queries.SaveClientConnection(ctx, sqlc.SaveClientConnectionParams{
		ID:                  conn.ClientID,
		InstagramAccountID:  &conn.InstagramAccountID,
		AccessToken:         &conn.AccessToken,
		InstagramUsername:   &conn.Username,
		ProfilePicture:      nullable(conn.ProfilePictureURL),
		TokenExpiry:         timestamptz(conn.TokenExpiry),
		TokenExpirySentinel: conn.ExpirySentinel,
		PageID:              &conn.PageID,
		PageName:            nullable(conn.PageName),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toConnectionModel(row), nil
}

// Remove clears the connection columns. Removing an absent connection is not
// an error; only an unknown client is.
func (s *connectionStore) Remove(ctx context.Context, clientID string) error {
	n, err := s.queries.ClearClientConnection(ctx, clientID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *connectionStore) UpdateProfilePicture(ctx context.Context, clientID, url string) error {
	n, err := s.queries.UpdateClientProfilePicture(ctx, sqlc.UpdateClientProfilePictureParams{
		ID:             clientID,
		ProfilePicture: nullable(url),
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *connectionStore) ListConnected(ctx context.Context) ([]model.Connection, error) {
	rows, err := s.queries.ListConnectedClients(ctx)
	if err != nil {
		return nil, err
	}

	conns := make([]model.Connection, 0, len(rows))
	for _, row := range rows {
		conns = append(conns, *toConnectionModel(row))
	}
	return conns, nil
}

func isConnected(row sqlc.Client) bool {
	return row.InstagramAccountID != nil && row.AccessToken != nil
}

func toConnectionModel(row sqlc.Client) *model.Connection {
	conn := &model.Connection{
		ClientID:           row.ID,
		InstagramAccountID: deref(row.InstagramAccountID),
		AccessToken:        deref(row.AccessToken),
		Username:           deref(row.InstagramUsername),
		ProfilePictureURL:  deref(row.ProfilePicture),
		PageID:             deref(row.PageID),
		PageName:           deref(row.PageName),
		ExpirySentinel:     row.TokenExpirySentinel,
		UpdatedAt:          row.UpdatedAt.Time,
	}
	if row.TokenExpiry.Valid {
		conn.TokenExpiry = row.TokenExpiry.Time
	}
	if row.InstagramConnectedAt.Valid {
		t := row.InstagramConnectedAt.Time
		conn.ConnectedAt = &t
	}
	if row.ProfilePictureRefreshedAt.Valid {
		t := row.ProfilePictureRefreshedAt.Time
		conn.PictureRefreshedAt = &t
	}
	return conn
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
