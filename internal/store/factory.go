package store

import (
	"postdeck.app/connect/core/db/sqlc"
)

type Stores struct {
	queries *sqlc.Queries
}

func NewStores(queries *sqlc.Queries) *Stores {
	return &Stores{queries: queries}
}

func (s *Stores) Connections() ConnectionStore {
	return newConnectionStore(s.queries)
}
