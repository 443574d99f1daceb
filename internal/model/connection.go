package model

import "time"

// Connection is the finalized Instagram account attached one-to-one to a client.
type Connection struct {
	TokenExpiry        time.Time  `json:"token_expiry"`
	UpdatedAt          time.Time  `json:"updated_at"`
	ConnectedAt        *time.Time `json:"connected_at,omitempty"`
	PictureRefreshedAt *time.Time `json:"profile_picture_refreshed_at,omitempty"`
	ClientID           string     `json:"client_id"`
	InstagramAccountID string     `json:"instagram_account_id"`
	Username           string     `json:"instagram_username"`
	ProfilePictureURL  string     `json:"profile_picture"`
	PageID             string     `json:"page_id"`
	PageName           string     `json:"page_name"`
	AccessToken        string     `json:"-"`
	// ExpirySentinel is set when TokenExpiry is the configured horizon rather
	// than a provider-reported expiry.
	ExpirySentinel bool `json:"token_expiry_sentinel"`
}

// SameAs reports whether two connections would persist to identical rows.
func (c Connection) SameAs(other Connection) bool {
	return c.ClientID == other.ClientID &&
		c.InstagramAccountID == other.InstagramAccountID &&
		c.Username == other.Username &&
		c.ProfilePictureURL == other.ProfilePictureURL &&
		c.PageID == other.PageID &&
		c.PageName == other.PageName &&
		c.AccessToken == other.AccessToken &&
		c.TokenExpiry.Equal(other.TokenExpiry) &&
		c.ExpirySentinel == other.ExpirySentinel
}

// PictureSeenAt is when the stored picture URL was last fetched from the
// provider, or the zero time when unknown.
func (c Connection) PictureSeenAt() time.Time {
	switch {
	case c.PictureRefreshedAt != nil:
		return *c.PictureRefreshedAt
	case c.ConnectedAt != nil:
		return *c.ConnectedAt
	}
	return time.Time{}
}

func (c Connection) Expired(now time.Time) bool {
	return !c.TokenExpiry.IsZero() && now.After(c.TokenExpiry)
}
