package model

import "time"

type AccountProfile struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	Name              string `json:"name,omitempty"`
	ProfilePictureURL string `json:"profile_picture_url,omitempty"`
	Followers         int64  `json:"followers_count"`
	MediaCount        int64  `json:"media_count"`
}

// TokenInfo is the result of token introspection. ExpiresAt is nil when the
// provider reports the token never expires on its own.
type TokenInfo struct {
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	AppID     string     `json:"app_id,omitempty"`
	Scopes    []string   `json:"scopes,omitempty"`
	Valid     bool       `json:"valid"`
}
