package dto

import (
	"time"

	"postdeck.app/connect/internal/model"
	"postdeck.app/connect/internal/service"
)

type ConnectionResponse struct {
	ClientID           string     `json:"client_id"`
	InstagramAccountID string     `json:"instagram_account_id"`
	Username           string     `json:"instagram_username"`
	ProfilePictureURL  string     `json:"profile_picture,omitempty"`
	PageID             string     `json:"page_id"`
	PageName           string     `json:"page_name"`
	TokenExpiry        time.Time  `json:"token_expiry"`
	ExpirySentinel     bool       `json:"token_expiry_sentinel"`
	ConnectedAt        *time.Time `json:"connected_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ToConnectionResponse never includes the access token.
func ToConnectionResponse(c *model.Connection) *ConnectionResponse {
	return &ConnectionResponse{
		ClientID:           c.ClientID,
		InstagramAccountID: c.InstagramAccountID,
		Username:           c.Username,
		ProfilePictureURL:  c.ProfilePictureURL,
		PageID:             c.PageID,
		PageName:           c.PageName,
		TokenExpiry:        c.TokenExpiry,
		ExpirySentinel:     c.ExpirySentinel,
		ConnectedAt:        c.ConnectedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

type HealthResponse struct {
	ClientID       string     `json:"client_id"`
	Valid          bool       `json:"valid"`
	Removed        bool       `json:"removed"`
	StoredExpiry   time.Time  `json:"token_expiry"`
	ExpirySentinel bool       `json:"token_expiry_sentinel"`
	StoredExpired  bool       `json:"token_expiry_passed"`
	ProviderExpiry *time.Time `json:"provider_expires_at,omitempty"`
	Scopes         []string   `json:"scopes,omitempty"`
}

func ToHealthResponse(clientID string, r *service.HealthReport) *HealthResponse {
	return &HealthResponse{
		ClientID:       clientID,
		Valid:          r.Valid,
		Removed:        r.Removed,
		StoredExpiry:   r.StoredExpiry,
		ExpirySentinel: r.ExpirySentinel,
		StoredExpired:  r.StoredExpired,
		ProviderExpiry: r.ProviderExpiry,
		Scopes:         r.Scopes,
	}
}

type PictureResponse struct {
	ClientID string `json:"client_id"`
	URL      string `json:"url,omitempty"`
	// Stale is set when a refresh was needed but failed and the last known URL is returned.
	Stale bool `json:"stale,omitempty"`
	// Deferred is set when repeated load failures hand repair over to the next sweep.
	Deferred bool `json:"deferred,omitempty"`
}
