package dto

import (
	"time"

	"postdeck.app/connect/internal/handoff"
	"postdeck.app/connect/internal/service/integration"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Retry bool   `json:"retry,omitempty"`
}

type AuthorizeResponse struct {
	AuthorizationURL string    `json:"authorization_url"`
	State            string    `json:"state"`
	ExpiresAt        time.Time `json:"expires_at"`
}

func ToAuthorizeResponse(a *integration.Authorization) *AuthorizeResponse {
	return &AuthorizeResponse{
		AuthorizationURL: a.URL,
		State:            a.State,
		ExpiresAt:        a.ExpiresAt,
	}
}

// ExchangeRequest is posted by surfaces that capture the redirect themselves.
type ExchangeRequest struct {
	State            string `json:"state" binding:"required,max=128"`
	Code             string `json:"code" binding:"omitempty,max=2048"`
	Error            string `json:"error,omitempty" binding:"max=255"`
	ErrorReason      string `json:"error_reason,omitempty" binding:"max=255"`
	ErrorDescription string `json:"error_description,omitempty" binding:"max=1024"`
}

func (r ExchangeRequest) Params() integration.CallbackParams {
	return integration.CallbackParams{
		State:            r.State,
		Code:             r.Code,
		Error:            r.Error,
		ErrorReason:      r.ErrorReason,
		ErrorDescription: r.ErrorDescription,
	}
}

type OutcomeResponse struct {
	Status      handoff.Status      `json:"status"`
	ClientID    string              `json:"client_id,omitempty"`
	SelectionID string              `json:"selection_id,omitempty"`
	Username    string              `json:"instagram_username,omitempty"`
	ErrorCode   string              `json:"error_code,omitempty"`
	Message     string              `json:"message,omitempty"`
	Connection  *ConnectionResponse `json:"connection,omitempty"`
	Selection   *SelectionResponse  `json:"selection,omitempty"`
}

func ToOutcomeResponse(outcome handoff.Outcome) *OutcomeResponse {
	return &OutcomeResponse{
		Status:      outcome.Status,
		ClientID:    outcome.ClientID,
		SelectionID: outcome.SelectionID,
		Username:    outcome.Username,
		ErrorCode:   outcome.ErrorCode,
		Message:     outcome.Message,
	}
}

func ToCallbackResponse(result *integration.CallbackResult) *OutcomeResponse {
	resp := ToOutcomeResponse(result.Outcome)
	if result.Connection != nil {
		resp.Connection = ToConnectionResponse(result.Connection)
	}
	if result.Selection != nil {
		resp.Selection = ToSelectionResponse(result.Selection.Snapshot())
	}
	return resp
}

type SelectRequest struct {
	PageID string `json:"page_id" binding:"required,max=64"`
}

type CandidateResponse struct {
	PageID            string `json:"page_id"`
	PageName          string `json:"page_name"`
	AccountID         string `json:"instagram_account_id"`
	Username          string `json:"instagram_username,omitempty"`
	Name              string `json:"name,omitempty"`
	ProfilePictureURL string `json:"profile_picture,omitempty"`
	Followers         int64  `json:"followers_count,omitempty"`
	Loaded            bool   `json:"loaded"`
	Error             string `json:"error,omitempty"`
}

type SelectionResponse struct {
	ID           string                     `json:"id"`
	ClientID     string                     `json:"client_id"`
	State        integration.SelectionState `json:"state"`
	Candidates   []CandidateResponse        `json:"candidates"`
	Pending      int                        `json:"pending_candidates"`
	ChosenPageID string                     `json:"chosen_page_id,omitempty"`
	ErrorCode    string                     `json:"error_code,omitempty"`
	Error        string                     `json:"error,omitempty"`
	Duplicate    bool                       `json:"duplicate,omitempty"`
	Connection   *ConnectionResponse        `json:"connection,omitempty"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

func ToSelectionResponse(snap integration.SelectionSnapshot) *SelectionResponse {
	resp := &SelectionResponse{
		ID:           snap.ID,
		ClientID:     snap.ClientID,
		State:        snap.State,
		Candidates:   make([]CandidateResponse, 0, len(snap.Candidates)),
		Pending:      snap.Pending,
		ChosenPageID: snap.ChosenPageID,
		ErrorCode:    snap.ErrorCode,
		Error:        snap.Error,
		Duplicate:    snap.Duplicate,
		UpdatedAt:    snap.UpdatedAt,
	}
	for _, c := range snap.Candidates {
		cr := CandidateResponse{
			PageID:    c.Page.ID,
			PageName:  c.Page.Name,
			AccountID: c.Page.BusinessAccountID,
			Error:     snap.Failures[c.Page.ID],
		}
		if c.Profile != nil {
			cr.Loaded = true
			cr.Username = c.Profile.Username
			cr.Name = c.Profile.Name
			cr.ProfilePictureURL = c.Profile.ProfilePictureURL
			cr.Followers = c.Profile.Followers
		}
		resp.Candidates = append(resp.Candidates, cr)
	}
	if snap.Connection != nil {
		resp.Connection = ToConnectionResponse(snap.Connection)
	}
	return resp
}
