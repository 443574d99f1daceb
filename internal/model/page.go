package model

// LinkedPage is a Facebook page the authenticated user administers. Only
// pages exposing a linked Instagram Business account are eligible for connection.
type LinkedPage struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	AccessToken       string `json:"-"` // page-scoped; usable without further exchange
	BusinessAccountID string `json:"instagram_business_account_id,omitempty"`
}

func (p LinkedPage) Eligible() bool {
	return p.BusinessAccountID != ""
}

// EligiblePages filters pages down to those with a linked business account,
// preserving provider order.
func EligiblePages(pages []LinkedPage) []LinkedPage {
	eligible := make([]LinkedPage, 0, len(pages))
	for _, p := range pages {
		if p.Eligible() {
			eligible = append(eligible, p)
		}
	}
	return eligible
}

// Candidate is one eligible page offered during account selection. Profile is
// nil until the selection flow has fetched it.
type Candidate struct {
	Profile *AccountProfile `json:"profile,omitempty"`
	Page    LinkedPage      `json:"page"`
}
