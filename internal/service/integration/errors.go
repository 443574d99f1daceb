package integration

import (
	"errors"

	"postdeck.app/connect/internal/graph"
)

var (
	ErrAuthExchange        = errors.New("authorization exchange rejected")
	ErrAccessDenied        = errors.New("authorization denied by user")
	ErrProviderDenied      = errors.New("authorization failed at provider")
	ErrInvalidState        = errors.New("unknown or expired authorization state")
	ErrNoLinkedPages       = errors.New("no linked facebook pages")
	ErrNoBusinessAccount   = errors.New("no linked instagram business account")
	ErrAllCandidatesFailed = errors.New("every candidate account failed to load")
	ErrCancelled           = errors.New("connection cancelled by user")
	ErrSelectionNotFound   = errors.New("selection not found")
	ErrSelectionNotReady   = errors.New("selection is not ready")
	ErrSelectionClosed     = errors.New("selection already finished")
	ErrCandidateNotFound   = errors.New("candidate not found")
	ErrCommitFailed        = errors.New("saving selected account failed")
)

// CallbackError carries what the provider reported on the redirect.
type CallbackError struct {
	Kind        error
	Reason      string
	Description string
}

func (e *CallbackError) Error() string {
	if e.Description == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Description
}

func (e *CallbackError) Unwrap() error {
	return e.Kind
}

// ErrorCode is the stable machine-readable code for a connect-flow error.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthExchange):
		return "auth_exchange_failed"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrProviderDenied):
		return "provider_error"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrNoLinkedPages):
		return "no_linked_pages"
	case errors.Is(err, ErrNoBusinessAccount):
		return "no_business_account"
	case errors.Is(err, ErrAllCandidatesFailed):
		return "all_candidates_failed"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrSelectionNotFound):
		return "not_found"
	case errors.Is(err, ErrSelectionNotReady):
		return "selection_not_ready"
	case errors.Is(err, ErrSelectionClosed):
		return "selection_closed"
	case errors.Is(err, ErrCandidateNotFound):
		return "candidate_not_found"
	case errors.Is(err, ErrCommitFailed):
		return "commit_failed"
	}
	if _, ok := graph.AsError(err); ok {
		return "provider_unavailable"
	}
	return "internal_error"
}

// UserMessage is the one actionable sentence shown to the operator.
func UserMessage(err error) string {
	var cbErr *CallbackError
	switch {
	case errors.Is(err, ErrAccessDenied):
		return "You must authorize the app on Facebook to connect an Instagram account."
	case errors.As(err, &cbErr) && cbErr.Description != "":
		return cbErr.Description
	case errors.Is(err, ErrProviderDenied):
		return "Facebook could not complete the authorization. Please try again."
	case errors.Is(err, ErrAuthExchange):
		return graph.UserMessage(err)
	case errors.Is(err, ErrInvalidState):
		return "This authorization link has expired. Please start the connection again."
	case errors.Is(err, ErrNoLinkedPages):
		return "No Facebook pages found. Link a Facebook page to your account first."
	case errors.Is(err, ErrNoBusinessAccount):
		return "None of your Facebook pages has an Instagram Business account. Link one to a page first."
	case errors.Is(err, ErrAllCandidatesFailed):
		return "None of your Instagram accounts could be loaded. Please retry."
	case errors.Is(err, ErrCancelled):
		return "The connection was cancelled."
	case errors.Is(err, ErrSelectionNotFound):
		return "This account selection has expired. Please start the connection again."
	case errors.Is(err, ErrSelectionNotReady):
		return "Accounts are still loading."
	case errors.Is(err, ErrSelectionClosed):
		return "An account has already been selected."
	case errors.Is(err, ErrCandidateNotFound):
		return "That account is not one of the available choices."
	case errors.Is(err, ErrCommitFailed):
		return "The selected account could not be saved. Please try again."
	}
	return graph.UserMessage(err)
}
