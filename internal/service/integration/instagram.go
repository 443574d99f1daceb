package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"postdeck.app/connect/common/logger"
	"postdeck.app/connect/internal/graph"
	"postdeck.app/connect/internal/handoff"
	"postdeck.app/connect/internal/model"
	"postdeck.app/connect/internal/oauthstate"
)

type InstagramService interface {
	BeginAuthorization(ctx context.Context, clientID string) (*Authorization, error)
	// Connect runs the exchange sequence without persisting anything.
	Connect(ctx context.Context, clientID, code, redirectURI string) (*ConnectResult, error)
	HandleCallback(ctx context.Context, params CallbackParams) (*CallbackResult, error)
	Wait(ctx context.Context, state string) (handoff.Outcome, error)
	Selection(id string) (*Selection, error)
}

type InstagramConfig struct {
	RedirectURI string
	// SentinelTTL is stored as the expiry horizon when the provider reports
	// no token lifetime; such connections carry ExpirySentinel=true.
	SentinelTTL      time.Duration
	StateTTL         time.Duration
	WaitTimeout      time.Duration
	FetchConcurrency int
}

type Authorization struct {
	ExpiresAt time.Time `json:"expires_at"`
	URL       string    `json:"authorization_url"`
	State     string    `json:"state"`
}

// ConnectResult holds exactly one of Connection (one eligible page, fully
// resolved) or Candidates (several eligible pages, no profiles fetched yet).
type ConnectResult struct {
	TokenExpiry    time.Time
	Connection     *model.Connection
	Candidates     []model.Candidate
	ExpirySentinel bool
}

type CallbackParams struct {
	State            string
	Code             string
	Error            string
	ErrorReason      string
	ErrorDescription string
}

type CallbackResult struct {
	Connection *model.Connection
	Selection  *Selection
	Outcome    handoff.Outcome
	ClientID   string
	State      string
}

type instagramService struct {
	graph      graph.API
	saver      ConnectionSaver
	states     oauthstate.Store
	broker     handoff.Broker
	selections *SelectionRegistry
	now        func() time.Time
	cfg        InstagramConfig
}

func NewInstagramService(
	graphAPI graph.API,
	saver ConnectionSaver,
	states oauthstate.Store,
	broker handoff.Broker,
	selections *SelectionRegistry,
	cfg InstagramConfig,
) InstagramService {
	return &instagramService{
		graph:      graphAPI,
		saver:      saver,
		states:     states,
		broker:     broker,
		selections: selections,
		now:        time.Now,
		cfg:        cfg,
	}
}

func (s *instagramService) BeginAuthorization(ctx context.Context, clientID string) (*Authorization, error) {
	state, err := oauthstate.NewState()
	if err != nil {
		return nil, err
	}

	now := s.now()
	pending := oauthstate.PendingAuth{
		State:       state,
		ClientID:    clientID,
		RedirectURI: s.cfg.RedirectURI,
		CreatedAt:   now,
	}
	if err := s.states.Save(ctx, pending, s.cfg.StateTTL); err != nil {
		return nil, fmt.Errorf("saving pending authorization: %w", err)
	}

	slog.InfoContext(ctx, "instagram authorization started",
		"client_id", clientID,
		"oauth_state", logger.Truncate(state, 12))

	return &Authorization{
		URL:       s.graph.AuthCodeURL(state, s.cfg.RedirectURI),
		State:     state,
		ExpiresAt: now.Add(s.cfg.StateTTL),
	}, nil
}

func (s *instagramService) Connect(ctx context.Context, clientID, code, redirectURI string) (*ConnectResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ClientID:  &clientID,
		Component: "connect.integration.instagram",
	})

	short, err := s.graph.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, exchangeFailed("exchanging authorization code", err)
	}

	long, err := s.graph.ExchangeLongLived(ctx, short.AccessToken)
	if err != nil {
		return nil, exchangeFailed("exchanging for long-lived token", err)
	}
	expiry, sentinel := s.tokenExpiry(long)

	pages, err := s.graph.ListLinkedPages(ctx, long.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("listing linked pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, ErrNoLinkedPages
	}

	eligible := model.EligiblePages(pages)
	if len(eligible) == 0 {
		slog.InfoContext(ctx, "no linked page exposes a business account", "pages", len(pages))
		return nil, ErrNoBusinessAccount
	}

	result := &ConnectResult{TokenExpiry: expiry, ExpirySentinel: sentinel}

	if len(eligible) > 1 {
		result.Candidates = make([]model.Candidate, 0, len(eligible))
		for _, p := range eligible {
			result.Candidates = append(result.Candidates, model.Candidate{Page: p})
		}
		slog.InfoContext(ctx, "multiple eligible pages, selection required", "candidates", len(eligible))
		return result, nil
	}

	page := eligible[0]
	profile, err := s.graph.GetAccountProfile(ctx, page.BusinessAccountID, page.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("fetching account profile: %w", err)
	}

	result.Connection = &model.Connection{
		ClientID:           clientID,
		InstagramAccountID: page.BusinessAccountID,
		Username:           profile.Username,
		ProfilePictureURL:  profile.ProfilePictureURL,
		PageID:             page.ID,
		PageName:           page.Name,
		AccessToken:        page.AccessToken,
		TokenExpiry:        expiry,
		ExpirySentinel:     sentinel,
	}
	return result, nil
}

// exchangeFailed separates a rejected exchange from a provider that could not be reached.
func exchangeFailed(step string, err error) error {
	if graph.IsAuthExchange(err) {
		return fmt.Errorf("%w: %w", ErrAuthExchange, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}

// tokenExpiry uses the reported lifetime, or the sentinel horizon when none was reported.
func (s *instagramService) tokenExpiry(tok *graph.Token) (time.Time, bool) {
	if tok.ExpiresIn > 0 {
		return s.now().Add(tok.ExpiresIn), false
	}
	return s.now().Add(s.cfg.SentinelTTL), true
}

// HandleCallback finishes an authorization and publishes its outcome under
// the state value in every branch past state validation.
func (s *instagramService) HandleCallback(ctx context.Context, params CallbackParams) (*CallbackResult, error) {
	if params.State == "" {
		return nil, ErrInvalidState
	}

	pending, err := s.states.Consume(ctx, params.State)
	if err != nil {
		if errors.Is(err, oauthstate.ErrUnknownState) {
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("consuming authorization state: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ClientID:   &pending.ClientID,
		OAuthState: &params.State,
		Component:  "connect.integration.instagram",
	})

	result := &CallbackResult{ClientID: pending.ClientID, State: params.State}

	if err := callbackError(params); err != nil {
		slog.InfoContext(ctx, "authorization not granted",
			"error", params.Error,
			"error_reason", params.ErrorReason)
		return result, s.fail(ctx, result, err)
	}

	connected, err := s.Connect(ctx, pending.ClientID, params.Code, pending.RedirectURI)
	if err != nil {
		slog.WarnContext(ctx, "instagram connect failed", "error", err)
		return result, s.fail(ctx, result, err)
	}

	if connected.Connection != nil {
		saved, err := s.saver.Save(ctx, *connected.Connection)
		if err != nil {
			return result, s.fail(ctx, result, fmt.Errorf("%w: %w", ErrCommitFailed, err))
		}
		result.Connection = saved
		result.Outcome = handoff.Outcome{
			Status:   handoff.StatusConnected,
			ClientID: pending.ClientID,
			Username: saved.Username,
		}
		s.publish(ctx, params.State, result.Outcome)
		return result, nil
	}

	pages := make([]model.LinkedPage, 0, len(connected.Candidates))
	for _, c := range connected.Candidates {
		pages = append(pages, c.Page)
	}
	sel := NewSelection(SelectionParams{
		ClientID:       pending.ClientID,
		Pages:          pages,
		TokenExpiry:    connected.TokenExpiry,
		ExpirySentinel: connected.ExpirySentinel,
		Concurrency:    s.cfg.FetchConcurrency,
	}, s.graph, s.saver)
	s.selections.Put(sel)

	result.Selection = sel
	result.Outcome = handoff.Outcome{
		Status:      handoff.StatusSelectionRequired,
		ClientID:    pending.ClientID,
		SelectionID: sel.ID(),
	}
	s.publish(ctx, params.State, result.Outcome)

	slog.InfoContext(ctx, "account selection created",
		"selection_id", sel.ID(),
		"candidates", len(pages))
	return result, nil
}

func callbackError(params CallbackParams) error {
	switch {
	case params.Error == "access_denied":
		return &CallbackError{Kind: ErrAccessDenied, Reason: params.ErrorReason, Description: params.ErrorDescription}
	case params.Error != "":
		return &CallbackError{Kind: ErrProviderDenied, Reason: params.ErrorReason, Description: params.ErrorDescription}
	case params.Code == "":
		return &CallbackError{Kind: ErrProviderDenied, Description: "The authorization response did not include a code."}
	}
	return nil
}

func (s *instagramService) fail(ctx context.Context, result *CallbackResult, err error) error {
	status := handoff.StatusFailed
	if errors.Is(err, ErrCancelled) {
		status = handoff.StatusCancelled
	}
	result.Outcome = handoff.Outcome{
		Status:    status,
		ClientID:  result.ClientID,
		ErrorCode: ErrorCode(err),
		Message:   UserMessage(err),
	}
	s.publish(ctx, result.State, result.Outcome)
	return err
}

func (s *instagramService) publish(ctx context.Context, state string, outcome handoff.Outcome) {
	// The waiting surface must learn the outcome even if this request is gone.
	if err := s.broker.Publish(context.WithoutCancel(ctx), state, outcome); err != nil {
		slog.ErrorContext(ctx, "publishing connect outcome failed",
			"status", outcome.Status,
			"error", err)
	}
}

func (s *instagramService) Wait(ctx context.Context, state string) (handoff.Outcome, error) {
	return s.broker.Wait(ctx, state, s.cfg.WaitTimeout)
}

func (s *instagramService) Selection(id string) (*Selection, error) {
	return s.selections.Get(id)
}
