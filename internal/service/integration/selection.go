package integration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"postdeck.app/connect/common/id"
	"postdeck.app/connect/common/logger"
	"postdeck.app/connect/internal/graph"
	"postdeck.app/connect/internal/model"
)

type SelectionState string

const (
	SelectionIdle         SelectionState = "idle"
	SelectionLoading      SelectionState = "loading"
	SelectionReady        SelectionState = "ready"
	SelectionAllFailed    SelectionState = "all_failed"
	SelectionCommitting   SelectionState = "committing"
	SelectionCommitted    SelectionState = "committed"
	SelectionCommitFailed SelectionState = "commit_failed"
	SelectionCancelled    SelectionState = "cancelled"
)

// Selected reports whether an account choice has been accepted.
func (s SelectionState) Selected() bool {
	return s == SelectionCommitting || s == SelectionCommitted || s == SelectionCommitFailed
}

// ProfileFetcher loads one candidate's account profile.
type ProfileFetcher interface {
	GetAccountProfile(ctx context.Context, accountID, token string) (*model.AccountProfile, error)
}

// ConnectionSaver persists the chosen account.
type ConnectionSaver interface {
	Save(ctx context.Context, conn model.Connection) (*model.Connection, error)
}

type SelectionSnapshot struct {
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Connection   *model.Connection `json:"connection,omitempty"`
	Failures     map[string]string `json:"failures,omitempty"`
	ID           string            `json:"id"`
	ClientID     string            `json:"client_id"`
	State        SelectionState    `json:"state"`
	ChosenPageID string            `json:"chosen_page_id,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	Error        string            `json:"error,omitempty"`
	Candidates   []model.Candidate `json:"candidates"`
	Pending      int               `json:"pending_candidates"`
	// Duplicate marks a Select that arrived after another one already won.
	Duplicate bool `json:"duplicate"`
}

// Selection lets the operator pick one of several eligible accounts.
// Every method is safe for concurrent use; only the first Select commits.
type Selection struct {
	mu sync.Mutex

	createdAt   time.Time
	updatedAt   time.Time
	tokenExpiry time.Time
	committed   *model.Connection
	err         error
	fetcher     ProfileFetcher
	saver       ConnectionSaver
	now         func() time.Time
	failures    map[string]string
	id          string
	clientID    string
	state       SelectionState
	chosen      string
	pages       []model.LinkedPage
	candidates  []model.Candidate
	concurrency int
	sentinel    bool
}

type SelectionParams struct {
	TokenExpiry    time.Time
	ClientID       string
	Pages          []model.LinkedPage
	Concurrency    int
	ExpirySentinel bool
}

func NewSelection(params SelectionParams, fetcher ProfileFetcher, saver ConnectionSaver) *Selection {
	concurrency := params.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	now := time.Now()
	return &Selection{
		id:          id.NewString(),
		clientID:    params.ClientID,
		state:       SelectionIdle,
		pages:       params.Pages,
		tokenExpiry: params.TokenExpiry,
		sentinel:    params.ExpirySentinel,
		concurrency: concurrency,
		fetcher:     fetcher,
		saver:       saver,
		failures:    map[string]string{},
		now:         time.Now,
		createdAt:   now,
		updatedAt:   now,
	}
}

func (s *Selection) ID() string {
	return s.id
}

func (s *Selection) ClientID() string {
	return s.clientID
}

func (s *Selection) State() SelectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Selection) Snapshot() SelectionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Selection) snapshotLocked() SelectionSnapshot {
	snap := SelectionSnapshot{
		ID:           s.id,
		ClientID:     s.clientID,
		State:        s.state,
		Candidates:   append([]model.Candidate{}, s.candidates...),
		ChosenPageID: s.chosen,
		Connection:   s.committed,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
	}
	if s.state == SelectionIdle || s.state == SelectionLoading {
		snap.Pending = len(s.pages)
	}
	if len(s.failures) > 0 {
		snap.Failures = make(map[string]string, len(s.failures))
		for k, v := range s.failures {
			snap.Failures[k] = v
		}
	}
	if s.err != nil {
		snap.ErrorCode = ErrorCode(s.err)
		snap.Error = UserMessage(s.err)
	}
	return snap
}

func (s *Selection) transitionLocked(to SelectionState) {
	s.state = to
	s.updatedAt = s.now()
}

type fetchResult struct {
	profile *model.AccountProfile
	err     error
}

// Load fetches every candidate's profile. Individual failures drop that
// candidate; only when all fail does Load return ErrAllCandidatesFailed.
// Calling Load again after that re-issues the whole fetch.
func (s *Selection) Load(ctx context.Context) (SelectionSnapshot, error) {
	s.mu.Lock()
	switch s.state {
	case SelectionIdle, SelectionAllFailed:
	case SelectionCancelled:
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrCancelled
	case SelectionLoading:
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrSelectionNotReady
	default:
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	s.transitionLocked(SelectionLoading)
	s.err = nil
	s.failures = map[string]string{}
	pages := s.pages
	s.mu.Unlock()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ClientID:    &s.clientID,
		SelectionID: &s.id,
		Component:   "connect.integration.selection",
	})

	results := make([]fetchResult, len(pages))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, page := range pages {
		g.Go(func() error {
			profile, err := s.fetcher.GetAccountProfile(ctx, page.BusinessAccountID, page.AccessToken)
			results[i] = fetchResult{profile: profile, err: err}
			// Never fail the group: siblings must keep running.
			return nil
		})
	}
	_ = g.Wait()

	candidates := make([]model.Candidate, 0, len(pages))
	failures := make(map[string]string)
	for i, page := range pages {
		r := results[i]
		if r.err != nil {
			failures[page.ID] = graph.UserMessage(r.err)
			slog.WarnContext(ctx, "dropping candidate whose profile failed to load",
				"page_id", page.ID,
				"account_id", page.BusinessAccountID,
				"error", r.err)
			continue
		}
		candidates = append(candidates, model.Candidate{Page: page, Profile: r.profile})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SelectionCancelled {
		return s.snapshotLocked(), ErrCancelled
	}

	s.candidates = candidates
	s.failures = failures

	if len(candidates) == 0 {
		s.err = ErrAllCandidatesFailed
		s.transitionLocked(SelectionAllFailed)
		slog.WarnContext(ctx, "all candidate profiles failed", "candidates", len(pages))
		return s.snapshotLocked(), ErrAllCandidatesFailed
	}

	s.transitionLocked(SelectionReady)
	slog.InfoContext(ctx, "selection candidates loaded",
		"loaded", len(candidates),
		"dropped", len(failures))
	return s.snapshotLocked(), nil
}

// Select commits pageID. The first call to arrive while Ready wins; any call
// after it returns the current snapshot with Duplicate set and never saves.
func (s *Selection) Select(ctx context.Context, pageID string) (SelectionSnapshot, error) {
	s.mu.Lock()
	switch s.state {
	case SelectionReady:
	case SelectionCommitting, SelectionCommitted, SelectionCommitFailed:
		snap := s.snapshotLocked()
		snap.Duplicate = true
		s.mu.Unlock()
		return snap, nil
	case SelectionCancelled:
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrCancelled
	default:
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrSelectionNotReady
	}

	var chosen *model.Candidate
	for i := range s.candidates {
		if s.candidates[i].Page.ID == pageID {
			chosen = &s.candidates[i]
			break
		}
	}
	if chosen == nil {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrCandidateNotFound
	}

	s.chosen = pageID
	s.transitionLocked(SelectionCommitting)
	conn := s.connectionFor(*chosen)
	s.mu.Unlock()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ClientID:    &s.clientID,
		SelectionID: &s.id,
		PageID:      &pageID,
		Component:   "connect.integration.selection",
	})

	saved, err := s.saver.Save(ctx, conn)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.err = fmt.Errorf("%w: %w", ErrCommitFailed, err)
		s.transitionLocked(SelectionCommitFailed)
		slog.ErrorContext(ctx, "saving selected account failed", "error", err)
		return s.snapshotLocked(), s.err
	}

	s.committed = saved
	s.transitionLocked(SelectionCommitted)
	slog.InfoContext(ctx, "selected account committed", "account_id", saved.InstagramAccountID)
	return s.snapshotLocked(), nil
}

func (s *Selection) connectionFor(c model.Candidate) model.Connection {
	conn := model.Connection{
		ClientID:           s.clientID,
		InstagramAccountID: c.Page.BusinessAccountID,
		PageID:             c.Page.ID,
		PageName:           c.Page.Name,
		AccessToken:        c.Page.AccessToken,
		TokenExpiry:        s.tokenExpiry,
		ExpirySentinel:     s.sentinel,
	}
	if c.Profile != nil {
		conn.Username = c.Profile.Username
		conn.ProfilePictureURL = c.Profile.ProfilePictureURL
	}
	return conn
}

// Cancel ends the selection before any account is chosen. Cancelling twice
// is a no-op; cancelling after a choice returns ErrSelectionClosed.
func (s *Selection) Cancel() (SelectionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Selected() {
		return s.snapshotLocked(), ErrSelectionClosed
	}
	if s.state != SelectionCancelled {
		s.err = ErrCancelled
		s.transitionLocked(SelectionCancelled)
	}
	return s.snapshotLocked(), nil
}

func (s *Selection) lastTransition() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Finished reports whether the selection reached a state it cannot leave.
func (s *Selection) Finished() bool {
	switch s.State() {
	case SelectionCommitted, SelectionCommitFailed, SelectionCancelled:
		return true
	}
	return false
}

// finishedRetention is how long a finished selection stays readable after its
// last transition, so late duplicate selects still see the outcome.
const finishedRetention = time.Minute

// SelectionRegistry holds live selections in memory until they expire or
// finish.
type SelectionRegistry struct {
	mu    sync.Mutex
	items map[string]*Selection
	ttl   time.Duration
	now   func() time.Time
}

func NewSelectionRegistry(ttl time.Duration) *SelectionRegistry {
	return &SelectionRegistry{
		items: make(map[string]*Selection),
		ttl:   ttl,
		now:   time.Now,
	}
}

// WithClock replaces the registry's time source.
func (r *SelectionRegistry) WithClock(now func() time.Time) *SelectionRegistry {
	r.now = now
	return r
}

func (r *SelectionRegistry) Put(s *Selection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	r.items[s.ID()] = s
}

func (r *SelectionRegistry) Get(id string) (*Selection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.items[id]
	if !ok {
		return nil, ErrSelectionNotFound
	}
	if r.expired(s) {
		delete(r.items, id)
		return nil, ErrSelectionNotFound
	}
	return s, nil
}

func (r *SelectionRegistry) pruneLocked() {
	for id, s := range r.items {
		if r.expired(s) {
			delete(r.items, id)
		}
	}
}

func (r *SelectionRegistry) expired(s *Selection) bool {
	now := r.now()
	if now.Sub(s.createdAt) > r.ttl {
		return true
	}
	return s.Finished() && now.Sub(s.lastTransition()) > finishedRetention
}
