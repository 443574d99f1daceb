package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"postdeck.app/connect/common/logger"
	"postdeck.app/connect/internal/graph"
	"postdeck.app/connect/internal/model"
	"postdeck.app/connect/internal/store"
)

type ConnectionService interface {
	Save(ctx context.Context, conn model.Connection) (*model.Connection, error)
	Remove(ctx context.Context, clientID string) error
	Get(ctx context.Context, clientID string) (*model.Connection, error)
	ListConnected(ctx context.Context) ([]model.Connection, error)
	CheckHealth(ctx context.Context, clientID string) (*HealthReport, error)
	RefreshProfilePicture(ctx context.Context, clientID string) (string, error)
	RefreshAll(ctx context.Context, opts RefreshOptions) (*RefreshSummary, error)
	Profile(ctx context.Context, clientID string) (*model.AccountProfile, error)
}

// AccountReader is the slice of the Graph API this service calls.
type AccountReader interface {
	GetAccountProfile(ctx context.Context, accountID, token string) (*model.AccountProfile, error)
	VerifyToken(ctx context.Context, token string) (*model.TokenInfo, error)
}

// PictureMirror copies a CDN picture somewhere durable and returns its URL.
type PictureMirror interface {
	Mirror(ctx context.Context, clientID, sourceURL string) (string, error)
}

// PictureObserver is told about picture URLs learned outside a refresh.
type PictureObserver interface {
	Add(clientID, url string)
	Remove(clientID string)
}

type HealthReport struct {
	ProviderExpiry *time.Time `json:"provider_expires_at,omitempty"`
	StoredExpiry   time.Time  `json:"token_expiry"`
	Scopes         []string   `json:"scopes,omitempty"`
	Valid          bool       `json:"valid"`
	ExpirySentinel bool       `json:"token_expiry_sentinel"`
	// StoredExpired is set when the stored expiry has passed, whatever the provider says.
	StoredExpired bool `json:"token_expiry_passed"`
	Removed       bool `json:"removed"`
}

type RefreshOptions struct {
	ClientIDs []string // empty means every connected client
	DryRun    bool
}

type RefreshSummary struct {
	URLs      map[string]string `json:"urls"`
	Failures  map[string]string `json:"failures"`
	Skipped   []string          `json:"skipped,omitempty"`
	Total     int               `json:"total"`
	Refreshed int               `json:"refreshed"`
}

type ConnectionConfig struct {
	// RefreshRate paces Graph calls during a bulk refresh.
	RefreshRate  rate.Limit
	RefreshBurst int
	// BreakerThreshold consecutive provider failures stop the rest of a bulk pass.
	BreakerThreshold uint32
}

type connectionService struct {
	connections store.ConnectionStore
	txRunner    TxRunner
	graph       AccountReader
	mirror      PictureMirror
	observer    PictureObserver
	cfg         ConnectionConfig
}

func NewConnectionService(
	connections store.ConnectionStore,
	txRunner TxRunner,
	graphAPI AccountReader,
	mirror PictureMirror,
	observer PictureObserver,
	cfg ConnectionConfig,
) ConnectionService {
	if cfg.RefreshRate <= 0 {
		cfg.RefreshRate = 5
	}
	if cfg.RefreshBurst <= 0 {
		cfg.RefreshBurst = 1
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	return &connectionService{
		connections: connections,
		txRunner:    txRunner,
		graph:       graphAPI,
		mirror:      mirror,
		observer:    observer,
		cfg:         cfg,
	}
}

func (s *connectionService) Save(ctx context.Context, conn model.Connection) (*model.Connection, error) {
	if conn.ClientID == "" || conn.InstagramAccountID == "" || conn.AccessToken == "" || conn.PageID == "" {
		return nil, ErrInvalidConnection
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ClientID:  &conn.ClientID,
		PageID:    &conn.PageID,
		Component: "connect.service.connection",
	})

	var saved *model.Connection
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		connections := stores.Connections()

		previous, err := connections.Get(ctx, conn.ClientID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("loading current connection: %w", err)
		}
		if previous != nil && previous.InstagramAccountID != conn.InstagramAccountID {
			slog.InfoContext(ctx, "replacing instagram connection",
				"previous_account_id", previous.InstagramAccountID,
				"account_id", conn.InstagramAccountID)
		}

		saved, err = connections.Save(ctx, conn)
		if err != nil {
			return fmt.Errorf("saving connection: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.observer != nil && saved.ProfilePictureURL != "" {
		s.observer.Add(saved.ClientID, saved.ProfilePictureURL)
	}

	slog.InfoContext(ctx, "instagram connection saved",
		"account_id", saved.InstagramAccountID,
		"username", saved.Username,
		"token_expiry", saved.TokenExpiry,
		"token_expiry_sentinel", saved.ExpirySentinel)

	return saved, nil
}

func (s *connectionService) Remove(ctx context.Context, clientID string) error {
	if err := s.connections.Remove(ctx, clientID); err != nil {
		return err
	}
	if s.observer != nil {
		s.observer.Remove(clientID)
	}

	slog.InfoContext(ctx, "instagram connection removed", "client_id", clientID)
	return nil
}

func (s *connectionService) Get(ctx context.Context, clientID string) (*model.Connection, error) {
	return s.connections.Get(ctx, clientID)
}

func (s *connectionService) ListConnected(ctx context.Context) ([]model.Connection, error) {
	return s.connections.ListConnected(ctx)
}

// CheckHealth introspects the stored token. A token the provider no longer
// accepts removes the connection and yields ErrTokenInvalid alongside the report.
func (s *connectionService) CheckHealth(ctx context.Context, clientID string) (*HealthReport, error) {
	conn, err := s.connections.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}

	report := &HealthReport{
		StoredExpiry:   conn.TokenExpiry,
		ExpirySentinel: conn.ExpirySentinel,
		StoredExpired:  conn.Expired(time.Now()),
	}

	info, err := s.graph.VerifyToken(ctx, conn.AccessToken)
	switch {
	case err == nil:
		report.Valid = info.Valid
		report.ProviderExpiry = info.ExpiresAt
		report.Scopes = info.Scopes
	case graph.IsTokenInvalid(err):
		report.Valid = false
	default:
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	if report.Valid {
		return report, nil
	}

	slog.WarnContext(ctx, "stored instagram token rejected, removing connection",
		"client_id", clientID,
		"account_id", conn.InstagramAccountID)

	if err := s.Remove(ctx, clientID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("removing invalid connection: %w", err)
	}
	report.Removed = true
	return report, ErrTokenInvalid
}

// RefreshProfilePicture fetches the current picture URL for one client and persists it.
func (s *connectionService) RefreshProfilePicture(ctx context.Context, clientID string) (string, error) {
	conn, err := s.connections.Get(ctx, clientID)
	if err != nil {
		return "", err
	}
	return s.refreshOne(ctx, *conn)
}

func (s *connectionService) refreshOne(ctx context.Context, conn model.Connection) (string, error) {
	profile, err := s.graph.GetAccountProfile(ctx, conn.InstagramAccountID, conn.AccessToken)
	if err != nil {
		return "", err
	}
	if profile.ProfilePictureURL == "" {
		return "", ErrNoProfilePicture
	}

	url := profile.ProfilePictureURL
	if s.mirror != nil {
		mirrored, err := s.mirror.Mirror(ctx, conn.ClientID, url)
		if err != nil {
			slog.WarnContext(ctx, "mirroring profile picture failed, keeping CDN url",
				"client_id", conn.ClientID, "error", err)
		} else {
			url = mirrored
		}
	}

	if err := s.connections.UpdateProfilePicture(ctx, conn.ClientID, url); err != nil {
		return "", fmt.Errorf("persisting profile picture: %w", err)
	}
	return url, nil
}

// RefreshAll refreshes pictures for every connected client in one paced pass.
// Individual failures are recorded, never returned; the pass stops calling the
// provider once it looks down and marks the remainder skipped.
func (s *connectionService) RefreshAll(ctx context.Context, opts RefreshOptions) (*RefreshSummary, error) {
	conns, err := s.connections.ListConnected(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing connected clients: %w", err)
	}

	if len(opts.ClientIDs) > 0 {
		conns = slices.DeleteFunc(conns, func(c model.Connection) bool {
			return !slices.Contains(opts.ClientIDs, c.ClientID)
		})
	}

	summary := &RefreshSummary{
		URLs:     make(map[string]string),
		Failures: make(map[string]string),
		Total:    len(conns),
	}
	if opts.DryRun {
		for _, c := range conns {
			summary.URLs[c.ClientID] = c.ProfilePictureURL
		}
		return summary, nil
	}

	limiter := rate.NewLimiter(s.cfg.RefreshRate, s.cfg.RefreshBurst)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "graph-bulk-refresh",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.cfg.BreakerThreshold
		},
		// Per-account problems say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || graph.IsTokenInvalid(err) || errors.Is(err, ErrNoProfilePicture) || errors.Is(err, store.ErrNotFound)
		},
	})

	for i, conn := range conns {
		if err := limiter.Wait(ctx); err != nil {
			for _, rest := range conns[i:] {
				summary.Skipped = append(summary.Skipped, rest.ClientID)
			}
			break
		}

		result, err := breaker.Execute(func() (interface{}, error) {
			return s.refreshOne(ctx, conn)
		})
		switch {
		case errors.Is(err, gobreaker.ErrOpenState):
			summary.Skipped = append(summary.Skipped, conn.ClientID)
		case err != nil:
			summary.Failures[conn.ClientID] = graph.UserMessage(err)
			slog.WarnContext(ctx, "profile picture refresh failed",
				"client_id", conn.ClientID, "error", err)
		default:
			summary.URLs[conn.ClientID] = result.(string)
			summary.Refreshed++
		}
	}

	slog.InfoContext(ctx, "bulk profile picture refresh finished",
		"total", summary.Total,
		"refreshed", summary.Refreshed,
		"failed", len(summary.Failures),
		"skipped", len(summary.Skipped))

	return summary, nil
}

// Profile reads live account metrics with the stored token.
func (s *connectionService) Profile(ctx context.Context, clientID string) (*model.AccountProfile, error) {
	conn, err := s.connections.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}

	profile, err := s.graph.GetAccountProfile(ctx, conn.InstagramAccountID, conn.AccessToken)
	if err != nil {
		if graph.IsTokenInvalid(err) {
			if _, herr := s.CheckHealth(ctx, clientID); errors.Is(herr, ErrTokenInvalid) {
				return nil, ErrTokenInvalid
			}
		}
		return nil, err
	}
	return profile, nil
}
