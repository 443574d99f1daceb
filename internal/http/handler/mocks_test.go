package handler_test

import (
	"context"
	"errors"

	"postdeck.app/connect/internal/handoff"
	"postdeck.app/connect/internal/model"
	"postdeck.app/connect/internal/service"
	"postdeck.app/connect/internal/service/integration"
	"postdeck.app/connect/internal/urlcache"
)

type mockInstagramService struct {
	beginFn     func(ctx context.Context, clientID string) (*integration.Authorization, error)
	connectFn   func(ctx context.Context, clientID, code, redirectURI string) (*integration.ConnectResult, error)
	callbackFn  func(ctx context.Context, params integration.CallbackParams) (*integration.CallbackResult, error)
	waitFn      func(ctx context.Context, state string) (handoff.Outcome, error)
	selectionFn func(id string) (*integration.Selection, error)
}

func (m *mockInstagramService) BeginAuthorization(ctx context.Context, clientID string) (*integration.Authorization, error) {
	if m.beginFn != nil {
		return m.beginFn(ctx, clientID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockInstagramService) Connect(ctx context.Context, clientID, code, redirectURI string) (*integration.ConnectResult, error) {
	if m.connectFn != nil {
		return m.connectFn(ctx, clientID, code, redirectURI)
	}
	return nil, errors.New("not implemented")
}

func (m *mockInstagramService) HandleCallback(ctx context.Context, params integration.CallbackParams) (*integration.CallbackResult, error) {
	if m.callbackFn != nil {
		return m.callbackFn(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (m *mockInstagramService) Wait(ctx context.Context, state string) (handoff.Outcome, error) {
	if m.waitFn != nil {
		return m.waitFn(ctx, state)
	}
	return handoff.TimedOut(), nil
}

func (m *mockInstagramService) Selection(id string) (*integration.Selection, error) {
	if m.selectionFn != nil {
		return m.selectionFn(id)
	}
	return nil, integration.ErrSelectionNotFound
}

type mockConnectionService struct {
	saveFn        func(ctx context.Context, conn model.Connection) (*model.Connection, error)
	removeFn      func(ctx context.Context, clientID string) error
	getFn         func(ctx context.Context, clientID string) (*model.Connection, error)
	checkHealthFn func(ctx context.Context, clientID string) (*service.HealthReport, error)
	refreshFn     func(ctx context.Context, clientID string) (string, error)
	refreshAllFn  func(ctx context.Context, opts service.RefreshOptions) (*service.RefreshSummary, error)
	profileFn     func(ctx context.Context, clientID string) (*model.AccountProfile, error)
}

func (m *mockConnectionService) Save(ctx context.Context, conn model.Connection) (*model.Connection, error) {
	if m.saveFn != nil {
		return m.saveFn(ctx, conn)
	}
	return &conn, nil
}

func (m *mockConnectionService) Remove(ctx context.Context, clientID string) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, clientID)
	}
	return nil
}

func (m *mockConnectionService) Get(ctx context.Context, clientID string) (*model.Connection, error) {
	if m.getFn != nil {
		return m.getFn(ctx, clientID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockConnectionService) ListConnected(context.Context) ([]model.Connection, error) {
	return nil, nil
}

func (m *mockConnectionService) CheckHealth(ctx context.Context, clientID string) (*service.HealthReport, error) {
	if m.checkHealthFn != nil {
		return m.checkHealthFn(ctx, clientID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockConnectionService) RefreshProfilePicture(ctx context.Context, clientID string) (string, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, clientID)
	}
	return "", errors.New("not implemented")
}

func (m *mockConnectionService) RefreshAll(ctx context.Context, opts service.RefreshOptions) (*service.RefreshSummary, error) {
	if m.refreshAllFn != nil {
		return m.refreshAllFn(ctx, opts)
	}
	return &service.RefreshSummary{URLs: map[string]string{}, Failures: map[string]string{}}, nil
}

func (m *mockConnectionService) Profile(ctx context.Context, clientID string) (*model.AccountProfile, error) {
	if m.profileFn != nil {
		return m.profileFn(ctx, clientID)
	}
	return nil, errors.New("not implemented")
}

type mockPictureCache struct {
	urls          map[string]string
	expired       map[string]bool
	refreshFn     func(ctx context.Context, clientID string) (string, bool)
	loadFailureFn func(ctx context.Context, clientID string) (string, bool)
	loaded        []string
}

func newMockPictureCache() *mockPictureCache {
	return &mockPictureCache{urls: map[string]string{}, expired: map[string]bool{}}
}

func (m *mockPictureCache) Add(clientID, url string) {
	m.urls[clientID] = url
}

func (m *mockPictureCache) Get(clientID string) (string, bool) {
	url, ok := m.urls[clientID]
	return url, ok
}

func (m *mockPictureCache) IsExpired(clientID string) bool {
	return m.expired[clientID]
}

func (m *mockPictureCache) ForceRefresh(ctx context.Context, clientID string) (string, bool) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, clientID)
	}
	return "", false
}

func (m *mockPictureCache) ReportLoadFailure(ctx context.Context, clientID string) (string, bool) {
	if m.loadFailureFn != nil {
		return m.loadFailureFn(ctx, clientID)
	}
	return "", false
}

func (m *mockPictureCache) ReportLoadSuccess(clientID string) {
	m.loaded = append(m.loaded, clientID)
}

func (m *mockPictureCache) Stats() urlcache.Stats {
	return urlcache.Stats{Total: len(m.urls), Active: len(m.urls)}
}

type stubFetcher struct {
	profiles map[string]*model.AccountProfile
}

func (f *stubFetcher) GetAccountProfile(_ context.Context, accountID, _ string) (*model.AccountProfile, error) {
	if p, ok := f.profiles[accountID]; ok {
		return p, nil
	}
	return nil, errors.New("profile unavailable")
}
