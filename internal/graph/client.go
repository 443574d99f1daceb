package graph

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"postdeck.app/connect/common/logger"
	"postdeck.app/connect/internal/model"
)

const (
	maxBodyBytes = 1 << 20
	maxPageHops  = 10
)

type Config struct {
	AppID     string
	AppSecret string
	BaseURL   string // https://graph.facebook.com
	DialogURL string // https://www.facebook.com
	Version   string // v23.0
	Scopes    []string
	Timeout   time.Duration
}

// Token is an access token returned by an exchange. ExpiresIn is zero when
// the provider did not report a lifetime.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresIn   time.Duration
}

// API is the Graph surface the rest of the service depends on.
type API interface {
	AuthCodeURL(state, redirectURI string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*Token, error)
	ExchangeLongLived(ctx context.Context, shortToken string) (*Token, error)
	ListLinkedPages(ctx context.Context, token string) ([]model.LinkedPage, error)
	GetAccountProfile(ctx context.Context, accountID, token string) (*model.AccountProfile, error)
	VerifyToken(ctx context.Context, token string) (*model.TokenInfo, error)
}

// Client issues GET calls against the Graph API. It never retries; a failed
// call is returned to the caller immediately.
type Client struct {
	cfg        Config
	httpClient *http.Client
	oauth      *oauth2.Config
}

var _ API = (*Client)(nil)

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.DialogURL = strings.TrimRight(cfg.DialogURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		oauth: &oauth2.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.DialogURL + "/" + cfg.Version + "/dialog/oauth",
				TokenURL:  cfg.BaseURL + "/" + cfg.Version + "/oauth/access_token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

// AuthCodeURL builds the login dialog URL the operator is sent to.
func (c *Client) AuthCodeURL(state, redirectURI string) string {
	return c.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("redirect_uri", redirectURI),
		oauth2.SetAuthURLParam("response_type", "code"),
	)
}

// ExchangeCode trades a single-use authorization code for a short-lived user token.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*Token, error) {
	const op = "exchange_code"

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	sc := logger.StartSpan(ctx, "graph."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer sc.End()
	ctx = context.WithValue(sc.Context(), oauth2.HTTPClient, c.httpClient)

	tok, err := c.oauth.Exchange(ctx, code, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	if err != nil {
		gerr := exchangeError(op, err)
		sc.RecordError(gerr)
		return nil, gerr
	}

	var expiresIn time.Duration
	if !tok.Expiry.IsZero() {
		expiresIn = time.Until(tok.Expiry).Round(time.Second)
	}

	return &Token{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresIn:   expiresIn,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ExchangeLongLived trades a short-lived user token for a long-lived one.
func (c *Client) ExchangeLongLived(ctx context.Context, shortToken string) (*Token, error) {
	const op = "exchange_long_lived"

	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", c.cfg.AppID)
	params.Set("client_secret", c.cfg.AppSecret)
	params.Set("fb_exchange_token", shortToken)

	var resp tokenResponse
	if err := c.get(ctx, op, c.endpoint("/oauth/access_token", params), &resp); err != nil {
		if gerr, ok := AsError(err); ok && gerr.Kind == KindProvider {
			gerr.Kind = KindAuthExchange
		}
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, &Error{Kind: KindAuthExchange, Op: op, Message: "no access token received from Facebook"}
	}

	return &Token{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		ExpiresIn:   time.Duration(resp.ExpiresIn) * time.Second,
	}, nil
}

type pagesResponse struct {
	Data []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		AccessToken string `json:"access_token"`
		Instagram   *struct {
			ID string `json:"id"`
		} `json:"instagram_business_account"`
	} `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// ListLinkedPages returns every page the token holder administers. An
// identity without pages yields an empty slice, not an error.
func (c *Client) ListLinkedPages(ctx context.Context, token string) ([]model.LinkedPage, error) {
	const op = "list_linked_pages"

	params := c.tokenParams(token)
	params.Set("fields", "instagram_business_account,name,id,access_token")
	params.Set("limit", "100")

	pages := []model.LinkedPage{}
	next := c.endpoint("/me/accounts", params)

	for hop := 0; next != "" && hop < maxPageHops; hop++ {
		var resp pagesResponse
		if err := c.get(ctx, op, next, &resp); err != nil {
			return nil, err
		}

		for _, p := range resp.Data {
			page := model.LinkedPage{
				ID:          p.ID,
				Name:        p.Name,
				AccessToken: p.AccessToken,
			}
			if p.Instagram != nil {
				page.BusinessAccountID = p.Instagram.ID
			}
			pages = append(pages, page)
		}

		next = resp.Paging.Next
	}
	if next != "" {
		slog.WarnContext(ctx, "graph linked pages truncated at page limit",
			"count", len(pages),
			"max_hops", maxPageHops)
	}

	slog.DebugContext(ctx, "graph linked pages listed", "count", len(pages))
	return pages, nil
}

type profileResponse struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	Name              string `json:"name"`
	ProfilePictureURL string `json:"profile_picture_url"`
	FollowersCount    int64  `json:"followers_count"`
	MediaCount        int64  `json:"media_count"`
}

func (c *Client) GetAccountProfile(ctx context.Context, accountID, token string) (*model.AccountProfile, error) {
	const op = "get_account_profile"

	params := c.tokenParams(token)
	params.Set("fields", "id,username,name,profile_picture_url,followers_count,media_count")

	var resp profileResponse
	if err := c.get(ctx, op, c.endpoint("/"+url.PathEscape(accountID), params), &resp); err != nil {
		return nil, err
	}

	if resp.ID == "" {
		resp.ID = accountID
	}

	return &model.AccountProfile{
		ID:                resp.ID,
		Username:          resp.Username,
		Name:              resp.Name,
		ProfilePictureURL: resp.ProfilePictureURL,
		Followers:         resp.FollowersCount,
		MediaCount:        resp.MediaCount,
	}, nil
}

type debugTokenResponse struct {
	Data struct {
		AppID     string   `json:"app_id"`
		IsValid   bool     `json:"is_valid"`
		ExpiresAt int64    `json:"expires_at"`
		Scopes    []string `json:"scopes"`
	} `json:"data"`
}

// VerifyToken introspects token with the app token. A token the provider
// reports as invalid is a successful call returning Valid=false.
func (c *Client) VerifyToken(ctx context.Context, token string) (*model.TokenInfo, error) {
	const op = "verify_token"

	params := url.Values{}
	params.Set("input_token", token)
	params.Set("access_token", c.cfg.AppID+"|"+c.cfg.AppSecret)

	var resp debugTokenResponse
	if err := c.get(ctx, op, c.endpoint("/debug_token", params), &resp); err != nil {
		return nil, err
	}

	info := &model.TokenInfo{
		Valid:  resp.Data.IsValid,
		AppID:  resp.Data.AppID,
		Scopes: resp.Data.Scopes,
	}
	if resp.Data.ExpiresAt > 0 {
		exp := time.Unix(resp.Data.ExpiresAt, 0).UTC()
		info.ExpiresAt = &exp
	}
	return info, nil
}

func (c *Client) endpoint(path string, params url.Values) string {
	return c.cfg.BaseURL + "/" + c.cfg.Version + path + "?" + params.Encode()
}

// tokenParams carries the access token and its appsecret_proof.
func (c *Client) tokenParams(token string) url.Values {
	params := url.Values{}
	params.Set("access_token", token)
	if c.cfg.AppSecret != "" {
		params.Set("appsecret_proof", appSecretProof(c.cfg.AppSecret, token))
	}
	return params
}

func (c *Client) get(ctx context.Context, op, rawURL string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	sc := logger.StartSpan(ctx, "graph."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer sc.End()
	ctx = sc.Context()

	err := c.doGet(ctx, op, rawURL, out)
	if err != nil {
		sc.RecordError(err)
		if gerr, ok := AsError(err); ok && gerr.HTTPStatus != nil {
			sc.SetAttributes(attribute.Int("http.response.status_code", *gerr.HTTPStatus))
		}
	}
	return err
}

func (c *Client) doGet(ctx context.Context, op, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, Message: "building request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "graph request failed", "op", op, "error", err)
		return &Error{Kind: KindTransport, Op: op, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, Message: "reading response", Err: err}
	}

	slog.DebugContext(ctx, "graph response",
		"op", op,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeProviderError(op, KindProvider, resp.StatusCode, body)
	}

	// The Graph API occasionally reports errors with a 200.
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		return decodeProviderError(op, KindProvider, resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		status := resp.StatusCode
		return &Error{Kind: KindDecode, Op: op, HTTPStatus: &status, Message: "unexpected response body", Err: err}
	}
	return nil
}

// exchangeError normalizes failures from the oauth2 code exchange.
func exchangeError(op string, err error) *Error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		gerr := decodeProviderError(op, KindAuthExchange, rerr.Response.StatusCode, rerr.Body)
		gerr.Err = err
		return gerr
	}

	var uerr *url.Error
	if errors.As(err, &uerr) {
		return &Error{Kind: KindTransport, Op: op, Message: "request failed", Err: err}
	}

	return &Error{Kind: KindAuthExchange, Op: op, Message: err.Error(), Err: err}
}

func appSecretProof(secret, token string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
