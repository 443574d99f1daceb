// Package graphtest provides an in-process fake of the Graph API endpoints
// used by the connect flow.
package graphtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

const Version = "v23.0"

type Page struct {
	ID                string
	Name              string
	AccessToken       string
	BusinessAccountID string
}

type Profile struct {
	ID                string
	Username          string
	Name              string
	ProfilePictureURL string
	Followers         int64
	MediaCount        int64
}

type LongLived struct {
	Token     string
	ExpiresIn int64
}

type TokenStatus struct {
	Valid     bool
	ExpiresAt int64
}

// Server is a scripted Graph API. Codes are single-use.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	AppID     string
	AppSecret string

	Codes       map[string]string      // authorization code -> short-lived token
	LongLived   map[string]LongLived   // short-lived token -> long-lived token
	Pages       map[string][]Page      // user token -> pages
	Profiles    map[string]Profile     // account id -> profile
	FailProfile map[string]int         // account id -> HTTP status to fail with
	Tokens      map[string]TokenStatus // token -> debug_token result
	ProfileWait time.Duration          // delay before answering profile reads
	PageSize    int                    // pages per /me/accounts response, 0 for all
	calls       map[string]int
}

func NewServer() *Server {
	s := &Server{
		AppID:       "app-123",
		AppSecret:   "app-secret",
		Codes:       map[string]string{},
		LongLived:   map[string]LongLived{},
		Pages:       map[string][]Page{},
		Profiles:    map[string]Profile{},
		FailProfile: map[string]int{},
		Tokens:      map[string]TokenStatus{},
		calls:       map[string]int{},
	}
	s.Server = httptest.NewServer(s)
	return s
}

// Calls returns how many requests hit the named operation
// ("exchange_code", "exchange_long_lived", "accounts", "profile:<id>", "debug_token").
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Server) count(op string) {
	s.mu.Lock()
	s.calls[op]++
	s.mu.Unlock()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/"+Version)
	_ = r.ParseForm()

	switch {
	case path == "/oauth/access_token":
		if r.Form.Get("grant_type") == "fb_exchange_token" {
			s.exchangeLongLived(w, r)
			return
		}
		s.exchangeCode(w, r)
	case path == "/me/accounts":
		s.accounts(w, r)
	case path == "/debug_token":
		s.debugToken(w, r)
	case strings.Count(path, "/") == 1:
		s.profile(w, r, strings.TrimPrefix(path, "/"))
	default:
		writeError(w, http.StatusNotFound, "Unknown path components", "OAuthException", 2500)
	}
}

func (s *Server) exchangeCode(w http.ResponseWriter, r *http.Request) {
	s.count("exchange_code")

	if r.Form.Get("client_id") != s.AppID || r.Form.Get("client_secret") != s.AppSecret {
		writeError(w, http.StatusBadRequest, "Error validating client secret.", "OAuthException", 1)
		return
	}

	code := r.Form.Get("code")
	s.mu.Lock()
	token, ok := s.Codes[code]
	delete(s.Codes, code)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusBadRequest, "This authorization code has been used.", "OAuthException", 100)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   3600,
	})
}

func (s *Server) exchangeLongLived(w http.ResponseWriter, r *http.Request) {
	s.count("exchange_long_lived")

	s.mu.Lock()
	ll, ok := s.LongLived[r.Form.Get("fb_exchange_token")]
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid OAuth access token.", "OAuthException", 190)
		return
	}

	resp := map[string]any{"access_token": ll.Token, "token_type": "bearer"}
	if ll.ExpiresIn > 0 {
		resp["expires_in"] = ll.ExpiresIn
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) accounts(w http.ResponseWriter, r *http.Request) {
	s.count("accounts")

	token := r.Form.Get("access_token")
	s.mu.Lock()
	pages, ok := s.Pages[token]
	pageSize := s.PageSize
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid OAuth access token.", "OAuthException", 190)
		return
	}

	offset := 0
	if after := r.Form.Get("after"); after != "" {
		for i, p := range pages {
			if p.ID == after {
				offset = i + 1
			}
		}
	}

	end := len(pages)
	if pageSize > 0 && offset+pageSize < end {
		end = offset + pageSize
	}

	data := make([]map[string]any, 0, end-offset)
	for _, p := range pages[offset:end] {
		item := map[string]any{"id": p.ID, "name": p.Name, "access_token": p.AccessToken}
		if p.BusinessAccountID != "" {
			item["instagram_business_account"] = map[string]string{"id": p.BusinessAccountID}
		}
		data = append(data, item)
	}

	resp := map[string]any{"data": data}
	if end < len(pages) {
		q := r.URL.Query()
		q.Set("after", pages[end-1].ID)
		resp["paging"] = map[string]any{"next": s.URL + r.URL.Path + "?" + q.Encode()}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request, id string) {
	s.count("profile:" + id)

	s.mu.Lock()
	wait := s.ProfileWait
	status, failing := s.FailProfile[id]
	profile, ok := s.Profiles[id]
	s.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-r.Context().Done():
			return
		}
	}

	if failing {
		writeError(w, status, "Unsupported get request.", "GraphMethodException", 100)
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "Object does not exist.", "GraphMethodException", 100)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":                  profile.ID,
		"username":            profile.Username,
		"name":                profile.Name,
		"profile_picture_url": profile.ProfilePictureURL,
		"followers_count":     profile.Followers,
		"media_count":         profile.MediaCount,
	})
}

func (s *Server) debugToken(w http.ResponseWriter, r *http.Request) {
	s.count("debug_token")

	if r.Form.Get("access_token") != s.AppID+"|"+s.AppSecret {
		writeError(w, http.StatusBadRequest, "Invalid app token.", "OAuthException", 190)
		return
	}

	s.mu.Lock()
	status := s.Tokens[r.Form.Get("input_token")]
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"app_id":     s.AppID,
			"is_valid":   status.Valid,
			"expires_at": status.ExpiresAt,
			"scopes":     []string{"instagram_basic", "pages_show_list"},
		},
	})
}

// Set mutates the scripted state under the server lock.
func (s *Server) Set(fn func(s *Server)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func writeError(w http.ResponseWriter, status int, message, typ string, code int) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message":    message,
			"type":       typ,
			"code":       code,
			"fbtrace_id": "AbCdEf123",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
