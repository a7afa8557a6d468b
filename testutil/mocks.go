// Package testutil holds fakes shared by package tests: a Helix and emote-provider
// server, and a Postgres helper that skips when no database is configured.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// MockTwitchServer serves Helix, the app token endpoint and the emote providers
// from one httptest server, keyed by request path.
type MockTwitchServer struct {
	*httptest.Server
	mu       sync.Mutex
	Handlers map[string]http.HandlerFunc
	Hits     map[string]int
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		Hits:     make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.Hits[r.URL.Path]++
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Count returns how often path was requested.
func (m *MockTwitchServer) Count(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Hits[path]
}

// Handle registers fn for path.
func (m *MockTwitchServer) Handle(path string, fn http.HandlerFunc) {
	m.mu.Lock()
	m.Handlers[path] = fn
	m.mu.Unlock()
}

// JSON registers a handler answering path with v.
func (m *MockTwitchServer) JSON(path string, v any) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
	})
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.JSON("/helix/users", map[string]any{
		"data": []map[string]string{{"id": userID, "login": login, "display_name": login}},
	})
}

// MockVideo is one archive returned by MockVideosResponse.
type MockVideo struct {
	ID           string `json:"id"`
	StreamID     string `json:"stream_id"`
	Title        string `json:"title"`
	Duration     string `json:"duration"`
	ThumbnailURL string `json:"thumbnail_url"`
	CreatedAt    string `json:"created_at"`
	Type         string `json:"type"`
}

// MockVideosResponse adds a handler for /helix/videos endpoint
func (m *MockTwitchServer) MockVideosResponse(videos []MockVideo, cursor string) {
	for i := range videos {
		if videos[i].Type == "" {
			videos[i].Type = "archive"
		}
	}
	m.JSON("/helix/videos", map[string]any{
		"data":       videos,
		"pagination": map[string]string{"cursor": cursor},
	})
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.JSON("/oauth2/token", map[string]any{
		"access_token": accessToken,
		"expires_in":   expiresIn,
		"token_type":   "bearer",
	})
}

// MockEmptyEmotes answers every emote provider route for userID with empty sets.
func (m *MockTwitchServer) MockEmptyEmotes(userID string) {
	m.JSON("/v1/room/id/"+userID, map[string]any{"room": map[string]any{"set": 1}, "sets": map[string]any{"1": map[string]any{"emoticons": []any{}}}})
	m.JSON("/3/cached/emotes/global", []any{})
	m.JSON("/3/cached/users/twitch/"+userID, map[string]any{"channelEmotes": []any{}, "sharedEmotes": []any{}})
	m.JSON("/v3/users/twitch/"+userID, map[string]any{"emote_set": map[string]any{"emotes": []any{}}})
	m.JSON("/v3/emote-sets/global", map[string]any{"emotes": []any{}})
}

// Client returns an HTTP client that sends every request, whatever its host, to m.
func (m *MockTwitchServer) Client() *http.Client {
	u, _ := url.Parse(m.URL)
	return &http.Client{Transport: rewriteTransport{host: u.Host, base: http.DefaultTransport}}
}

type rewriteTransport struct {
	host string
	base http.RoundTripper
}

func (t rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r2 := r.Clone(r.Context())
	r2.URL.Scheme = "http"
	r2.URL.Host = t.host
	r2.Host = t.host
	return t.base.RoundTrip(r2)
}
