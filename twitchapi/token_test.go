package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func tokenServer(t *testing.T, calls *int32, token string, expiresIn int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if g := r.PostForm.Get("grant_type"); g != "client_credentials" {
			t.Errorf("grant_type = %q", g)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": token,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenSource_GetCached(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, "test-token-123", 3600)
	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		HTTPClient:   &http.Client{Transport: &tokenTransport{host: srv.URL}},
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		tok, err := ts.Get(ctx)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if tok != "test-token-123" {
			t.Errorf("Get() = %s", tok)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 token request, got %d", calls)
	}
}

func TestTokenSource_RefreshesInsideBuffer(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, "fresh", 3600)
	ts := &TokenSource{
		ClientID:     "id",
		ClientSecret: "secret",
		HTTPClient:   &http.Client{Transport: &tokenTransport{host: srv.URL}},
	}
	ts.SetToken("stale", time.Now().Add(30*time.Second))
	tok, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok != "fresh" || calls != 1 {
		t.Errorf("Get() = %q after %d calls, want refreshed token", tok, calls)
	}
}

func TestTokenSource_SetTokenSkipsRequest(t *testing.T) {
	ts := &TokenSource{HTTPClient: &http.Client{Transport: &tokenTransport{host: "http://127.0.0.1:1"}}}
	ts.SetToken("seeded", time.Now().Add(time.Hour))
	tok, err := ts.Get(context.Background())
	if err != nil || tok != "seeded" {
		t.Errorf("Get() = %q, %v", tok, err)
	}
}

func TestTokenSource_GetErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"empty token", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "", "expires_in": 3600})
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			ts := &TokenSource{
				ClientID:     "id",
				ClientSecret: "secret",
				HTTPClient:   &http.Client{Transport: &tokenTransport{host: srv.URL}},
			}
			if _, err := ts.Get(context.Background()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestTokenSource_GetMissingCredentials(t *testing.T) {
	ts := &TokenSource{}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Error("expected error for missing credentials")
	}
}

func TestTokenSource_ConcurrentAccess(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, "shared", 3600)
	ts := &TokenSource{
		ClientID:     "id",
		ClientSecret: "secret",
		HTTPClient:   &http.Client{Transport: &tokenTransport{host: srv.URL}},
	}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ts.Get(context.Background()); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if calls != 1 {
		t.Errorf("expected a single token request, got %d", calls)
	}
}

// tokenTransport redirects token requests to the test server.
type tokenTransport struct {
	host string
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u, err := url.Parse(t.host)
	if err != nil {
		return nil, err
	}
	req.URL.Scheme = u.Scheme
	req.URL.Host = u.Host
	return http.DefaultTransport.RoundTrip(req)
}
