package twitchapi

import "time"

// SetToken seeds the cache so tests can skip the token endpoint.
func (ts *TokenSource) SetToken(token string, expiresAt time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = token
	ts.expiresAt = expiresAt
}
