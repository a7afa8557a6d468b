package youtubeapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/vod-archiver/crypto"
	"github.com/onnwee/vod-archiver/store"
)

// TokenFile stores the user OAuth token on disk, sealed when Enc is set.
type TokenFile struct {
	Path string
	Enc  crypto.Encryptor
}

// fileToken accepts both the oauth2.Token layout and the one written by Google's
// Node client (expiry_date in Unix milliseconds), which older tooling produced.
type fileToken struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
	ExpiryDate   int64     `json:"expiry_date,omitempty"`
	Scope        string    `json:"scope,omitempty"`
}

// Load reads the token. A missing file is reported as such so callers can point the
// operator at the authorization step.
func (f *TokenFile) Load() (*oauth2.Token, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read youtube token %s: %w", f.Path, err)
	}
	b, err = crypto.Open(f.Enc, b)
	if err != nil {
		return nil, fmt.Errorf("open youtube token %s: %w", f.Path, err)
	}
	var ft fileToken
	if err := json.Unmarshal(b, &ft); err != nil {
		return nil, fmt.Errorf("decode youtube token %s: %w", f.Path, err)
	}
	if ft.AccessToken == "" && ft.RefreshToken == "" {
		return nil, errors.New("youtube token file holds neither access nor refresh token")
	}
	tok := &oauth2.Token{
		AccessToken:  ft.AccessToken,
		TokenType:    ft.TokenType,
		RefreshToken: ft.RefreshToken,
		Expiry:       ft.Expiry,
	}
	if tok.Expiry.IsZero() && ft.ExpiryDate > 0 {
		tok.Expiry = time.UnixMilli(ft.ExpiryDate)
	}
	return tok, nil
}

// Save writes the token atomically with owner-only permissions.
func (f *TokenFile) Save(tok *oauth2.Token) error {
	ft := fileToken{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if !tok.Expiry.IsZero() {
		ft.ExpiryDate = tok.Expiry.UnixMilli()
	}
	b, err := json.MarshalIndent(ft, "", "  ")
	if err != nil {
		return err
	}
	if f.Enc != nil {
		if b, err = crypto.Seal(f.Enc, b); err != nil {
			return fmt.Errorf("seal youtube token: %w", err)
		}
	}
	return store.WriteFileAtomic(f.Path, b, 0o600)
}

// persistingSource saves refreshed tokens so the next run starts from them. The
// refresh token is carried over when the provider omits it from a refresh.
type persistingSource struct {
	base  oauth2.TokenSource
	file  *TokenFile
	mu    sync.Mutex
	last  string
	reuse string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken == p.last {
		return tok, nil
	}
	p.last = tok.AccessToken
	if tok.RefreshToken == "" {
		tok.RefreshToken = p.reuse
	}
	if err := p.file.Save(tok); err != nil {
		slog.Warn("failed to persist refreshed youtube token", slog.String("path", p.file.Path), slog.Any("err", err))
	}
	return tok, nil
}
