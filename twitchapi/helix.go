// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for user resolution and listing archived VODs, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const helixBase = "https://api.twitch.tv/helix"

// ErrUserNotFound is returned when a login does not resolve to a Twitch user.
var ErrUserNotFound = errors.New("user not found")

// HelixClient provides the handful of Helix calls the archiver needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// User is the subset of a Helix user object the archiver reads.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Video is an archived broadcast as listed by /helix/videos.
type Video struct {
	ID           string
	StreamID     string
	Title        string
	Duration     string // compact form, e.g. "3h15m42s"
	ThumbnailURL string // template with %{width}/%{height}
	CreatedAt    time.Time
}

func (hc *HelixClient) get(ctx context.Context, path string, query map[string]string, out any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, helixBase+path, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("helix %s: %s: %s", path, resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUser resolves a login name to its user record.
func (hc *HelixClient) GetUser(ctx context.Context, login string) (User, error) {
	if login == "" {
		return User{}, fmt.Errorf("login empty")
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.get(ctx, "/users", map[string]string{"login": login}, &body); err != nil {
		return User{}, err
	}
	if len(body.Data) == 0 {
		return User{}, fmt.Errorf("%w: %q", ErrUserNotFound, login)
	}
	return body.Data[0], nil
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	u, err := hc.GetUser(ctx, login)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// ListVideos lists archive videos for a user, newest first. first defaults to 20
// and is capped at the Helix maximum of 100.
func (hc *HelixClient) ListVideos(ctx context.Context, userID, after string, first int) ([]Video, string, error) {
	if userID == "" {
		return nil, "", fmt.Errorf("userID empty")
	}
	if first <= 0 {
		first = 20
	}
	if first > 100 {
		first = 100
	}
	q := map[string]string{"user_id": userID, "type": "archive", "first": strconv.Itoa(first)}
	if after != "" {
		q["after"] = after
	}
	var body struct {
		Data []struct {
			ID           string `json:"id"`
			StreamID     string `json:"stream_id"`
			Title        string `json:"title"`
			Duration     string `json:"duration"`
			ThumbnailURL string `json:"thumbnail_url"`
			CreatedAt    string `json:"created_at"`
		} `json:"data"`
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}
	if err := hc.get(ctx, "/videos", q, &body); err != nil {
		return nil, "", err
	}
	out := make([]Video, 0, len(body.Data))
	for _, v := range body.Data {
		created, err := time.Parse(time.RFC3339, v.CreatedAt)
		if err != nil {
			slog.Warn("skipping video with unparseable created_at", slog.String("vod_id", v.ID), slog.String("created_at", v.CreatedAt))
			continue
		}
		out = append(out, Video{
			ID:           v.ID,
			StreamID:     v.StreamID,
			Title:        v.Title,
			Duration:     v.Duration,
			ThumbnailURL: v.ThumbnailURL,
			CreatedAt:    created.UTC(),
		})
	}
	return out, body.Pagination.Cursor, nil
}
