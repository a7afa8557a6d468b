package vod

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/vod-archiver/twitchapi"
)

// RemoteVod is an archived broadcast on Twitch.
type RemoteVod struct {
	ID           string
	Title        string
	Duration     string // compact Twitch form, e.g. "3h15m42s"
	ThumbnailURL string // rendered at 640x360
	CreatedAt    time.Time
	StreamID     string
}

// DurationSeconds parses Duration.
func (v RemoteVod) DurationSeconds() int { return parseTwitchDuration(v.Duration) }

// VideoLister is the slice of the Helix API the catalog needs.
type VideoLister interface {
	GetUser(ctx context.Context, login string) (twitchapi.User, error)
	ListVideos(ctx context.Context, userID, after string, first int) ([]twitchapi.Video, string, error)
}

// Catalog resolves the channel and lists its recent archives.
type Catalog struct {
	Helix    VideoLister
	Login    string
	PageSize int
	Retry    retryPolicy
}

// NewCatalog wires a Helix client from app credentials.
func NewCatalog(clientID, clientSecret, login string, pageSize int) *Catalog {
	return &Catalog{
		Helix: &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: clientID, ClientSecret: clientSecret},
			ClientID:       clientID,
		},
		Login:    login,
		PageSize: pageSize,
		Retry:    defaultRetry,
	}
}

// ResolveUser looks the channel up. Failure here means the credentials or login are
// wrong, so it is reported as a configuration error.
func (c *Catalog) ResolveUser(ctx context.Context) (twitchapi.User, error) {
	u, err := c.Helix.GetUser(ctx, c.Login)
	if err != nil {
		return twitchapi.User{}, configError("resolve twitch user", err)
	}
	return u, nil
}

// Recent returns the newest archives for userID, one page of PageSize.
func (c *Catalog) Recent(ctx context.Context, userID string) ([]RemoteVod, error) {
	var videos []twitchapi.Video
	err := withRetry(ctx, c.Retry, "list twitch videos", func() error {
		var err error
		videos, _, err = c.Helix.ListVideos(ctx, userID, "", c.PageSize)
		return err
	})
	if err != nil {
		return nil, upstreamError("list twitch videos", "", err)
	}
	out := make([]RemoteVod, 0, len(videos))
	for _, v := range videos {
		out = append(out, RemoteVod{
			ID:           v.ID,
			Title:        v.Title,
			Duration:     v.Duration,
			ThumbnailURL: RenderThumbnail(v.ThumbnailURL),
			CreatedAt:    v.CreatedAt,
			StreamID:     v.StreamID,
		})
	}
	slog.Debug("fetched twitch archives", slog.String("component", "catalog"), slog.Int("count", len(out)))
	return out, nil
}

// RenderThumbnail fills Twitch's %{width}/%{height} placeholders.
func RenderThumbnail(tpl string) string {
	return strings.NewReplacer("%{width}", "640", "%{height}", "360").Replace(tpl)
}

// FormatDuration renders seconds as HH:MM:SS; hours are not capped at 24.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// parseTwitchDuration parses Twitch duration format like "3h15m42s".
func parseTwitchDuration(s string) int {
	var total, n int
	digits := false
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n = n*10 + int(r-'0')
			digits = true
			continue
		}
		if !digits {
			continue
		}
		switch r {
		case 'h', 'H':
			total += n * 3600
		case 'm', 'M':
			total += n * 60
		case 's', 'S':
			total += n
		}
		n, digits = 0, false
	}
	return total
}
