// Package youtubeapi wraps the YouTube Data API for the archiver: uploading a
// recording, reading back its duration and thumbnail, rewriting title and
// description, and checking the configured category. Credentials come from an
// installed-app client secret JSON and a token file that is refreshed in place.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// Metadata is the editable text of a video.
type Metadata struct {
	Title       string
	Description string
}

// Details is what the archive records about an uploaded video.
type Details struct {
	DurationSeconds int
	ThumbnailURL    string
}

// Options are applied to every upload and update.
type Options struct {
	PrivacyStatus     string // default "private"
	CategoryID        string // default "20"
	RegionCode        string // default "US"
	NotifySubscribers bool
}

func (o Options) withDefaults() Options {
	if o.PrivacyStatus == "" {
		o.PrivacyStatus = "private"
	}
	if o.CategoryID == "" {
		o.CategoryID = "20"
	}
	if o.RegionCode == "" {
		o.RegionCode = "US"
	}
	return o
}

// Client talks to one YouTube channel.
type Client struct {
	svc  *yt.Service
	opts Options
}

// ErrNoToken is returned by New when the token file does not exist yet.
var ErrNoToken = errors.New("youtube token missing; authorize the channel first")

// New builds a client from the client secret JSON and the stored user token.
func New(ctx context.Context, clientSecretPath string, tokens *TokenFile, opts Options) (*Client, error) {
	secret, err := os.ReadFile(clientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("read youtube client secret: %w", err)
	}
	conf, err := google.ConfigFromJSON(secret, yt.YoutubeUploadScope, yt.YoutubeScope)
	if err != nil {
		return nil, fmt.Errorf("invalid youtube client secret json: %w", err)
	}
	if _, err := os.Stat(tokens.Path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoToken, tokens.Path)
	}
	tok, err := tokens.Load()
	if err != nil {
		return nil, err
	}
	src := oauth2.ReuseTokenSource(tok, &persistingSource{
		base:  conf.TokenSource(ctx, tok),
		file:  tokens,
		last:  tok.AccessToken,
		reuse: tok.RefreshToken,
	})
	svc, err := yt.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return NewWithService(svc, opts), nil
}

// NewWithService wraps an existing service, e.g. one pointed at a test server.
func NewWithService(svc *yt.Service, opts Options) *Client {
	return &Client{svc: svc, opts: opts.withDefaults()}
}

// EnsureCategory verifies the configured category exists and is assignable in the
// configured region.
func (c *Client) EnsureCategory(ctx context.Context) error {
	res, err := c.svc.VideoCategories.List([]string{"snippet"}).RegionCode(c.opts.RegionCode).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("youtube list categories: %w", err)
	}
	for _, item := range res.Items {
		if item.Id != c.opts.CategoryID {
			continue
		}
		if item.Snippet != nil && !item.Snippet.Assignable {
			return fmt.Errorf("youtube category %s is not assignable", c.opts.CategoryID)
		}
		return nil
	}
	return fmt.Errorf("youtube category %s is invalid for region %s", c.opts.CategoryID, c.opts.RegionCode)
}

// Upload sends the file at path and returns the new video id.
func (c *Client) Upload(ctx context.Context, path string, meta Metadata) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	video := &yt.Video{
		Snippet: &yt.VideoSnippet{Title: meta.Title, Description: meta.Description, CategoryId: c.opts.CategoryID},
		Status:  &yt.VideoStatus{PrivacyStatus: c.opts.PrivacyStatus},
	}
	res, err := c.svc.Videos.Insert([]string{"snippet", "status"}, video).
		NotifySubscribers(c.opts.NotifySubscribers).
		Media(f).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("youtube upload: %w", err)
	}
	if res.Id == "" {
		return "", fmt.Errorf("youtube upload: empty id")
	}
	return res.Id, nil
}

// Details reads duration and thumbnail; a video that is not listed (still
// processing) yields zero values.
func (c *Client) Details(ctx context.Context, id string) (Details, error) {
	res, err := c.svc.Videos.List([]string{"contentDetails", "snippet"}).Id(id).Context(ctx).Do()
	if err != nil {
		return Details{}, fmt.Errorf("youtube video details: %w", err)
	}
	if len(res.Items) == 0 {
		return Details{}, nil
	}
	item := res.Items[0]
	var d Details
	if item.ContentDetails != nil {
		d.DurationSeconds = ParseISODuration(item.ContentDetails.Duration)
	}
	if item.Snippet != nil && item.Snippet.Thumbnails != nil {
		switch th := item.Snippet.Thumbnails; {
		case th.Medium != nil && th.Medium.Url != "":
			d.ThumbnailURL = th.Medium.Url
		case th.Default != nil:
			d.ThumbnailURL = th.Default.Url
		}
	}
	return d, nil
}

// UpdateMetadata rewrites title and description, keeping the rest of the snippet.
// Videos that no longer exist are skipped.
func (c *Client) UpdateMetadata(ctx context.Context, id string, meta Metadata) error {
	res, err := c.svc.Videos.List([]string{"snippet"}).Id(id).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("youtube read snippet: %w", err)
	}
	if len(res.Items) == 0 || res.Items[0].Snippet == nil {
		return nil
	}
	snippet := res.Items[0].Snippet
	snippet.Title = meta.Title
	snippet.Description = meta.Description
	snippet.CategoryId = c.opts.CategoryID
	if _, err := c.svc.Videos.Update([]string{"snippet"}, &yt.Video{Id: id, Snippet: snippet}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("youtube update snippet: %w", err)
	}
	return nil
}

// ParseISODuration converts an ISO-8601 duration ("PT1H2M3S", "P1DT2H") to whole
// seconds. Unrecognized input yields 0.
func ParseISODuration(s string) int {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 2 || s[0] != 'P' {
		return 0
	}
	var total float64
	inTime := false
	num := ""
	for _, r := range s[1:] {
		switch {
		case r == 'T':
			if inTime || num != "" {
				return 0
			}
			inTime = true
		case (r >= '0' && r <= '9') || r == '.':
			num += string(r)
		default:
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0
			}
			num = ""
			switch {
			case r == 'D' && !inTime:
				total += v * 86400
			case r == 'H' && inTime:
				total += v * 3600
			case r == 'M' && inTime:
				total += v * 60
			case r == 'S' && inTime:
				total += v
			default:
				return 0
			}
		}
	}
	if num != "" {
		return 0
	}
	return int(total + 0.5)
}
