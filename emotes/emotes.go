// Package emotes aggregates the channel's third-party emote catalogs (FrankerFaceZ,
// BetterTTV and 7TV). Each endpoint is best effort: a channel without an account on
// a provider still gets that provider's global emotes, and a provider that cannot be
// reached at all yields an empty list reported in Catalog.Failed, never an error.
package emotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultFFZBase     = "https://api.frankerfacez.com"
	defaultBTTVBase    = "https://api.betterttv.net"
	defaultSevenTVBase = "https://7tv.io"
)

// Provider names as reported in Catalog.Failed.
const (
	SourceFFZ     = "ffz"
	SourceBTTV    = "bttv"
	SourceSevenTV = "7tv"
)

// Emote is a single catalog entry; Code is what viewers type.
type Emote struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Catalog holds the merged per-provider lists for one channel.
type Catalog struct {
	FFZ     []Emote
	BTTV    []Emote
	SevenTV []Emote
	// Failed lists the providers that could not be fetched.
	Failed []string
}

// Client fetches emote catalogs. Base URLs are overridable for tests.
type Client struct {
	HTTPClient  *http.Client
	FFZBase     string
	BTTVBase    string
	SevenTVBase string
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 20 * time.Second}
}

func base(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// Fetch queries all providers concurrently for twitchUserID.
func (c *Client) Fetch(ctx context.Context, twitchUserID string) Catalog {
	var (
		cat Catalog
		mu  sync.Mutex
		g   errgroup.Group
	)
	fail := func(source string, err error) {
		slog.Warn("emote source unavailable", slog.String("component", "emotes"), slog.String("source", source), slog.Any("err", err))
		mu.Lock()
		cat.Failed = append(cat.Failed, source)
		mu.Unlock()
	}
	g.Go(func() error {
		list, err := c.ffz(ctx, twitchUserID)
		if err != nil {
			fail(SourceFFZ, err)
			list = []Emote{}
		}
		cat.FFZ = list
		return nil
	})
	g.Go(func() error {
		list, err := c.bttv(ctx, twitchUserID)
		if err != nil {
			fail(SourceBTTV, err)
			list = []Emote{}
		}
		cat.BTTV = list
		return nil
	})
	g.Go(func() error {
		list, err := c.sevenTV(ctx, twitchUserID)
		if err != nil {
			fail(SourceSevenTV, err)
			list = []Emote{}
		}
		cat.SevenTV = list
		return nil
	})
	_ = g.Wait()
	return cat
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %s: %s", url, resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// endpoint is one URL of a provider decoded into out.
type endpoint struct {
	url string
	out any
}

// getEach fetches every endpoint concurrently. A failing endpoint leaves its target
// untouched; the provider only fails when none of its endpoints answered.
func (c *Client) getEach(ctx context.Context, source string, eps ...endpoint) error {
	var g errgroup.Group
	errs := make([]error, len(eps))
	for i, ep := range eps {
		g.Go(func() error {
			if err := c.getJSON(ctx, ep.url, ep.out); err != nil {
				slog.Debug("emote endpoint unavailable", slog.String("component", "emotes"), slog.String("source", source), slog.Any("err", err))
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()
	for _, err := range errs {
		if err == nil {
			return nil
		}
	}
	return errors.Join(errs...)
}

// jsonID accepts numeric or string ids; FFZ uses numbers, the others strings.
type jsonID string

func (j *jsonID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*j = jsonID(s)
		return nil
	}
	if string(b) == "null" {
		*j = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*j = jsonID(n.String())
	return nil
}

func (c *Client) ffz(ctx context.Context, uid string) ([]Emote, error) {
	var body struct {
		Room struct {
			Set int `json:"set"`
		} `json:"room"`
		Sets map[string]struct {
			Emoticons []struct {
				ID   jsonID `json:"id"`
				Name string `json:"name"`
			} `json:"emoticons"`
		} `json:"sets"`
	}
	if err := c.getJSON(ctx, base(c.FFZBase, defaultFFZBase)+"/v1/room/id/"+uid, &body); err != nil {
		return nil, err
	}
	set, ok := body.Sets[strconv.Itoa(body.Room.Set)]
	if body.Room.Set == 0 || !ok {
		return []Emote{}, nil
	}
	var d dedup
	for _, e := range set.Emoticons {
		d.add(string(e.ID), e.Name)
	}
	return d.list(), nil
}

type bttvEmote struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

func (c *Client) bttv(ctx context.Context, uid string) ([]Emote, error) {
	var (
		global []bttvEmote
		user   struct {
			ChannelEmotes []bttvEmote `json:"channelEmotes"`
			SharedEmotes  []bttvEmote `json:"sharedEmotes"`
		}
	)
	root := base(c.BTTVBase, defaultBTTVBase)
	if err := c.getEach(ctx, SourceBTTV,
		endpoint{root + "/3/cached/emotes/global", &global},
		endpoint{root + "/3/cached/users/twitch/" + uid, &user},
	); err != nil {
		return nil, err
	}
	var d dedup
	for _, group := range [][]bttvEmote{global, user.ChannelEmotes, user.SharedEmotes} {
		for _, e := range group {
			d.add(e.ID, e.Code)
		}
	}
	return d.list(), nil
}

type sevenTVSet struct {
	Emotes []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"emotes"`
}

func (c *Client) sevenTV(ctx context.Context, uid string) ([]Emote, error) {
	var (
		user struct {
			EmoteSet *sevenTVSet `json:"emote_set"`
		}
		global sevenTVSet
	)
	root := base(c.SevenTVBase, defaultSevenTVBase)
	if err := c.getEach(ctx, SourceSevenTV,
		endpoint{root + "/v3/users/twitch/" + uid, &user},
		endpoint{root + "/v3/emote-sets/global", &global},
	); err != nil {
		return nil, err
	}
	var d dedup
	if user.EmoteSet != nil {
		for _, e := range user.EmoteSet.Emotes {
			d.add(e.ID, e.Name)
		}
	}
	for _, e := range global.Emotes {
		d.add(e.ID, e.Name)
	}
	return d.list(), nil
}

// dedup collects emotes keyed by (code, id), keeping first-seen order.
type dedup struct {
	seen map[string]struct{}
	out  []Emote
}

func (d *dedup) add(id, code string) {
	if id == "" || code == "" {
		return
	}
	if d.seen == nil {
		d.seen = make(map[string]struct{})
	}
	key := code + ":" + id
	if _, ok := d.seen[key]; ok {
		return
	}
	d.seen[key] = struct{}{}
	d.out = append(d.out, Emote{ID: id, Code: code, Name: code})
}

func (d *dedup) list() []Emote {
	if d.out == nil {
		return []Emote{}
	}
	return d.out
}
