package store

import (
	"path/filepath"
	"time"

	"github.com/onnwee/vod-archiver/chat"
	"github.com/onnwee/vod-archiver/emotes"
)

// Document source labels written into the per-VOD files.
const (
	CommentsSource = "twitchdownloader"
	EmotesSource   = "local-archive-pipeline"
)

// CommentsDoc is the per-VOD chat replay document.
type CommentsDoc struct {
	Source      string         `json:"source"`
	TwitchVodID string         `json:"twitchVodId"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Comments    []chat.Comment `json:"comments"`
}

// EmoteBundle is the per-VOD emote document.
type EmoteBundle struct {
	Source      string               `json:"source"`
	TwitchVodID string               `json:"twitchVodId"`
	GeneratedAt time.Time            `json:"generatedAt"`
	FFZ         []emotes.Emote       `json:"ffz_emotes"`
	BTTV        []emotes.Emote       `json:"bttv_emotes"`
	SevenTV     []emotes.Emote       `json:"7tv_emotes"`
	Embedded    []chat.EmbeddedEmote `json:"embedded_emotes"`
}

// NewEmoteBundle combines the channel catalogs with the emotes embedded in a VOD's
// chat export. embedded may be nil for backfilled bundles.
func NewEmoteBundle(vodID string, cat emotes.Catalog, embedded []chat.EmbeddedEmote, now time.Time) *EmoteBundle {
	if embedded == nil {
		embedded = []chat.EmbeddedEmote{}
	}
	nonNil := func(l []emotes.Emote) []emotes.Emote {
		if l == nil {
			return []emotes.Emote{}
		}
		return l
	}
	return &EmoteBundle{
		Source:      EmotesSource,
		TwitchVodID: vodID,
		GeneratedAt: now.UTC(),
		FFZ:         nonNil(cat.FFZ),
		BTTV:        nonNil(cat.BTTV),
		SevenTV:     nonNil(cat.SevenTV),
		Embedded:    embedded,
	}
}

// Documents locates and writes per-VOD comments and emote files.
type Documents struct {
	CommentsDir string
	EmotesDir   string
	Cache       *DocCache
}

func (d *Documents) CommentsPath(vodID string) string {
	return filepath.Join(d.CommentsDir, vodID+".json")
}

func (d *Documents) EmotesPath(vodID string) string {
	return filepath.Join(d.EmotesDir, vodID+".json")
}

// HasEmotes reports whether an emote bundle exists for vodID.
func (d *Documents) HasEmotes(vodID string) bool {
	return fileExists(d.EmotesPath(vodID))
}

// WriteComments stores the comments document and returns its path.
func (d *Documents) WriteComments(doc *CommentsDoc) (string, error) {
	if doc.Comments == nil {
		doc.Comments = []chat.Comment{}
	}
	p := d.CommentsPath(doc.TwitchVodID)
	b, err := marshalDoc(doc)
	if err != nil {
		return "", err
	}
	return p, d.Cache.Write(p, b)
}

// WriteEmotes stores the emote bundle and returns its path.
func (d *Documents) WriteEmotes(bundle *EmoteBundle) (string, error) {
	p := d.EmotesPath(bundle.TwitchVodID)
	b, err := marshalDoc(bundle)
	if err != nil {
		return "", err
	}
	return p, d.Cache.Write(p, b)
}

// ReadComments loads a comments document; ok is false when none exists.
func (d *Documents) ReadComments(vodID string) (doc *CommentsDoc, ok bool, err error) {
	doc = &CommentsDoc{}
	ok, err = readDoc(d.Cache, d.CommentsPath(vodID), false, doc)
	return doc, ok, err
}

// ReadEmotes loads an emote bundle; ok is false when none exists.
func (d *Documents) ReadEmotes(vodID string) (bundle *EmoteBundle, ok bool, err error) {
	bundle = &EmoteBundle{}
	ok, err = readDoc(d.Cache, d.EmotesPath(vodID), false, bundle)
	return bundle, ok, err
}
