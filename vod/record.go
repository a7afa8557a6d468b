package vod

import (
	"encoding/json"
	"time"

	"github.com/onnwee/vod-archiver/chat"
	"github.com/onnwee/vod-archiver/store"
)

// BuildRecord returns the archive record for v. Fields derived from Twitch (title,
// duration, thumbnail, stream id, platform, chapters) are refreshed; parts, drive
// links, games, creation time and unknown fields come from existing when present.
// raw may be nil when no chat export is available.
func BuildRecord(existing *store.ArchiveRecord, v RemoteVod, raw *chat.RawExport, now time.Time) *store.ArchiveRecord {
	title := v.Title
	if title == "" {
		title = "Twitch VOD " + v.ID
	}
	var streamID *string
	if v.StreamID != "" {
		s := v.StreamID
		streamID = &s
	}
	chapters := []chat.Chapter{}
	if raw != nil {
		if c := chat.Chapters(raw, v.ThumbnailURL); c != nil {
			chapters = c
		}
	}
	rec := &store.ArchiveRecord{
		ID:           v.ID,
		Title:        title,
		Duration:     FormatDuration(v.DurationSeconds()),
		ThumbnailURL: v.ThumbnailURL,
		YouTube:      []store.VideoPart{},
		StreamID:     streamID,
		Drive:        []json.RawMessage{},
		Platform:     "twitch",
		Chapters:     chapters,
		Games:        []json.RawMessage{},
		CreatedAt:    v.CreatedAt.UTC(),
		UpdatedAt:    now.UTC(),
	}
	if existing == nil {
		return rec
	}
	if existing.YouTube != nil {
		rec.YouTube = append([]store.VideoPart(nil), existing.YouTube...)
	}
	if existing.Drive != nil {
		rec.Drive = existing.Drive
	}
	if existing.Games != nil {
		rec.Games = existing.Games
	}
	if !existing.CreatedAt.IsZero() {
		rec.CreatedAt = existing.CreatedAt
	}
	if len(existing.Extra) > 0 {
		rec.Extra = make(map[string]json.RawMessage, len(existing.Extra))
		for k, val := range existing.Extra {
			rec.Extra[k] = val
		}
	}
	return rec
}
