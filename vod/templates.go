package vod

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/onnwee/vod-archiver/store"
)

// MetadataTemplateVersion identifies the current title/description layout. Bump it
// when either template changes; records synced with an older version are rewritten
// on the next run.
const MetadataTemplateVersion = 1

// MaxTitleLength is YouTube's title limit, counted in characters.
const MaxTitleLength = 100

// TitleInput describes one part being titled.
type TitleInput struct {
	StreamTitle string
	StreamDate  time.Time
	PartNumber  int
	TotalParts  int
}

// DescriptionInput describes one part's description. Parts lists every uploaded
// part of the VOD and may be empty at upload time.
type DescriptionInput struct {
	VodID       string
	StreamTitle string
	StreamDate  time.Time
	PartNumber  int
	TotalParts  int
	Parts       []store.VideoPart
}

// Templates renders YouTube titles and descriptions for archived VODs.
type Templates struct {
	SiteURL string
}

// Sanitize drops angle brackets (rejected by YouTube) and collapses whitespace.
func Sanitize(s string) string {
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// DateLabel formats t as a UTC calendar date.
func DateLabel(t time.Time) string {
	if t.IsZero() {
		return "unknown-date"
	}
	return t.UTC().Format("2006-01-02")
}

// DateDescription formats t as a UTC timestamp for descriptions.
func DateDescription(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format("2006-01-02 15:04:05") + " UTC"
}

// Title builds "<title> - <date>" or, for multi-part VODs,
// "<title> - <date> - Part N". Only the stream title is shortened when the result
// would exceed MaxTitleLength, so the date and part suffix always survive.
func Title(in TitleInput) string {
	base := norm.NFC.String(Sanitize(in.StreamTitle))
	if base == "" {
		base = "Stream"
	}
	date := DateLabel(in.StreamDate)
	if in.TotalParts > 1 {
		suffix := fmt.Sprintf(" - %s - Part %d", date, in.PartNumber)
		maxBase := max(1, MaxTitleLength-utf8.RuneCountInString(suffix))
		if utf8.RuneCountInString(base) > maxBase {
			base = ellipsize(base, maxBase)
		}
		return truncateTitle(base + suffix)
	}
	return truncateTitle(base + " - " + date)
}

// ellipsize shortens s to at most n runes, the last three being "...".
func ellipsize(s string, n int) string {
	keep := max(0, n-3)
	r := []rune(s)
	if len(r) > keep {
		r = r[:keep]
	}
	return strings.TrimRight(string(r), " \t") + "..."
}

func truncateTitle(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= MaxTitleLength {
		return s
	}
	return ellipsize(s, MaxTitleLength)
}

// ArchiveURL is the chat replay page for a VOD on the archive site.
func (t Templates) ArchiveURL(vodID string) string {
	return strings.TrimRight(t.SiteURL, "/") + "/#/youtube/" + vodID
}

// Description builds the multi-line description linking back to the archive site
// and the original VOD. Multi-part VODs list every part once more than one exists.
func (t Templates) Description(in DescriptionInput) string {
	streamTitle := Sanitize(in.StreamTitle)
	if streamTitle == "" {
		streamTitle = "Twitch VOD " + in.VodID
	}
	lines := []string{
		"Chat Replay: " + t.ArchiveURL(in.VodID),
		"Original VOD: https://www.twitch.tv/videos/" + in.VodID,
		"Stream Title: " + streamTitle,
		"Stream Date: " + DateDescription(in.StreamDate),
	}
	if in.TotalParts > 1 {
		lines = append(lines, fmt.Sprintf("Part %d of %d", in.PartNumber, in.TotalParts))
		if len(in.Parts) > 1 {
			parts := append([]store.VideoPart(nil), in.Parts...)
			sort.SliceStable(parts, func(i, j int) bool { return parts[i].Part < parts[j].Part })
			lines = append(lines, "", "Parts:")
			for _, p := range parts {
				lines = append(lines, fmt.Sprintf("PART %d: https://www.youtube.com/watch?v=%s", p.Part, p.ID))
			}
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
