package chat

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FragmentKind tags the variant a Fragment holds.
type FragmentKind int

const (
	PlainText FragmentKind = iota
	EmoteRef
)

// Fragment is one piece of a chat message: plain text, or text rendered as an emote.
type Fragment struct {
	Kind    FragmentKind
	Text    string
	EmoteID string // set only for EmoteRef
}

// Text returns a plain-text fragment.
func Text(s string) Fragment { return Fragment{Kind: PlainText, Text: s} }

// Emote returns an emote fragment.
func Emote(text, emoteID string) Fragment { return Fragment{Kind: EmoteRef, Text: text, EmoteID: emoteID} }

type fragmentJSON struct {
	Text  string `json:"text"`
	Emote *struct {
		EmoteID string `json:"emoteID"`
	} `json:"emote,omitempty"`
}

func (f Fragment) MarshalJSON() ([]byte, error) {
	out := fragmentJSON{Text: f.Text}
	if f.Kind == EmoteRef {
		out.Emote = &struct {
			EmoteID string `json:"emoteID"`
		}{EmoteID: f.EmoteID}
	}
	return json.Marshal(out)
}

func (f *Fragment) UnmarshalJSON(b []byte) error {
	var in fragmentJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if in.Emote != nil && in.Emote.EmoteID != "" {
		*f = Emote(in.Text, in.Emote.EmoteID)
		return nil
	}
	*f = Text(in.Text)
	return nil
}

// Comment is a normalized chat message as stored in the per-VOD comments document.
type Comment struct {
	ID                   string          `json:"id"`
	CreatedAt            *string         `json:"created_at"`
	ContentOffsetSeconds float64         `json:"content_offset_seconds"`
	DisplayName          string          `json:"display_name"`
	UserBadges           json.RawMessage `json:"user_badges"`
	UserColor            *string         `json:"user_color"`
	Message              []Fragment      `json:"message"`
}

var emptyBadges = json.RawMessage("[]")

// Normalize maps raw comments into Comments ordered by offset. Equal offsets keep
// their export order, and synthetic ids depend only on the input position, so the
// same export always normalizes to the same output.
func Normalize(raw *RawExport) []Comment {
	if raw == nil {
		return []Comment{}
	}
	out := make([]Comment, 0, len(raw.Comments))
	for i, rc := range raw.Comments {
		c := Comment{
			ID:                   rc.ID,
			ContentOffsetSeconds: rc.ContentOffsetSeconds,
			DisplayName:          "unknown",
			UserBadges:           emptyBadges,
		}
		if c.ID == "" {
			c.ID = "comment-" + strconv.Itoa(i)
		}
		if rc.CreatedAt != "" {
			ts := rc.CreatedAt
			c.CreatedAt = &ts
		}
		if rc.Commenter != nil {
			switch {
			case rc.Commenter.DisplayName != "":
				c.DisplayName = rc.Commenter.DisplayName
			case rc.Commenter.Name != "":
				c.DisplayName = rc.Commenter.Name
			}
		}
		if m := rc.Message; m != nil {
			if b := strings.TrimSpace(string(m.UserBadges)); b != "" && b != "null" {
				c.UserBadges = m.UserBadges
			}
			if m.UserColor != "" {
				color := m.UserColor
				c.UserColor = &color
			}
			c.Message = fragments(m)
		} else {
			c.Message = []Fragment{Text("")}
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ContentOffsetSeconds < out[j].ContentOffsetSeconds
	})
	return out
}

func fragments(m *RawMessage) []Fragment {
	if len(m.Fragments) == 0 {
		return []Fragment{Text(m.Body)}
	}
	out := make([]Fragment, 0, len(m.Fragments))
	for _, rf := range m.Fragments {
		switch {
		case rf.Emote != nil && rf.Emote.EmoteID != "":
			out = append(out, Emote(rf.Text, string(rf.Emote.EmoteID)))
		case rf.Emoticon != nil && rf.Emoticon.EmoticonID != "":
			out = append(out, Emote(rf.Text, string(rf.Emoticon.EmoticonID)))
		default:
			out = append(out, Text(rf.Text))
		}
	}
	return out
}

// Chapter is a game segment of a VOD as shown on the archive site.
type Chapter struct {
	GameID string `json:"gameId"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Name   string `json:"name"`
	Image  string `json:"image"`
}

// Chapters maps the export's chapter list. End carries the chapter length in
// seconds, matching what the site has always been given.
func Chapters(raw *RawExport, fallbackImage string) []Chapter {
	if raw == nil {
		return []Chapter{}
	}
	out := make([]Chapter, 0, len(raw.Video.Chapters))
	for i, rc := range raw.Video.Chapters {
		ch := Chapter{
			GameID: string(rc.GameID),
			Start:  int(rc.StartMilliseconds / 1000),
			End:    int(rc.LengthMilliseconds / 1000),
			Name:   rc.GameDisplayName,
			Image:  rc.GameBoxArtURL,
		}
		if ch.GameID == "" {
			ch.GameID = strconv.Itoa(i)
		}
		if ch.Name == "" {
			ch.Name = rc.Description
		}
		if ch.Name == "" {
			ch.Name = fmt.Sprintf("Chapter %d", i+1)
		}
		if ch.Image == "" {
			ch.Image = fallbackImage
		}
		out = append(out, ch)
	}
	return out
}

// EmbeddedEmote is a third-party emote the export tool captured with the chat.
type EmbeddedEmote struct {
	ID          string  `json:"id"`
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Data        *string `json:"data"`
	Width       *int    `json:"width"`
	Height      *int    `json:"height"`
	IsZeroWidth bool    `json:"isZeroWidth"`
}

// EmbeddedEmotes dedupes the export's third-party emotes by case-insensitive code.
// A later duplicate replaces the earlier value but keeps its position.
func EmbeddedEmotes(raw *RawExport) []EmbeddedEmote {
	if raw == nil {
		return []EmbeddedEmote{}
	}
	out := make([]EmbeddedEmote, 0, len(raw.EmbeddedData.ThirdParty))
	index := make(map[string]int)
	for _, re := range raw.EmbeddedData.ThirdParty {
		code := strings.TrimSpace(re.Name)
		id := strings.TrimSpace(string(re.ID))
		if code == "" || id == "" {
			continue
		}
		e := EmbeddedEmote{
			ID:          id,
			Code:        code,
			Name:        code,
			Data:        re.Data,
			Width:       positive(re.Width),
			Height:      positive(re.Height),
			IsZeroWidth: re.IsZeroWidth,
		}
		key := strings.ToLower(code)
		if i, ok := index[key]; ok {
			out[i] = e
			continue
		}
		index[key] = len(out)
		out = append(out, e)
	}
	return out
}

func positive(f float64) *int {
	if f <= 0 {
		return nil
	}
	n := int(f)
	return &n
}
