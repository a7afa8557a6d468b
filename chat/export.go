package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Exporter produces a raw chat export for a VOD at outPath.
type Exporter interface {
	Export(ctx context.Context, vodID, outPath string) error
}

// DownloaderCLI runs TwitchDownloaderCLI's chatdownload command.
type DownloaderCLI struct {
	Path    string // binary name or path, default "TwitchDownloaderCLI"
	Threads int    // default 8
}

// ErrExportMissing is returned when the tool exits cleanly without writing output.
var ErrExportMissing = errors.New("chat export produced no output")

func (d DownloaderCLI) args(vodID, outPath string) []string {
	threads := d.Threads
	if threads <= 0 {
		threads = 8
	}
	return []string{
		"chatdownload",
		"--id", vodID,
		"--output", outPath,
		"--embed-images", "false",
		"--threads", strconv.Itoa(threads),
		"--collision", "overwrite",
	}
}

// Export runs the tool and verifies it left a non-empty file behind.
func (d DownloaderCLI) Export(ctx context.Context, vodID, outPath string) error {
	bin := d.Path
	if bin == "" {
		bin = "TwitchDownloaderCLI"
	}
	start := time.Now()
	cmd := exec.CommandContext(ctx, bin, d.args(vodID, outPath)...)
	var tail tailBuffer
	cmd.Stdout = &tail
	cmd.Stderr = &tail
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("chatdownload %s: %w: %s", vodID, err, strings.TrimSpace(tail.String()))
	}
	fi, err := os.Stat(outPath)
	if err != nil || fi.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrExportMissing, outPath)
	}
	slog.Debug("chat export finished", slog.String("vod_id", vodID), slog.Int64("bytes", fi.Size()), slog.Duration("took", time.Since(start)))
	return nil
}

// tailBuffer keeps the last few KiB of tool output for error messages.
type tailBuffer struct {
	buf bytes.Buffer
}

const tailLimit = 4096

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - tailLimit; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string { return t.buf.String() }

// RawExport is the subset of the TwitchDownloader JSON document the archive reads.
type RawExport struct {
	Comments     []RawComment `json:"comments"`
	Video        RawVideo     `json:"video"`
	EmbeddedData struct {
		ThirdParty []RawEmbeddedEmote `json:"thirdParty"`
	} `json:"embeddedData"`
}

type RawComment struct {
	ID                   string     `json:"_id"`
	CreatedAt            string     `json:"created_at"`
	ContentOffsetSeconds float64    `json:"content_offset_seconds"`
	Commenter            *struct {
		DisplayName string `json:"display_name"`
		Name        string `json:"name"`
	} `json:"commenter"`
	Message *RawMessage `json:"message"`
}

type RawMessage struct {
	Body       string          `json:"body"`
	Fragments  []RawFragment   `json:"fragments"`
	UserBadges json.RawMessage `json:"user_badges"`
	UserColor  string          `json:"user_color"`
}

type RawFragment struct {
	Text  string `json:"text"`
	Emote *struct {
		EmoteID looseID `json:"emoteID"`
	} `json:"emote"`
	Emoticon *struct {
		EmoticonID looseID `json:"emoticon_id"`
	} `json:"emoticon"`
}

type RawVideo struct {
	Chapters []RawChapter `json:"chapters"`
}

type RawChapter struct {
	GameID             looseID `json:"gameId"`
	StartMilliseconds  float64 `json:"startMilliseconds"`
	LengthMilliseconds float64 `json:"lengthMilliseconds"`
	GameDisplayName    string  `json:"gameDisplayName"`
	Description        string  `json:"description"`
	GameBoxArtURL      string  `json:"gameBoxArtUrl"`
}

type RawEmbeddedEmote struct {
	ID          looseID `json:"id"`
	Name        string  `json:"name"`
	Data        *string `json:"data"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	IsZeroWidth bool    `json:"isZeroWidth"`
}

// looseID accepts ids written either as JSON strings or numbers.
type looseID string

func (l *looseID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*l = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = looseID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %s", b)
	}
	*l = looseID(n.String())
	return nil
}

// ReadExport decodes a raw export file. A missing or malformed file is an error;
// callers treat both as a data failure for the VOD.
func ReadExport(path string) (*RawExport, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chat export: %w", err)
	}
	var raw RawExport
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode chat export %s: %w", path, err)
	}
	return &raw, nil
}
