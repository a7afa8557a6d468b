package vod

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/vod-archiver/db"
	"github.com/onnwee/vod-archiver/emotes"
	"github.com/onnwee/vod-archiver/store"
	"github.com/onnwee/vod-archiver/twitchapi"
	"github.com/onnwee/vod-archiver/youtubeapi"
)

// fakeHost records every call instead of talking to YouTube.
type fakeHost struct {
	mu        sync.Mutex
	uploads   []fakeUpload
	updates   map[string]youtubeapi.Metadata
	updateLog []string
	failAt    int // 1-based upload that fails; 0 never
	detailErr error
	catErr    error
}

type fakeUpload struct {
	Path string
	Meta youtubeapi.Metadata
	ID   string
}

func newFakeHost() *fakeHost { return &fakeHost{updates: map[string]youtubeapi.Metadata{}} }

func (f *fakeHost) EnsureCategory(context.Context) error { return f.catErr }

func (f *fakeHost) Upload(_ context.Context, path string, meta youtubeapi.Metadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt > 0 && len(f.uploads)+1 == f.failAt {
		return "", errors.New("googleapi: Error 400: uploadLimitExceeded")
	}
	id := fmt.Sprintf("yt-%d", len(f.uploads)+1)
	f.uploads = append(f.uploads, fakeUpload{Path: path, Meta: meta, ID: id})
	return id, nil
}

func (f *fakeHost) Details(_ context.Context, videoID string) (youtubeapi.Details, error) {
	if f.detailErr != nil {
		return youtubeapi.Details{}, f.detailErr
	}
	return youtubeapi.Details{DurationSeconds: 600, ThumbnailURL: "https://i.ytimg.com/vi/" + videoID + "/mqdefault.jpg"}, nil
}

func (f *fakeHost) UpdateMetadata(_ context.Context, videoID string, meta youtubeapi.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[videoID] = meta
	f.updateLog = append(f.updateLog, videoID)
	return nil
}

// fakeSource serves a fixed user and VOD list.
type fakeSource struct {
	vods        []RemoteVod
	userErr     error
	recentCalls int
}

func (f *fakeSource) ResolveUser(context.Context) (twitchapi.User, error) {
	if f.userErr != nil {
		return twitchapi.User{}, f.userErr
	}
	return twitchapi.User{ID: "42", Login: "softlynn"}, nil
}

func (f *fakeSource) Recent(context.Context, string) ([]RemoteVod, error) {
	f.recentCalls++
	return f.vods, nil
}

type fakeEmotes struct{ cat emotes.Catalog }

func (f fakeEmotes) Fetch(context.Context, string) emotes.Catalog { return f.cat }

// fakeChat writes a small export, or fails for the VOD ids in fail.
type fakeChat struct {
	calls []string
	fail  map[string]bool
}

const sampleExport = `{
  "comments": [
    {"_id": "c2", "content_offset_seconds": 12.5, "commenter": {"display_name": "Bob"},
     "message": {"body": "hi Kappa", "fragments": [{"text": "hi "}, {"text": "Kappa", "emoticon": {"emoticon_id": "25"}}]}},
    {"_id": "c1", "content_offset_seconds": 3, "commenter": {"name": "alice"}, "message": {"body": "first"}}
  ],
  "video": {"chapters": []},
  "embeddedData": {"thirdParty": [{"id": "5f1", "name": "catJAM", "width": 28, "height": 28}]}
}`

func (f *fakeChat) Export(_ context.Context, vodID, outPath string) error {
	f.calls = append(f.calls, vodID)
	if f.fail[vodID] {
		return errors.New("TwitchDownloaderCLI exited with status 1")
	}
	return os.WriteFile(outPath, []byte(sampleExport), 0o644)
}

// fakeMirror collects mirror calls.
type fakeMirror struct {
	mirrored int
	runs     []db.RunRecord
}

func (f *fakeMirror) MirrorRecords(_ context.Context, recs []*store.ArchiveRecord) error {
	f.mirrored = len(recs)
	return nil
}

func (f *fakeMirror) RecordRun(_ context.Context, r db.RunRecord) error {
	f.runs = append(f.runs, r)
	return nil
}

type fakePublisher struct {
	calls [][]string
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, paths []string) error {
	f.calls = append(f.calls, paths)
	return f.err
}

// archiveFixture is a temporary archive layout with a recordings directory.
type archiveFixture struct {
	root     string
	recDir   string
	cache    *store.DocCache
	state    *store.StateStore
	records  *store.RecordStore
	docs     *store.Documents
	host     *fakeHost
	source   *fakeSource
	chat     *fakeChat
	mirror   *fakeMirror
	publish  *fakePublisher
	opened   int
	now      time.Time
	pipeline *Pipeline
}

func newArchiveFixture(t *testing.T, vods ...RemoteVod) *archiveFixture {
	t.Helper()
	root := t.TempDir()
	f := &archiveFixture{
		root:    root,
		recDir:  filepath.Join(root, "recordings"),
		cache:   store.NewDocCache(),
		host:    newFakeHost(),
		source:  &fakeSource{vods: vods},
		chat:    &fakeChat{fail: map[string]bool{}},
		mirror:  &fakeMirror{},
		publish: &fakePublisher{},
		now:     time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC),
	}
	if err := os.MkdirAll(f.recDir, 0o755); err != nil {
		t.Fatal(err)
	}
	f.state = store.NewStateStore(filepath.Join(root, "state.json"), f.cache)
	f.records = store.NewRecordStore(filepath.Join(root, "site", "vods.json"), f.cache)
	f.docs = &store.Documents{
		CommentsDir: filepath.Join(root, "site", "comments"),
		EmotesDir:   filepath.Join(root, "site", "emotes"),
		Cache:       f.cache,
	}
	f.pipeline = &Pipeline{
		Options: Options{
			RecordingsDir:     f.recDir,
			MinRecordingAge:   10 * time.Minute,
			TmpDir:            filepath.Join(root, "tmp"),
			TmpRetention:      72 * time.Hour,
			ChatFailurePolicy: ChatSkipVOD,
		},
		Source:    f.source,
		Emotes:    fakeEmotes{cat: emotes.Catalog{BTTV: []emotes.Emote{{ID: "b1", Code: "catJAM"}}}},
		Chat:      f.chat,
		State:     f.state,
		Records:   f.records,
		Docs:      f.docs,
		Templates: Templates{SiteURL: "https://archive.example"},
		OpenHost: func(context.Context) (VideoHost, error) {
			f.opened++
			return f.host, nil
		},
		Mirror:    f.mirror,
		Publisher: f.publish,
		Retry:     retryPolicy{Attempts: 1},
		Now:       func() time.Time { return f.now },
	}
	return f
}

// addRecording creates a video file with the given modification time.
func (f *archiveFixture) addRecording(t *testing.T, name string, mtime time.Time) string {
	t.Helper()
	p := filepath.Join(f.recDir, name)
	if err := os.WriteFile(p, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(p, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		t.Fatal(err)
	}
	return abs
}

func (f *archiveFixture) run(t *testing.T) *Summary {
	t.Helper()
	sum, err := f.pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return sum
}

func (f *archiveFixture) record(t *testing.T, id string) *store.ArchiveRecord {
	t.Helper()
	recs, err := f.records.Load()
	if err != nil {
		t.Fatal(err)
	}
	rec := store.FindRecord(recs, id)
	if rec == nil {
		t.Fatalf("no archive record for %s", id)
	}
	return rec
}
