package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/vod-archiver/chat"
	"github.com/onnwee/vod-archiver/emotes"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWriteFileAtomicLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.json")
	if err := WriteFileAtomic(path, []byte(`{"a":1}`), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 || entries[0].Name() != "doc.json" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
	fi, _ := os.Stat(path)
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("perm = %v", fi.Mode().Perm())
	}
}

func TestDocCacheMemoAndInvalidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	writeFile(t, path, "one")
	c := NewDocCache()

	b, _ := c.Read(path)
	writeFile(t, path, "two")
	if b2, _ := c.Read(path); string(b2) != string(b) {
		t.Errorf("Read() should serve the memo, got %q", b2)
	}
	c.Invalidate(path)
	if b3, _ := c.Read(path); string(b3) != "two" {
		t.Errorf("Read() after Invalidate = %q", b3)
	}
	if err := c.Write(path, []byte("three")); err != nil {
		t.Fatal(err)
	}
	if b4, _ := c.Read(path); string(b4) != "three" {
		t.Errorf("Read() after Write = %q", b4)
	}
	if _, err := c.Read(filepath.Join(t.TempDir(), "missing")); !os.IsNotExist(err) {
		t.Errorf("missing file error = %v", err)
	}
}

func TestStateStoreLoadMissing(t *testing.T) {
	s := NewStateStore(filepath.Join(t.TempDir(), ".state", "pipeline-state.json"), NewDocCache())
	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.ProcessedFiles == nil || st.ProcessedVodIDs == nil || st.IsCompleted("/x.mp4") {
		t.Errorf("unexpected empty state: %+v", st)
	}
}

func TestStateStoreLegacyKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	writeFile(t, path, `{
		"processedFiles": {"/rec/a.mp4": {"status":"completed","twitchVodId":"111","youtubeVideoId":"yt1","part":1,"processedAt":"2024-01-02T00:00:00.000Z"}},
		"processedVodIds": {"111": {"metadataVersion":1,"metadataSyncedAt":"2024-01-02T00:00:00.000Z"}}
	}`)
	st, err := NewStateStore(path, nil).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	e := st.ProcessedFiles["/rec/a.mp4"]
	if e.RemoteVodID != "111" || e.VideoPartID != "yt1" || e.PartNumber != 1 || e.ProcessedAt.IsZero() {
		t.Errorf("legacy file entry = %+v", e)
	}
	if st.MetadataVersion("111") != 1 || st.ProcessedVodIDs["111"].MetadataSyncedAt.IsZero() {
		t.Errorf("legacy vod entry = %+v", st.ProcessedVodIDs["111"])
	}
}

func TestStateStoreUpdateMergesWithDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewStateStore(path, NewDocCache())
	if _, err := s.MarkCompleted("/rec/a.mp4", FileEntry{RemoteVodID: "111", VideoPartID: "yt1", PartNumber: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(); err != nil {
		t.Fatal(err)
	}

	// another process writes a vod entry behind our back
	writeFile(t, path, `{"processedFiles":{"/rec/a.mp4":{"status":"completed","remote_vod_id":"111","video_part_id":"yt1","part_number":1}},
		"processedVodIds":{"999":{"metadata_version":3}}}`)

	st, err := s.MarkCompleted("/rec/b.mp4", FileEntry{RemoteVodID: "111", VideoPartID: "yt2", PartNumber: 2})
	if err != nil {
		t.Fatal(err)
	}
	if st.MetadataVersion("999") != 3 {
		t.Error("external change lost by Update")
	}
	parts := st.CompletedParts("111")
	if len(parts) != 2 || parts[0].VideoPartID != "yt1" || parts[1].Path != "/rec/b.mp4" {
		t.Errorf("CompletedParts = %+v", parts)
	}

	raw, _ := os.ReadFile(path)
	for _, key := range []string{`"remote_vod_id"`, `"part_number"`, `"processed_at"`} {
		if !strings.Contains(string(raw), key) {
			t.Errorf("state file missing %s: %s", key, raw)
		}
	}
	if ids := st.CompletedVodIDs(); len(ids) != 1 || ids[0] != "111" {
		t.Errorf("CompletedVodIDs = %v", ids)
	}
}

func TestStateStoreUpdateVod(t *testing.T) {
	s := NewStateStore(filepath.Join(t.TempDir(), "state.json"), nil)
	st, err := s.UpdateVod("111", func(e *VodEntry) { e.MetadataVersion = 1 })
	if err != nil {
		t.Fatal(err)
	}
	if e := st.ProcessedVodIDs["111"]; e.MetadataVersion != 1 || e.UpdatedAt.IsZero() {
		t.Errorf("vod entry = %+v", e)
	}
}

func TestStateStoreMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	writeFile(t, path, "{broken")
	if _, err := NewStateStore(path, nil).Load(); err == nil {
		t.Error("expected decode error")
	}
}

func TestArchiveRecordPreservesUnknownFields(t *testing.T) {
	in := `{"id":"111","title":"t","duration":"01:00:00","thumbnail_url":"th","youtube":[],"stream_id":null,
		"drive":[],"platform":"twitch","chapters":[],"games":[{"id":"g"}],"createdAt":"2024-01-01T19:58:00Z",
		"updatedAt":"2024-01-02T00:00:00Z","unpublished":true,"notes":{"by":"admin"}}`
	var r ArchiveRecord
	if err := json.Unmarshal([]byte(in), &r); err != nil {
		t.Fatal(err)
	}
	if string(r.Extra["unpublished"]) != "true" || len(r.Games) != 1 {
		t.Fatalf("record = %+v", r)
	}
	out, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)
	if !strings.Contains(s, `"unpublished":true`) || !strings.Contains(s, `"notes":{"by":"admin"}`) {
		t.Errorf("extras lost: %s", s)
	}
	if !strings.HasPrefix(s, `{"id":"111"`) || !strings.Contains(s, `"stream_id":null`) {
		t.Errorf("known field layout changed: %s", s)
	}
}

func TestUpsertPartAndValidate(t *testing.T) {
	r := &ArchiveRecord{ID: "111", ThumbnailURL: "vod-thumb"}
	r.UpsertPart(VideoPart{ID: "b", Part: 2, Duration: 20})
	r.UpsertPart(VideoPart{ID: "a", Part: 1, Duration: 10, ThumbnailURL: "own"})
	if r.YouTube[0].ID != "a" || r.YouTube[1].ThumbnailURL != "vod-thumb" || r.YouTube[1].Type != PartTypeVOD {
		t.Errorf("parts = %+v", r.YouTube)
	}
	if err := r.ValidateParts(); err != nil {
		t.Errorf("ValidateParts() = %v", err)
	}
	r.UpsertPart(VideoPart{ID: "b2", Part: 2})
	if len(r.YouTube) != 2 || r.YouTube[1].ID != "b2" {
		t.Errorf("same part number should overwrite: %+v", r.YouTube)
	}
	if r.NextPartNumber() != 3 || !r.HasPart(2) || r.HasPart(3) {
		t.Errorf("NextPartNumber/HasPart wrong")
	}
	r.UpsertPart(VideoPart{ID: "d", Part: 4})
	if err := r.ValidateParts(); err == nil {
		t.Error("expected gap to be reported")
	}
}

func TestRecordStoreUpsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "public", "data", "vods.json")
	writeFile(t, path, `[
		{"id":"old","title":"old","createdAt":"2023-01-01T00:00:00Z","updatedAt":"2023-01-01T00:00:00Z"},
		{"id":"111","title":"before","createdAt":"2024-01-01T00:00:00Z","updatedAt":"2024-01-01T00:00:00Z","unpublished":true}
	]`)
	s := NewRecordStore(path, NewDocCache())
	recs, err := s.Load()
	if err != nil || len(recs) != 2 {
		t.Fatalf("Load() = %d, %v", len(recs), err)
	}

	// built without the admin flag; Upsert keeps it from disk
	rec := &ArchiveRecord{ID: "111", Title: "after", Platform: "twitch", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := s.Upsert(rec); err != nil {
		t.Fatal(err)
	}
	newest := &ArchiveRecord{ID: "222", CreatedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	if err := s.Upsert(newest); err != nil {
		t.Fatal(err)
	}

	recs, err = NewRecordStore(path, nil).Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 || recs[0].ID != "222" || recs[1].ID != "111" || recs[2].ID != "old" {
		t.Fatalf("records not sorted newest first: %v %v %v", recs[0].ID, recs[1].ID, recs[2].ID)
	}
	if recs[1].Title != "after" || string(recs[1].Extra["unpublished"]) != "true" {
		t.Errorf("merged record = %+v", recs[1])
	}
}

func TestRecordStoreUpsertKeepsConcurrentEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vods.json")
	writeFile(t, path, `[{"id":"111","title":"t","createdAt":"2024-01-01T00:00:00Z","updatedAt":"2024-01-01T00:00:00Z",
		"games":[{"id":"g1"}],"chatReplayAvailable":true,"vodNotice":"x"}]`)
	s := NewRecordStore(path, NewDocCache())
	recs, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	snapshot := *recs[0]

	// an admin edit lands between the run's load and its write
	writeFile(t, path, `[{"id":"111","title":"t","createdAt":"2024-01-01T00:00:00Z","updatedAt":"2024-01-01T00:00:00Z",
		"games":[{"id":"g1"},{"id":"g2"}],"chatReplayAvailable":false}]`)
	s.Cache.Invalidate(path)

	snapshot.Title = "refreshed"
	if err := s.Upsert(&snapshot); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if !strings.Contains(out, `"chatReplayAvailable": false`) || strings.Contains(out, "vodNotice") {
		t.Errorf("admin edit reverted:\n%s", out)
	}
	if !strings.Contains(out, `"refreshed"`) || !strings.Contains(out, `"g2"`) {
		t.Errorf("merged record wrong:\n%s", out)
	}
}

func TestDocuments(t *testing.T) {
	dir := t.TempDir()
	d := &Documents{CommentsDir: filepath.Join(dir, "comments"), EmotesDir: filepath.Join(dir, "emotes"), Cache: NewDocCache()}
	if d.HasEmotes("111") {
		t.Fatal("no bundle yet")
	}
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p, err := d.WriteEmotes(NewEmoteBundle("111", emotes.Catalog{FFZ: []emotes.Emote{{ID: "1", Code: "LULW", Name: "LULW"}}}, nil, now))
	if err != nil || p != filepath.Join(dir, "emotes", "111.json") {
		t.Fatalf("WriteEmotes() = %q, %v", p, err)
	}
	raw, _ := os.ReadFile(p)
	for _, key := range []string{`"7tv_emotes": []`, `"embedded_emotes": []`, `"source": "local-archive-pipeline"`} {
		if !strings.Contains(string(raw), key) {
			t.Errorf("bundle missing %s:\n%s", key, raw)
		}
	}
	if !d.HasEmotes("111") {
		t.Error("HasEmotes() = false after write")
	}

	if _, err := d.WriteComments(&CommentsDoc{Source: CommentsSource, TwitchVodID: "111", GeneratedAt: now,
		Comments: []chat.Comment{{ID: "c", Message: []chat.Fragment{chat.Text("hi")}}}}); err != nil {
		t.Fatal(err)
	}
	doc, ok, err := d.ReadComments("111")
	if err != nil || !ok || len(doc.Comments) != 1 || doc.Comments[0].Message[0] != chat.Text("hi") {
		t.Errorf("ReadComments() = %+v, %v, %v", doc, ok, err)
	}
	if _, ok, _ := d.ReadComments("nope"); ok {
		t.Error("ReadComments(missing) ok = true")
	}
}
