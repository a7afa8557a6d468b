package vod

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/onnwee/vod-archiver/scan"
	"github.com/onnwee/vod-archiver/store"
)

func newTestUploader(t *testing.T, host *fakeHost) *Uploader {
	t.Helper()
	root := t.TempDir()
	cache := store.NewDocCache()
	return &Uploader{
		Host:      host,
		State:     store.NewStateStore(filepath.Join(root, "state.json"), cache),
		Records:   store.NewRecordStore(filepath.Join(root, "vods.json"), cache),
		Templates: Templates{SiteURL: "https://archive.example"},
		Retry:     retryPolicy{Attempts: 1},
	}
}

func TestUploadGroupNumbersPartsInOrder(t *testing.T) {
	host := newFakeHost()
	u := newTestUploader(t, host)
	v := RemoteVod{ID: "111", Title: "Cozy", CreatedAt: streamDate, ThumbnailURL: "https://thumb/111.jpg"}
	recs := []scan.RecordingFile{
		{Path: "/rec/first.mp4", Name: "first.mp4", ModifiedAt: streamDate.Add(time.Hour)},
		{Path: "/rec/second.mp4", Name: "second.mp4", ModifiedAt: streamDate.Add(2 * time.Hour)},
	}
	rec := BuildRecord(nil, v, nil, streamDate)

	n, err := u.UploadGroup(context.Background(), rec, v, recs)
	if err != nil || n != 2 {
		t.Fatalf("UploadGroup() = %d, %v", n, err)
	}
	if host.uploads[0].Path != "/rec/first.mp4" || host.uploads[0].Meta.Title != "Cozy - 2024-01-01 - Part 1" {
		t.Errorf("first upload = %+v", host.uploads[0])
	}
	if host.uploads[1].Meta.Title != "Cozy - 2024-01-01 - Part 2" {
		t.Errorf("second upload title = %q", host.uploads[1].Meta.Title)
	}

	st, _ := u.State.Load()
	for i, r := range recs {
		e := st.ProcessedFiles[r.Path]
		if e.Status != store.StatusCompleted || e.PartNumber != i+1 || e.RemoteVodID != "111" || e.VideoPartID != host.uploads[i].ID {
			t.Errorf("checkpoint for %s = %+v", r.Name, e)
		}
	}

	saved, _ := u.Records.Load()
	got := store.FindRecord(saved, "111")
	if got == nil || len(got.VodParts()) != 2 {
		t.Fatalf("saved record = %+v", got)
	}
	if p := got.VodParts()[1]; p.Part != 2 || p.Duration != 600 || p.ID != "yt-2" {
		t.Errorf("part 2 = %+v", p)
	}
}

func TestUploadGroupFailureKeepsEarlierParts(t *testing.T) {
	host := newFakeHost()
	host.failAt = 2
	u := newTestUploader(t, host)
	v := RemoteVod{ID: "111", Title: "Cozy", CreatedAt: streamDate}
	recs := []scan.RecordingFile{
		{Path: "/rec/a.mp4", Name: "a.mp4"},
		{Path: "/rec/b.mp4", Name: "b.mp4"},
		{Path: "/rec/c.mp4", Name: "c.mp4"},
	}
	rec := BuildRecord(nil, v, nil, streamDate)

	n, err := u.UploadGroup(context.Background(), rec, v, recs)
	if err == nil || n != 1 {
		t.Fatalf("UploadGroup() = %d, %v; want failure after one upload", n, err)
	}
	if Classify(err) != ClassUpstream {
		t.Errorf("upload failure classified %v", Classify(err))
	}
	st, _ := u.State.Load()
	if !st.IsCompleted("/rec/a.mp4") || st.IsCompleted("/rec/b.mp4") || st.IsCompleted("/rec/c.mp4") {
		t.Errorf("checkpoints = %+v", st.ProcessedFiles)
	}
	saved, _ := u.Records.Load()
	if got := store.FindRecord(saved, "111"); got == nil || len(got.VodParts()) != 1 {
		t.Errorf("record after failure = %+v", got)
	}
}

func TestUploadGroupContinuesNumbering(t *testing.T) {
	host := newFakeHost()
	u := newTestUploader(t, host)
	v := RemoteVod{ID: "111", Title: "Cozy", CreatedAt: streamDate}
	rec := BuildRecord(nil, v, nil, streamDate)
	rec.UpsertPart(store.VideoPart{ID: "yt-old", Part: 1})

	if _, err := u.UploadGroup(context.Background(), rec, v, []scan.RecordingFile{{Path: "/rec/late.mp4", Name: "late.mp4"}}); err != nil {
		t.Fatal(err)
	}
	if host.uploads[0].Meta.Title != "Cozy - 2024-01-01 - Part 2" {
		t.Errorf("title = %q", host.uploads[0].Meta.Title)
	}
	if err := rec.ValidateParts(); err != nil {
		t.Error(err)
	}
}

func TestUploadGroupSoftDetailsFailure(t *testing.T) {
	host := newFakeHost()
	host.detailErr = errors.New("googleapi: Error 404: videoNotFound")
	u := newTestUploader(t, host)
	v := RemoteVod{ID: "111", ThumbnailURL: "https://thumb/111.jpg"}
	rec := BuildRecord(nil, v, nil, streamDate)

	n, err := u.UploadGroup(context.Background(), rec, v, []scan.RecordingFile{{Path: "/rec/stream_night.mp4", Name: "stream_night.mp4"}})
	if err != nil || n != 1 {
		t.Fatalf("UploadGroup() = %d, %v", n, err)
	}
	p := rec.VodParts()[0]
	if p.Duration != 0 || p.ThumbnailURL != "https://thumb/111.jpg" {
		t.Errorf("part = %+v", p)
	}
	if host.uploads[0].Meta.Title != "stream_night - unknown-date" {
		t.Errorf("fallback title = %q", host.uploads[0].Meta.Title)
	}
}

func TestHealPartsRestoresCheckpointedUpload(t *testing.T) {
	host := newFakeHost()
	u := newTestUploader(t, host)
	v := RemoteVod{ID: "111", Title: "Cozy", CreatedAt: streamDate}
	rec := BuildRecord(nil, v, nil, streamDate)
	rec.UpsertPart(store.VideoPart{ID: "yt-1", Part: 1})
	if err := u.Records.Upsert(rec); err != nil {
		t.Fatal(err)
	}
	// part 2 was uploaded and checkpointed, then the process died before the record write
	if _, err := u.State.MarkCompleted("/rec/a.mp4", store.FileEntry{RemoteVodID: "111", VideoPartID: "yt-1", PartNumber: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := u.State.MarkCompleted("/rec/b.mp4", store.FileEntry{RemoteVodID: "111", VideoPartID: "yt-2", PartNumber: 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := u.State.UpdateVod("111", func(e *store.VodEntry) { e.MetadataVersion = MetadataTemplateVersion }); err != nil {
		t.Fatal(err)
	}

	st, _ := u.State.Load()
	recs, _ := u.Records.Load()
	healed, err := u.HealParts(context.Background(), st, recs, nil)
	if err != nil || healed != 1 {
		t.Fatalf("HealParts() = %d, %v", healed, err)
	}
	saved, _ := u.Records.Load()
	got := store.FindRecord(saved, "111")
	if len(got.VodParts()) != 2 || got.VodParts()[1].ID != "yt-2" || got.VodParts()[1].Duration != 600 {
		t.Errorf("healed parts = %+v", got.VodParts())
	}
	st, _ = u.State.Load()
	if st.MetadataVersion("111") != 0 {
		t.Error("healing must reset the metadata version")
	}

	healed, err = u.HealParts(context.Background(), st, saved, nil)
	if err != nil || healed != 0 {
		t.Errorf("second HealParts() = %d, %v", healed, err)
	}
}

func TestHealPartsCreatesMissingRecord(t *testing.T) {
	host := newFakeHost()
	u := newTestUploader(t, host)
	healedAt := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	u.Now = func() time.Time { return healedAt }
	// the first upload of both vods was checkpointed before any record existed
	if _, err := u.State.MarkCompleted("/rec/a.mp4", store.FileEntry{RemoteVodID: "111", VideoPartID: "yt-a", PartNumber: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := u.State.MarkCompleted("/rec/b.mp4", store.FileEntry{RemoteVodID: "999", VideoPartID: "yt-b", PartNumber: 1}); err != nil {
		t.Fatal(err)
	}
	st, _ := u.State.Load()
	if got := OrphanedVods(st, nil); len(got) != 2 {
		t.Fatalf("OrphanedVods() = %v", got)
	}

	vods := []RemoteVod{{ID: "111", Title: "Cozy", CreatedAt: streamDate}}
	healed, err := u.HealParts(context.Background(), st, nil, vods)
	if err != nil || healed != 2 {
		t.Fatalf("HealParts() = %d, %v", healed, err)
	}
	recs, _ := u.Records.Load()
	listed := store.FindRecord(recs, "111")
	if listed == nil || listed.Title != "Cozy" || len(listed.VodParts()) != 1 || listed.VodParts()[0].ID != "yt-a" {
		t.Fatalf("record 111 = %+v", listed)
	}
	if !listed.UpdatedAt.Equal(healedAt) {
		t.Errorf("UpdatedAt = %v, want the uploader clock", listed.UpdatedAt)
	}
	bare := store.FindRecord(recs, "999")
	if bare == nil || bare.Title != "Twitch VOD 999" || len(bare.VodParts()) != 1 {
		t.Errorf("record 999 = %+v", bare)
	}
	if got := OrphanedVods(st, recs); len(got) != 0 {
		t.Errorf("OrphanedVods() after heal = %v", got)
	}
}
