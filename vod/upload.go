package vod

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/onnwee/vod-archiver/scan"
	"github.com/onnwee/vod-archiver/store"
	"github.com/onnwee/vod-archiver/telemetry"
	"github.com/onnwee/vod-archiver/youtubeapi"
)

// VideoHost is the video platform the archive publishes to.
type VideoHost interface {
	EnsureCategory(ctx context.Context) error
	Upload(ctx context.Context, path string, meta youtubeapi.Metadata) (string, error)
	Details(ctx context.Context, videoID string) (youtubeapi.Details, error)
	UpdateMetadata(ctx context.Context, videoID string, meta youtubeapi.Metadata) error
}

// Uploader turns a matched group of recordings into consecutive parts of one
// archive record, checkpointing after every recording.
type Uploader struct {
	Host      VideoHost
	State     *store.StateStore
	Records   *store.RecordStore
	Templates Templates
	Retry     retryPolicy
	Now       func() time.Time
}

func (u *Uploader) now() time.Time {
	if u.Now != nil {
		return u.Now()
	}
	return time.Now()
}

// UploadGroup uploads recs in order as the next parts of rec. Each finished upload is
// written to the pipeline state before the record file, so a crash between the two
// leaves a checkpoint that HealParts can restore from and never a second upload.
// It returns the number of recordings uploaded; on error the earlier ones stay
// completed.
func (u *Uploader) UploadGroup(ctx context.Context, rec *store.ArchiveRecord, v RemoteVod, recs []scan.RecordingFile) (int, error) {
	existing := len(rec.VodParts())
	next := rec.NextPartNumber()
	total := existing + len(recs)
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "upload"), slog.String("vod_id", v.ID))

	for i, r := range recs {
		part := next + i
		streamTitle := v.Title
		if streamTitle == "" {
			streamTitle = strings.TrimSuffix(r.Name, filepath.Ext(r.Name))
		}
		meta := youtubeapi.Metadata{
			Title: Title(TitleInput{StreamTitle: streamTitle, StreamDate: v.CreatedAt, PartNumber: part, TotalParts: total}),
			Description: u.Templates.Description(DescriptionInput{
				VodID: v.ID, StreamTitle: v.Title, StreamDate: v.CreatedAt, PartNumber: part, TotalParts: total,
			}),
		}

		spanCtx, span := telemetry.StartSpan(ctx, "upload.recording")
		var (
			videoID string
			err     error
		)
		took := telemetry.TimeFunc(nil, func() {
			videoID, err = u.Host.Upload(spanCtx, r.Path, meta)
		})
		telemetry.CountUpload(err == nil, took)
		telemetry.EndSpan(span, err)
		if err != nil {
			return i, upstreamError("upload "+r.Name, v.ID, err)
		}
		log.Info("uploaded recording", slog.String("file", r.Name), slog.String("video_id", videoID), slog.Int("part", part), slog.Duration("took", took))

		var details youtubeapi.Details
		if err := withRetry(ctx, u.Retry, "youtube video details", func() error {
			var derr error
			details, derr = u.Host.Details(ctx, videoID)
			return derr
		}); err != nil {
			// the upload exists; losing duration and thumbnail is better than uploading twice
			log.Warn("video details unavailable", slog.String("video_id", videoID), slog.Any("err", err))
		}

		rec.UpsertPart(store.VideoPart{
			ID:           videoID,
			Type:         store.PartTypeVOD,
			Duration:     details.DurationSeconds,
			Part:         part,
			ThumbnailURL: details.ThumbnailURL,
		})
		rec.UpdatedAt = u.now().UTC()

		if _, err := u.State.MarkCompleted(r.Path, store.FileEntry{RemoteVodID: v.ID, VideoPartID: videoID, PartNumber: part}); err != nil {
			return i, upstreamError("checkpoint "+r.Name, v.ID, err)
		}
		if err := u.Records.Upsert(rec); err != nil {
			return i + 1, upstreamError("write archive record", v.ID, err)
		}
	}
	return len(recs), nil
}

// OrphanedVods lists VODs with completed checkpoints but no archive record, left
// by a crash after the first upload of a VOD and before its record was written.
func OrphanedVods(st *store.PipelineState, recs []*store.ArchiveRecord) []string {
	var ids []string
	for _, vodID := range st.CompletedVodIDs() {
		if store.FindRecord(recs, vodID) == nil {
			ids = append(ids, vodID)
		}
	}
	return ids
}

// HealParts restores parts that have a completed checkpoint but are missing from
// their archive record, the state left by a crash between the checkpoint and the
// record write. A VOD without any record gets a new one built from its entry in
// vods, or a bare one when Twitch no longer lists it. Healed VODs get their
// metadata version reset so titles are regenerated with the new part count. The
// host may be nil, in which case duration and thumbnail are left for the next
// metadata pass.
func (u *Uploader) HealParts(ctx context.Context, st *store.PipelineState, recs []*store.ArchiveRecord, vods []RemoteVod) (int, error) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "upload"))
	healed := 0
	for _, vodID := range st.CompletedVodIDs() {
		rec := store.FindRecord(recs, vodID)
		if rec == nil {
			v := RemoteVod{ID: vodID}
			if found := findVod(vods, vodID); found != nil {
				v = *found
			} else {
				log.Warn("checkpointed vod not listed on twitch; creating a bare record", slog.String("vod_id", vodID))
			}
			rec = BuildRecord(nil, v, nil, u.now())
		}
		changed := false
		for _, cp := range st.CompletedParts(vodID) {
			if rec.HasPart(cp.PartNumber) {
				continue
			}
			var details youtubeapi.Details
			if u.Host != nil {
				if d, err := u.Host.Details(ctx, cp.VideoPartID); err == nil {
					details = d
				}
			}
			rec.UpsertPart(store.VideoPart{
				ID:           cp.VideoPartID,
				Type:         store.PartTypeVOD,
				Duration:     details.DurationSeconds,
				Part:         cp.PartNumber,
				ThumbnailURL: details.ThumbnailURL,
			})
			log.Warn("restored part from checkpoint", slog.String("vod_id", vodID), slog.Int("part", cp.PartNumber), slog.String("video_id", cp.VideoPartID), slog.String("file", cp.Path))
			telemetry.CountHealedPart()
			changed = true
			healed++
		}
		if !changed {
			continue
		}
		rec.UpdatedAt = u.now().UTC()
		if err := u.Records.Upsert(rec); err != nil {
			return healed, upstreamError("write healed record", vodID, err)
		}
		if _, err := u.State.UpdateVod(vodID, func(e *store.VodEntry) { e.MetadataVersion = 0 }); err != nil {
			return healed, upstreamError("reset metadata version", vodID, err)
		}
		if err := rec.ValidateParts(); err != nil {
			log.Warn("archive record parts not contiguous", slog.String("vod_id", vodID), slog.Any("err", err))
		}
	}
	return healed, nil
}

func findVod(vods []RemoteVod, id string) *RemoteVod {
	for i := range vods {
		if vods[i].ID == id {
			return &vods[i]
		}
	}
	return nil
}
