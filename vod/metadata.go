package vod

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/vod-archiver/store"
	"github.com/onnwee/vod-archiver/telemetry"
	"github.com/onnwee/vod-archiver/youtubeapi"
)

// MetadataSync rewrites the title and description of every uploaded part of a VOD
// and records the template version it used.
type MetadataSync struct {
	Host      VideoHost
	State     *store.StateStore
	Templates Templates
	Retry     retryPolicy
	Now       func() time.Time
}

// Stale returns the records with at least one part whose recorded template version
// is older than MetadataTemplateVersion.
func Stale(recs []*store.ArchiveRecord, st *store.PipelineState) []*store.ArchiveRecord {
	var out []*store.ArchiveRecord
	for _, r := range recs {
		if len(r.VodParts()) == 0 {
			continue
		}
		if st.MetadataVersion(r.ID) < MetadataTemplateVersion {
			out = append(out, r)
		}
	}
	return out
}

// PartMetadata renders the title and description for one part of rec.
func (m *MetadataSync) PartMetadata(rec *store.ArchiveRecord, part store.VideoPart) youtubeapi.Metadata {
	parts := rec.VodParts()
	streamTitle := rec.Title
	if streamTitle == "" {
		streamTitle = "Twitch VOD " + rec.ID
	}
	n := part.Part
	if n == 0 {
		n = 1
	}
	return youtubeapi.Metadata{
		Title: Title(TitleInput{StreamTitle: streamTitle, StreamDate: rec.CreatedAt, PartNumber: n, TotalParts: len(parts)}),
		Description: m.Templates.Description(DescriptionInput{
			VodID: rec.ID, StreamTitle: streamTitle, StreamDate: rec.CreatedAt,
			PartNumber: n, TotalParts: len(parts), Parts: parts,
		}),
	}
}

// Sync pushes fresh metadata to every part of rec and then checkpoints the template
// version. A record without parts is left untouched.
func (m *MetadataSync) Sync(ctx context.Context, rec *store.ArchiveRecord) error {
	parts := rec.VodParts()
	if len(parts) == 0 {
		return nil
	}
	ctx, span := telemetry.StartSpan(ctx, "metadata.sync")
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	for _, p := range parts {
		meta := m.PartMetadata(rec, p)
		err = withRetry(ctx, m.Retry, "youtube update metadata", func() error {
			return m.Host.UpdateMetadata(ctx, p.ID, meta)
		})
		if err != nil {
			err = upstreamError("update metadata for "+p.ID, rec.ID, err)
			return err
		}
	}
	if _, err = m.State.UpdateVod(rec.ID, func(e *store.VodEntry) {
		e.MetadataVersion = MetadataTemplateVersion
		now := time.Now
		if m.Now != nil {
			now = m.Now
		}
		e.MetadataSyncedAt = now().UTC()
	}); err != nil {
		err = upstreamError("checkpoint metadata version", rec.ID, err)
		return err
	}
	telemetry.CountMetadataSync()
	telemetry.LoggerWithCorr(ctx).Info("synced youtube metadata", slog.String("component", "metadata"), slog.String("vod_id", rec.ID), slog.Int("parts", len(parts)))
	return nil
}
