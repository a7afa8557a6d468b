package vod

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/vod-archiver/chat"
	"github.com/onnwee/vod-archiver/config"
	"github.com/onnwee/vod-archiver/db"
	"github.com/onnwee/vod-archiver/emotes"
	"github.com/onnwee/vod-archiver/scan"
	"github.com/onnwee/vod-archiver/store"
	"github.com/onnwee/vod-archiver/telemetry"
	"github.com/onnwee/vod-archiver/twitchapi"
)

// Chat failure policies, as accepted by CHAT_FAILURE_POLICY.
const (
	// ChatSkipVOD leaves the VOD's recordings pending and carries on with the run.
	ChatSkipVOD = config.ChatSkipVOD
	// ChatAbort fails the run.
	ChatAbort = config.ChatAbort
)

// VodSource lists the channel's archived broadcasts.
type VodSource interface {
	ResolveUser(ctx context.Context) (twitchapi.User, error)
	Recent(ctx context.Context, userID string) ([]RemoteVod, error)
}

// EmoteSource returns the channel's third-party emote catalogs. It never fails;
// unavailable providers come back empty.
type EmoteSource interface {
	Fetch(ctx context.Context, twitchUserID string) emotes.Catalog
}

// ArchiveMirror receives the committed archive and run summaries.
type ArchiveMirror interface {
	MirrorRecords(ctx context.Context, recs []*store.ArchiveRecord) error
	RecordRun(ctx context.Context, r db.RunRecord) error
}

// Options are the run-level knobs of a Pipeline.
type Options struct {
	RecordingsDir       string
	MinRecordingAge     time.Duration
	MaxRecordingsPerRun int
	TmpDir              string
	TmpRetention        time.Duration
	DryRun              bool
	ChatFailurePolicy   string
}

// Pipeline reconciles local recordings with the channel's VODs and publishes the
// result. Every collaborator except Mirror and Publisher is required.
type Pipeline struct {
	Options

	Source    VodSource
	Emotes    EmoteSource
	Chat      chat.Exporter
	Matcher   Matcher
	State     *store.StateStore
	Records   *store.RecordStore
	Docs      *store.Documents
	Templates Templates
	// OpenHost is called at most once per run, and only when something has to be
	// uploaded or re-synced.
	OpenHost  func(ctx context.Context) (VideoHost, error)
	Mirror    ArchiveMirror
	Publisher Publisher
	// Retry bounds retries of idempotent YouTube calls; zero means the default.
	Retry     retryPolicy
	Now       func() time.Time
}

// Summary reports what a run did.
type Summary struct {
	RunID            string
	StartedAt        time.Time
	FinishedAt       time.Time
	DryRun           bool
	Noop             bool
	Candidates       int
	Matched          int
	Unmatched        []string
	ChatExports      int
	Uploaded         int
	EmotesBackfilled int
	MetadataSynced   int
	PartsHealed      int
	SkippedVods      []string
	// Changed lists the archive documents written, for the publisher.
	Changed []string
	// Err joins the per-VOD failures that were skipped under ChatSkipVOD.
	Err error
}

// Outcome labels the run for metrics and the run log.
func (s *Summary) Outcome(runErr error) string {
	switch {
	case runErr != nil:
		return "failed"
	case s.Noop:
		return "noop"
	case len(s.SkippedVods) > 0:
		return "partial"
	default:
		return "success"
	}
}

func (s *Summary) addChanged(paths ...string) {
	for _, p := range paths {
		dup := false
		for _, have := range s.Changed {
			if have == p {
				dup = true
				break
			}
		}
		if !dup {
			s.Changed = append(s.Changed, p)
		}
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Run performs one reconciliation pass. Progress is checkpointed per recording, so
// an error return never undoes work already recorded; rerunning picks up where the
// failed run stopped.
func (p *Pipeline) Run(ctx context.Context) (sum *Summary, err error) {
	sum = &Summary{RunID: telemetry.GetCorrelation(ctx), StartedAt: p.now(), DryRun: p.DryRun}
	ctx, span := telemetry.StartSpan(ctx, "pipeline.run", attribute.Bool("dry_run", p.DryRun))
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "pipeline"))
	defer func() {
		sum.FinishedAt = p.now()
		telemetry.EndSpan(span, err)
		telemetry.RecordRun(sum.Outcome(err), sum.FinishedAt.Sub(sum.StartedAt))
		p.recordRun(ctx, sum, err)
	}()

	if err := os.MkdirAll(p.TmpDir, 0o755); err != nil {
		return sum, configError("create tmp dir", err)
	}
	CleanupTmp(p.TmpDir, p.TmpRetention, sum.StartedAt)
	st, err := p.State.Load()
	if err != nil {
		return sum, configError("load pipeline state", err)
	}
	recs, err := p.Records.Load()
	if err != nil {
		return sum, configError("load archive records", err)
	}

	retry := p.Retry
	if retry.Attempts == 0 {
		retry = defaultRetry
	}
	uploader := &Uploader{State: p.State, Records: p.Records, Templates: p.Templates, Retry: retry, Now: p.now}
	var (
		user *twitchapi.User
		vods []RemoteVod
	)
	if !p.DryRun {
		if orphans := OrphanedVods(st, recs); len(orphans) > 0 {
			log.Warn("checkpointed vods without archive records", slog.Any("vod_ids", orphans))
			if user, vods, err = p.listVods(ctx); err != nil {
				return sum, err
			}
		}
		healed, err := uploader.HealParts(ctx, st, recs, vods)
		sum.PartsHealed = healed
		if err != nil {
			return sum, err
		}
		if healed > 0 {
			sum.addChanged(p.Records.Path)
			if st, err = p.State.Load(); err != nil {
				return sum, configError("reload pipeline state", err)
			}
			if recs, err = p.Records.Load(); err != nil {
				return sum, configError("reload archive records", err)
			}
		}
	}

	files, err := scan.Scan(p.RecordingsDir)
	if err != nil {
		return sum, configError("scan recordings", err)
	}
	candidates := scan.Candidates(files, st, sum.StartedAt, p.MinRecordingAge)
	sum.Candidates = len(candidates)
	telemetry.SetPending(len(candidates))

	var missingEmotes []string
	for _, r := range recs {
		if !p.Docs.HasEmotes(r.ID) {
			missingEmotes = append(missingEmotes, r.ID)
		}
	}
	stale := Stale(recs, st)

	if len(candidates) == 0 && len(missingEmotes) == 0 && len(stale) == 0 {
		log.Info("no completed recordings ready for processing")
		sum.Noop = sum.PartsHealed == 0
		return sum, p.finish(ctx, sum)
	}
	log.Info("starting run",
		slog.Int("recordings", len(candidates)),
		slog.Int("missing_emotes", len(missingEmotes)),
		slog.Int("stale_metadata", len(stale)),
		slog.Bool("dry_run", p.DryRun))

	if user == nil {
		if len(candidates) > 0 {
			user, vods, err = p.listVods(ctx)
		} else {
			user, err = p.resolveUser(ctx)
		}
		if err != nil {
			return sum, err
		}
	}
	if len(candidates) > 0 && len(vods) == 0 {
		log.Info("no twitch archives found yet")
	}
	catalog := p.Emotes.Fetch(ctx, user.ID)
	for _, src := range catalog.Failed {
		telemetry.CountEmoteSourceFailure(src)
	}

	plan := p.Matcher.Plan(scan.Limit(candidates, p.MaxRecordingsPerRun), vods)
	for _, r := range plan.Unmatched {
		log.Info("no twitch vod match for recording", slog.String("file", r.Name))
		sum.Unmatched = append(sum.Unmatched, r.Name)
	}
	for _, g := range plan.Groups {
		for _, r := range g.Recordings {
			log.Info("matched recording", slog.String("file", r.Name), slog.String("vod_id", g.Vod.ID))
		}
		sum.Matched += len(g.Recordings)
	}

	if !p.DryRun {
		if err := p.backfillEmotes(ctx, missingEmotes, catalog, sum); err != nil {
			return sum, err
		}
	}

	var host VideoHost
	if !p.DryRun && (len(plan.Groups) > 0 || len(stale) > 0) {
		if host, err = p.OpenHost(ctx); err != nil {
			return sum, configError("open youtube client", err)
		}
		if err := host.EnsureCategory(ctx); err != nil {
			return sum, configError("check youtube category", err)
		}
	}
	uploader.Host = host
	syncer := &MetadataSync{Host: host, State: p.State, Templates: p.Templates, Retry: retry, Now: p.now}

	synced := map[string]bool{}
	var skipped []error
	for _, g := range plan.Groups {
		err := p.processGroup(ctx, g, catalog, recs, uploader, syncer, sum)
		if err == nil {
			synced[g.Vod.ID] = !p.DryRun
			continue
		}
		if Classify(err) == ClassData && p.ChatFailurePolicy != ChatAbort {
			log.Warn("skipping vod; its recordings stay pending", slog.String("vod_id", g.Vod.ID), slog.Any("err", err))
			sum.SkippedVods = append(sum.SkippedVods, g.Vod.ID)
			skipped = append(skipped, err)
			continue
		}
		return sum, err
	}

	if host != nil {
		for _, rec := range stale {
			if synced[rec.ID] {
				continue
			}
			if err := syncer.Sync(ctx, rec); err != nil {
				return sum, err
			}
			sum.MetadataSynced++
		}
	}

	sum.Err = errors.Join(skipped...)
	return sum, p.finish(ctx, sum)
}

func (p *Pipeline) resolveUser(ctx context.Context) (*twitchapi.User, error) {
	user, err := p.Source.ResolveUser(ctx)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// listVods resolves the channel and lists its recent archives.
func (p *Pipeline) listVods(ctx context.Context) (*twitchapi.User, []RemoteVod, error) {
	user, err := p.resolveUser(ctx)
	if err != nil {
		return nil, nil, err
	}
	vods, err := p.Source.Recent(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, vods, nil
}

// processGroup exports and stores the chat of one VOD, then uploads its recordings
// and refreshes the metadata of all its parts.
func (p *Pipeline) processGroup(ctx context.Context, g Group, catalog emotes.Catalog, recs []*store.ArchiveRecord, up *Uploader, syncer *MetadataSync, sum *Summary) error {
	v := g.Vod
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "pipeline"), slog.String("vod_id", v.ID))

	rawPath := filepath.Join(p.TmpDir, v.ID+"-chat-raw.json")
	err := p.Chat.Export(ctx, v.ID, rawPath)
	telemetry.CountChatExport(err == nil)
	if err != nil {
		return dataError("export chat", v.ID, err)
	}
	sum.ChatExports++
	raw, err := chat.ReadExport(rawPath)
	if err != nil {
		return dataError("read chat export", v.ID, err)
	}
	defer os.Remove(rawPath)
	comments := chat.Normalize(raw)
	embedded := chat.EmbeddedEmotes(raw)

	if p.DryRun {
		log.Info("[dry run] chat export succeeded",
			slog.Int("comments", len(comments)),
			slog.Int("embedded_emotes", len(embedded)),
			slog.Int("recordings", len(g.Recordings)))
		return nil
	}

	now := p.now()
	commentsPath, err := p.Docs.WriteComments(&store.CommentsDoc{
		Source: store.CommentsSource, TwitchVodID: v.ID, GeneratedAt: now.UTC(), Comments: comments,
	})
	if err != nil {
		return upstreamError("write comments", v.ID, err)
	}
	emotesPath, err := p.Docs.WriteEmotes(store.NewEmoteBundle(v.ID, catalog, embedded, now))
	if err != nil {
		return upstreamError("write emotes", v.ID, err)
	}
	sum.addChanged(commentsPath, emotesPath)

	rec := BuildRecord(store.FindRecord(recs, v.ID), v, raw, now)
	n, err := up.UploadGroup(ctx, rec, v, g.Recordings)
	sum.Uploaded += n
	if n > 0 {
		sum.addChanged(p.Records.Path)
	}
	if err != nil {
		return err
	}
	if err := syncer.Sync(ctx, rec); err != nil {
		return err
	}
	sum.MetadataSynced++
	return nil
}

func (p *Pipeline) backfillEmotes(ctx context.Context, vodIDs []string, catalog emotes.Catalog, sum *Summary) error {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "pipeline"))
	for _, id := range vodIDs {
		now := p.now()
		path, err := p.Docs.WriteEmotes(store.NewEmoteBundle(id, catalog, nil, now))
		if err != nil {
			return upstreamError("backfill emotes", id, err)
		}
		if _, err := p.State.UpdateVod(id, func(e *store.VodEntry) { e.EmotesBackfilledAt = now.UTC() }); err != nil {
			return upstreamError("checkpoint emote backfill", id, err)
		}
		sum.EmotesBackfilled++
		sum.addChanged(path)
		log.Info("backfilled emotes", slog.String("vod_id", id))
	}
	return nil
}

// finish mirrors the committed archive and hands changed documents to the
// publisher. Mirror failures are only logged; the JSON documents are authoritative.
func (p *Pipeline) finish(ctx context.Context, sum *Summary) error {
	if p.DryRun {
		return nil
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "pipeline"))
	if p.Mirror != nil && len(sum.Changed) > 0 {
		recs, err := p.Records.Load()
		if err == nil {
			err = p.Mirror.MirrorRecords(ctx, recs)
		}
		if err != nil {
			log.Warn("postgres mirror update failed", slog.Any("err", err))
		}
	}
	if p.Publisher != nil && len(sum.Changed) > 0 {
		if err := p.Publisher.Publish(ctx, sum.Changed); err != nil {
			return upstreamError("publish archive changes", "", err)
		}
	}
	return nil
}

func (p *Pipeline) recordRun(ctx context.Context, sum *Summary, runErr error) {
	if p.Mirror == nil {
		return
	}
	rr := db.RunRecord{
		RunID:            sum.RunID,
		StartedAt:        sum.StartedAt,
		FinishedAt:       sum.FinishedAt,
		Status:           sum.Outcome(runErr),
		DryRun:           sum.DryRun,
		Recordings:       sum.Candidates,
		Uploaded:         sum.Uploaded,
		ChatExports:      sum.ChatExports,
		MetadataSynced:   sum.MetadataSynced,
		EmotesBackfilled: sum.EmotesBackfilled,
		SkippedVods:      sum.SkippedVods,
	}
	if rr.RunID == "" {
		return
	}
	if runErr != nil {
		rr.Error = runErr.Error()
	} else if sum.Err != nil {
		rr.Error = sum.Err.Error()
	}
	// the run context may already be cancelled; the log entry should still land
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.Mirror.RecordRun(rctx, rr); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("record run in postgres failed", slog.String("component", "pipeline"), slog.Any("err", err))
	}
}
