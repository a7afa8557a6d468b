package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/onnwee/vod-archiver/chat"
	"github.com/onnwee/vod-archiver/config"
	"github.com/onnwee/vod-archiver/crypto"
	"github.com/onnwee/vod-archiver/db"
	"github.com/onnwee/vod-archiver/emotes"
	"github.com/onnwee/vod-archiver/store"
	"github.com/onnwee/vod-archiver/telemetry"
	"github.com/onnwee/vod-archiver/vod"
	"github.com/onnwee/vod-archiver/youtubeapi"
)

func newRunCommand() *cobra.Command {
	var dryRun, noLock bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconciliation pass",
		Long: `Match finished recordings to Twitch VODs, export their chat, upload them to
YouTube and update the archive documents. Safe to rerun at any time; completed
recordings are never uploaded twice.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			if dryRun {
				cfg.DryRun = true
			}
			return runOnce(cmd.Context(), cfg, !noLock)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "match and export chat but upload and write nothing (also LOCAL_PIPELINE_DRY_RUN=true)")
	cmd.Flags().BoolVar(&noLock, "no-lock", false, "skip the single-run lock next to the state file")
	return cmd
}

func runOnce(parent context.Context, cfg *config.Config, lock bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("vod-archiver", version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer shutdown()

	if lock {
		release, err := acquireRunLock(cfg.StatePath)
		if err != nil {
			return err
		}
		defer release()
	}

	runID := uuid.NewString()
	ctx = telemetry.WithCorrelation(ctx, runID)
	log := telemetry.LoggerWithCorr(ctx)

	p, closeDeps, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDeps()

	sum, runErr := p.Run(ctx)
	logSummary(log, sum, runErr)

	if cfg.PushgatewayURL != "" {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		host, _ := os.Hostname()
		if err := telemetry.Push(pctx, cfg.PushgatewayURL, "vod_archiver", host); err != nil {
			log.Warn("metrics push failed", slog.Any("err", err))
		}
		cancel()
	}
	if runErr != nil {
		return fmt.Errorf("run %s failed (%s): %w", runID, vod.Classify(runErr), runErr)
	}
	return nil
}

// acquireRunLock takes an exclusive lock on <state>.lock so two runs never race on
// the same state file.
func acquireRunLock(statePath string) (func(), error) {
	lockPath := statePath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	fl := flock.New(lockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another run holds %s", lockPath)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("release run lock", slog.String("path", lockPath), slog.Any("err", err))
		}
	}, nil
}

// buildPipeline wires the pipeline from cfg. The returned func closes the optional
// Postgres connection.
func buildPipeline(ctx context.Context, cfg *config.Config) (*vod.Pipeline, func(), error) {
	var enc crypto.Encryptor
	if cfg.EncryptionKey != "" {
		aes, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
		}
		enc = aes
	}

	cache := store.NewDocCache()
	p := &vod.Pipeline{
		Options: vod.Options{
			RecordingsDir:       cfg.RecordingsDir,
			MinRecordingAge:     cfg.MinRecordingAge,
			MaxRecordingsPerRun: cfg.MaxRecordingsPerRun,
			TmpDir:              cfg.TmpDir,
			TmpRetention:        cfg.TmpRetention,
			DryRun:              cfg.DryRun,
			ChatFailurePolicy:   cfg.ChatFailurePolicy,
		},
		Source:  vod.NewCatalog(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchChannelLogin, cfg.VODListPageSize),
		Emotes:  &emotes.Client{},
		Chat:    chat.DownloaderCLI{Path: cfg.TwitchDownloaderPath},
		Matcher: vod.Matcher{Window: cfg.MatchWindow, Policy: cfg.MatchPolicy, Order: cfg.PartOrder},
		State:   store.NewStateStore(cfg.StatePath, cache),
		Records: store.NewRecordStore(cfg.VodsDataPath, cache),
		Docs:    &store.Documents{CommentsDir: cfg.CommentsDir, EmotesDir: cfg.EmotesDir, Cache: cache},
		Templates: vod.Templates{
			SiteURL: cfg.ArchiveSiteURL,
		},
		OpenHost: func(ctx context.Context) (vod.VideoHost, error) {
			c, err := youtubeapi.New(ctx, cfg.YTClientSecretPath, &youtubeapi.TokenFile{Path: cfg.YTTokenPath, Enc: enc}, youtubeapi.Options{
				PrivacyStatus:     cfg.YTPrivacyStatus,
				CategoryID:        cfg.YTCategoryID,
				RegionCode:        cfg.YTCategoryRegion,
				NotifySubscribers: cfg.YTNotify,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}
	if cfg.PublishCommand != "" {
		p.Publisher = vod.CommandPublisher{Command: cfg.PublishCommand}
	}

	closeDeps := func() {}
	if cfg.DBDsn != "" && !cfg.DryRun {
		database, err := openMirror(ctx, cfg.DBDsn)
		if err != nil {
			// the JSON documents are authoritative; run without the mirror
			slog.Warn("postgres mirror disabled", slog.String("component", "db"), slog.Any("err", err))
		} else {
			p.Mirror = &db.Mirror{DB: database}
			closeDeps = func() {
				if err := database.Close(); err != nil {
					slog.Error("failed to close database", slog.Any("err", err))
				}
			}
		}
	}
	return p, closeDeps, nil
}

func openMirror(ctx context.Context, dsn string) (*sql.DB, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	database, err := db.Connect(cctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(database); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return database, nil
}

func logSummary(log *slog.Logger, sum *vod.Summary, runErr error) {
	if sum == nil {
		return
	}
	attrs := []any{
		slog.String("outcome", sum.Outcome(runErr)),
		slog.Bool("dry_run", sum.DryRun),
		slog.Int("candidates", sum.Candidates),
		slog.Int("matched", sum.Matched),
		slog.Int("unmatched", len(sum.Unmatched)),
		slog.Int("chat_exports", sum.ChatExports),
		slog.Int("uploaded", sum.Uploaded),
		slog.Int("metadata_synced", sum.MetadataSynced),
		slog.Int("emotes_backfilled", sum.EmotesBackfilled),
		slog.Int("parts_healed", sum.PartsHealed),
		slog.Duration("took", sum.FinishedAt.Sub(sum.StartedAt)),
	}
	switch {
	case runErr != nil:
		log.Error("run failed", append(attrs, slog.Any("err", runErr))...)
	case sum.Err != nil:
		log.Warn("run finished with skipped vods", append(attrs, slog.Any("skipped", sum.SkippedVods), slog.Any("err", sum.Err))...)
	default:
		log.Info("run finished", attrs...)
	}
}
