// Package db mirrors the archive into Postgres: one row per archived VOD, one per
// uploaded part, and a log of pipeline runs. The JSON documents stay the source of
// truth; the mirror is rewritten from them after every committed run.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/vod-archiver/store"
)

// Connect opens a Postgres connection and verifies it answers.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// RunRecord is one row of pipeline_runs.
type RunRecord struct {
	RunID            string
	StartedAt        time.Time
	FinishedAt       time.Time
	Status           string
	DryRun           bool
	Recordings       int
	Uploaded         int
	ChatExports      int
	MetadataSynced   int
	EmotesBackfilled int
	SkippedVods      []string
	Error            string
}

// Mirror writes archive records and run summaries to Postgres.
type Mirror struct {
	DB *sql.DB
}

// MirrorRecords upserts every record and replaces its parts, in one transaction.
func (m *Mirror) MirrorRecords(ctx context.Context, recs []*store.ArchiveRecord) error {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mirror tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range recs {
		chapters, err := json.Marshal(r.Chapters)
		if err != nil {
			return fmt.Errorf("encode chapters for %s: %w", r.ID, err)
		}
		if r.Chapters == nil {
			chapters = []byte("[]")
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO archive_vods(vod_id, title, duration, thumbnail_url, stream_id, platform, chapters, created_at, updated_at, mirrored_at)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
			ON CONFLICT(vod_id) DO UPDATE SET
				title=EXCLUDED.title,
				duration=EXCLUDED.duration,
				thumbnail_url=EXCLUDED.thumbnail_url,
				stream_id=EXCLUDED.stream_id,
				platform=EXCLUDED.platform,
				chapters=EXCLUDED.chapters,
				created_at=EXCLUDED.created_at,
				updated_at=EXCLUDED.updated_at,
				mirrored_at=NOW()`,
			r.ID, r.Title, r.Duration, r.ThumbnailURL, r.StreamID, r.Platform, string(chapters), nullTime(r.CreatedAt), nullTime(r.UpdatedAt)); err != nil {
			return fmt.Errorf("upsert archive_vods %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM archive_parts WHERE vod_id=$1`, r.ID); err != nil {
			return fmt.Errorf("clear archive_parts %s: %w", r.ID, err)
		}
		for _, p := range r.YouTube {
			if _, err := tx.ExecContext(ctx, `INSERT INTO archive_parts(vod_id, part_number, video_id, part_type, duration_seconds, thumbnail_url)
				VALUES($1,$2,$3,$4,$5,$6)
				ON CONFLICT(vod_id, part_type, part_number) DO UPDATE SET video_id=EXCLUDED.video_id`,
				r.ID, p.Part, p.ID, p.Type, p.Duration, p.ThumbnailURL); err != nil {
				return fmt.Errorf("insert archive_parts %s/%d: %w", r.ID, p.Part, err)
			}
		}
	}
	return tx.Commit()
}

// RecordRun appends a run summary.
func (m *Mirror) RecordRun(ctx context.Context, r RunRecord) error {
	skipped := r.SkippedVods
	if skipped == nil {
		skipped = []string{}
	}
	_, err := m.DB.ExecContext(ctx, `INSERT INTO pipeline_runs(run_id, started_at, finished_at, status, dry_run, recordings, uploaded, chat_exports, metadata_synced, emotes_backfilled, skipped_vods, error)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT(run_id) DO NOTHING`,
		r.RunID, r.StartedAt, r.FinishedAt, r.Status, r.DryRun, r.Recordings, r.Uploaded, r.ChatExports, r.MetadataSynced, r.EmotesBackfilled, skipped, r.Error)
	if err != nil {
		return fmt.Errorf("insert pipeline_runs: %w", err)
	}
	return nil
}

// RecentRuns returns the newest runs first.
func (m *Mirror) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := m.DB.QueryContext(ctx, `SELECT run_id, started_at, finished_at, status, dry_run, recordings, uploaded, chat_exports, metadata_synced, emotes_backfilled, skipped_vods, error
		FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tm := pgtype.NewMap()
	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.DryRun, &r.Recordings, &r.Uploaded,
			&r.ChatExports, &r.MetadataSynced, &r.EmotesBackfilled, tm.SQLScanner(&r.SkippedVods), &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PartCount returns how many parts are mirrored for vodID.
func (m *Mirror) PartCount(ctx context.Context, vodID string) (int, error) {
	var n int
	err := m.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM archive_parts WHERE vod_id=$1`, vodID).Scan(&n)
	return n, err
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
