package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/onnwee/vod-archiver/db"
	"github.com/onnwee/vod-archiver/scan"
	"github.com/onnwee/vod-archiver/store"
	"github.com/onnwee/vod-archiver/vod"
)

func newStatusCommand() *cobra.Command {
	var runs int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show archived VODs, pending recordings and recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			cache := store.NewDocCache()
			st, err := store.NewStateStore(cfg.StatePath, cache).Load()
			if err != nil {
				return err
			}
			recs, err := store.NewRecordStore(cfg.VodsDataPath, cache).Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			style := tableStyle(out)

			if cfg.RecordingsDir != "" {
				files, err := scan.Scan(cfg.RecordingsDir)
				if err != nil {
					fmt.Fprintf(out, "recordings: scan failed: %v\n\n", err)
				} else {
					pending := scan.Candidates(files, st, time.Now(), cfg.MinRecordingAge)
					fmt.Fprintf(out, "recordings: %d found, %d pending\n\n", len(files), len(pending))
				}
			}
			fmt.Fprintln(out, renderArchive(recs, st, style))

			if cfg.DBDsn != "" && runs > 0 {
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()
				database, err := db.Connect(ctx, cfg.DBDsn)
				if err != nil {
					return err
				}
				defer database.Close()
				recent, err := (&db.Mirror{DB: database}).RecentRuns(ctx, runs)
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderRuns(recent, style))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 10, "recent runs to list from Postgres (needs DB_DSN)")
	return cmd
}

// tableStyle uses box drawing on terminals and plain ASCII when piped.
func tableStyle(w io.Writer) table.Style {
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return table.StyleRounded
	}
	return table.StyleDefault
}

func renderArchive(recs []*store.ArchiveRecord, st *store.PipelineState, style table.Style) string {
	tw := table.NewWriter()
	tw.SetStyle(style)
	tw.AppendHeader(table.Row{"VOD", "Date", "Title", "Parts", "Metadata", "Emotes"})
	for _, r := range recs {
		entry := st.ProcessedVodIDs[r.ID]
		meta := "v" + strconv.Itoa(entry.MetadataVersion)
		if entry.MetadataVersion < vod.MetadataTemplateVersion && len(r.VodParts()) > 0 {
			meta += " (stale)"
		}
		emotes := "-"
		if !entry.EmotesBackfilledAt.IsZero() {
			emotes = "backfilled"
		}
		tw.AppendRow(table.Row{r.ID, vod.DateLabel(r.CreatedAt), shorten(r.Title, 48), len(r.VodParts()), meta, emotes})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d vods", len(recs)), "", "", ""})
	return tw.Render()
}

func renderRuns(runs []db.RunRecord, style table.Style) string {
	tw := table.NewWriter()
	tw.SetStyle(style)
	tw.AppendHeader(table.Row{"Run", "Started", "Status", "Uploaded", "Chat", "Synced", "Skipped", "Error"})
	for _, r := range runs {
		status := r.Status
		if r.DryRun {
			status += " (dry)"
		}
		tw.AppendRow(table.Row{
			shorten(r.RunID, 8),
			r.StartedAt.UTC().Format("2006-01-02 15:04"),
			status,
			r.Uploaded,
			r.ChatExports,
			r.MetadataSynced,
			strings.Join(r.SkippedVods, ","),
			shorten(r.Error, 40),
		})
	}
	return tw.Render()
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
