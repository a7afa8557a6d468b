// Command vod-archiver reconciles local stream recordings with the channel's Twitch
// VODs. A run:
//   - Scans the recordings directory for finished recordings not yet archived.
//   - Matches them to recent Twitch VODs and exports each VOD's chat.
//   - Uploads the recordings to YouTube as numbered parts and refreshes titles and
//     descriptions whenever the template version changes.
//   - Writes the archive JSON documents and hands them to PUBLISH_COMMAND.
//
// Progress is checkpointed per recording, so an interrupted run is simply rerun.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/vod-archiver/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// local dev convenience; real deployments set the environment directly
	_ = godotenv.Load(".env.local", ".env")

	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFlag string
	root := &cobra.Command{
		Use:           "vod-archiver",
		Short:         "Archive Twitch VODs and their chat to YouTube and the archive site",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFlag != "" {
				if err := os.Setenv("ARCHIVER_CONFIG", configFlag); err != nil {
					return err
				}
			}
			slog.SetDefault(newLogger(os.Stdout, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "TOML configuration file (overrides ARCHIVER_CONFIG)")
	root.AddCommand(newRunCommand())
	root.AddCommand(newStatusCommand())
	return root
}

// newLogger builds the process logger. Unknown levels fall back to info with a warning.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	unknown := false
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		unknown = true
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	}
	logger := slog.New(handler)
	if unknown {
		logger.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	return logger
}

// loadConfig loads and, for real runs, validates the configuration.
func loadConfig(validate bool) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
