package vod

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Publisher hands the documents a run changed to whatever makes them public, for
// example a script that commits and pushes the site repository.
type Publisher interface {
	Publish(ctx context.Context, paths []string) error
}

// CommandPublisher runs Command through the shell with the changed paths appended
// as arguments.
type CommandPublisher struct {
	Command string
	Dir     string
	Timeout time.Duration
}

func (p CommandPublisher) Publish(ctx context.Context, paths []string) error {
	if strings.TrimSpace(p.Command) == "" || len(paths) == 0 {
		return nil
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{"-c", p.Command + ` "$@"`, "publish"}, paths...)
	cmd := exec.CommandContext(ctx, "sh", args...)
	cmd.Dir = p.Dir
	// children of the shell may keep the output pipe open after it is killed
	cmd.WaitDelay = 2 * time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("publish command failed: %w: %s", err, strings.TrimSpace(out.String()))
	}
	slog.Info("published archive changes", slog.String("component", "publish"), slog.Int("paths", len(paths)))
	return nil
}
