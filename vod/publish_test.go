package vod

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCommandPublisherPassesPaths(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "args.txt")
	p := CommandPublisher{Command: `printf '%s\n' > ` + out, Dir: dir}

	if err := p.Publish(context.Background(), []string{"site/vods.json", "site/comments/111.json"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(b); got != "site/vods.json\nsite/comments/111.json\n" {
		t.Errorf("command saw %q", got)
	}
}

func TestCommandPublisherFailureIncludesOutput(t *testing.T) {
	p := CommandPublisher{Command: `echo "remote rejected" >&2; exit 3;`}
	err := p.Publish(context.Background(), []string{"a.json"})
	if err == nil || !strings.Contains(err.Error(), "remote rejected") {
		t.Errorf("Publish() error = %v", err)
	}
}

func TestCommandPublisherNoop(t *testing.T) {
	if err := (CommandPublisher{Command: "exit 1"}).Publish(context.Background(), nil); err != nil {
		t.Errorf("no paths should not run the command: %v", err)
	}
	if err := (CommandPublisher{}).Publish(context.Background(), []string{"a.json"}); err != nil {
		t.Errorf("empty command should be a no-op: %v", err)
	}
}

func TestCommandPublisherTimeout(t *testing.T) {
	p := CommandPublisher{Command: "sleep 5;", Timeout: 50 * time.Millisecond}
	start := time.Now()
	if err := p.Publish(context.Background(), []string{"a.json"}); err == nil {
		t.Error("expected timeout error")
	}
	if time.Since(start) > 4*time.Second {
		t.Error("timeout not enforced")
	}
}
