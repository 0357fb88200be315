package tunnel

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mindlink-dev/mindlink/internal/infrastructure/binres"
)

func fakeCloudflaredOnPath(t *testing.T, stderrLine string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake shell binaries are POSIX-only")
	}
	dir := t.TempDir()
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"--version\" ]; then echo cloudflared-test 1.0.0; exit 0; fi\n" +
		"echo \"" + stderrLine + "\" 1>&2\n" +
		"sleep 5\n"
	path := filepath.Join(dir, "cloudflared")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake cloudflared: %v", err)
	}
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))
}

func TestCreateQuickParsesURLFromStderr(t *testing.T) {
	fakeCloudflaredOnPath(t, "Visit it at https://raised-hub-cat-barcelona.trycloudflare.com")

	resolver := binres.New(t.TempDir(), filepath.Join(t.TempDir(), "mindlinkd"), zaptest.NewLogger(t))
	c := New(resolver, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url, err := c.CreateQuick(ctx, 18789)
	if err != nil {
		t.Fatalf("CreateQuick() error = %v", err)
	}
	if url != "https://raised-hub-cat-barcelona.trycloudflare.com" {
		t.Errorf("CreateQuick() = %q, want the scraped trycloudflare URL", url)
	}
	if !c.State().Connected {
		t.Error("expected state.Connected to be true after a successful create")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.State().Connected {
		t.Error("expected state.Connected to be false after Close")
	}
}

func TestCreateQuickRecognizesLocalUnreachable(t *testing.T) {
	fakeCloudflaredOnPath(t, "dial tcp: connection refused")

	resolver := binres.New(t.TempDir(), filepath.Join(t.TempDir(), "mindlinkd"), zaptest.NewLogger(t))
	c := New(resolver, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := c.CreateQuick(ctx, 18789)
	if err == nil {
		t.Fatal("expected an error for a connection-refused diagnostic line")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	resolver := binres.New(t.TempDir(), filepath.Join(t.TempDir(), "mindlinkd"), zaptest.NewLogger(t))
	c := New(resolver, zaptest.NewLogger(t))
	if err := c.Close(); err != nil {
		t.Fatalf("Close() on a never-started controller should be a no-op success, got %v", err)
	}
}
