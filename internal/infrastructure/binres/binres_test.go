package binres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"go.uber.org/zap/zaptest"
)

// fakeBinary writes a minimal POSIX shell script that accepts
// --version/--help and exits zero, standing in for a real binary.
func fakeBinary(t *testing.T, path string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake shell binaries are POSIX-only")
	}
	script := "#!/bin/sh\nexit 0\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
}

func TestEnsureRouterFindsBundledCandidate(t *testing.T) {
	dir := t.TempDir()
	exePath := filepath.Join(dir, "mindlinkd")
	fakeBinary(t, exePath)

	routerPath := filepath.Join(dir, "router")
	fakeBinary(t, routerPath)

	r := New(filepath.Join(dir, "bin"), exePath, zaptest.NewLogger(t))
	got, err := r.Ensure(context.Background(), KindRouter)
	if err != nil {
		t.Fatalf("Ensure(router) error = %v", err)
	}
	if got != routerPath {
		t.Errorf("Ensure(router) = %q, want %q", got, routerPath)
	}
}

func TestEnsureRouterMissingReturnsError(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "bin"), filepath.Join(dir, "mindlinkd"), zaptest.NewLogger(t))
	if _, err := r.Ensure(context.Background(), KindRouter); err == nil {
		t.Fatal("expected error when no router candidate exists")
	}
}

func TestEnsureUnknownKind(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, filepath.Join(dir, "mindlinkd"), zaptest.NewLogger(t))
	if _, err := r.Ensure(context.Background(), Kind("bogus")); err == nil {
		t.Fatal("expected error for unknown binary kind")
	}
}

func TestVerifyBinaryRejectsNonExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX executable-bit check only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "router")
	if err := os.WriteFile(path, []byte("not a script"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	r := New(dir, filepath.Join(dir, "mindlinkd"), zaptest.NewLogger(t))
	if err := r.verifyBinary(context.Background(), path); err == nil {
		t.Fatal("expected non-executable file to fail verification")
	}
}
