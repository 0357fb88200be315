// Package binres locates, verifies, and (for cloudflared only)
// downloads the auxiliary binaries MindLink supervises: the router
// process and the cloudflared tunnel client.
package binres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/mindlink-dev/mindlink/pkg/errors"
)

// Kind names one of the two binaries this resolver knows how to find.
type Kind string

const (
	KindCloudflared Kind = "cloudflared"
	KindRouter      Kind = "router"
)

const versionCheckTimeout = 5 * time.Second

// platformAssets maps a GOOS/GOARCH pair to the cloudflared release
// asset name Cloudflare publishes for it.
var platformAssets = map[string]string{
	"linux/amd64":   "cloudflared-linux-amd64",
	"linux/arm64":   "cloudflared-linux-arm64",
	"darwin/amd64":  "cloudflared-darwin-amd64.tgz",
	"darwin/arm64":  "cloudflared-darwin-arm64.tgz",
	"windows/amd64": "cloudflared-windows-amd64.exe",
}

// Resolver owns the install directory cloudflared downloads land in
// and the candidate search path for the bundled router binary.
type Resolver struct {
	installDir  string
	executable  string // path to the mindlinkd executable, for bundled-router lookup
	httpClient  *http.Client
	downloadURL func(asset string) string
	log         *zap.Logger
}

// New builds a Resolver. installDir is typically
// ~/.mindlink/bin; executable is os.Executable()'s result, used to
// search for a router binary bundled next to mindlinkd itself.
func New(installDir, executable string, log *zap.Logger) *Resolver {
	return &Resolver{
		installDir: installDir,
		executable: executable,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		downloadURL: func(asset string) string {
			return fmt.Sprintf("https://github.com/cloudflare/cloudflared/releases/latest/download/%s", asset)
		},
		log: log,
	}
}

// Ensure resolves kind to a verified, executable path, downloading
// cloudflared if it cannot be found anywhere on the system.
func (r *Resolver) Ensure(ctx context.Context, kind Kind) (string, error) {
	switch kind {
	case KindCloudflared:
		return r.ensureCloudflared(ctx)
	case KindRouter:
		return r.ensureRouter(ctx)
	default:
		return "", apperrors.New(apperrors.KindBinaryExecution, fmt.Sprintf("unknown binary kind %q", kind))
	}
}

func (r *Resolver) ensureRouter(ctx context.Context) (string, error) {
	suffix := ""
	if runtime.GOOS == "windows" {
		suffix = ".exe"
	}
	platformName := fmt.Sprintf("router-%s-%s%s", runtime.GOOS, runtime.GOARCH, suffix)

	candidates := []string{
		filepath.Join(filepath.Dir(r.executable), "router"+suffix),
		filepath.Join("binaries", "router"+suffix),
		filepath.Join("binaries", platformName),
	}

	var lastErr error
	for _, candidate := range candidates {
		if err := r.verifyBinary(ctx, candidate); err != nil {
			lastErr = err
			continue
		}
		if err := r.logDigest(candidate); err != nil {
			r.log.Warn("router digest failed", zap.String("path", candidate), zap.Error(err))
		}
		return candidate, nil
	}
	return "", apperrors.Wrap(apperrors.KindBinaryExecution, "router binary not found in any candidate location", lastErr).
		WithDetail(fmt.Sprintf("checked: %v", candidates))
}

func (r *Resolver) ensureCloudflared(ctx context.Context) (string, error) {
	if path, err := exec.LookPath("cloudflared"); err == nil {
		if verr := r.verifyBinary(ctx, path); verr == nil {
			return path, nil
		}
	}

	installed := filepath.Join(r.installDir, "cloudflared"+execSuffix())
	if err := r.verifyBinary(ctx, installed); err == nil {
		return installed, nil
	}

	path, err := r.download(ctx)
	if err != nil {
		return "", err
	}
	if err := r.verifyBinary(ctx, path); err != nil {
		return "", apperrors.Wrap(apperrors.KindBinaryExecution, "downloaded cloudflared failed verification", err)
	}
	if err := r.logDigest(path); err != nil {
		r.log.Warn("cloudflared digest failed", zap.String("path", path), zap.Error(err))
	}
	return path, nil
}

func (r *Resolver) download(ctx context.Context) (string, error) {
	key := runtime.GOOS + "/" + runtime.GOARCH
	asset, ok := platformAssets[key]
	if !ok {
		return "", apperrors.New(apperrors.KindBinaryExecution, fmt.Sprintf("unsupported platform for cloudflared download: %s", key))
	}
	if filepath.Ext(asset) == ".tgz" {
		return "", apperrors.New(apperrors.KindBinaryExecution, fmt.Sprintf("compressed cloudflared artifact %q is not supported for download", asset))
	}

	if err := os.MkdirAll(r.installDir, 0o755); err != nil {
		return "", apperrors.Wrap(apperrors.KindFileSystem, "create binary install directory", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.downloadURL(asset), nil)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindNetwork, "build cloudflared download request", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindNetwork, "download cloudflared", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apperrors.New(apperrors.KindNetwork, fmt.Sprintf("cloudflared download returned %s", resp.Status))
	}

	dest := filepath.Join(r.installDir, "cloudflared"+execSuffix())
	tmp := dest + ".download"
	out, err := os.Create(tmp)
	if err != nil {
		return "", apperrors.FileIOError(tmp, "create", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return "", apperrors.FileIOError(tmp, "write", err)
	}
	out.Close()

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmp, 0o755); err != nil {
			return "", apperrors.FileIOError(tmp, "chmod", err)
		}
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", apperrors.FileIOError(dest, "rename", err)
	}
	return dest, nil
}

// verifyBinary checks existence, the executable bit on POSIX, and
// liveness by invoking --version (falling back to --help).
func (r *Resolver) verifyBinary(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}

	checkCtx, cancel := context.WithTimeout(ctx, versionCheckTimeout)
	defer cancel()

	if err := exec.CommandContext(checkCtx, path, "--version").Run(); err == nil {
		return nil
	}
	if err := exec.CommandContext(checkCtx, path, "--help").Run(); err == nil {
		return nil
	}
	return fmt.Errorf("%s did not respond successfully to --version or --help", path)
}

func (r *Resolver) logDigest(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 8*1024)
	size := int64(0)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			size += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	r.log.Info("binary integrity",
		zap.String("path", path),
		zap.String("sha256", hex.EncodeToString(h.Sum(nil))),
		zap.Int64("size_bytes", size),
	)
	return nil
}

func execSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}
