// Package tunnel spawns and supervises the cloudflared child that
// publishes the local API server to the public internet, scraping the
// assigned trycloudflare.com URL from its stdio.
package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mindlink-dev/mindlink/internal/domain"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/binres"
	"github.com/mindlink-dev/mindlink/pkg/errors"
	"github.com/mindlink-dev/mindlink/pkg/safego"
)

var urlPattern = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.trycloudflare\.com`)

const (
	discoveryBudget = 30 * time.Second
	closeBudget     = 5 * time.Second
	healthTimeout   = 10 * time.Second
)

// Controller owns at most one live cloudflared child at a time.
type Controller struct {
	resolver *binres.Resolver
	log      *zap.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	state domain.TunnelState
}

// New builds a Controller.
func New(resolver *binres.Resolver, log *zap.Logger) *Controller {
	return &Controller{resolver: resolver, log: log}
}

// CreateQuick spawns an anonymous quick tunnel for localPort and
// blocks until the assigned URL is discovered or discoveryBudget
// elapses.
func (c *Controller) CreateQuick(ctx context.Context, localPort int) (string, error) {
	return c.create(ctx, localPort, nil)
}

// CreateNamed spawns a named tunnel for localPort.
func (c *Controller) CreateNamed(ctx context.Context, localPort int, name string) (string, error) {
	return c.create(ctx, localPort, &name)
}

func (c *Controller) create(ctx context.Context, localPort int, name *string) (string, error) {
	path, err := c.resolver.Ensure(ctx, binres.KindCloudflared)
	if err != nil {
		return "", err
	}

	args := []string{"tunnel"}
	if name != nil {
		args = append(args, "--name", *name)
	}
	args = append(args, "--url", fmt.Sprintf("http://localhost:%d", localPort), "--no-autoupdate")

	spawnCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(spawnCtx, path, args...)
	setProcAttrs(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return "", errors.Wrap(errors.KindTunnel, "attach cloudflared stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return "", errors.Wrap(errors.KindTunnel, "attach cloudflared stderr", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return "", errors.Wrap(errors.KindTunnel, "spawn cloudflared", err)
	}

	kind := domain.TunnelKindQuick
	if name != nil {
		kind = domain.TunnelKindNamed
	}

	resultCh := make(chan string, 1)
	errCh := make(chan error, 2)

	safego.Go(c.log, "tunnel-stdout-scan", func() { scanForURL(stdout, resultCh, errCh) })
	safego.Go(c.log, "tunnel-stderr-scan", func() { scanForURL(stderr, resultCh, errCh) })

	var url string
	select {
	case url = <-resultCh:
	case err := <-errCh:
		cancel()
		_ = cmd.Wait()
		return "", err
	case <-time.After(discoveryBudget):
		cancel()
		_ = cmd.Wait()
		return "", errors.New(errors.KindTunnel, "timed out waiting for tunnel URL").WithRecoverable(true)
	case <-ctx.Done():
		cancel()
		return "", ctx.Err()
	}

	c.mu.Lock()
	c.cmd = cmd
	c.state = domain.TunnelState{Kind: kind, LocalPort: localPort, PublicURL: url, Connected: true}
	c.mu.Unlock()
	_ = cancel // deliberately not called: spawnCtx stays live so the child keeps running; Close stops it by signal

	return url, nil
}

func scanForURL(r io.Reader, resultCh chan<- string, errCh chan<- error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		lower := strings.ToLower(line)

		if match := urlPattern.FindString(line); match != "" {
			select {
			case resultCh <- match:
			default:
			}
			continue
		}
		switch {
		case strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such host"):
			errCh <- errors.New(errors.KindTunnel, "local server unreachable: "+line).WithRecoverable(true)
		case strings.Contains(lower, "authentication") || strings.Contains(lower, "login"):
			errCh <- errors.New(errors.KindAuthentication, "cloudflared requires authentication: "+line)
		case strings.Contains(lower, "failed") && strings.Contains(lower, "tunnel") && !strings.Contains(lower, "connection"):
			errCh <- errors.New(errors.KindTunnel, "tunnel rejected: "+line)
		}
	}
}

// Close gracefully tears down the current tunnel; it is idempotent
// when no tunnel is connected.
func (c *Controller) Close() error {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if runtime.GOOS == "windows" {
		err := cmd.Process.Kill()
		c.markDisconnected()
		return err
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeBudget):
		_ = cmd.Process.Kill()
		<-done
	}
	c.markDisconnected()
	return nil
}

func (c *Controller) markDisconnected() {
	c.mu.Lock()
	c.state.Connected = false
	c.cmd = nil
	c.mu.Unlock()
}

// State returns the controller's current view of the tunnel.
func (c *Controller) State() domain.TunnelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HealthCheck reports whether the tunnel is usable: the child process
// must still be alive, and an HTTP GET to <public_url>/health must
// succeed within healthTimeout. A dead child flips Connected to
// false; a reachable-but-unhealthy endpoint does not.
func (c *Controller) HealthCheck(ctx context.Context) bool {
	c.mu.Lock()
	cmd := c.cmd
	url := c.state.PublicURL
	c.mu.Unlock()

	if cmd == nil || cmd.Process == nil || cmd.ProcessState != nil {
		c.markDisconnected()
		return false
	}
	if url == "" {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, url+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
