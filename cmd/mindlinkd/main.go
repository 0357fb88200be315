package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mindlink-dev/mindlink/internal/domain"
	"github.com/mindlink-dev/mindlink/internal/healthloop"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/binres"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/config"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/diagnostics"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/logger"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/oauth"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/render"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/supervisor"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/tunnel"
	"github.com/mindlink-dev/mindlink/internal/interfaces/tui"
	"github.com/mindlink-dev/mindlink/internal/interfaces/wsfeed"
	"github.com/mindlink-dev/mindlink/internal/orchestrator"
	"github.com/mindlink-dev/mindlink/pkg/safego"
)

const (
	cliName    = "mindlinkd"
	cliVersion = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   cliName,
		Short: "mindlinkd — local OpenAI-compatible supervisor for a ChatGPT Plus/Pro account",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(rotateTokenCmd())
	rootCmd.AddCommand(tunnelCmd())
	rootCmd.AddCommand(routerCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type daemon struct {
	log     *zap.Logger
	orch    *orchestrator.Orchestrator
	loop    *healthloop.Loop
	ledger  *diagnostics.Ledger
	cfgDir  string
	cfgStore *config.Store
}

func bootstrap(logLevel string) (*daemon, error) {
	log, err := logger.New(logger.Config{Level: logLevel, Format: "console", OutputPath: "stdout"})
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}

	dir, err := config.DefaultDir()
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}

	cfgStore, err := config.Load(filepath.Join(dir, "config.json"), log)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	tokenStore := config.NewTokenStore(dir)
	oauthClient := oauth.New(tokenStore, openBrowser, log)

	exe, _ := os.Executable()
	resolver := binres.New(filepath.Join(dir, "bin"), exe, log)
	sup := supervisor.New(log)
	// Register the router up front (not lazily in StartRouter) so its
	// event channel exists before the bridging goroutine below
	// subscribes to it; Register preserves the channel across later
	// re-registration, so the subscription survives router restarts.
	sup.Register(domain.ProcessRouter, "router", domain.DefaultMonitorConfig())
	tunnelCtl := tunnel.New(resolver, log)
	feed := wsfeed.NewHub(log)

	orch := orchestrator.New(cfgStore, oauthClient, resolver, sup, tunnelCtl, feed, log)

	ledger, err := diagnostics.Open(filepath.Join(dir, "diagnostics.db"))
	if err != nil {
		log.Warn("diagnostics ledger unavailable, history will not persist", zap.Error(err))
		ledger = nil
	}

	bridgeProcessEvents(sup, ledger, feed, log)

	cfg := cfgStore.Snapshot()
	interval := time.Duration(cfg.Monitoring.HealthCheckIntervalSeconds) * time.Second
	loop := healthloop.New(orch, interval, func(state domain.TrayState) {
		feed.Broadcast(wsfeed.Event{Type: wsfeed.EventTrayState, TrayState: state})
	}, log)
	if ledger != nil {
		loop = loop.WithRecorder(ledger)
	}

	return &daemon{log: log, orch: orch, loop: loop, ledger: ledger, cfgDir: dir, cfgStore: cfgStore}, nil
}

// bridgeProcessEvents forwards every Process Supervisor event for the
// router onto the Diagnostics Ledger and the Tray Event Feed, so the
// ledger and `/ws/events` both record process lifecycle activity, not
// just Health Loop samples. `status --history` reads only the health
// samples back.
func bridgeProcessEvents(sup *supervisor.Supervisor, ledger *diagnostics.Ledger, feed *wsfeed.Hub, log *zap.Logger) {
	events := sup.Events(domain.ProcessRouter)
	if events == nil {
		return
	}
	safego.Go(log, "router-event-bridge", func() {
		for ev := range events {
			if ledger != nil {
				if err := ledger.RecordProcessEvent(ev); err != nil {
					log.Warn("failed to persist process event", zap.Error(err))
				}
			}
			feed.Broadcast(wsfeed.Event{
				Type:      wsfeed.EventProcessStatus,
				ProcessID: string(ev.ID),
				Status:    string(ev.Kind),
			})
		}
	})
}

func (r *daemon) Close() {
	if r.ledger != nil {
		r.ledger.Close()
	}
	r.cfgStore.Close()
	r.log.Sync()
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "log in if needed, start the API server, and hold the process open",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap("info")
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := rt.orch.LoginAndServe(ctx); err != nil {
				return fmt.Errorf("login and serve: %w", err)
			}
			rt.loop.Start(ctx)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			sig := <-quit
			rt.log.Info("received shutdown signal", zap.String("signal", sig.String()))

			// Shutdown order per the supervision contract: tunnel first
			// (it fronts the server, so drop public traffic before the
			// server stops answering it), then the server, then let the
			// health loop goroutine die with ctx.
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer shutdownCancel()
			_ = rt.orch.CloseTunnel()
			if err := rt.orch.StopServing(shutdownCtx); err != nil {
				rt.log.Error("error stopping server", zap.Error(err))
			}
			cancel()
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "run the OAuth login flow without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap("info")
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := context.Background()
			status := rt.orch.Status(ctx)
			if status.IsAuthenticated {
				fmt.Println("already authenticated")
				return nil
			}
			fmt.Println("opening browser for login...")
			return rt.orch.Login(ctx)
		},
	}
}

func statusCmd() *cobra.Command {
	var watch bool
	var history bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "print the current daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap("error")
			if err != nil {
				return err
			}
			defer rt.Close()

			if watch {
				return tui.Run(rt.orch.Status)
			}

			st := rt.orch.Status(context.Background())
			md := fmt.Sprintf("# mindlinkd status\n\n- **serving**: %v\n- **authenticated**: %v\n- **server**: %s\n- **tunnel**: %s\n- **router**: %s\n",
				st.IsServing, st.IsAuthenticated, dashIfEmpty(st.ServerURL), dashIfEmpty(st.TunnelURL), dashIfEmpty(st.RouterURL))
			if st.LastError != "" {
				md += fmt.Sprintf("\n> last error: %s\n", st.LastError)
			}

			if history && rt.ledger != nil {
				rows, err := rt.ledger.RecentHealthSamples(context.Background(), 10)
				if err != nil {
					return err
				}
				md += "\n## recent health samples\n\n"
				for _, row := range rows {
					md += fmt.Sprintf("- `%s` %s\n", row.Timestamp.Format(time.RFC3339), row.TrayState)
				}
			}

			fmt.Print(render.New(100).Render(md))
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "run the interactive dashboard")
	cmd.Flags().BoolVar(&history, "history", false, "include recent health history")
	return cmd
}

func rotateTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-token",
		Short: "rotate the instance pairing token",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap("error")
			if err != nil {
				return err
			}
			defer rt.Close()

			tok, err := rt.orch.RotateInstanceToken()
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
}

func tunnelCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tunnel", Short: "manage the Cloudflare tunnel"}
	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "open a tunnel to the running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap("info")
			if err != nil {
				return err
			}
			defer rt.Close()
			url, err := rt.orch.CreateTunnel(context.Background())
			if err != nil {
				return err
			}
			fmt.Println(url)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "close",
		Short: "close the active tunnel",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap("info")
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.orch.CloseTunnel()
		},
	})
	return cmd
}

func routerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "router", Short: "manage the auxiliary router process"}
	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "start the router under the process supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap("info")
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.orch.StartRouter(context.Background())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "stop the supervised router",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap("info")
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.orch.StopRouter()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "resolve and verify the router binary without starting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap("info")
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.orch.InstallRouter(context.Background())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reinstall",
		Short: "stop the router and re-verify the binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap("info")
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.orch.ReinstallRouter(context.Background())
		},
	})
	return cmd
}
