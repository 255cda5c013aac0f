package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/shadowtrack/internal/api"
	"github.com/dgnsrekt/shadowtrack/internal/browser"
	"github.com/dgnsrekt/shadowtrack/internal/cdp"
	"github.com/dgnsrekt/shadowtrack/internal/controller"
	"github.com/dgnsrekt/shadowtrack/internal/monitor"
	"github.com/dgnsrekt/shadowtrack/internal/netutil"
	"github.com/dgnsrekt/shadowtrack/internal/notify"
	"github.com/dgnsrekt/shadowtrack/internal/relay"
	"github.com/dgnsrekt/shadowtrack/internal/safestore"
	"github.com/dgnsrekt/shadowtrack/internal/snapshot"
	"github.com/dgnsrekt/shadowtrack/internal/storage"
	"github.com/dgnsrekt/shadowtrack/internal/tracking"
	"github.com/spf13/cobra"
)

const pruneInterval = 10 * time.Minute

var (
	serveBindAddr string
	serveCDPPort  int
	serveLaunch   bool
	serveHeadless bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Attach to Chromium and analyse every page load",
	Long:  "Attach to a Chromium instance, shadow every top-level navigation in an isolated context, and serve results over HTTP.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveBindAddr, "bind", "", "API bind address; overrides SHADOWTRACK_BIND_ADDR")
	serveCmd.Flags().IntVar(&serveCDPPort, "cdp-port", 0, "Chromium remote debugging port; overrides CHROMIUM_CDP_PORT")
	serveCmd.Flags().BoolVar(&serveLaunch, "launch", false, "Launch Chromium if it is not already listening")
	serveCmd.Flags().BoolVar(&serveHeadless, "headless", false, "Launch Chromium headless (with --launch)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if serveBindAddr != "" {
		cfg.BindAddr = serveBindAddr
	}
	if serveCDPPort > 0 {
		cfg.CDPPort = serveCDPPort
	}
	if serveLaunch {
		cfg.LaunchBrowser = true
	}
	if serveHeadless {
		cfg.Headless = true
	}

	if err := setupLogger(cfg.SlogLevel(), cfg.LogFile); err != nil {
		return fmt.Errorf("logger setup failed: %w", err)
	}

	slog.Info("shadowtrack config loaded",
		"cdp_url", cfg.GetCDPURL(),
		"bind_addr", cfg.BindAddr,
		"data_dir", cfg.DataDir,
		"safe_db", cfg.SafeDBPath,
		"settle_delay", cfg.SettleDelay,
		"exchange_log", cfg.ExchangeLog,
		"ntfy", cfg.NtfyEndpoint != "",
		"log_level", cfg.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			BinaryPath: cfg.BrowserPath,
			ProfileDir: cfg.ProfileDir,
			Headless:   cfg.Headless,
		})
		if err := launcher.Launch(ctx); err != nil {
			return fmt.Errorf("launching browser: %w", err)
		}
		defer launcher.Stop()
	}

	seed, err := openSeed(cfg.SeedFile)
	if err != nil {
		return err
	}
	safe := safestore.OpenOrMemory(ctx, cfg.SafeDBPath, seed)
	_ = seed.Close()
	defer func() {
		if err := safe.Close(); err != nil {
			slog.Warn("safe cookie store close failed", "error", err)
		}
	}()

	snaps, err := snapshot.NewStore(cfg.SnapshotDir)
	if err != nil {
		return fmt.Errorf("creating snapshot store: %w", err)
	}

	var exchangeLog monitor.ExchangeLog
	if cfg.ExchangeLog {
		writers := storage.NewWriterRegistry(filepath.Join(cfg.DataDir, "exchanges"), cfg.BufferSize, cfg.MaxFileSizeMB)
		defer func() {
			if err := writers.Close(); err != nil {
				slog.Warn("Writer close failed", "error", err)
			}
		}()
		exchangeLog = writers
	}

	var notifier monitor.Notifier
	if cfg.NtfyEndpoint != "" {
		notifier = notify.New(&http.Client{Timeout: 10 * time.Second}, cfg.NtfyEndpoint, cfg.NtfyPass)
	}

	broker := relay.NewBroker()
	registry := tracking.NewRegistry(tracking.Options{
		SafeCookies:      safe,
		SettleDelay:      cfg.SettleDelay,
		NavigateDebounce: cfg.NavigateDebounce,
		OrphanCapacity:   cfg.OrphanCapacity,
	})

	var mon *monitor.Monitor
	host := cdp.NewHost(cdp.Options{
		CDPURL:       cfg.GetCDPURL(),
		TabURLFilter: cfg.TabURLFilter,
		PairWindow:   cfg.PairWindow,
	}, func(ev tracking.Event) { mon.Submit(ev) })

	mon = monitor.New(monitor.Options{
		Registry:    registry,
		Contexts:    host,
		Jar:         host,
		SafeCookies: safe,
		Snapshots:   snaps,
		Log:         exchangeLog,
		Publisher:   broker,
		Notifier:    notifier,
		CallTimeout: cfg.CallTimeout,
	})

	monDone := make(chan error, 1)
	go func() { monDone <- mon.Run(ctx) }()

	if err := host.Connect(ctx); err != nil {
		slog.Error("Failed to connect to browser", "cdp_url", cfg.GetCDPURL(), "error", err)
		slog.Info("Make sure Chromium is running with remote debugging enabled, or pass --launch")
		stop()
		<-monDone
		return err
	}

	ln, err := netutil.Listen(cfg.BindAddr, cfg.BindCandidates, cfg.AutoFallback)
	if err != nil {
		stop()
		<-monDone
		_ = host.Close()
		return fmt.Errorf("selecting bind address: %w", err)
	}
	svc := controller.NewService(mon, snaps, safe, host)
	srv := &http.Server{Handler: api.NewServer(svc, broker), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		addr := ln.Addr().String()
		slog.Info("shadowtrack listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("shadowtrack server failed", "error", err)
			stop()
		}
	}()

	if cfg.SnapshotKeep > 0 {
		go pruneSnapshots(ctx, snaps, cfg.SnapshotKeep)
	}

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shadowtrack shutdown failed", "error", err)
	}
	if err := <-monDone; err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("monitor exited with error", "error", err)
	}
	return host.Close()
}

// openSeed returns the seed list at path, or the built-in list when path is
// empty.
func openSeed(path string) (io.ReadCloser, error) {
	if path == "" {
		return io.NopCloser(safestore.DefaultSeed()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening seed file: %w", err)
	}
	return f, nil
}

func pruneSnapshots(ctx context.Context, snaps *snapshot.Store, keep int) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := snaps.Prune(keep)
			if err != nil {
				slog.Warn("snapshot prune failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("snapshots pruned", "removed", removed, "keep", keep)
			}
		}
	}
}

