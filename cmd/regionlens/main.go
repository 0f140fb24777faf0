package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zombor/regionlens/internal/capture"
	"github.com/zombor/regionlens/internal/events"
	"github.com/zombor/regionlens/internal/failure"
	"github.com/zombor/regionlens/internal/pipeline"
	"github.com/zombor/regionlens/internal/provider"
	"github.com/zombor/regionlens/internal/provider/tesseract"
	"github.com/zombor/regionlens/internal/selection"
	"github.com/zombor/regionlens/internal/server"
	"github.com/zombor/regionlens/internal/store"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	opts, fs, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if opts.showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logger, err := newLogger(opts.logLevel, opts.logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	// Initialize database
	if opts.dbPath == "" {
		path, err := xdg.DataFile("regionlens/regionlens.db")
		if err != nil {
			slog.Error("Failed to resolve database path", "error", err)
			os.Exit(1)
		}
		opts.dbPath = path
	}
	slog.Info("Initializing database...", "path", opts.dbPath)
	db, err := store.NewBoltDB(opts.dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	seedServiceConfig(db, provider.PurposeOCR, opts.ocrProvider, opts.ocrKey, nil)
	var aiParams map[string]string
	if opts.aiModel != "" {
		aiParams = map[string]string{"model": opts.aiModel}
	}
	seedServiceConfig(db, provider.PurposeAI, opts.aiProvider, opts.aiKey, aiParams)

	// Initialize capture source
	var host capture.Rasterizer
	switch opts.captureSource {
	case "screen":
		host = capture.ScreenRasterizer{}
	case "upload":
		slog.Info("Captures must be uploaded by the page")
	default:
		slog.Error("Invalid capture source", "source", opts.captureSource, "valid", "screen or upload")
		os.Exit(1)
	}

	if !tesseract.Available {
		slog.Debug("Local OCR is disabled in this build")
	}
	adapter := newAdapter()

	limit := rate.Limit(opts.captureRate)
	if opts.captureRate <= 0 {
		limit = rate.Inf
	}

	bus := events.NewBus(logger, 64)
	selector := selection.NewSelector(logger, selection.NewBusOverlay(bus), opts.emitDelay)
	coordinator := capture.NewCoordinator(logger, host, db, bus,
		capture.WithRateLimit(limit, max(1, int(opts.captureRate))),
	)
	orchestrator := pipeline.NewOrchestrator(logger, db, selector, coordinator, adapter, bus,
		pipeline.WithRequestTimeout(opts.requestTimeout),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize server
	basicAuth := server.BasicAuth{
		Username: opts.authUser,
		Password: opts.authPass,
	}
	srv := server.NewServer(server.Deps{
		Pipeline: orchestrator,
		Selector: selector,
		Capturer: coordinator,
		Store:    db,
		Events:   bus,
	}, basicAuth)

	addr := fmt.Sprintf(":%d", opts.port)
	slog.Info("Server starting", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if opts.authUser != "" || opts.authPass != "" {
		slog.Info("Basic auth enabled", "user", opts.authUser)
	}
	if opts.requestTimeout > 0 {
		slog.Info("Provider requests are bounded", "timeout", opts.requestTimeout.String())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := orchestrator.Run(ctx, bus); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer stop()
		return srv.Start(ctx, addr)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutting down...")
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}

// seedServiceConfig stores a fixed provider from flags unless a config is
// already stored
func seedServiceConfig(db *store.BoltDB, purpose provider.Purpose, name, key string, params map[string]string) {
	if _, err := db.ServiceConfig(purpose); !errors.Is(err, store.ErrNotFound) {
		return
	}

	cfg := provider.Config{Fixed: &provider.Fixed{Name: name, APIKey: key, ExtraParams: params}}
	if err := cfg.Validate(purpose); err != nil {
		if failure.Is(err, failure.ConfigMissing) {
			slog.Warn("No service configured", "purpose", purpose, "reason", err)
			return
		}
		slog.Error("Ignoring service flags", "purpose", purpose, "error", err)
		return
	}
	if err := db.SaveServiceConfig(purpose, cfg); err != nil {
		slog.Error("Failed to save service config", "purpose", purpose, "error", err)
		return
	}
	slog.Info("Service configured from flags", "purpose", purpose, "provider", name)
}
