// Command perpscope launches the dashboard backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/perpscope/perpscope/config"
	"github.com/perpscope/perpscope/internal/api"
	"github.com/perpscope/perpscope/internal/feed"
	"github.com/perpscope/perpscope/internal/market"
	"github.com/perpscope/perpscope/internal/observability"
	"github.com/perpscope/perpscope/internal/stream"
	"github.com/perpscope/perpscope/internal/venue"
	"github.com/perpscope/perpscope/lib/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	loggerPrefix             = "perpscope "
	shutdownTimeout          = 30 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	bootstrapTimeout         = 15 * time.Second
	refreshInterval          = 30 * time.Second
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newLogger()

	cfg, loadedFromFile, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	logger.Printf("configuration initialised: env=%s, venue=%s", cfg.Environment, cfg.Venue.InfoURL)

	observability.SetLogger(observability.NewStdLogger(logger, cfg.Environment != config.EnvProd))

	meterProvider, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	client := venue.NewClient(cfg.Venue)
	registry := market.New()
	bootstrapRegistry(ctx, logger, client, registry)

	tape := feed.New(cfg.Feed.Capacity)

	streamMetrics, err := stream.NewMetrics(meterProvider.Meter("perpscope/stream"))
	if err != nil {
		logger.Printf("stream metrics unavailable: %v", err)
		streamMetrics = nil
	}

	manager := stream.NewManager(stream.Config{
		URL:          cfg.Venue.WebsocketURL,
		MaxAttempts:  cfg.Stream.MaxAttempts,
		BaseDelay:    cfg.Stream.BaseDelay,
		MaxDelay:     cfg.Stream.MaxDelay,
		WriteTimeout: cfg.Stream.WriteTimeout,
	}, stream.NewWebsocketDialer(cfg.Venue.HandshakeTimeout), registry, streamMetrics)
	manager.OnTrade(tape.RecordTrade)
	manager.OnMids(tape.UpdateMids)

	startStream(ctx, logger, manager)

	var lifecycle conc.WaitGroup

	apiServer := api.New(cfg.APIServer.Addr, api.Deps{
		Registry: registry,
		Feed:     tape,
		Fills:    client,
		Stream:   manager,
	})
	lifecycle.Go(func() {
		if err := apiServer.ListenAndServe(); err != nil {
			logger.Printf("api server: %v", err)
		}
	})
	logger.Printf("api listening on %s", cfg.APIServer.Addr)

	lifecycle.Go(func() {
		refreshLoop(ctx, logger, client, registry)
	})

	logger.Print("perpscope started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("api shutdown: %v", err)
	}
	manager.Disconnect()
	cancel()
	lifecycle.Wait()

	telemetryCtx, telemetryCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer telemetryCancel()
	if err := telemetryShutdown(telemetryCtx); err != nil {
		logger.Printf("telemetry shutdown: %v", err)
	}

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return resolveConfigPath(*cfgPath)
}

func resolveConfigPath(raw string) string {
	if raw == "" {
		return defaultConfigPath
	}
	return raw
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newLogger() *log.Logger {
	return log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

// bootstrapRegistry seeds the market universe before the stream starts. A
// failed bootstrap is not fatal: the stream falls back to a fixed coin set and
// the refresh loop fills the registry in once the venue recovers.
func bootstrapRegistry(ctx context.Context, logger *log.Logger, client *venue.Client, registry *market.Registry) {
	bootCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	universe, ctxs, err := client.MetaAndAssetCtxs(bootCtx)
	if err != nil {
		logger.Printf("registry bootstrap failed, starting with fallback markets: %v", err)
		return
	}
	registry.SetUniverse(universe)
	registry.UpdateCtxs(ctxs)
	logger.Printf("registry bootstrapped: markets=%d", registry.Len())
}

func startStream(ctx context.Context, logger *log.Logger, manager *stream.Manager) {
	if err := manager.Connect(ctx); err != nil {
		logger.Printf("stream connect: %v", err)
		return
	}
	if err := manager.Subscribe(stream.Subscription{Channel: stream.ChannelAllMids}); err != nil {
		logger.Printf("subscribe allMids: %v", err)
	}
	if err := manager.SubscribeAllKnownMarkets(); err != nil {
		logger.Printf("subscribe markets: %v", err)
	}
}

// refreshLoop keeps the per-asset live context current while the process runs.
func refreshLoop(ctx context.Context, logger *log.Logger, client *venue.Client, registry *market.Registry) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			universe, ctxs, err := client.MetaAndAssetCtxs(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Printf("market refresh failed: %v", err)
				continue
			}
			registry.SetUniverse(universe)
			registry.UpdateCtxs(ctxs)
		}
	}
}
