package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/transit-panel/internal/backoff"
	"github.com/kjstillabower/transit-panel/internal/cache"
	"github.com/kjstillabower/transit-panel/internal/client"
	"github.com/kjstillabower/transit-panel/internal/config"
	"github.com/kjstillabower/transit-panel/internal/display"
	"github.com/kjstillabower/transit-panel/internal/lifecycle"
	"github.com/kjstillabower/transit-panel/internal/models"
	"github.com/kjstillabower/transit-panel/internal/observability"
	"github.com/kjstillabower/transit-panel/internal/preview"
	"github.com/kjstillabower/transit-panel/internal/render"
	"github.com/kjstillabower/transit-panel/internal/runloop"
	"github.com/kjstillabower/transit-panel/internal/scheduler"
)

const (
	warmTimeout        = 30 * time.Second
	inFlightCheckEvery = 50 * time.Millisecond
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("config loaded",
		zap.String("mode", cfg.Mode),
		zap.Strings("stops", cfg.Stops),
		zap.String("cache_backend", cfg.CacheBackend))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	assets, cacheCloser, err := newAssetCache(cfg, logger)
	if err != nil {
		logger.Fatal("asset cache", zap.Error(err))
	}

	icons := render.NewIconSet(assets, logger)
	compositor, err := render.NewCompositor(render.Options{
		Width:       cfg.DisplayWidth,
		Height:      cfg.DisplayHeight,
		GrayLevels:  cfg.GrayLevels,
		MaxArrivals: cfg.MaxArrivals,
		Location:    cfg.Location,
	}, icons)
	if err != nil {
		logger.Fatal("compositor", zap.Error(err))
	}
	warmCtx, warmCancel := context.WithTimeout(ctx, warmTimeout)
	if err := icons.Warm(warmCtx, compositor.IconSizes()); err != nil {
		// Missing icons fall back at compose time.
		logger.Warn("icon warm failed", zap.Error(err))
	}
	warmCancel()

	transit, err := client.NewGTFSRealtimeClient(client.GTFSRealtimeConfig{
		Feeds:             cfg.TransitFeeds,
		APIKey:            cfg.TransitAPIKey,
		StopNames:         cfg.StopNames,
		Timeout:           cfg.FetchTimeout,
		Retry:             client.RetryConfig{Attempts: cfg.TransitRetryAttempts},
		RequestsPerMinute: cfg.TransitRequestsPerMinute,
	}, logger)
	if err != nil {
		logger.Fatal("transit client", zap.Error(err))
	}
	weather := client.NewOpenMeteoClient(client.OpenMeteoConfig{
		URL:               cfg.WeatherURL,
		Timezone:          cfg.Timezone,
		TemperatureUnit:   cfg.TemperatureUnit,
		WindSpeedUnit:     cfg.WindSpeedUnit,
		Timeout:           cfg.FetchTimeout,
		Retry:             client.RetryConfig{Attempts: cfg.WeatherRetryAttempts},
		RequestsPerMinute: cfg.WeatherRequestsPerMinute,
	}, logger)

	var hub *preview.Hub
	if cfg.Mode == config.ModeDebug && cfg.ServerEnabled {
		hub = preview.NewHub(logger)
	}
	target, err := newTarget(ctx, cfg, hub, logger)
	if err != nil {
		logger.Fatal("render target", zap.Error(err))
	}
	logger.Info("render target ready", zap.String("target", target.Name()))

	sched, err := scheduler.New(schedulerConfig(cfg), transit, weather, compositor, target, logger)
	if err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}
	loop := runloop.New(sched, cfg.MaxSleep, logger)

	var srv *http.Server
	var previewSrv *preview.Server
	if cfg.ServerEnabled {
		previewSrv = preview.NewServer(hub, loop, logger)
		srv = &http.Server{
			Addr:         ":" + cfg.ServerPort,
			Handler:      previewSrv.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("server starting", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("server", zap.Error(err))
			}
		}()
	}

	lifecycle.SetPhase(lifecycle.PhaseRunning)
	if err := loop.Run(ctx); err != nil {
		logger.Error("run loop", zap.Error(err))
	}

	logger.Info("graceful shutdown triggered")
	lifecycle.SetPhase(lifecycle.PhaseShuttingDown)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if hub != nil {
		_ = hub.Close()
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
		if err := previewSrv.WaitForInFlight(shutdownCtx, inFlightCheckEvery); err != nil {
			logger.Warn("in-flight requests not completed", zap.Error(err))
		}
	}

	var closers []io.Closer
	if c, ok := target.(io.Closer); ok {
		closers = append(closers, c)
	}
	if cacheCloser != nil {
		closers = append(closers, cacheCloser)
	}
	if err := observability.FlushTelemetry(context.Background(), logger, closers...); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newAssetCache returns the configured cache and, for memcached, the connection to close.
func newAssetCache(cfg *config.Config, logger *zap.Logger) (cache.AssetCache, io.Closer, error) {
	logger = observability.OrNop(logger)
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, err
		}
		if err := mc.Ping(); err != nil {
			// Lookups fail soft and rasterize instead, so an absent memcached is not fatal.
			logger.Warn("memcached unreachable", zap.String("addrs", cfg.MemcachedAddrs), zap.Error(err))
		}
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, mc, nil
	default:
		logger.Info("cache backend: in_memory")
		return cache.NewInMemoryCache(), nil, nil
	}
}

// newTarget opens the panel in hardware mode and the PNG preview otherwise. An unavailable panel
// is an error here: the process cannot do its job without it.
func newTarget(ctx context.Context, cfg *config.Config, hub *preview.Hub, logger *zap.Logger) (display.Target, error) {
	logger = observability.OrNop(logger)
	if cfg.Mode == config.ModeHardware {
		return display.OpenHardware(ctx, display.HardwareConfig{
			Panel:         cfg.Panel,
			Rotate:        cfg.Rotate,
			VCOM:          cfg.VCOM,
			SPIHz:         cfg.SPIHz,
			PartialMaxBox: cfg.PartialMaxBox,
		}, logger)
	}
	var notifier display.Notifier
	if hub != nil {
		notifier = hub
	}
	return display.NewDebugPreview(cfg.DebugOutputPath, notifier, logger), nil
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Stops:                  cfg.Stops,
		Location:               models.Coordinates{Latitude: cfg.Latitude, Longitude: cfg.Longitude},
		TransitPollInterval:    cfg.TransitPollInterval,
		WeatherPollInterval:    cfg.WeatherPollInterval,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		FetchTimeout:           cfg.FetchTimeout,
		CommitTimeout:          cfg.CommitTimeout,
		FullRefreshInterval:    cfg.FullRefreshInterval,
		MinMinutes:             cfg.MinMinutes,
		MaxMinutes:             cfg.MaxMinutes,
		MaxArrivals:            cfg.MaxArrivals,
		Backoff:                backoff.Policy{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
	}
}
