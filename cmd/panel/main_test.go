package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kjstillabower/transit-panel/internal/cache"
	"github.com/kjstillabower/transit-panel/internal/config"
	"github.com/kjstillabower/transit-panel/internal/display"
	"github.com/kjstillabower/transit-panel/internal/preview"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Mode:                   config.ModeDebug,
		Stops:                  []string{"F20N"},
		Latitude:               40.6861,
		Longitude:              -73.9907,
		TransitPollInterval:    30 * time.Second,
		WeatherPollInterval:    5 * time.Minute,
		MaxConsecutiveFailures: 4,
		BackoffBase:            2 * time.Second,
		BackoffMax:             time.Minute,
		FetchTimeout:           8 * time.Second,
		CommitTimeout:          15 * time.Second,
		FullRefreshInterval:    time.Hour,
		MinMinutes:             1,
		MaxMinutes:             40,
		MaxArrivals:            6,
		Panel:                  display.PanelIT8951,
		DebugOutputPath:        filepath.Join(t.TempDir(), "frame.png"),
		CacheBackend:           "in_memory",
	}
}

// TestNewTarget_DebugMode verifies debug mode writes PNGs to the configured path.
func TestNewTarget_DebugMode(t *testing.T) {
	cfg := testConfig(t)
	target, err := newTarget(context.Background(), cfg, preview.NewHub(nil), nil)
	if err != nil {
		t.Fatalf("newTarget() error = %v", err)
	}
	dp, ok := target.(*display.DebugPreview)
	if !ok {
		t.Fatalf("target = %T, want *display.DebugPreview", target)
	}
	if dp.Path() != cfg.DebugOutputPath {
		t.Errorf("Path() = %q, want %q", dp.Path(), cfg.DebugOutputPath)
	}
}

// TestNewTarget_HardwareUnavailable verifies hardware mode off-board fails with
// ErrHardwareUnavailable instead of falling back to the preview.
func TestNewTarget_HardwareUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = config.ModeHardware
	target, err := newTarget(context.Background(), cfg, nil, nil)
	if err == nil {
		t.Skipf("panel available on this host (%s)", target.Name())
	}
	if !errors.Is(err, display.ErrHardwareUnavailable) {
		t.Errorf("newTarget() error = %v, want ErrHardwareUnavailable", err)
	}
	if target != nil {
		t.Errorf("target = %v, want nil on error", target)
	}
}

// TestNewAssetCache_InMemory verifies the default backend needs no closer.
func TestNewAssetCache_InMemory(t *testing.T) {
	c, closer, err := newAssetCache(testConfig(t), nil)
	if err != nil {
		t.Fatalf("newAssetCache() error = %v", err)
	}
	if _, ok := c.(*cache.InMemoryCache); !ok {
		t.Errorf("cache = %T, want *cache.InMemoryCache", c)
	}
	if closer != nil {
		t.Errorf("closer = %v, want nil", closer)
	}
}

// TestNewAssetCache_MemcachedUnreachable verifies an unreachable memcached is logged and still
// returned, with its connection as the closer.
func TestNewAssetCache_MemcachedUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheBackend = "memcached"
	cfg.MemcachedAddrs = "127.0.0.1:1"
	cfg.MemcachedTimeout = 50 * time.Millisecond
	c, closer, err := newAssetCache(cfg, nil)
	if err != nil {
		t.Fatalf("newAssetCache() error = %v", err)
	}
	if _, ok := c.(*cache.MemcachedCache); !ok {
		t.Errorf("cache = %T, want *cache.MemcachedCache", c)
	}
	if closer == nil {
		t.Error("closer = nil, want the memcached client")
	}
}

// TestSchedulerConfig verifies config values reach the scheduler unchanged.
func TestSchedulerConfig(t *testing.T) {
	cfg := testConfig(t)
	sc := schedulerConfig(cfg)
	if sc.Location.Latitude != cfg.Latitude || sc.Location.Longitude != cfg.Longitude {
		t.Errorf("Location = %+v", sc.Location)
	}
	if sc.MaxConsecutiveFailures != 4 || sc.FetchTimeout != 8*time.Second || sc.CommitTimeout != 15*time.Second {
		t.Errorf("limits = %d %v %v", sc.MaxConsecutiveFailures, sc.FetchTimeout, sc.CommitTimeout)
	}
	if sc.Backoff.Base != 2*time.Second || sc.Backoff.Max != time.Minute {
		t.Errorf("Backoff = %+v", sc.Backoff)
	}
	if sc.MinMinutes != 1 || sc.MaxMinutes != 40 || sc.MaxArrivals != 6 || len(sc.Stops) != 1 {
		t.Errorf("window = %+v", sc)
	}
}
