package cache

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Loader produces the asset for a cache key, e.g. by rasterizing an SVG.
type Loader func(ctx context.Context, key string) (image.Image, error)

// Warmer fills an AssetCache ahead of the first frame so the first compose does not pay for
// every rasterization.
type Warmer struct {
	cache  AssetCache
	load   Loader
	logger *zap.Logger
}

// NewWarmer creates a Warmer that fills cache using load.
func NewWarmer(cache AssetCache, load Loader, logger *zap.Logger) *Warmer {
	return &Warmer{cache: cache, load: load, logger: logger}
}

// Warm loads every key not already cached, concurrently, and stores it without expiry.
// Returns an error if any key failed (aggregated).
func (w *Warmer) Warm(ctx context.Context, keys []string) error {
	start := time.Now()
	if w.logger != nil {
		w.logger.Info("warming asset cache", zap.Int("assets", len(keys)))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(keys))
	for _, key := range keys {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := w.cache.Get(ctx, key); err == nil && ok {
				return
			}
			img, err := w.load(ctx, key)
			if err != nil {
				errCh <- fmt.Errorf("warm %s: %w", key, err)
				return
			}
			if err := w.cache.Set(ctx, key, img, 0); err != nil {
				errCh <- fmt.Errorf("store %s: %w", key, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if w.logger != nil {
		w.logger.Info("asset cache warming complete",
			zap.Int("assets", len(keys)),
			zap.Int("errors", len(errs)),
			zap.Float64("duration_seconds", time.Since(start).Seconds()))
	}
	if len(errs) > 0 {
		return fmt.Errorf("asset cache warming: %v", errs)
	}
	return nil
}
