package render

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"go.uber.org/zap"

	"github.com/kjstillabower/transit-panel/internal/cache"
	"github.com/kjstillabower/transit-panel/internal/models"
	"github.com/kjstillabower/transit-panel/internal/observability"
)

//go:embed icons/*.svg
var iconFS embed.FS

// FallbackIcon is drawn when an icon is unknown or fails to rasterize.
const FallbackIcon = "na"

// ErrUnknownIcon is returned by Rasterize for an id without an embedded SVG.
var ErrUnknownIcon = errors.New("unknown icon")

// IconFor returns the icon id for a condition, using night variants where they exist.
func IconFor(c models.Condition, isDay bool) string {
	switch c {
	case models.ConditionClear, models.ConditionMainlyClear:
		if isDay {
			return "clear-day"
		}
		return "clear-night"
	case models.ConditionPartlyCloudy:
		if isDay {
			return "partly-cloudy-day"
		}
		return "partly-cloudy-night"
	case models.ConditionOvercast:
		return "cloudy"
	case models.ConditionFog:
		return "fog"
	case models.ConditionDrizzle:
		return "drizzle"
	case models.ConditionRain, models.ConditionShowers:
		return "rain"
	case models.ConditionSnow:
		return "snow"
	case models.ConditionThunderstorm:
		return "thunderstorm"
	default:
		return FallbackIcon
	}
}

// IconIDs lists the embedded icons in sorted order.
func IconIDs() []string {
	entries, err := iconFS.ReadDir("icons")
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, strings.TrimSuffix(e.Name(), ".svg"))
	}
	sort.Strings(ids)
	return ids
}

// IconSet rasterizes the embedded SVG icons and caches them by (id, size).
type IconSet struct {
	cache  cache.AssetCache
	logger *zap.Logger
}

// NewIconSet returns an IconSet backed by c. A nil cache uses an in-memory cache.
func NewIconSet(c cache.AssetCache, logger *zap.Logger) *IconSet {
	if c == nil {
		c = cache.NewInMemoryCache()
	}
	return &IconSet{cache: c, logger: observability.OrNop(logger)}
}

// Rasterize renders icon id into a size x size image with a transparent background. The result
// is non-premultiplied, the form a PNG-encoded cache hands back, so cached and fresh icons draw
// identically.
func (s *IconSet) Rasterize(id string, size int) (image.Image, error) {
	if size <= 0 {
		return nil, fmt.Errorf("icon %s: invalid size %d", id, size)
	}
	data, err := iconFS.ReadFile("icons/" + id + ".svg")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIcon, id)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse icon %s: %w", id, err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)
	return toNRGBA(img), nil
}

// toNRGBA converts pixel by pixel with the same model image/png applies when encoding.
func toNRGBA(src *image.RGBA) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x, y, color.NRGBAModel.Convert(src.RGBAAt(x, y)))
		}
	}
	return dst
}

// Icon returns icon id at size, from cache when possible. It never fails: an icon that cannot
// be rasterized is replaced by the fallback icon, and by a blank image if even that fails.
func (s *IconSet) Icon(ctx context.Context, id string, size int) image.Image {
	key := cache.AssetKey(id, size, size)
	img, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		observability.AssetCacheTotal.WithLabelValues("error").Inc()
		s.logger.Warn("asset cache get failed", zap.String("key", key), zap.Error(err))
	case ok:
		observability.AssetCacheTotal.WithLabelValues("hit").Inc()
		return img
	default:
		observability.AssetCacheTotal.WithLabelValues("miss").Inc()
	}

	img, err = s.Rasterize(id, size)
	if err != nil {
		s.logger.Warn("icon rasterize failed", zap.String("icon", id), zap.Int("size", size), zap.Error(err))
		if id != FallbackIcon {
			return s.Icon(ctx, FallbackIcon, size)
		}
		return image.NewNRGBA(image.Rect(0, 0, size, size))
	}
	if err := s.cache.Set(ctx, key, img, 0); err != nil {
		s.logger.Warn("asset cache set failed", zap.String("key", key), zap.Error(err))
	}
	return img
}

// Warm rasterizes every icon at each of sizes into the cache.
func (s *IconSet) Warm(ctx context.Context, sizes []int) error {
	type sized struct {
		id   string
		size int
	}
	targets := make(map[string]sized)
	var keys []string
	for _, id := range IconIDs() {
		for _, size := range sizes {
			key := cache.AssetKey(id, size, size)
			if _, dup := targets[key]; dup {
				continue
			}
			targets[key] = sized{id: id, size: size}
			keys = append(keys, key)
		}
	}
	warmer := cache.NewWarmer(s.cache, func(ctx context.Context, key string) (image.Image, error) {
		sp := targets[key]
		return s.Rasterize(sp.id, sp.size)
	}, s.logger)
	return warmer.Warm(ctx, keys)
}
