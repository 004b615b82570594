package cache

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"
)

func testImage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.SetGray(1, 2, color.Gray{Y: 0x80})
	return img
}

// TestAssetKey verifies keys include the asset id and pixel size.
func TestAssetKey(t *testing.T) {
	if got := AssetKey("rain", 48, 48); got != "icon:rain:48x48" {
		t.Errorf("AssetKey() = %q", got)
	}
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them correctly with the expected data.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	val := testImage()
	if err := c.Set(ctx, "rain", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "rain")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != val {
		t.Errorf("Get() returned a different image")
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_, ok, err := c.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Get_Expired verifies that Get returns ok=false for expired
// entries and removes them from cache on access.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	if err := c.Set(ctx, "rain", testImage(), time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	time.Sleep(2 * time.Millisecond)

	_, ok, err := c.Get(ctx, "rain")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
	if c.Len() != 0 {
		t.Error("Expired entry should be deleted from cache")
	}
}

// TestInMemoryCache_NoExpiry verifies a zero TTL keeps the entry.
func TestInMemoryCache_NoExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	if err := c.Set(ctx, "sun", testImage(), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "sun"); !ok {
		t.Error("Get() ok = false, want true for entry without expiry")
	}
}

// TestExpiration verifies TTL conversion to memcached expiration seconds.
func TestExpiration(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, 1},
		{time.Hour, 3600},
		{90 * 24 * time.Hour, 30 * 24 * 60 * 60},
	}
	for _, tt := range tests {
		if got := expiration(tt.ttl); got != tt.want {
			t.Errorf("expiration(%v) = %d, want %d", tt.ttl, got, tt.want)
		}
	}
}

// TestParseAddrs verifies comma separated server lists are trimmed and empty entries dropped.
func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" a:1 ,, b:2 ")
	if len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
		t.Errorf("parseAddrs() = %v", got)
	}
}
