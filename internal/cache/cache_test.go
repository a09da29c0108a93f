package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kjstillabower/weather-proxy-service/internal/models"
	"github.com/kjstillabower/weather-proxy-service/internal/validation"
)

func sampleRecord(city string) models.WeatherRecord {
	return models.WeatherRecord{
		ID:             uuid.New(),
		NormalizedCity: city,
		DisplayCity:    city,
		TemperatureC:   12.5,
		Condition:      "Cloudy",
		ObservedAt:     time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them correctly with the expected data.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	val := sampleRecord("seattle")
	if err := c.Set(ctx, "seattle", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "seattle")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != val {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	c := NewInMemoryCache()

	_, ok, err := c.Get(context.Background(), "nonexistent")
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
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "seattle", sampleRecord("seattle"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	now = now.Add(61 * time.Second)

	_, ok, err := c.Get(ctx, "seattle")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after expired access", c.Len())
	}
}

// TestInMemoryCache_Set_Overwrites verifies that a newer record replaces the old one.
func TestInMemoryCache_Set_Overwrites(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	first := sampleRecord("oslo")
	second := sampleRecord("oslo")
	second.TemperatureC = -3

	_ = c.Set(ctx, "oslo", first, time.Minute)
	_ = c.Set(ctx, "oslo", second, time.Minute)

	got, ok, _ := c.Get(ctx, "oslo")
	if !ok || got.ID != second.ID {
		t.Errorf("Get() = %+v, want second record", got)
	}
}

func TestInMemoryCache_CanceledContext(t *testing.T) {
	c := NewInMemoryCache()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Set(ctx, "x", sampleRecord("x"), time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Set() error = %v, want context.Canceled", err)
	}
	if _, _, err := c.Get(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get() error = %v, want context.Canceled", err)
	}
}

// TestInMemoryCache_Concurrent exercises the mutex under -race.
func TestInMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("city-%d", i%5)
			_ = c.Set(ctx, key, sampleRecord(key), time.Minute)
			_, _, _ = c.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	if c.Len() != 5 {
		t.Errorf("Len() = %d, want 5", c.Len())
	}
}

func TestMemcacheKey(t *testing.T) {
	long := strings.Repeat("ü", validation.DefaultMaxCityLength)
	inputs := []string{"paris", "san jose", "san_jose", "san\tjose", "são paulo", long}

	seen := make(map[string]string)
	for _, in := range inputs {
		key := memcacheKey(in)
		if len(key) > 250 {
			t.Errorf("memcacheKey(%q) length = %d, want <= 250", in, len(key))
		}
		if strings.ContainsAny(key, " \t\r\n") {
			t.Errorf("memcacheKey(%q) = %q contains whitespace", in, key)
		}
		if !strings.HasPrefix(key, keyPrefix) {
			t.Errorf("memcacheKey(%q) = %q, want prefix %q", in, key, keyPrefix)
		}
		if prev, dup := seen[key]; dup {
			t.Errorf("memcacheKey(%q) collides with memcacheKey(%q)", in, prev)
		}
		seen[key] = in
	}
	if memcacheKey("paris") != memcacheKey("paris") {
		t.Error("memcacheKey is not deterministic")
	}
}

func TestExpirationSeconds(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{30 * time.Minute, 1800},
		{1500 * time.Millisecond, 2},
		{0, 3600},
		{-time.Second, 3600},
		{31 * 24 * time.Hour, 3600},
	}
	for _, tc := range tests {
		if got := expirationSeconds(tc.ttl); got != tc.want {
			t.Errorf("expirationSeconds(%v) = %d, want %d", tc.ttl, got, tc.want)
		}
	}
}

func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" host1:11211, ,host2:11211 ")
	if len(got) != 2 || got[0] != "host1:11211" || got[1] != "host2:11211" {
		t.Errorf("parseAddrs() = %v", got)
	}
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	if _, err := NewRedisCache("not-a-url://"); err == nil {
		t.Error("NewRedisCache() error = nil, want parse error")
	}
}

// TestPinger_Backends verifies which backends report reachability to /health.
func TestPinger_Backends(t *testing.T) {
	rc, err := NewRedisCache("redis://localhost:6379/0")
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	defer rc.Close()
	mc := NewMemcachedCache("localhost:11211", 0, 0)
	defer mc.Close()

	tests := []struct {
		name string
		c    Cache
		want bool
	}{
		{"in_memory", NewInMemoryCache(), false},
		{"memcached", mc, true},
		{"redis", rc, true},
	}
	for _, tc := range tests {
		if _, ok := tc.c.(Pinger); ok != tc.want {
			t.Errorf("%s implements Pinger = %v, want %v", tc.name, ok, tc.want)
		}
	}
}
