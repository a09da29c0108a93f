package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kjstillabower/weather-proxy-service/internal/models"
)

type fakeClient struct {
	mu      sync.Mutex
	calls   int
	queries []string
	obs     models.Observation
	err     error
	gate    chan struct{}
}

func (f *fakeClient) FetchCurrent(ctx context.Context, city string) (models.Observation, error) {
	f.mu.Lock()
	f.calls++
	f.queries = append(f.queries, city)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.Observation{}, ctx.Err()
		}
	}
	return f.obs, f.err
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStore is an in-memory store.Store with per-operation error injection.
type fakeStore struct {
	mu          sync.Mutex
	records     []models.WeatherRecord
	findCalls   int
	insertCalls int
	searchCalls int
	findErr     error
	insertErr   error
	listErr     error
	searchErr   error
}

func (f *fakeStore) FindFresh(ctx context.Context, normalizedCity string, since time.Time) (models.WeatherRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.findErr != nil {
		return models.WeatherRecord{}, false, f.findErr
	}
	var best models.WeatherRecord
	found := false
	for _, r := range f.records {
		if r.NormalizedCity != strings.ToLower(normalizedCity) || r.ObservedAt.Before(since) {
			continue
		}
		if !found || r.ObservedAt.After(best.ObservedAt) {
			best, found = r, true
		}
	}
	return best, found, nil
}

func (f *fakeStore) Insert(ctx context.Context, rec *models.WeatherRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if f.insertErr != nil {
		return f.insertErr
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = time.Now().UTC()
	}
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeStore) ListAll(ctx context.Context) ([]models.WeatherRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := append([]models.WeatherRecord{}, f.records...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.After(out[j].ObservedAt) })
	return out, nil
}

func (f *fakeStore) SearchByCity(ctx context.Context, substring string) ([]models.WeatherRecord, error) {
	f.mu.Lock()
	f.searchCalls++
	searchErr := f.searchErr
	f.mu.Unlock()
	if searchErr != nil {
		return nil, searchErr
	}
	all, _ := f.ListAll(ctx)
	out := []models.WeatherRecord{}
	for _, r := range all {
		if strings.Contains(strings.ToLower(r.DisplayCity), strings.ToLower(substring)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeCache struct {
	mu     sync.Mutex
	data   map[string]models.WeatherRecord
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string]models.WeatherRecord{}, ttls: map[string]time.Duration{}}
}

func (f *fakeCache) Get(ctx context.Context, key string) (models.WeatherRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return models.WeatherRecord{}, false, f.getErr
	}
	rec, ok := f.data[key]
	return rec, ok, nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value models.WeatherRecord, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.data[key] = value
	f.ttls[key] = ttl
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []models.WeatherRecord
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, rec models.WeatherRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, rec)
	return f.err
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errDB = errors.New("database is locked")
