package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kjstillabower/weather-proxy-service/internal/models"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	// Unique in-memory DB per test so rows do not leak between tests.
	dsn := "file:store_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func insert(t *testing.T, repo *Repo, normalized, display string, observedAt time.Time) models.WeatherRecord {
	t.Helper()
	rec := models.WeatherRecord{
		NormalizedCity: normalized,
		DisplayCity:    display,
		TemperatureC:   10,
		Condition:      "Clear",
		ObservedAt:     observedAt,
	}
	if err := repo.Insert(context.Background(), &rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	return rec
}

// TestRepo_Insert_AssignsIDAndTimestamp verifies that Insert fills in a generated
// ID and the current time when the caller leaves them unset.
func TestRepo_Insert_AssignsIDAndTimestamp(t *testing.T) {
	repo := openTestRepo(t)
	before := time.Now().Add(-time.Second)

	rec := models.WeatherRecord{NormalizedCity: "paris", DisplayCity: "Paris", TemperatureC: 18.5, Condition: "Clear"}
	if err := repo.Insert(context.Background(), &rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if rec.ID == uuid.Nil {
		t.Error("Insert() left ID unset")
	}
	if rec.ObservedAt.Before(before) {
		t.Errorf("Insert() ObservedAt = %v, want >= %v", rec.ObservedAt, before)
	}
	if rec.ObservedAt.Location() != time.UTC {
		t.Errorf("Insert() ObservedAt location = %v, want UTC", rec.ObservedAt.Location())
	}
}

// TestRepo_Insert_KeepsExplicitTimestamp verifies that a caller-supplied
// observation time is persisted unchanged.
func TestRepo_Insert_KeepsExplicitTimestamp(t *testing.T) {
	repo := openTestRepo(t)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := insert(t, repo, "oslo", "Oslo", at)

	got, ok, err := repo.FindFresh(context.Background(), "oslo", at)
	if err != nil || !ok {
		t.Fatalf("FindFresh() = %v, %v, want hit", ok, err)
	}
	if got.ID != rec.ID || !got.ObservedAt.Equal(at) {
		t.Errorf("FindFresh() = %+v, want id %s observed %v", got, rec.ID, at)
	}
}

// TestRepo_FindFresh verifies the cutoff boundary, the newest-first choice
// between several fresh rows and the case-insensitive key comparison.
func TestRepo_FindFresh(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	insert(t, repo, "london", "London", base.Add(-40*time.Minute))
	insert(t, repo, "london", "London", base.Add(-20*time.Minute))
	newest := insert(t, repo, "london", "London", base.Add(-5*time.Minute))
	insert(t, repo, "paris", "Paris", base)

	tests := []struct {
		name   string
		city   string
		since  time.Time
		wantOK bool
		wantID uuid.UUID
	}{
		{name: "newest of several fresh", city: "london", since: base.Add(-30 * time.Minute), wantOK: true, wantID: newest.ID},
		{name: "cutoff is inclusive", city: "london", since: base.Add(-5 * time.Minute), wantOK: true, wantID: newest.ID},
		{name: "uppercase key", city: "LONDON", since: base.Add(-30 * time.Minute), wantOK: true, wantID: newest.ID},
		{name: "all stale", city: "london", since: base, wantOK: false},
		{name: "unknown city", city: "rome", since: base.Add(-time.Hour), wantOK: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok, err := repo.FindFresh(ctx, tc.city, tc.since)
			if err != nil {
				t.Fatalf("FindFresh() error = %v", err)
			}
			if ok != tc.wantOK {
				t.Fatalf("FindFresh() ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && got.ID != tc.wantID {
				t.Errorf("FindFresh() id = %s, want %s", got.ID, tc.wantID)
			}
		})
	}
}

// TestRepo_ListAll_NewestFirst verifies ordering and that an empty store
// yields an empty, non-nil slice.
func TestRepo_ListAll_NewestFirst(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	empty, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("ListAll() on empty store = %#v, want empty slice", empty)
	}

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	insert(t, repo, "b", "B", base.Add(time.Minute))
	insert(t, repo, "a", "A", base)
	insert(t, repo, "c", "C", base.Add(2*time.Minute))

	rows, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	var got []string
	for _, r := range rows {
		got = append(got, r.DisplayCity)
	}
	if strings.Join(got, ",") != "C,B,A" {
		t.Errorf("ListAll() order = %v, want [C B A]", got)
	}
}

// TestRepo_SearchByCity verifies case-insensitive substring matching on the
// display city and that LIKE wildcards in the query are taken literally.
func TestRepo_SearchByCity(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	insert(t, repo, "london", "London", base)
	insert(t, repo, "londonderry", "Londonderry", base.Add(time.Minute))
	insert(t, repo, "nyc", "New York", base.Add(2*time.Minute))

	tests := []struct {
		query string
		want  []string
	}{
		{query: "lon", want: []string{"Londonderry", "London"}},
		{query: "LON", want: []string{"Londonderry", "London"}},
		{query: "york", want: []string{"New York"}},
		{query: "nyc", want: nil},
		{query: "%", want: nil},
		{query: "_", want: nil},
		{query: "tokyo", want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			rows, err := repo.SearchByCity(ctx, tc.query)
			if err != nil {
				t.Fatalf("SearchByCity() error = %v", err)
			}
			var got []string
			for _, r := range rows {
				got = append(got, r.DisplayCity)
			}
			if strings.Join(got, ",") != strings.Join(tc.want, ",") {
				t.Errorf("SearchByCity(%q) = %v, want %v", tc.query, got, tc.want)
			}
		})
	}
}

// TestRepo_ErrorsAreStorageErrors verifies that driver failures surface as ErrStorage.
func TestRepo_ErrorsAreStorageErrors(t *testing.T) {
	repo := openTestRepo(t)
	if err := repo.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	_, err := repo.ListAll(context.Background())
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("ListAll() after Close error = %v, want ErrStorage", err)
	}
}

func TestIsPostgresDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{"postgres://u:p@localhost:5432/weather", true},
		{"postgresql://localhost/weather", true},
		{"host=localhost user=u dbname=weather sslmode=disable", true},
		{"file:weather.db", false},
		{"./data/weather.db", false},
	}
	for _, tc := range tests {
		if got := isPostgresDSN(tc.dsn); got != tc.want {
			t.Errorf("isPostgresDSN(%q) = %v, want %v", tc.dsn, got, tc.want)
		}
	}
}

func TestOpen_EmptyDSN(t *testing.T) {
	if _, err := Open("  "); !errors.Is(err, ErrStorage) {
		t.Fatalf("Open(empty) error = %v, want ErrStorage", err)
	}
}
