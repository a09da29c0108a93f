package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/kjstillabower/weather-proxy-service/internal/models"
)

// Store is the record store as seen by the service layer.
type Store interface {
	FindFresh(ctx context.Context, normalizedCity string, since time.Time) (models.WeatherRecord, bool, error)
	Insert(ctx context.Context, rec *models.WeatherRecord) error
	ListAll(ctx context.Context) ([]models.WeatherRecord, error)
	SearchByCity(ctx context.Context, substring string) ([]models.WeatherRecord, error)
}

// Repo implements Store on top of gorm. Concurrency is left to the database.
type Repo struct {
	db *gorm.DB
}

// Open picks a gorm dialector from the DSN: postgres:// URLs and key=value
// strings go to PostgreSQL, everything else is treated as a SQLite path or
// file: URI.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, wrap("open", errors.New("empty DSN"))
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	var (
		db  *gorm.DB
		err error
	)
	if isPostgresDSN(dsn) {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	} else {
		db, err = gorm.Open(sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), cfg)
	}
	if err != nil {
		return nil, wrap("open", err)
	}
	return db, nil
}

func isPostgresDSN(dsn string) bool {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return true
	}
	return strings.Contains(lower, "host=") && strings.Contains(lower, "dbname=")
}

// New migrates the schema and returns a Repo.
func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&models.WeatherRecord{}); err != nil {
		return nil, wrap("migrate", err)
	}
	return &Repo{db: db}, nil
}

// FindFresh returns the newest record for normalizedCity observed at or after since.
// A miss is (zero, false, nil).
func (r *Repo) FindFresh(ctx context.Context, normalizedCity string, since time.Time) (models.WeatherRecord, bool, error) {
	var rec models.WeatherRecord
	err := r.db.WithContext(ctx).
		Where("normalized_city = ? AND observed_at >= ?", strings.ToLower(normalizedCity), since.UTC()).
		Order(newestFirst()).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.WeatherRecord{}, false, nil
	}
	if err != nil {
		return models.WeatherRecord{}, false, wrap("find fresh", err)
	}
	return rec, true, nil
}

// Insert appends rec, assigning an ID and observation time when unset.
func (r *Repo) Insert(ctx context.Context, rec *models.WeatherRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = time.Now()
	}
	rec.ObservedAt = rec.ObservedAt.UTC()
	return wrap("insert", r.db.WithContext(ctx).Create(rec).Error)
}

// ListAll returns every record, newest first.
func (r *Repo) ListAll(ctx context.Context) ([]models.WeatherRecord, error) {
	rows := []models.WeatherRecord{}
	if err := r.db.WithContext(ctx).Order(newestFirst()).Find(&rows).Error; err != nil {
		return nil, wrap("list", err)
	}
	return rows, nil
}

// SearchByCity returns records whose display city contains substring,
// case-insensitively, newest first. LIKE wildcards in substring match literally.
func (r *Repo) SearchByCity(ctx context.Context, substring string) ([]models.WeatherRecord, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(substring))) + "%"
	rows := []models.WeatherRecord{}
	err := r.db.WithContext(ctx).
		Where("LOWER(display_city) LIKE ? ESCAPE '\\'", pattern).
		Order(newestFirst()).
		Find(&rows).Error
	if err != nil {
		return nil, wrap("search", err)
	}
	return rows, nil
}

// Ping checks the underlying connection. Used by the health handler.
func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return wrap("ping", err)
	}
	return wrap("ping", sqlDB.PingContext(ctx))
}

// Close releases the connection pool.
func (r *Repo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return wrap("close", err)
	}
	return wrap("close", sqlDB.Close())
}

func newestFirst() clause.OrderBy {
	return clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "observed_at"}, Desc: true},
		{Column: clause.Column{Name: "id"}, Desc: true},
	}}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
