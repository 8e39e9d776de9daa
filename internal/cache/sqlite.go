package cache

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

// SQLiteStore implements Store on a SQLite table, for deployments that
// want the cache to survive process restarts. Prune-then-read replaces
// the in-memory per-entry freshness check: the service sweeps expired
// rows before each lookup, and Lookup still verifies age so a row that
// expired between sweeps is never served.
type SQLiteStore struct {
	db *sql.DB
}

const weatherSchema = `
create table if not exists weather (
	id text primary key,
	location text not null,
	temperature_2m real not null,
	wind_speed_10m real not null,
	weather_code integer not null,
	relative_humidity_2m real not null,
	apparent_temperature real not null,
	precipitation_probability real not null,
	created_at integer not null
);
create index if not exists weather_created_at on weather (created_at);
`

// OpenSQLiteStore opens (and if needed creates) the cache database at
// path. Use ":memory:" for an ephemeral database in tests.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite cache: path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serializes all cache operations, which is the
	// mutual-exclusion contract Store requires.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(weatherSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create weather table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Lookup returns the row for key if present and younger than ttl.
func (s *SQLiteStore) Lookup(ctx context.Context, key string, ttl time.Duration) (models.Weather, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, location, temperature_2m, wind_speed_10m, weather_code,
		       relative_humidity_2m, apparent_temperature, precipitation_probability,
		       created_at
		from weather where id = ?`, key)

	var w models.Weather
	var createdAt int64
	err := row.Scan(&w.ID, &w.Location, &w.Temperature2m, &w.WindSpeed10m,
		&w.WeatherCode, &w.RelativeHumidity2m, &w.ApparentTemperature,
		&w.PrecipitationProbability, &createdAt)
	if err == sql.ErrNoRows {
		return models.Weather{}, false, nil
	}
	if err != nil {
		return models.Weather{}, false, fmt.Errorf("select weather row: %w", err)
	}
	w.CreatedAt = fromMillis(createdAt)
	if !w.Fresh(time.Now(), ttl) {
		return models.Weather{}, false, nil
	}
	return w, true, nil
}

// Insert upserts value under key; a concurrent insert for the same key
// silently loses to the later writer.
func (s *SQLiteStore) Insert(ctx context.Context, key string, value models.Weather, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		insert into weather (
			id, location, temperature_2m, wind_speed_10m, weather_code,
			relative_humidity_2m, apparent_temperature, precipitation_probability,
			created_at
		) values (?, ?, ?, ?, ?, ?, ?, ?, ?)
		on conflict (id) do update set
			location = excluded.location,
			temperature_2m = excluded.temperature_2m,
			wind_speed_10m = excluded.wind_speed_10m,
			weather_code = excluded.weather_code,
			relative_humidity_2m = excluded.relative_humidity_2m,
			apparent_temperature = excluded.apparent_temperature,
			precipitation_probability = excluded.precipitation_probability,
			created_at = excluded.created_at`,
		key, value.Location, value.Temperature2m, value.WindSpeed10m,
		value.WeatherCode, value.RelativeHumidity2m, value.ApparentTemperature,
		value.PrecipitationProbability, toMillis(value.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert weather row: %w", err)
	}
	return nil
}

// Prune deletes every row whose age is >= olderThan and returns the
// number of deleted rows.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := toMillis(time.Now().Add(-olderThan))
	res, err := s.db.ExecContext(ctx, `delete from weather where created_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune weather rows: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return removed, nil
}

// Ping checks database reachability. Used by health checks.
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database. Call during shutdown.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
