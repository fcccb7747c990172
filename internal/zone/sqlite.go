package zone

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gyaneshwarpardhi/civicpulse/internal/geo"
	"github.com/gyaneshwarpardhi/civicpulse/internal/zone/migrations"
)

const migrationTable = "schema_migrations"

// latitudeSlackMeters widens the SQL pre-filter so float rounding never drops
// a zone whose edge sits exactly on the point.
const latitudeSlackMeters = 1.0

// SQLiteRepository stores watch zones in SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ Repository = (*SQLiteRepository)(nil)

// OpenSQLite opens (or creates) the zone database at path and applies the
// embedded migrations.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("zone db path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteRepository{db: db, now: time.Now}, nil
}

// Close closes the database handle.
func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Ping checks the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Create inserts z, assigning an id and creation time when missing.
func (r *SQLiteRepository) Create(ctx context.Context, z WatchZone) (WatchZone, error) {
	if err := z.Validate(); err != nil {
		return WatchZone{}, err
	}
	if z.ID == "" {
		z.ID = uuid.NewString()
	}
	if z.CreatedAt.IsZero() {
		z.CreatedAt = r.now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO watch_zones (id, owner_user_id, center_lat, center_lon, radius_meters, alert_frequency, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		z.ID, z.OwnerUserID, z.Center.Lat, z.Center.Lon, z.RadiusMeters, string(z.Frequency), z.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return WatchZone{}, fmt.Errorf("create watch zone: %w", err)
	}
	return z, nil
}

// Get returns one zone by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (WatchZone, error) {
	row := r.db.QueryRowContext(ctx, selectZones+` WHERE id = ?`, id)
	z, err := scanZone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return WatchZone{}, ErrNotFound
	}
	if err != nil {
		return WatchZone{}, fmt.Errorf("get watch zone %s: %w", id, err)
	}
	return z, nil
}

// List returns every zone, or only the zones of ownerUserID when it is set.
func (r *SQLiteRepository) List(ctx context.Context, ownerUserID string) ([]WatchZone, error) {
	query, args := selectZones+` ORDER BY created_at, id`, []any{}
	if ownerUserID != "" {
		query, args = selectZones+` WHERE owner_user_id = ? ORDER BY created_at, id`, []any{ownerUserID}
	}
	return r.query(ctx, query, args...)
}

// Delete removes a zone.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM watch_zones WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete watch zone %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete watch zone %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListZonesContaining returns zones whose circle contains p, closest first.
// The query keeps only zones whose latitude band can reach p, bounded first
// by the largest radius on file so idx_watch_zones_lat serves the range;
// the exact haversine test runs in Go.
func (r *SQLiteRepository) ListZonesContaining(ctx context.Context, p geo.Point) ([]Match, error) {
	if !p.Valid() {
		return nil, nil
	}
	var maxRadius sql.NullFloat64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(radius_meters) FROM watch_zones`).Scan(&maxRadius); err != nil {
		return nil, fmt.Errorf("max zone radius: %w", err)
	}
	if !maxRadius.Valid {
		return nil, nil
	}
	lo, hi := latitudeBand(p.Lat, maxRadius.Float64)
	zones, err := r.query(ctx, selectContaining, lo, hi, p.Lat, geo.MetersPerDegreeLat, latitudeSlackMeters)
	if err != nil {
		return nil, err
	}
	return Filter(zones, p), nil
}

// latitudeBand is the range of center latitudes a zone of at most
// radius meters can have and still reach lat.
func latitudeBand(lat, radius float64) (lo, hi float64) {
	deg := (radius + latitudeSlackMeters) / geo.MetersPerDegreeLat
	return lat - deg, lat + deg
}

const selectZones = `SELECT id, owner_user_id, center_lat, center_lon, radius_meters, alert_frequency, created_at FROM watch_zones`

const selectContaining = selectZones + ` WHERE center_lat BETWEEN ? AND ? AND ABS(center_lat - ?) * ? <= radius_meters + ?`

type scanner interface {
	Scan(dest ...any) error
}

func scanZone(s scanner) (WatchZone, error) {
	var (
		z         WatchZone
		freq      string
		createdMs int64
	)
	if err := s.Scan(&z.ID, &z.OwnerUserID, &z.Center.Lat, &z.Center.Lon, &z.RadiusMeters, &freq, &createdMs); err != nil {
		return WatchZone{}, err
	}
	z.Frequency = Frequency(freq)
	z.CreatedAt = time.UnixMilli(createdMs).UTC()
	return z, nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]WatchZone, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query watch zones: %w", err)
	}
	defer rows.Close()
	out := make([]WatchZone, 0)
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watch zone: %w", err)
		}
		out = append(out, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watch zones: %w", err)
	}
	return out, nil
}

// applyMigrations runs each embedded *.sql file once, in name order, inside
// its own transaction.
func applyMigrations(db *sql.DB, migrationFS fs.FS) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		var found int
		err := db.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		up := upSection(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`, file, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	start := strings.Index(content, up)
	if start == -1 {
		return content
	}
	content = content[start+len(up):]
	if end := strings.Index(content, down); end != -1 {
		content = content[:end]
	}
	return content
}
