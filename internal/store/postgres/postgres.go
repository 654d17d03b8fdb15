// Package postgres implements the messaging store on Postgres using the
// legacy conversations/chat_messages row shape. Rows are normalized to the
// messenger types at this boundary.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/bus"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/store"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/store/postgres/migrations"
)

// Store is a Postgres-backed messenger.Store.
type Store struct {
	pool *pgxpool.Pool
	bus  *bus.Bus
	now  func() time.Time
}

// Open connects a pgx pool to dsn and verifies it with a ping.
func Open(ctx context.Context, dsn string, opts ...func(*pgxpool.Config)) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(NormalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// SetBus makes every inserted message row visible on b as rows.messages.insert.
func (s *Store) SetBus(b *bus.Bus) {
	s.bus = b
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies the embedded schema through a lib/pq connection.
func Migrate(dsn string) (*store.MigrateResult, error) {
	db, err := sql.Open("postgres", NormalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	defer func() { _ = db.Close() }()

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return store.Up(m)
}

// NormalizeDSN converts driver-suffixed DSNs found in .env files
// (postgresql+asyncpg://, postgres+pgx://) to plain postgres URLs.
func NormalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	for _, prefix := range []string{"postgresql", "postgres"} {
		for _, suffix := range []string{"+asyncpg", "+pgx", "+psycopg2"} {
			s = strings.Replace(s, prefix+suffix+"://", prefix+"://", 1)
		}
	}
	return s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
