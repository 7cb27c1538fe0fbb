package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/yourorg/comps-api/internal/usage"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

type Store struct {
	DB     *sql.DB
	driver string
}

func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// single writer; also keeps ":memory:" on one connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	return &Store{DB: db, driver: driver}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) Close() error { return s.DB.Close() }

var rePlaceholder = regexp.MustCompile(`\$(\d+)`)

// rebind rewrites $N placeholders to SQLite's ?N form.
func (s *Store) rebind(q string) string {
	if s.driver == DriverSQLite {
		return rePlaceholder.ReplaceAllString(q, "?$1")
	}
	return q
}

func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS api_usage (
            user_id           TEXT NOT NULL,
            year_month        TEXT NOT NULL,
            provider_a_count  INTEGER NOT NULL DEFAULT 0,
            provider_b_count  INTEGER NOT NULL DEFAULT 0,
            created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (user_id, year_month)
        );`,
	}
	if s.driver == DriverPostgres {
		stmts = append(stmts,
			`CREATE EXTENSION IF NOT EXISTS pgcrypto;`,
			`CREATE TABLE IF NOT EXISTS provider_raw_snapshots (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            provider       TEXT NOT NULL,
            endpoint       TEXT NOT NULL,
            external_id    TEXT,
            payload        JSONB NOT NULL,
            fetched_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
            payload_sha256 TEXT NOT NULL
        );`,
		)
	} else {
		stmts = append(stmts,
			`CREATE TABLE IF NOT EXISTS provider_raw_snapshots (
            id             INTEGER PRIMARY KEY AUTOINCREMENT,
            provider       TEXT NOT NULL,
            endpoint       TEXT NOT NULL,
            external_id    TEXT,
            payload        TEXT NOT NULL,
            fetched_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            payload_sha256 TEXT NOT NULL
        );`,
		)
	}
	stmts = append(stmts,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_provider ON provider_raw_snapshots(provider, endpoint, fetched_at DESC);`,
	)
	for _, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Usage exposes the api_usage table as a usage.Tracker.
func (s *Store) Usage() usage.Tracker { return sqlUsage{s} }

type sqlUsage struct{ s *Store }

func (u sqlUsage) Get(ctx context.Context, userID, yearMonth string) (usage.Counter, error) {
	c := usage.Counter{UserID: userID, YearMonth: yearMonth}
	if _, err := u.s.DB.ExecContext(ctx, u.s.rebind(`
        INSERT INTO api_usage (user_id, year_month) VALUES ($1,$2)
        ON CONFLICT (user_id, year_month) DO NOTHING`), userID, yearMonth); err != nil {
		return c, fmt.Errorf("usage get-or-create: %w", err)
	}
	err := u.s.DB.QueryRowContext(ctx, u.s.rebind(`
        SELECT provider_a_count, provider_b_count FROM api_usage
        WHERE user_id=$1 AND year_month=$2`), userID, yearMonth).Scan(&c.CountA, &c.CountB)
	if err != nil {
		return c, fmt.Errorf("usage read: %w", err)
	}
	return c, nil
}

func (u sqlUsage) Increment(ctx context.Context, userID, yearMonth string, m usage.Meter) (usage.Counter, error) {
	c := usage.Counter{UserID: userID, YearMonth: yearMonth}
	var col string
	switch m {
	case usage.MeterA:
		col = "provider_a_count"
	case usage.MeterB:
		col = "provider_b_count"
	default:
		return c, usage.ErrUnknownMeter
	}
	q := fmt.Sprintf(`
        INSERT INTO api_usage (user_id, year_month, %[1]s) VALUES ($1,$2,1)
        ON CONFLICT (user_id, year_month)
        DO UPDATE SET %[1]s = api_usage.%[1]s + 1, updated_at = CURRENT_TIMESTAMP
        RETURNING provider_a_count, provider_b_count`, col)
	if err := u.s.DB.QueryRowContext(ctx, u.s.rebind(q), userID, yearMonth).Scan(&c.CountA, &c.CountB); err != nil {
		return c, fmt.Errorf("usage increment: %w", err)
	}
	return c, nil
}

// WriteSnapshot stores a raw provider payload for later inspection.
func (s *Store) WriteSnapshot(ctx context.Context, provider, endpoint, externalID string, payload []byte) error {
	if s.DB == nil {
		return errors.New("nil db")
	}
	if len(payload) == 0 {
		return nil
	}
	sum := sha256.Sum256(payload)
	sha := hex.EncodeToString(sum[:])
	_, err := s.DB.ExecContext(ctx, s.rebind(`
        INSERT INTO provider_raw_snapshots (provider, endpoint, external_id, payload, payload_sha256)
        VALUES ($1,$2,$3,$4,$5)`), provider, endpoint, sqlNullString(externalID), string(payload), sha)
	return err
}

func sqlNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
