package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const defaultPath = "./data/qrgate.db"

type Config struct {
	Path string // e.g. "./data/qrgate.db"
	Env  string // "dev" | "prod"
}

// pragmas are applied per connection through the DSN.
const pragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

// Open opens the SQLite database at cfg.Path, creating its directory if
// needed, and applies pending migrations before returning.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	return openDSN(ctx, fmt.Sprintf("file:%s?%s", cfg.Path, pragmas))
}

// OpenMemory opens a private shared-cache in-memory database named name.
// The schema lives as long as the returned pool.
func OpenMemory(ctx context.Context, name string) (*sql.DB, error) {
	return openDSN(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared&%s", name, pragmas))
}

func openDSN(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// Single connection: all writes are serialised through Worker anyway,
	// and SQLite is happiest without competing writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
