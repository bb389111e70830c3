// Package store is the durable home for deals, tokens, party details,
// deposits, queue items, and oracle quotes (spec §6.2). It is built
// the way internal/storage/storage.go builds Klingon's SQLite layer:
// a single-writer WAL-mode connection, schema created idempotently at
// startup, and additive migrations for columns added after first
// release.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/klingon-exchange/otc-broker/pkg/logging"
)

// Store provides persistent storage for the broker.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	log    *logging.Logger
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New opens (creating if necessary) the broker's SQLite database,
// initializes its schema, and runs additive migrations.
//
// Design note: a missing tokens table is treated as a fatal startup
// condition rather than silently downgraded to "accept any token" --
// the source system this broker is modeled after did the latter, and
// it is a bug, not a feature: it would let fillPartyDetails succeed
// for any dealId/party with no authorization at all.
func New(cfg *Config, log *logging.Logger) (*Store, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "otcbroker.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // sqlite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath, log: log}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}

	if err := s.checkRequiredTables(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection, for callers (tests,
// admin tooling) that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		document TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deals_stage ON deals(stage);

	CREATE TABLE IF NOT EXISTS tokens (
		token TEXT PRIMARY KEY,
		deal_id TEXT NOT NULL,
		party TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		used_at INTEGER,
		FOREIGN KEY (deal_id) REFERENCES deals(id)
	);
	CREATE INDEX IF NOT EXISTS idx_tokens_deal ON tokens(deal_id, party);

	CREATE TABLE IF NOT EXISTS deposits (
		deal_id TEXT NOT NULL,
		side TEXT NOT NULL,
		txid TEXT NOT NULL,
		asset TEXT NOT NULL,
		amount_units TEXT NOT NULL,
		amount_decimals INTEGER NOT NULL,
		confirms INTEGER NOT NULL,
		block_time INTEGER,
		first_seen_at INTEGER NOT NULL,
		PRIMARY KEY (deal_id, side, txid, asset)
	);

	CREATE TABLE IF NOT EXISTS queue (
		id TEXT PRIMARY KEY,
		deal_id TEXT NOT NULL,
		purpose TEXT NOT NULL,
		status TEXT NOT NULL,
		document TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_queue_deal ON queue(deal_id);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON queue(status);

	CREATE TABLE IF NOT EXISTS oracle_quotes (
		chain_id TEXT NOT NULL,
		pair TEXT NOT NULL,
		as_of INTEGER NOT NULL,
		price TEXT NOT NULL,
		source TEXT NOT NULL,
		PRIMARY KEY (chain_id, pair, as_of)
	);
	CREATE INDEX IF NOT EXISTS idx_quotes_latest ON oracle_quotes(chain_id, pair, as_of DESC);

	CREATE TABLE IF NOT EXISTS watcher_cursors (
		chain_id TEXT NOT NULL,
		address TEXT NOT NULL,
		cursor TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (chain_id, address)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies additive schema changes for databases created
// by earlier versions of this table set. Each statement is run
// independently and a "duplicate column" error is swallowed, matching
// internal/storage/storage.go's migration style: SQLite has no
// "ADD COLUMN IF NOT EXISTS", so idempotence is approximated by
// ignoring the one error that means "already applied".
func (s *Store) runMigrations() error {
	migrations := []string{}
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration %q: %w", stmt, err)
		}
	}
	return nil
}

// checkRequiredTables fails startup loudly if a table the broker
// depends on for correctness is missing, rather than letting callers
// silently operate in a degraded mode.
func (s *Store) checkRequiredTables() error {
	required := []string{"deals", "tokens", "deposits", "queue", "oracle_quotes", "watcher_cursors"}
	for _, name := range required {
		var got string
		err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&got)
		if err == sql.ErrNoRows {
			return fmt.Errorf("store: required table %q is missing; refusing to start", name)
		}
		if err != nil {
			return fmt.Errorf("store: checking table %q: %w", name, err)
		}
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
