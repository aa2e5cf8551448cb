// Package sqlite provides a SQLite implementation of the registry
// BackupStore: component states, version records and snapshots survive a
// process restart.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	"github.com/c0deZ3R0/go-registry-kit/registry"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// ErrStoreClosed is returned by every operation after Close.
var ErrStoreClosed = errors.New("store is closed")

// Config holds configuration options for the Store.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:registry.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to
	// DataSourceName.
	EnableWAL bool

	// Logger for internal operations. Defaults to slog.Default().
	Logger *slog.Logger

	// Connection pool settings.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "?_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults: WAL mode
// enabled and a pooled connection.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// Store implements registry.BackupStore on SQLite.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *slog.Logger
}

var _ registry.BackupStore = (*Store)(nil)

// New creates a Store from a Config.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()
	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := config.Logger.With(slog.String("component", "sqlite-store"))
	logger.Info("opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL))

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{db: db, logger: logger}
	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	logger.Info("SQLite backup store initialized")
	return store, nil
}

// NewWithDataSource is a convenience constructor using default settings.
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

func (s *Store) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS component_states (
        component_id    TEXT PRIMARY KEY,
        state           TEXT NOT NULL,
        version         TEXT NOT NULL,
        data            TEXT NOT NULL,
        updated_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    );
    CREATE TABLE IF NOT EXISTS version_records (
        seq             INTEGER PRIMARY KEY AUTOINCREMENT,
        component_id    TEXT NOT NULL,
        version         TEXT NOT NULL,
        recorded_at     TIMESTAMP NOT NULL,
        data            TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS snapshots (
        id              TEXT PRIMARY KEY,
        name            TEXT NOT NULL,
        description     TEXT,
        automatic       INTEGER NOT NULL,
        created_at      TIMESTAMP NOT NULL,
        data            TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_version_component ON version_records (component_id);
    CREATE INDEX IF NOT EXISTS idx_snapshot_created ON snapshots (created_at);
    `
	_, err := s.db.Exec(query)
	return err
}

// SaveComponentState upserts the latest persisted state for a component.
func (s *Store) SaveComponentState(ctx context.Context, component *registry.Component) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	data, err := json.Marshal(component)
	if err != nil {
		return fmt.Errorf("failed to marshal component %s: %w", component.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO component_states (component_id, state, version, data, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(component_id) DO UPDATE SET
            state = excluded.state,
            version = excluded.version,
            data = excluded.data,
            updated_at = excluded.updated_at`,
		component.ID, string(component.State), component.Version, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save component state %s: %w", component.ID, err)
	}
	return nil
}

// SaveVersionRecord appends one version history record.
func (s *Store) SaveVersionRecord(ctx context.Context, componentID string, rec registry.VersionRecord) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	data, err := json.Marshal(rec.Component)
	if err != nil {
		return fmt.Errorf("failed to marshal version record for %s: %w", componentID, err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO version_records (component_id, version, recorded_at, data)
        VALUES (?, ?, ?, ?)`,
		componentID, rec.Version, rec.Timestamp, string(data))
	if err != nil {
		return fmt.Errorf("failed to save version record for %s: %w", componentID, err)
	}
	return nil
}

// SaveSnapshot upserts a full snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap *registry.Snapshot) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	data, err := json.Marshal(snap.Components)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot %s: %w", snap.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO snapshots (id, name, description, automatic, created_at, data)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            description = excluded.description,
            automatic = excluded.automatic,
            data = excluded.data`,
		snap.ID, snap.Name, snap.Description, boolToInt(snap.Automatic), snap.CreatedAt, string(data))
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// LoadComponentStates reads back every persisted component state, keyed by
// component id. Used to rehydrate a registry after restart.
func (s *Store) LoadComponentStates(ctx context.Context) (map[string]*registry.Component, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT component_id, data FROM component_states`)
	if err != nil {
		return nil, fmt.Errorf("failed to load component states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*registry.Component)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan component state: %w", err)
		}
		var c registry.Component
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			s.logger.Warn("skipping undecodable component state", "component_id", id, "error", err)
			continue
		}
		out[id] = &c
	}
	return out, rows.Err()
}

// LoadVersionRecords reads back the version history for one component,
// oldest first.
func (s *Store) LoadVersionRecords(ctx context.Context, componentID string) ([]registry.VersionRecord, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
        SELECT version, recorded_at, data FROM version_records
        WHERE component_id = ? ORDER BY seq ASC`, componentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load version records: %w", err)
	}
	defer rows.Close()

	var out []registry.VersionRecord
	for rows.Next() {
		var rec registry.VersionRecord
		var data string
		if err := rows.Scan(&rec.Version, &rec.Timestamp, &data); err != nil {
			return nil, fmt.Errorf("failed to scan version record: %w", err)
		}
		var c registry.Component
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			s.logger.Warn("skipping undecodable version record", "component_id", componentID, "error", err)
			continue
		}
		rec.Component = &c
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database. Safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
