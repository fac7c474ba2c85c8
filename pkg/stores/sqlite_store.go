package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/icongen/historydb/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// MemoryPath opens a private in-memory database.
	MemoryPath = ":memory:"

	initFlightKey = "init"
)

// SQLiteStore implements the HistoryStore interface using SQLite
type SQLiteStore struct {
	cfg      Config
	validate *validator.Validate

	mu    sync.RWMutex
	db    *sql.DB
	group singleflight.Group

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// Option configures optional store collaborators.
type Option func(*SQLiteStore)

// WithLogger sets the logger used for connection diagnostics.
func WithLogger(l *telemetry.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.logger = l.NewComponentLogger("stores")
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *SQLiteStore) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *SQLiteStore) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithEvents sets the publisher notified of history changes.
func WithEvents(ep *telemetry.EventPublisher) Option {
	return func(s *SQLiteStore) {
		s.events = ep
	}
}

// NewSQLiteStore creates a new SQLite store instance. The database itself is
// opened lazily by Init or by the first operation.
func NewSQLiteStore(cfg Config, opts ...Option) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	// Every connection to :memory: is a separate database, so pin one forever.
	if isMemoryPath(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	s := &SQLiteStore{
		cfg:      cfg,
		validate: validator.New(),
		logger:   telemetry.NewNopLogger(),
		metrics:  telemetry.NewNoopMetrics(),
		tracer:   telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func isMemoryPath(path string) bool {
	return path == MemoryPath || strings.Contains(path, "mode=memory")
}

// dsn builds the modernc.org/sqlite connection string.
func (s *SQLiteStore) dsn() string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", s.cfg.BusyTimeout.Milliseconds()))
	if !isMemoryPath(s.cfg.Path) {
		params.Add("_pragma", "journal_mode(WAL)")
		params.Add("_pragma", "synchronous(NORMAL)")
	}
	params.Set("_txlock", "immediate")

	sep := "?"
	if strings.Contains(s.cfg.Path, "?") {
		sep = "&"
	}
	return s.cfg.Path + sep + params.Encode()
}

// handle returns the open database, or nil before initialization.
func (s *SQLiteStore) handle() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Init opens the database and applies pending migrations. It is safe to call
// repeatedly and concurrently: callers racing the first open share a single
// attempt, and a failed attempt is retried by the next call.
func (s *SQLiteStore) Init(ctx context.Context) (*sql.DB, error) {
	if db := s.handle(); db != nil {
		return db, nil
	}

	v, err, _ := s.group.Do(initFlightKey, func() (interface{}, error) {
		if db := s.handle(); db != nil {
			return db, nil
		}

		// The shared attempt must not die with whichever caller started it.
		openCtx := context.WithoutCancel(ctx)
		_, span := s.tracer.StartOperation(openCtx, "init")
		defer span.End()

		timer := telemetry.NewTimer()
		db, err := s.open(openCtx)
		s.metrics.RecordOperation("init", timer.Duration(), err)
		if err != nil {
			s.logger.WithError(err).
				WithField("path", s.cfg.Path).
				Error("Failed to open history database")
			s.metrics.RecordError(string(KindConnection))
			_ = s.events.PublishConnectionFailed(err.Error())
			telemetry.RecordError(span, err)
			return nil, connectionError("init", err)
		}

		s.mu.Lock()
		s.db = db
		s.mu.Unlock()

		telemetry.RecordSuccess(span)
		s.logger.WithField("path", s.cfg.Path).Debug("History database ready")
		return db, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*sql.DB), nil
}

// open connects to SQLite and brings the schema up to date.
func (s *SQLiteStore) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// newMigrator wires the embedded migrations to db.
func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}

	return m, nil
}

// migrateUp runs pending migrations. The migrator is not closed because that
// would close db.
func migrateUp(db *sql.DB) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SchemaVersion reports the applied migration version and whether the last
// migration left the schema dirty.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (uint, bool, error) {
	db, err := s.Init(ctx)
	if err != nil {
		return 0, false, err
	}

	m, err := newMigrator(db)
	if err != nil {
		return 0, false, readError("schema_version", err)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, readError("schema_version", fmt.Errorf("failed to read schema version: %w", err))
	}

	return version, dirty, nil
}

// Close closes the database connection. A later operation reopens it.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()

	if db != nil {
		return db.Close()
	}
	return nil
}

// observe runs fn against the initialized database inside a span, recording
// the outcome in metrics.
func (s *SQLiteStore) observe(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context, db *sql.DB) error) error {
	ctx, span := s.tracer.StartOperation(ctx, op, attrs...)
	defer span.End()

	timer := telemetry.NewTimer()
	db, err := s.Init(ctx)
	if err == nil {
		err = fn(ctx, db)
	}
	s.metrics.RecordOperation(op, timer.Duration(), err)

	if err != nil {
		kind := string(KindOf(err))
		s.metrics.RecordError(kind)
		span.SetAttributes(telemetry.AttrErrorKind.String(kind))
		telemetry.RecordError(span, err)
		return err
	}

	telemetry.RecordSuccess(span)
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Save upserts an item by ID
func (s *SQLiteStore) Save(ctx context.Context, item HistoryItem) error {
	if err := s.validate.Struct(item); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}

	payload, err := encodeFields(item.Fields)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}

	query := `
		INSERT INTO history (id, timestamp, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp,
			payload = excluded.payload
	`

	return s.observe(ctx, "save", []attribute.KeyValue{telemetry.AttrItemID.String(item.ID)},
		func(ctx context.Context, db *sql.DB) error {
			if _, err := db.ExecContext(ctx, query, item.ID, item.Timestamp, payload); err != nil {
				return writeError("save", fmt.Errorf("failed to save item %s: %w", item.ID, err))
			}
			_ = s.events.PublishItemSaved(item.ID)
			return nil
		})
}

// List returns every item, most recent first. Items sharing a timestamp are
// ordered by ID.
func (s *SQLiteStore) List(ctx context.Context) ([]HistoryItem, error) {
	query := `
		SELECT id, timestamp, payload
		FROM history
		ORDER BY timestamp DESC, id ASC
	`

	items := []HistoryItem{}
	err := s.observe(ctx, "list", nil, func(ctx context.Context, db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return readError("list", fmt.Errorf("failed to list items: %w", err))
		}
		defer rows.Close()

		for rows.Next() {
			var (
				item    HistoryItem
				payload []byte
			)
			if err := rows.Scan(&item.ID, &item.Timestamp, &payload); err != nil {
				return readError("list", fmt.Errorf("failed to scan item: %w", err))
			}
			if item.Fields, err = decodeFields(payload); err != nil {
				return readError("list", fmt.Errorf("failed to decode item %s: %w", item.ID, err))
			}
			items = append(items, item)
		}

		if err := rows.Err(); err != nil {
			return readError("list", fmt.Errorf("error iterating items: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return items, nil
}

// Delete removes an item by ID. Deleting a missing item is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.observe(ctx, "delete", []attribute.KeyValue{telemetry.AttrItemID.String(id)},
		func(ctx context.Context, db *sql.DB) error {
			removed, err := deleteByID(ctx, db, id)
			if err != nil {
				return writeError("delete", err)
			}
			if removed {
				_ = s.events.PublishItemDeleted(id)
			}
			return nil
		})
}

// deleteByID deletes a single row and reports whether it existed.
func deleteByID(ctx context.Context, q querier, id string) (bool, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete item %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// Clear removes every item.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.observe(ctx, "clear", nil, func(ctx context.Context, db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM history`); err != nil {
			return writeError("clear", fmt.Errorf("failed to clear history: %w", err))
		}
		s.metrics.SetItemCount(0)
		_ = s.events.PublishCleared()
		return nil
	})
}

// Count returns the number of stored items.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.observe(ctx, "count", nil, func(ctx context.Context, db *sql.DB) error {
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&count); err != nil {
			return readError("count", fmt.Errorf("failed to count items: %w", err))
		}
		s.metrics.SetItemCount(count)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Trim keeps the maxCount most recent items and deletes the rest, oldest
// first, returning how many were removed. The deletes share one transaction:
// a failure part way through rolls the whole trim back.
func (s *SQLiteStore) Trim(ctx context.Context, maxCount int) (int, error) {
	if maxCount < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLimit, maxCount)
	}

	var removed []string
	err := s.observe(ctx, "trim", []attribute.KeyValue{telemetry.AttrMaxCount.Int(maxCount)},
		func(ctx context.Context, db *sql.DB) error {
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return writeError("trim", fmt.Errorf("failed to begin transaction: %w", err))
			}
			defer func() { _ = tx.Rollback() }()

			ids, err := excessIDs(ctx, tx, maxCount)
			if err != nil {
				return readError("trim", err)
			}
			if len(ids) == 0 {
				return nil
			}

			for _, id := range ids {
				if _, err := deleteByID(ctx, tx, id); err != nil {
					return writeError("trim", err)
				}
			}

			if err := tx.Commit(); err != nil {
				return writeError("trim", fmt.Errorf("failed to commit trim: %w", err))
			}

			removed = ids
			return nil
		})
	if err != nil {
		return 0, err
	}

	if len(removed) > 0 {
		s.metrics.AddTrimmed(len(removed))
		s.metrics.SetItemCount(maxCount)
		_ = s.events.PublishTrimmed(maxCount, removed)
		s.logger.WithField("max_count", maxCount).
			WithField("removed", len(removed)).
			Debug("History trimmed")
	}

	return len(removed), nil
}

// excessIDs returns the IDs beyond the first keep items in List order,
// oldest last.
func excessIDs(ctx context.Context, q querier, keep int) ([]string, error) {
	query := `
		SELECT id
		FROM history
		ORDER BY timestamp DESC, id ASC
		LIMIT -1 OFFSET ?
	`

	rows, err := q.QueryContext(ctx, query, keep)
	if err != nil {
		return nil, fmt.Errorf("failed to select excess items: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating excess items: %w", err)
	}

	return ids, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	db, err := s.Init(ctx)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		return connectionError("health_check", err)
	}
	return nil
}

func encodeFields(fields map[string]json.RawMessage) ([]byte, error) {
	if len(fields) == 0 {
		return []byte("{}"), nil
	}
	for name := range fields {
		if name == fieldID || name == fieldTimestamp {
			return nil, fmt.Errorf("field %q is reserved", name)
		}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

func decodeFields(payload []byte) (map[string]json.RawMessage, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}
