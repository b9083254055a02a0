package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/loopbridge/internal/notify"
	"github.com/roach88/loopbridge/internal/scheduler"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on objects(class_id, seq) for ordered results
const currentSchemaVersion = 1

var (
	// ErrNotFound is returned for unknown objects and classes.
	ErrNotFound = errors.New("store: not found")

	// ErrUnknownProperty is returned when a property is not defined on the
	// object's class.
	ErrUnknownProperty = errors.New("store: unknown property")

	// ErrWrongThread is returned when a callback is registered off the bound
	// scheduler's goroutine.
	ErrWrongThread = errors.New("store: registration off the scheduler goroutine")

	// ErrSchedulerMismatch is returned when binding a scheduler for a
	// different loop than the one already bound.
	ErrSchedulerMismatch = errors.New("store: already bound to a different scheduler")

	// ErrNoScheduler is returned by WriteAsync when no scheduler can accept
	// the completion.
	ErrNoScheduler = errors.New("store: no scheduler bound")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// Option configures Open.
type Option func(*Store)

// WithScheduler binds s at open time. See BindScheduler.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(st *Store) {
		st.sched = s
	}
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(st *Store) {
		if l != nil {
			st.logger = l
		}
	}
}

// Store provides durable object storage with change notifications.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// writeMu serializes Write so each transaction sees a stable "before".
	writeMu sync.Mutex
	// fireMu keeps notification delivery in commit order.
	fireMu sync.Mutex

	mu        sync.Mutex
	sched     scheduler.Scheduler
	classes   map[string]*Class
	byID      map[int64]*Class
	objectObs map[string]map[uint64]func(notify.ObjectChanges)
	resultObs map[int64]map[uint64]func(notify.CollectionChanges)
	nextObsID uint64
	closed    bool

	pending sync.WaitGroup
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:        db,
		logger:    slog.Default(),
		classes:   make(map[string]*Class),
		byID:      make(map[int64]*Class),
		objectObs: make(map[string]map[uint64]func(notify.ObjectChanges)),
		resultObs: make(map[int64]map[uint64]func(notify.CollectionChanges)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadClasses(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load classes: %w", err)
	}

	return s, nil
}

// Close waits for in-flight WriteAsync calls and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.pending.Wait()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BindScheduler attaches the scheduler used for WriteAsync completions and
// thread checks. Binding the same loop again is a no-op.
func (s *Store) BindScheduler(sched scheduler.Scheduler) error {
	if sched == nil {
		return ErrNoScheduler
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sched != nil && !s.sched.IsSameAs(sched) {
		return ErrSchedulerMismatch
	}
	if s.sched == nil {
		s.sched = sched
	}
	return nil
}

// Scheduler returns the bound scheduler, or nil.
func (s *Store) Scheduler() scheduler.Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched
}

// checkThread enforces the registration rule for a bound scheduler.
func (s *Store) checkThread() error {
	sched := s.Scheduler()
	if sched != nil && !sched.IsOnThread() {
		return ErrWrongThread
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the ordered-results index.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_objects_class_seq
		ON objects(class_id, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
