package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/roach88/loopbridge/internal/notify"
)

// Txn is one write transaction. It is only valid inside the function passed
// to Write.
type Txn struct {
	s   *Store
	ctx context.Context
	tx  *sql.Tx

	classOf  map[string]int64
	created  map[string]bool
	deleted  map[string]int64
	modified map[string]map[notify.PropertyKey]struct{}
}

func newTxn(ctx context.Context, s *Store, tx *sql.Tx) *Txn {
	return &Txn{
		s:        s,
		ctx:      ctx,
		tx:       tx,
		classOf:  make(map[string]int64),
		created:  make(map[string]bool),
		deleted:  make(map[string]int64),
		modified: make(map[string]map[notify.PropertyKey]struct{}),
	}
}

// Create inserts a new object of class and returns its id.
// Objects are appended to the end of the class's results.
func (t *Txn) Create(class string, values map[string]any) (string, error) {
	c, err := t.s.Class(class)
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}

	id := uuid.Must(uuid.NewV7()).String()

	var seq int64
	if err := t.tx.QueryRowContext(t.ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM objects`).Scan(&seq); err != nil {
		return "", fmt.Errorf("create: next seq: %w", err)
	}
	if _, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO objects (id, class_id, seq) VALUES (?, ?, ?)
	`, id, c.ID, seq); err != nil {
		return "", fmt.Errorf("create: insert object: %w", err)
	}

	t.classOf[id] = c.ID
	t.created[id] = true

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if _, err := t.setValue(c, id, name, values[name]); err != nil {
			return "", fmt.Errorf("create: %w", err)
		}
	}

	return id, nil
}

// Set writes one property of an existing object.
func (t *Txn) Set(id, prop string, value any) error {
	c, err := t.class(id)
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}

	key, err := t.setValue(c, id, prop, value)
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}

	if !t.created[id] {
		keys, ok := t.modified[id]
		if !ok {
			keys = make(map[notify.PropertyKey]struct{})
			t.modified[id] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

// Delete removes an object and its values.
func (t *Txn) Delete(id string) error {
	c, err := t.class(id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM objects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	delete(t.modified, id)
	delete(t.classOf, id)
	if t.created[id] {
		delete(t.created, id)
		return nil
	}
	t.deleted[id] = c.ID
	return nil
}

// Get reads one property as seen inside the transaction.
func (t *Txn) Get(id, prop string) (any, error) {
	c, err := t.class(id)
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	return getValue(t.ctx, t.tx, c, id, prop)
}

func (t *Txn) class(id string) (*Class, error) {
	classID, ok := t.classOf[id]
	if !ok {
		err := t.tx.QueryRowContext(t.ctx, `SELECT class_id FROM objects WHERE id = ?`, id).Scan(&classID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", id, err)
		}
		t.classOf[id] = classID
	}

	c, ok := t.s.classByID(classID)
	if !ok {
		return nil, fmt.Errorf("class %d: %w", classID, ErrNotFound)
	}
	return c, nil
}

func (t *Txn) setValue(c *Class, id, prop string, value any) (notify.PropertyKey, error) {
	key, ok := c.Key(prop)
	if !ok {
		return 0, fmt.Errorf("%s.%s: %w", c.Name, prop, ErrUnknownProperty)
	}

	data, err := marshalValue(value)
	if err != nil {
		return 0, err
	}

	if _, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO object_values (object_id, property_key, value) VALUES (?, ?, ?)
		ON CONFLICT(object_id, property_key) DO UPDATE SET value = excluded.value
	`, id, int64(key), data); err != nil {
		return 0, fmt.Errorf("write %s.%s: %w", c.Name, prop, err)
	}
	return key, nil
}

// Write runs fn in one transaction. If fn returns an error the transaction
// is rolled back and no notifications fire.
//
// After commit, callbacks registered on affected objects and results run on
// the calling goroutine, in registration order. Callbacks must not call
// Write.
func (s *Store) Write(ctx context.Context, fn func(*Txn) error) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return s.write(ctx, fn)
}

func (s *Store) write(ctx context.Context, fn func(*Txn) error) error {
	s.writeMu.Lock()
	deliveries, err := s.commit(ctx, fn)
	if err != nil {
		s.writeMu.Unlock()
		return err
	}

	// Hand over to fireMu so notifications keep commit order.
	s.fireMu.Lock()
	s.writeMu.Unlock()
	defer s.fireMu.Unlock()

	for _, deliver := range deliveries {
		deliver()
	}
	return nil
}

func (s *Store) commit(ctx context.Context, fn func(*Txn) error) ([]func(), error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("write: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	observed := s.observedClasses()
	before, err := snapshotResults(ctx, tx, observed)
	if err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	txn := newTxn(ctx, s, tx)
	if err := fn(txn); err != nil {
		return nil, err
	}

	after, err := snapshotResults(ctx, tx, observed)
	if err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	deliveries := s.collectChanges(txn, before, after)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("write: commit: %w", err)
	}

	s.logger.Debug("write committed",
		"created", len(txn.created),
		"modified", len(txn.modified),
		"deleted", len(txn.deleted),
		"notifications", len(deliveries))
	return deliveries, nil
}

// WriteAsync runs Write on a new goroutine and delivers its result to done
// through the bound scheduler, so done runs on the loop goroutine.
func (s *Store) WriteAsync(ctx context.Context, fn func(*Txn) error, done func(error)) error {
	sched := s.Scheduler()
	if sched == nil || !sched.CanInvoke() {
		return ErrNoScheduler
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.pending.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.pending.Done()
		err := s.write(ctx, fn)
		if err != nil {
			s.logger.Debug("async write failed", "error", err)
		}
		if done != nil {
			sched.Invoke(func() { done(err) })
		}
	}()
	return nil
}
