package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/loopbridge/internal/notify"
)

// ErrInvalidName is returned for empty class or property names.
var ErrInvalidName = errors.New("store: invalid name")

// Class describes a defined class and its property keys.
// A Class value is immutable; DefineClass publishes a new one.
type Class struct {
	ID   int64
	Name string

	keys  []notify.PropertyKey
	byKey map[notify.PropertyKey]string
	props map[string]notify.PropertyKey
}

// Key returns the key of the named property.
func (c *Class) Key(name string) (notify.PropertyKey, bool) {
	k, ok := c.props[normalizeName(name)]
	return k, ok
}

// Keys returns all property keys in ascending order.
func (c *Class) Keys() []notify.PropertyKey {
	return slices.Clone(c.keys)
}

// PropertyName returns the name for key, or "" if the class has no such key.
func (c *Class) PropertyName(key notify.PropertyKey) string {
	return c.byKey[key]
}

// normalizeName returns the NFC form of name so that visually identical
// names written with different code point sequences map to one property.
func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// DefineClass creates a class or adds properties to an existing one.
// Existing property keys never change.
func (s *Store) DefineClass(ctx context.Context, name string, props ...string) (*Class, error) {
	name = normalizeName(name)
	if name == "" {
		return nil, fmt.Errorf("define class: %w", ErrInvalidName)
	}
	normalized := make([]string, 0, len(props))
	for _, p := range props {
		p = normalizeName(p)
		if p == "" {
			return nil, fmt.Errorf("define class %q: %w", name, ErrInvalidName)
		}
		normalized = append(normalized, p)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("define class: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO classes (name) VALUES (?)
		ON CONFLICT(name) DO NOTHING
	`, name); err != nil {
		return nil, fmt.Errorf("define class: insert class: %w", err)
	}

	var classID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM classes WHERE name = ?`, name).Scan(&classID); err != nil {
		return nil, fmt.Errorf("define class: select class: %w", err)
	}

	for _, p := range normalized {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO properties (class_id, name) VALUES (?, ?)
			ON CONFLICT(class_id, name) DO NOTHING
		`, classID, p); err != nil {
			return nil, fmt.Errorf("define class: insert property %q: %w", p, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("define class: commit: %w", err)
	}

	if err := s.loadClasses(ctx); err != nil {
		return nil, fmt.Errorf("define class: %w", err)
	}

	s.logger.Debug("class defined", "class", name, "properties", len(normalized))
	return s.Class(name)
}

// Class returns the named class.
func (s *Store) Class(name string) (*Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("class %q: %w", name, ErrNotFound)
	}
	return c, nil
}

func (s *Store) classByID(id int64) (*Class, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	return c, ok
}

// loadClasses replaces the in-memory class catalog from the database.
func (s *Store) loadClasses(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, p.key, p.name
		FROM classes c
		LEFT JOIN properties p ON p.class_id = c.id
		ORDER BY c.id ASC, p.key ASC
	`)
	if err != nil {
		return fmt.Errorf("query classes: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*Class)
	byName := make(map[string]*Class)
	for rows.Next() {
		var (
			id       int64
			name     string
			propKey  sql.NullInt64
			propName sql.NullString
		)
		if err := rows.Scan(&id, &name, &propKey, &propName); err != nil {
			return fmt.Errorf("scan class: %w", err)
		}

		c, ok := byID[id]
		if !ok {
			c = &Class{
				ID:    id,
				Name:  name,
				byKey: make(map[notify.PropertyKey]string),
				props: make(map[string]notify.PropertyKey),
			}
			byID[id] = c
			byName[name] = c
		}
		if propKey.Valid {
			k := notify.PropertyKey(propKey.Int64)
			c.keys = append(c.keys, k)
			c.byKey[k] = propName.String
			c.props[propName.String] = k
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate classes: %w", err)
	}

	s.mu.Lock()
	s.classes = byName
	s.byID = byID
	s.mu.Unlock()
	return nil
}
