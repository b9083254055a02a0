package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/loopbridge/internal/notify"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Object is a handle to one stored object.
type Object struct {
	s     *Store
	id    string
	class *Class
}

// Object returns a handle for id, or ErrNotFound.
func (s *Store) Object(ctx context.Context, id string) (*Object, error) {
	var classID int64
	err := s.db.QueryRowContext(ctx, `SELECT class_id FROM objects WHERE id = ?`, id).Scan(&classID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", id, err)
	}

	c, ok := s.classByID(classID)
	if !ok {
		return nil, fmt.Errorf("class %d: %w", classID, ErrNotFound)
	}
	return &Object{s: s, id: id, class: c}, nil
}

// ID returns the object's id.
func (o *Object) ID() string { return o.id }

// Class returns the object's class.
func (o *Object) Class() *Class { return o.class }

// Get reads one property. Unset properties read as nil.
func (o *Object) Get(ctx context.Context, prop string) (any, error) {
	c, err := o.s.currentClass(o.class)
	if err != nil {
		return nil, err
	}
	return getValue(ctx, o.s.db, c, o.id, prop)
}

// Values reads every set property, keyed by name.
func (o *Object) Values(ctx context.Context) (map[string]any, error) {
	c, err := o.s.currentClass(o.class)
	if err != nil {
		return nil, err
	}

	rows, err := o.s.db.QueryContext(ctx, `
		SELECT property_key, value FROM object_values
		WHERE object_id = ?
		ORDER BY property_key ASC
	`, o.id)
	if err != nil {
		return nil, fmt.Errorf("query values: %w", err)
	}
	defer rows.Close()

	values := make(map[string]any)
	for rows.Next() {
		var (
			key  int64
			data string
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		v, err := unmarshalValue(data)
		if err != nil {
			return nil, err
		}
		values[c.PropertyName(notify.PropertyKey(key))] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate values: %w", err)
	}
	return values, nil
}

// Results is the ordered collection of a class's objects.
type Results struct {
	s     *Store
	class *Class
}

// Results returns the collection handle for class.
func (s *Store) Results(class string) (*Results, error) {
	c, err := s.Class(class)
	if err != nil {
		return nil, err
	}
	return &Results{s: s, class: c}, nil
}

// Class returns the collection's class.
func (r *Results) Class() *Class { return r.class }

// IDs returns the object ids in collection order.
// Returns an empty slice (not nil) if the class has no objects.
func (r *Results) IDs(ctx context.Context) ([]string, error) {
	ids, err := queryIDs(ctx, r.s.db, r.class.ID)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Len returns the number of objects in the collection.
func (r *Results) Len(ctx context.Context) (int, error) {
	var n int
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE class_id = ?`, r.class.ID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

// queryIDs returns a class's object ids ordered by creation sequence.
func queryIDs(ctx context.Context, q queryer, classID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id FROM objects
		WHERE class_id = ?
		ORDER BY seq ASC
	`, classID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return ids, nil
}

func getValue(ctx context.Context, q queryer, c *Class, id, prop string) (any, error) {
	key, ok := c.Key(prop)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", c.Name, prop, ErrUnknownProperty)
	}

	var data string
	err := q.QueryRowContext(ctx, `
		SELECT value FROM object_values
		WHERE object_id = ? AND property_key = ?
	`, id, int64(key)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s.%s: %w", c.Name, prop, err)
	}
	return unmarshalValue(data)
}

// currentClass returns the latest published version of c, which may have
// gained properties since the handle was created.
func (s *Store) currentClass(c *Class) (*Class, error) {
	latest, ok := s.classByID(c.ID)
	if !ok {
		return nil, fmt.Errorf("class %q: %w", c.Name, ErrNotFound)
	}
	return latest, nil
}
