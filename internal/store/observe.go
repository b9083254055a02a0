package store

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/loopbridge/internal/notify"
)

// registration removes one observer. Unregister is idempotent.
type registration struct {
	once   sync.Once
	remove func()
}

func (r *registration) Unregister() {
	r.once.Do(r.remove)
}

var (
	_ notify.ObjectTarget     = (*Object)(nil)
	_ notify.CollectionTarget = (*Results)(nil)
)

// AddObjectCallback registers fn for changes to this object.
// fn runs on the goroutine that called Write.
func (o *Object) AddObjectCallback(fn func(notify.ObjectChanges)) (notify.Registration, error) {
	if err := o.s.checkThread(); err != nil {
		return nil, err
	}

	s := o.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextObsID++
	obsID := s.nextObsID
	obs, ok := s.objectObs[o.id]
	if !ok {
		obs = make(map[uint64]func(notify.ObjectChanges))
		s.objectObs[o.id] = obs
	}
	obs[obsID] = fn

	id := o.id
	return &registration{remove: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.objectObs[id], obsID)
		if len(s.objectObs[id]) == 0 {
			delete(s.objectObs, id)
		}
	}}, nil
}

// AddCollectionCallback registers fn for changes to this collection.
// fn runs on the goroutine that called Write.
func (r *Results) AddCollectionCallback(fn func(notify.CollectionChanges)) (notify.Registration, error) {
	if err := r.s.checkThread(); err != nil {
		return nil, err
	}

	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextObsID++
	obsID := s.nextObsID
	obs, ok := s.resultObs[r.class.ID]
	if !ok {
		obs = make(map[uint64]func(notify.CollectionChanges))
		s.resultObs[r.class.ID] = obs
	}
	obs[obsID] = fn

	classID := r.class.ID
	return &registration{remove: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.resultObs[classID], obsID)
		if len(s.resultObs[classID]) == 0 {
			delete(s.resultObs, classID)
		}
	}}, nil
}

// observedClasses returns the ids of classes with collection observers.
func (s *Store) observedClasses() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.resultObs))
}

func snapshotResults(ctx context.Context, tx *sql.Tx, classIDs []int64) (map[int64][]string, error) {
	snap := make(map[int64][]string, len(classIDs))
	for _, id := range classIDs {
		ids, err := queryIDs(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("snapshot class %d: %w", id, err)
		}
		snap[id] = ids
	}
	return snap, nil
}

// collectChanges builds the notifications for a transaction about to commit.
// Each returned func invokes one callback.
func (s *Store) collectChanges(txn *Txn, before, after map[int64][]string) []func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []func()

	touched := make([]string, 0, len(txn.modified)+len(txn.deleted))
	for id := range txn.modified {
		touched = append(touched, id)
	}
	for id := range txn.deleted {
		touched = append(touched, id)
	}
	slices.Sort(touched)

	for _, id := range touched {
		obs := s.objectObs[id]
		if len(obs) == 0 {
			continue
		}

		var diff *objectDiff
		if classID, ok := txn.deleted[id]; ok {
			// The engine still reports the class's properties for a deleted
			// object; readers must check the deleted flag first.
			var keys []notify.PropertyKey
			if c, ok := s.byID[classID]; ok {
				keys = c.Keys()
			}
			diff = &objectDiff{deleted: true, keys: keys}
		} else {
			diff = &objectDiff{keys: slices.Sorted(maps.Keys(txn.modified[id]))}
		}

		for _, obsID := range slices.Sorted(maps.Keys(obs)) {
			fn := obs[obsID]
			out = append(out, func() { fn(diff) })
		}
	}

	for _, classID := range slices.Sorted(maps.Keys(before)) {
		obs := s.resultObs[classID]
		if len(obs) == 0 {
			continue
		}
		diff := diffResults(before[classID], after[classID], func(id string) bool {
			return len(txn.modified[id]) > 0
		})
		if diff.empty() {
			continue
		}
		for _, obsID := range slices.Sorted(maps.Keys(obs)) {
			fn := obs[obsID]
			out = append(out, func() { fn(diff) })
		}
	}

	return out
}

// objectDiff implements notify.ObjectChanges.
type objectDiff struct {
	deleted bool
	keys    []notify.PropertyKey
}

func (d *objectDiff) IsDeleted() bool            { return d.deleted }
func (d *objectDiff) NumModifiedProperties() int { return len(d.keys) }

func (d *objectDiff) ModifiedProperties(out []notify.PropertyKey) int {
	return copy(out, d.keys)
}

// collectionDiff implements notify.CollectionChanges with zero-based
// indices.
type collectionDiff struct {
	deletions        []int
	insertions       []int
	modificationsOld []int
	modificationsNew []int
}

func (d *collectionDiff) NumChanges() (int, int, int) {
	return len(d.deletions), len(d.insertions), len(d.modificationsOld)
}

func (d *collectionDiff) Changes(deletions, insertions, modificationsOld, modificationsNew []int) {
	copy(deletions, d.deletions)
	copy(insertions, d.insertions)
	copy(modificationsOld, d.modificationsOld)
	copy(modificationsNew, d.modificationsNew)
}

func (d *collectionDiff) empty() bool {
	return len(d.deletions) == 0 && len(d.insertions) == 0 && len(d.modificationsOld) == 0
}

// diffResults compares two orderings of the same collection. Surviving
// elements keep their relative order, so both modification lists come out
// ascending.
func diffResults(before, after []string, modified func(id string) bool) *collectionDiff {
	newIndex := make(map[string]int, len(after))
	for i, id := range after {
		newIndex[id] = i
	}
	oldIndex := make(map[string]int, len(before))

	d := &collectionDiff{}
	for i, id := range before {
		oldIndex[id] = i
		j, ok := newIndex[id]
		if !ok {
			d.deletions = append(d.deletions, i)
			continue
		}
		if modified(id) {
			d.modificationsOld = append(d.modificationsOld, i)
			d.modificationsNew = append(d.modificationsNew, j)
		}
	}
	for j, id := range after {
		if _, ok := oldIndex[id]; !ok {
			d.insertions = append(d.insertions, j)
		}
	}
	return d
}
