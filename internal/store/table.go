package store

import (
	"fmt"
	"sync"

	"github.com/ashita-ai/kanri/internal/model"
)

// table is an insertion-ordered map of records with one mutex per row.
// The RWMutex guards the map itself; a row's mutex serialises every
// read-modify-write of that row so there is a single writer per entity.
type table[T any] struct {
	mu    sync.RWMutex
	rows  map[string]T
	order []string
	locks map[string]*sync.Mutex
	clone func(T) T
}

func newTable[T any](clone func(T) T) *table[T] {
	return &table[T]{
		rows:  make(map[string]T),
		locks: make(map[string]*sync.Mutex),
		clone: clone,
	}
}

func (t *table[T]) get(id string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, false
	}
	return t.clone(v), true
}

func (t *table[T]) list() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]T, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.clone(t.rows[id]))
	}
	return out
}

func (t *table[T]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func (t *table[T]) insert(id string, v T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; ok {
		return fmt.Errorf("%w: %s", model.ErrAlreadyExists, id)
	}
	t.rows[id] = t.clone(v)
	t.order = append(t.order, id)
	t.locks[id] = &sync.Mutex{}
	return nil
}

// put replaces an existing row. Callers hold the row lock.
func (t *table[T]) put(id string, v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[id] = t.clone(v)
}

// lock acquires the row mutex for id and returns its release function.
func (t *table[T]) lock(id string) (func(), error) {
	t.mu.RLock()
	m, ok := t.locks[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	m.Lock()
	return m.Unlock, nil
}
