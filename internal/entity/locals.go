package entity

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Locals is the lazily-loaded auxiliary data cache of one entity.
//
// Values are available synchronously from compiled-in defaults before
// storage is reachable. The first access after the runtime's ready
// transition fires a one-time background load of the entity's locals
// rows; the cache switches from defaults to loaded exactly once. The
// load is asynchronous by design, so a read racing it may still see a
// default — an inherent race, not an error. Writes are accepted in any
// phase and persist best-effort through the entity's write queue.
//
// Locals never reach the external consumer.
type Locals struct {
	uniqueID string
	rt       *Runtime
	engine   *Engine

	mu       sync.Mutex
	values   map[string]any
	defaults map[string]any
	loaded   bool
	loading  bool
	dirty    map[string]struct{} // keys mutated before the load lands
}

func newLocals(rt *Runtime, engine *Engine, uniqueID string, defaults map[string]any) *Locals {
	l := &Locals{
		uniqueID: uniqueID,
		rt:       rt,
		engine:   engine,
		values:   make(map[string]any, len(defaults)),
		defaults: copyMap(defaults),
		dirty:    make(map[string]struct{}),
	}
	for key, value := range defaults {
		l.values[key] = value
	}
	return l
}

// Get returns the cached value for a key, or nil when absent.
func (l *Locals) Get(key string) any {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeLoadLocked()
	return l.values[key]
}

// Has reports whether a key is present in the cache.
func (l *Locals) Has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeLoadLocked()
	_, ok := l.values[key]
	return ok
}

// Keys returns the sorted cached key names.
func (l *Locals) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeLoadLocked()

	keys := make([]string, 0, len(l.values))
	for key := range l.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Set stores a value. Deep-equal writes are suppressed: the cache is
// untouched and nothing is persisted.
func (l *Locals) Set(key string, value any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeLoadLocked()

	if cur, ok := l.values[key]; ok && equalValues(cur, value) {
		return nil
	}
	l.values[key] = value
	if !l.loaded {
		l.dirty[key] = struct{}{}
	}
	l.persistLocked(key, value)
	return nil
}

// Delete removes a key and its stored row.
//
// Deleting before the cache has loaded is not well-defined and returns
// ErrLocalsNotLoaded, with one exception: deleting a key that is absent
// is always a no-op success.
func (l *Locals) Delete(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeLoadLocked()

	if _, ok := l.values[key]; !ok {
		return nil
	}
	if !l.loaded {
		return fmt.Errorf("%w: delete %q", ErrLocalsNotLoaded, key)
	}
	delete(l.values, key)
	l.deleteLocked(key)
	return nil
}

// Replace swaps the whole cached object: keys missing from the
// replacement are deleted, the rest are upserted. Unchanged values are
// left alone.
func (l *Locals) Replace(values map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeLoadLocked()

	for key := range l.values {
		if _, keep := values[key]; keep {
			continue
		}
		delete(l.values, key)
		if !l.loaded {
			l.dirty[key] = struct{}{}
		}
		l.deleteLocked(key)
	}
	for key, value := range values {
		if cur, ok := l.values[key]; ok && equalValues(cur, value) {
			continue
		}
		l.values[key] = value
		if !l.loaded {
			l.dirty[key] = struct{}{}
		}
		l.persistLocked(key, value)
	}
	return nil
}

// Reset reverts the cache to compiled-in defaults and clears the
// entity's locals sub-table.
func (l *Locals) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.values = make(map[string]any, len(l.defaults))
	for key, value := range l.defaults {
		l.values[key] = value
	}
	// Nothing left to load; an in-flight load must not resurrect rows.
	l.loaded = true
	l.dirty = nil

	if l.rt.backend != nil {
		l.engine.enqueue(func(ctx context.Context) {
			if err := l.rt.backend.DeleteLocals(ctx, l.uniqueID); err != nil {
				l.rt.log.Warn("locals reset failed",
					"unique_id", l.uniqueID, "error", err)
			}
		})
	}
	return nil
}

// maybeLoadLocked fires the one-time background load on the first
// access after the runtime is ready.
func (l *Locals) maybeLoadLocked() {
	if l.loaded || l.loading {
		return
	}
	if l.rt.backend == nil || !l.rt.ready.Load() {
		return
	}
	l.loading = true
	go l.loadAsync()
}

func (l *Locals) loadAsync() {
	stored, err := l.rt.backend.LoadLocals(context.Background(), l.uniqueID)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loading = false
	if l.loaded {
		// Reset won the race; defaults stand.
		return
	}
	l.loaded = true
	if err != nil {
		l.rt.log.Warn("locals load failed",
			"unique_id", l.uniqueID, "error", err)
		l.dirty = nil
		return
	}
	for key, value := range stored {
		if _, written := l.dirty[key]; written {
			continue
		}
		l.values[key] = value
	}
	l.dirty = nil
}

func (l *Locals) persistLocked(key string, value any) {
	if l.rt.backend == nil {
		return
	}
	l.engine.enqueue(func(ctx context.Context) {
		if err := l.rt.backend.UpdateLocal(ctx, l.uniqueID, key, value); err != nil {
			l.rt.log.Warn("local write failed",
				"unique_id", l.uniqueID, "key", key, "error", err)
		}
	})
}

func (l *Locals) deleteLocked(key string) {
	if l.rt.backend == nil {
		return
	}
	l.engine.enqueue(func(ctx context.Context) {
		if err := l.rt.backend.DeleteLocal(ctx, l.uniqueID, key); err != nil {
			l.rt.log.Warn("local delete failed",
				"unique_id", l.uniqueID, "key", key, "error", err)
		}
	})
}
