package entity

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// writeQueueDepth bounds the number of pending durable writes per
// entity before Set blocks. A hung backend stalls only that entity's
// queue, never the registry.
const writeQueueDepth = 32

// Engine owns the authoritative in-memory value set for one entity's
// declared configuration keys.
//
// Writes mutate memory synchronously; the durable write, the consumer
// push and the update event are performed by a single goroutine
// draining the engine's write queue, so persistence never blocks the
// caller and per-entity program order is preserved. Completions across
// different entities interleave freely.
//
// Thread Safety: all public methods are safe for concurrent use.
type Engine struct {
	rt       *Runtime
	domain   *Domain
	uniqueID string

	mu          sync.Mutex
	kinds       map[string]Kind
	values      map[string]any
	defaults    map[string]any
	dirty       map[string]struct{} // keys written before initialization
	initialized bool
	closed      bool
	loadOnce    sync.Once

	queue chan func(ctx context.Context)
	wg    sync.WaitGroup

	locals *Locals
}

// newEngine builds the engine for one entity and starts its write
// queue. Defaults in opts must name declared keys.
func newEngine(rt *Runtime, domain *Domain, uniqueID string, opts EntityOptions) (*Engine, error) {
	e := &Engine{
		rt:       rt,
		domain:   domain,
		uniqueID: uniqueID,
		kinds:    make(map[string]Kind),
		values:   make(map[string]any),
		defaults: make(map[string]any),
		dirty:    make(map[string]struct{}),
		queue:    make(chan func(ctx context.Context), writeQueueDepth),
	}

	for _, spec := range CommonKeys() {
		e.kinds[spec.Name] = spec.Kind
		e.defaults[spec.Name] = spec.Default
	}
	for _, spec := range domain.Keys {
		e.kinds[spec.Name] = spec.Kind
		e.defaults[spec.Name] = spec.Default
	}
	for key, value := range opts.Defaults {
		if _, ok := e.kinds[key]; !ok {
			return nil, fmt.Errorf("%w: default for %q", ErrUnknownKey, key)
		}
		e.defaults[key] = value
	}
	for key, value := range e.defaults {
		e.values[key] = value
	}

	go e.flushLoop()
	return e, nil
}

// UniqueID returns the entity's stable unique id.
func (e *Engine) UniqueID() string {
	return e.uniqueID
}

// Get returns the live value of a declared key. Values are held in
// runtime form: the domain serializer applies only on export and the
// deserializer only when adopting a persisted row, so Get after Set
// returns what was written. Unknown keys return nil.
func (e *Engine) Get(key string) any {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.kinds[key]; !ok {
		return nil
	}
	return e.values[key]
}

// Set mutates a settable key.
//
// The in-memory value is replaced immediately; once initialization has
// completed, the full exported value set is persisted and pushed
// asynchronously. Writes before initialization are retained in memory
// only — the next post-init Set flushes them along with its own value.
// Setting a key to a deep-equal value is a no-op: nothing is persisted
// or transmitted.
func (e *Engine) Set(key string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	kind, ok := e.kinds[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	switch kind {
	case KindImmutable:
		return fmt.Errorf("%w: %q", ErrImmutableKey, key)
	case KindStatic, KindReactive:
		return fmt.Errorf("%w: %q (%s)", ErrReadOnlyKey, key, kind)
	}
	e.applyLocked(key, value)
	return nil
}

// setReactive is the scheduler's write path. It accepts reactive keys
// and applies the same no-op suppression as Set.
func (e *Engine) setReactive(key string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	kind, ok := e.kinds[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if kind != KindReactive {
		return fmt.Errorf("%w: %q (%s)", ErrNotReactive, key, kind)
	}
	e.applyLocked(key, value)
	return nil
}

// applyLocked replaces the in-memory value and, post-init, queues the
// durable write. Deep-equal values are suppressed entirely.
func (e *Engine) applyLocked(key string, value any) {
	if equalValues(e.values[key], value) {
		return
	}
	e.values[key] = value
	if !e.initialized {
		e.dirty[key] = struct{}{}
		return
	}
	e.enqueueStateLocked(key, value, nil)
}

// Export returns the full declared key set, nil values included, each
// passed through the domain serializer when one is declared. The full
// set keeps the persisted base-state comparison exact and
// order-independent.
func (e *Engine) Export() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exportLocked()
}

func (e *Engine) exportLocked() map[string]any {
	out := make(map[string]any, len(e.kinds))
	for key := range e.kinds {
		v := e.values[key]
		if e.domain.Serialize != nil {
			v = e.domain.Serialize(key, v)
		}
		out[key] = v
	}
	return out
}

// IsStored reports whether a key participates in durable state, which
// is the settable and static subset of the declaration.
func (e *Engine) IsStored(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	kind, ok := e.kinds[key]
	return ok && (kind == KindSettable || kind == KindStatic)
}

// Keys returns the sorted declared key names.
func (e *Engine) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := make([]string, 0, len(e.kinds))
	for key := range e.kinds {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// kindOf returns the declared kind of a key.
func (e *Engine) kindOf(key string) (Kind, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kind, ok := e.kinds[key]
	return kind, ok
}

// baseSubsetLocked is the drift-comparison snapshot: declared defaults
// restricted to the settable+static subset.
func (e *Engine) baseSubsetLocked() map[string]any {
	out := make(map[string]any)
	for key, kind := range e.kinds {
		if kind == KindSettable || kind == KindStatic {
			out[key] = e.defaults[key]
		}
	}
	return out
}

// load runs once per entity at the ready phase and reconciles the
// in-memory defaults with the persisted row.
//
// Absent or empty row: first run — persist current defaults as both
// state and base state. Present with a base state deep-equal to the
// current defaults (settable+static subset): adopt the persisted state,
// preserving runtime history. Present with a diverged base state: the
// declaring code changed since last run — discard the persisted state
// and re-initialize from current defaults. Resets are logged at WARN,
// never applied silently.
//
// load is idempotent: a second call (the ready snapshot racing a
// post-ready AddEntity) must not re-adopt the row over live writes.
func (e *Engine) load(ctx context.Context) {
	e.loadOnce.Do(func() { e.doLoad(ctx) })
}

func (e *Engine) doLoad(ctx context.Context) {
	if e.rt.backend == nil {
		e.mu.Lock()
		e.initialized = true
		e.dirty = nil
		e.mu.Unlock()
		return
	}

	row, err := e.rt.backend.Load(ctx, e.uniqueID)
	if err != nil {
		// Degrade to memory-only rather than clobbering a row we
		// could not read.
		e.rt.log.Warn("entity state load failed",
			"unique_id", e.uniqueID, "error", err)
		e.mu.Lock()
		e.initialized = true
		e.dirty = nil
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case row == nil || len(row.State) == 0:
		// First-run snapshot captures values as they stand, so writes
		// made before the ready phase are persisted here too.
		e.rt.log.Debug("entity first run, persisting defaults",
			"unique_id", e.uniqueID, "domain", e.domain.Name)
		e.initialized = true
		e.enqueueStateLocked("", nil, e.baseSubsetLocked())

	case equalValues(e.baseSubsetLocked(), row.BaseState):
		for key, kind := range e.kinds {
			if kind != KindSettable && kind != KindStatic {
				continue
			}
			if _, written := e.dirty[key]; written {
				continue
			}
			if v, ok := row.State[key]; ok {
				// The row holds export form; restore runtime form.
				if e.domain.Deserialize != nil {
					v = e.domain.Deserialize(key, v)
				}
				e.values[key] = v
			}
		}
		e.initialized = true

	default:
		e.rt.log.Warn("entity configuration drift, resetting persisted state",
			"unique_id", e.uniqueID, "domain", e.domain.Name)
		for key, kind := range e.kinds {
			if kind != KindSettable && kind != KindStatic {
				continue
			}
			if _, written := e.dirty[key]; written {
				continue
			}
			e.values[key] = e.defaults[key]
		}
		e.initialized = true
		e.enqueueStateLocked("", nil, e.baseSubsetLocked())
	}

	e.dirty = nil
}

// enqueueStateLocked queues a durable write of the current exported
// value set. A non-nil base overwrites the stored base state; key names
// the value whose change triggered the write ("" for initialization).
func (e *Engine) enqueueStateLocked(key string, value any, base map[string]any) {
	state := e.exportLocked()
	e.enqueueLocked(func(ctx context.Context) {
		e.writeState(ctx, state, base, key, value)
	})
}

// enqueue submits work to the write queue. The locals cache uses it to
// share the entity's persistence serialization.
func (e *Engine) enqueue(fn func(ctx context.Context)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enqueueLocked(fn)
}

// enqueueLocked submits work to the write queue. The queue blocks when
// full, stalling only this entity.
func (e *Engine) enqueueLocked(fn func(ctx context.Context)) {
	if e.closed {
		return
	}
	e.wg.Add(1)
	e.queue <- fn
}

func (e *Engine) flushLoop() {
	for fn := range e.queue {
		fn(context.Background())
		e.wg.Done()
	}
}

// writeState performs one queued durable write: upsert the row, push to
// the consumer when its entity id is known, fire the update event, and
// record history. Failures are logged and degrade; they never fail the
// originating Set.
func (e *Engine) writeState(ctx context.Context, state, base map[string]any, key string, value any) {
	rt := e.rt

	entityID, known := "", false
	if rt.consumer != nil {
		entityID, known = rt.consumer.EntityID(e.uniqueID)
	}

	if rt.backend != nil {
		if err := rt.backend.Update(ctx, e.uniqueID, entityID, state, base); err != nil {
			rt.log.Warn("entity state write failed",
				"unique_id", e.uniqueID, "error", err)
		}
	}

	if rt.consumer != nil {
		switch {
		case known:
			if err := rt.consumer.Push(e.uniqueID, entityID, state); err != nil {
				rt.log.Warn("consumer push failed",
					"unique_id", e.uniqueID, "error", err)
			}
		case rt.consumer.IsAppRegistered(rt.app):
			rt.log.Warn("consumer entity id missing, integration may need reload",
				"unique_id", e.uniqueID, "app", rt.app)
		default:
			rt.log.Debug("consumer entity not yet registered",
				"unique_id", e.uniqueID)
		}
	}

	if rt.bus != nil {
		payload := map[string]any{"unique_id": e.uniqueID}
		if key != "" {
			payload["key"] = key
		}
		if err := rt.bus.Fire(UpdatedEvent(e.uniqueID), payload); err != nil {
			rt.log.Warn("update event fire failed",
				"unique_id", e.uniqueID, "error", err)
		}
	}

	if rt.history != nil && key != "" {
		rt.history.Record(e.uniqueID, e.domain.Name, key, value)
	}
}

// flush blocks until every queued write has completed.
func (e *Engine) flush() {
	e.wg.Wait()
}

// closeQueue drains pending writes and stops the queue goroutine.
// Subsequent writes stay in memory only.
func (e *Engine) closeQueue() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	e.wg.Wait()
}
