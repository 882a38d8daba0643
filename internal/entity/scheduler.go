package entity

import (
	"fmt"
	"sync"
	"time"
)

// defaultRecomputeInterval is the schedule applied when a ReactiveSpec
// does not name one.
const defaultRecomputeInterval = 30 * time.Second

// ReactiveSpec registers one reactive key for scheduled recomputation.
type ReactiveSpec struct {
	// Key is the reactive key to recompute.
	Key string

	// Refs name the entities whose exported value sets feed Compute.
	// References that are not live yet appear as missing entries.
	Refs []string

	// Compute derives the key's new value from the referenced exports,
	// keyed by unique id.
	Compute func(refs map[string]map[string]any) any

	// Interval overrides the default 30s recompute schedule.
	Interval time.Duration

	// Bound names source entities whose update events force an
	// immediate recompute, ahead of the schedule.
	Bound []string
}

// Reaction is one live scheduler registration. Detach cancels the
// schedule and the bound-entity subscriptions.
type Reaction struct {
	engine *Engine
	spec   ReactiveSpec

	ticker *time.Ticker
	stop   chan struct{}
	unsubs []func()
	wg     sync.WaitGroup

	mu       sync.Mutex
	detached bool
	once     sync.Once
}

// newReaction validates the spec, recomputes once immediately, then
// starts the ticker and the bound-entity subscriptions.
//
// Registration before the entity's ready phase is fine: the immediate
// recompute lands in memory and flushes with initialization like any
// other pre-init write.
func newReaction(engine *Engine, spec ReactiveSpec) (*Reaction, error) {
	kind, ok := engine.kindOf(spec.Key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, spec.Key)
	}
	if kind != KindReactive {
		return nil, fmt.Errorf("%w: %q (%s)", ErrNotReactive, spec.Key, kind)
	}
	if spec.Compute == nil {
		return nil, fmt.Errorf("%w: %q has no compute function", ErrNotReactive, spec.Key)
	}
	if spec.Interval <= 0 {
		spec.Interval = defaultRecomputeInterval
	}

	r := &Reaction{
		engine: engine,
		spec:   spec,
		ticker: time.NewTicker(spec.Interval),
		stop:   make(chan struct{}),
	}

	r.recompute()

	for _, src := range spec.Bound {
		unsub, err := r.subscribeBound(src)
		if err != nil {
			r.Detach()
			return nil, fmt.Errorf("binding %q to %s: %w", spec.Key, src, err)
		}
		r.unsubs = append(r.unsubs, unsub)
	}

	r.wg.Add(1)
	go r.run()
	return r, nil
}

func (r *Reaction) subscribeBound(src string) (func(), error) {
	rt := r.engine.rt
	if rt.bus == nil {
		return func() {}, nil
	}
	return rt.bus.Subscribe(UpdatedEvent(src), func(string, map[string]any) {
		r.recompute()
	})
}

func (r *Reaction) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ticker.C:
			r.recompute()
		case <-r.stop:
			return
		}
	}
}

// recompute reads the referenced exports, derives the new value and
// writes it through the engine. The engine's no-op suppression keeps
// unchanged values from persisting or transmitting, which also breaks
// recompute feedback through the update event.
func (r *Reaction) recompute() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.detached {
		return
	}

	refs := make(map[string]map[string]any, len(r.spec.Refs))
	for _, id := range r.spec.Refs {
		if eng, ok := r.engine.rt.engine(id); ok {
			refs[id] = eng.Export()
		}
	}

	value := r.spec.Compute(refs)
	if err := r.engine.setReactive(r.spec.Key, value); err != nil {
		r.engine.rt.log.Warn("reactive recompute rejected",
			"unique_id", r.engine.uniqueID, "key", r.spec.Key, "error", err)
	}
}

// Detach cancels the schedule and the bound-entity listeners. It is
// idempotent and returns only after any in-flight recompute finished.
func (r *Reaction) Detach() {
	r.once.Do(func() {
		r.mu.Lock()
		r.detached = true
		r.mu.Unlock()

		r.ticker.Stop()
		close(r.stop)
		for _, unsub := range r.unsubs {
			unsub()
		}
		r.wg.Wait()
	})
}
