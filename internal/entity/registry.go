package entity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mirrorstate/mirror-core/internal/infrastructure/storage"
)

// Logger defines the logging interface used by the runtime.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configure a Runtime. Backend, Bus, Consumer and History are
// all optional: a nil backend keeps state in memory only, a nil
// consumer means no live channel, a nil recorder disables history.
type Options struct {
	AppName  string
	Backend  storage.Backend
	Bus      Bus
	Consumer Consumer
	History  Recorder
	Logger   Logger
}

// Runtime owns every registry in the synchronization core: domains,
// entity engines, live handles and devices. There is no package-level
// mutable state; construct one Runtime per process.
//
// Thread Safety: all public methods are safe for concurrent use. The
// registry mutex enforces the primary invariant — at most one live
// handle per unique id.
type Runtime struct {
	app      string
	backend  storage.Backend
	bus      Bus
	consumer Consumer
	history  Recorder
	log      Logger

	mu      sync.RWMutex
	domains map[string]*Domain
	engines map[string]*Engine
	handles map[string]*Handle
	devices map[string]*Device
	closed  bool

	ready atomic.Bool
}

// NewRuntime creates an empty runtime.
func NewRuntime(opts Options) *Runtime {
	log := opts.Logger
	if log == nil {
		log = noopLogger{}
	}
	return &Runtime{
		app:      opts.AppName,
		backend:  opts.Backend,
		bus:      opts.Bus,
		consumer: opts.Consumer,
		history:  opts.History,
		log:      log,
		domains:  make(map[string]*Domain),
		engines:  make(map[string]*Engine),
		handles:  make(map[string]*Handle),
		devices:  make(map[string]*Device),
	}
}

// RegisterDomain validates a domain declaration and returns a factory
// creating entities of that class. Domain names are unique per runtime.
func (rt *Runtime) RegisterDomain(d Domain) (*Factory, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidDomain)
	}
	declared := make(map[string]struct{}, len(d.Keys))
	for _, spec := range CommonKeys() {
		declared[spec.Name] = struct{}{}
	}
	for _, spec := range d.Keys {
		if spec.Name == "" {
			return nil, fmt.Errorf("%w: %s declares an unnamed key", ErrInvalidDomain, d.Name)
		}
		if _, dup := declared[spec.Name]; dup {
			return nil, fmt.Errorf("%w: %s redeclares key %q", ErrInvalidDomain, d.Name, spec.Name)
		}
		declared[spec.Name] = struct{}{}
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return nil, ErrClosed
	}
	if _, dup := rt.domains[d.Name]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDomainExists, d.Name)
	}
	stored := d
	rt.domains[d.Name] = &stored
	return &Factory{rt: rt, domain: &stored}, nil
}

// SetReady marks storage as reachable and loads every registered
// entity's persisted state. It runs the load once; later calls are
// no-ops. Entities added after SetReady load immediately on creation.
func (rt *Runtime) SetReady(ctx context.Context) {
	if !rt.ready.CompareAndSwap(false, true) {
		return
	}

	rt.mu.RLock()
	engines := make([]*Engine, 0, len(rt.engines))
	for _, eng := range rt.engines {
		engines = append(engines, eng)
	}
	rt.mu.RUnlock()

	for _, eng := range engines {
		eng.load(ctx)
	}
	rt.log.Info("runtime ready", "entities", len(engines))
}

// Flush blocks until every entity's queued writes have completed.
func (rt *Runtime) Flush() {
	rt.mu.RLock()
	engines := make([]*Engine, 0, len(rt.engines))
	for _, eng := range rt.engines {
		engines = append(engines, eng)
	}
	rt.mu.RUnlock()

	for _, eng := range engines {
		eng.flush()
	}
}

// Close drains and stops every entity's write queue and detaches all
// listeners. The backend, bus and history clients are owned by the
// caller and stay open.
func (rt *Runtime) Close() {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return
	}
	rt.closed = true
	engines := make([]*Engine, 0, len(rt.engines))
	for _, eng := range rt.engines {
		engines = append(engines, eng)
	}
	handles := make([]*Handle, 0, len(rt.handles))
	for _, h := range rt.handles {
		handles = append(handles, h)
	}
	rt.mu.Unlock()

	for _, h := range handles {
		h.detachAll()
	}
	for _, eng := range engines {
		eng.closeQueue()
	}
}

// engine resolves a live engine by unique id.
func (rt *Runtime) engine(uniqueID string) (*Engine, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	eng, ok := rt.engines[uniqueID]
	return eng, ok
}

// Handle resolves a live handle by unique id.
func (rt *Runtime) Handle(uniqueID string) (*Handle, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	h, ok := rt.handles[uniqueID]
	return h, ok
}

// purgeEntity removes the live registrations and erases durable state.
func (rt *Runtime) purgeEntity(ctx context.Context, uniqueID string) error {
	rt.mu.Lock()
	eng := rt.engines[uniqueID]
	delete(rt.engines, uniqueID)
	delete(rt.handles, uniqueID)
	rt.mu.Unlock()

	if eng == nil {
		return nil
	}
	eng.closeQueue()

	if rt.backend != nil {
		if err := rt.backend.Purge(ctx, uniqueID); err != nil {
			return fmt.Errorf("purging entity %s: %w", uniqueID, err)
		}
	}
	rt.log.Info("entity purged", "unique_id", uniqueID)
	return nil
}

// Factory creates entities of one registered domain.
type Factory struct {
	rt     *Runtime
	domain *Domain
}

// AddEntity resolves or creates the entity for the options' unique id.
//
// When the id is already live with the same domain, the existing handle
// is returned — never a second live handle for one id. A live id with a
// different domain is a collision and errors. When no explicit id is
// given it is synthesized deterministically from the application name,
// the domain and the suggested id.
func (f *Factory) AddEntity(opts EntityOptions) (*Handle, error) {
	uid := opts.UniqueID
	if uid == "" {
		if opts.SuggestedID == "" {
			return nil, fmt.Errorf("%w: neither unique id nor suggested id given", ErrInvalidOptions)
		}
		uid = SynthesizeUniqueID(f.rt.app, f.domain.Name, opts.SuggestedID)
	}

	h, created, err := f.resolveOrCreate(uid, opts)
	if err != nil {
		return nil, err
	}
	if created && f.rt.ready.Load() {
		// Registered after the ready transition: load now.
		h.engine.load(context.Background())
	}
	return h, nil
}

func (f *Factory) resolveOrCreate(uid string, opts EntityOptions) (*Handle, bool, error) {
	rt := f.rt
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return nil, false, ErrClosed
	}
	if existing, live := rt.handles[uid]; live {
		if existing.domain.Name != f.domain.Name {
			return nil, false, fmt.Errorf("%w: %s is live as domain %s",
				ErrEntityExists, uid, existing.domain.Name)
		}
		return existing, false, nil
	}
	if _, registered := rt.engines[uid]; registered {
		// Engine without a handle should be impossible; treat as a
		// collision rather than constructing a second engine.
		return nil, false, fmt.Errorf("%w: %s", ErrEntityExists, uid)
	}

	eng, err := newEngine(rt, f.domain, uid, opts)
	if err != nil {
		return nil, false, err
	}
	eng.locals = newLocals(rt, eng, uid, opts.Locals)

	h := &Handle{
		rt:       rt,
		engine:   eng,
		domain:   f.domain,
		uniqueID: uid,
		deviceID: opts.DeviceID,
	}
	rt.engines[uid] = eng
	rt.handles[uid] = h
	rt.log.Debug("entity registered",
		"unique_id", uid, "domain", f.domain.Name)
	return h, true, nil
}

// AddChild resolves the entity like AddEntity and returns a clone with
// its own listener context. The clone shares the engine and locals;
// detaching or purging through it behaves like the primary handle, but
// its subscriptions can be torn down independently via DetachListeners.
func (f *Factory) AddChild(opts EntityOptions) (*Handle, error) {
	parent, err := f.AddEntity(opts)
	if err != nil {
		return nil, err
	}
	return parent.newChild(), nil
}

// Handle is the live object for one entity. Reads resolve through the
// engine in runtime form; writes route only to settable keys. One handle exists per unique id unless children are
// explicitly requested.
type Handle struct {
	rt       *Runtime
	engine   *Engine
	domain   *Domain
	uniqueID string
	deviceID string

	mu        sync.Mutex
	subs      []func()
	reactions []*Reaction
	children  []*Handle
}

// UniqueID returns the entity's stable unique id.
func (h *Handle) UniqueID() string { return h.uniqueID }

// Domain returns the entity's domain name.
func (h *Handle) Domain() string { return h.domain.Name }

// DeviceID returns the owning device id, empty when none.
func (h *Handle) DeviceID() string { return h.deviceID }

// Get returns the live value of a declared key.
func (h *Handle) Get(key string) any { return h.engine.Get(key) }

// Set mutates a settable key. Writes to immutable, static, reactive or
// unknown keys fail and leave the value unchanged.
func (h *Handle) Set(key string, value any) error { return h.engine.Set(key, value) }

// Export returns the entity's full exported value set.
func (h *Handle) Export() map[string]any { return h.engine.Export() }

// Locals returns the entity's auxiliary data cache.
func (h *Handle) Locals() *Locals { return h.engine.locals }

// Storage returns the entity's config storage engine.
func (h *Handle) Storage() *Engine { return h.engine }

// On subscribes a listener to a bus event and tracks the subscription
// for removal at purge. The returned detach is idempotent.
func (h *Handle) On(event string, fn func(event string, payload map[string]any)) (func(), error) {
	if h.rt.bus == nil {
		return func() {}, nil
	}
	unsub, err := h.rt.bus.Subscribe(event, fn)
	if err != nil {
		return nil, fmt.Errorf("subscribing %s to %s: %w", h.uniqueID, event, err)
	}
	h.mu.Lock()
	h.subs = append(h.subs, unsub)
	h.mu.Unlock()
	return unsub, nil
}

// React registers a reactive key for scheduled recomputation and
// tracks the registration for removal at purge.
func (h *Handle) React(spec ReactiveSpec) (*Reaction, error) {
	r, err := newReaction(h.engine, spec)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.reactions = append(h.reactions, r)
	h.mu.Unlock()
	return r, nil
}

// Purge detaches every listener and reaction (children included),
// removes the live handle and erases the entity's durable state, row
// and locals both.
func (h *Handle) Purge(ctx context.Context) error {
	h.detachAll()
	return h.rt.purgeEntity(ctx, h.uniqueID)
}

// DetachListeners removes this handle's own subscriptions and
// reactions without touching the entity itself. Child handles use it
// to tear down their listener context.
func (h *Handle) DetachListeners() {
	h.mu.Lock()
	subs := h.subs
	reactions := h.reactions
	h.subs = nil
	h.reactions = nil
	h.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	for _, r := range reactions {
		r.Detach()
	}
}

func (h *Handle) detachAll() {
	h.mu.Lock()
	children := h.children
	h.children = nil
	h.mu.Unlock()

	for _, child := range children {
		child.detachAll()
	}
	h.DetachListeners()
}

func (h *Handle) newChild() *Handle {
	child := &Handle{
		rt:       h.rt,
		engine:   h.engine,
		domain:   h.domain,
		uniqueID: h.uniqueID,
		deviceID: h.deviceID,
	}
	h.mu.Lock()
	h.children = append(h.children, child)
	h.mu.Unlock()
	return child
}
