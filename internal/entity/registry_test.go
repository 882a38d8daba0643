package entity

import (
	"context"
	"errors"
	"testing"
)

func newTestRuntime(t *testing.T, backend *mockBackend) *Runtime {
	t.Helper()
	opts := Options{AppName: "testapp"}
	if backend != nil {
		opts.Backend = backend
	}
	rt := NewRuntime(opts)
	t.Cleanup(rt.Close)
	return rt
}

func TestRegisterDomainValidation(t *testing.T) {
	rt := newTestRuntime(t, nil)

	tests := []struct {
		name   string
		domain Domain
		want   error
	}{
		{"empty name", Domain{}, ErrInvalidDomain},
		{"unnamed key", Domain{Name: "x", Keys: []KeySpec{{}}}, ErrInvalidDomain},
		{"duplicate key", Domain{Name: "x", Keys: []KeySpec{
			{Name: "state"}, {Name: "state"},
		}}, ErrInvalidDomain},
		{"shadows common key", Domain{Name: "x", Keys: []KeySpec{
			{Name: "name"},
		}}, ErrInvalidDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := rt.RegisterDomain(tt.domain); !errors.Is(err, tt.want) {
				t.Errorf("RegisterDomain() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := rt.RegisterDomain(sensorDomain()); err != nil {
		t.Fatalf("valid domain rejected: %v", err)
	}
	if _, err := rt.RegisterDomain(sensorDomain()); !errors.Is(err, ErrDomainExists) {
		t.Errorf("duplicate domain error = %v, want ErrDomainExists", err)
	}
}

func TestAddEntitySingleton(t *testing.T) {
	rt := newTestRuntime(t, newMockBackend())
	factory, err := rt.RegisterDomain(sensorDomain())
	if err != nil {
		t.Fatal(err)
	}

	first, err := factory.AddEntity(EntityOptions{SuggestedID: "outdoor"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := factory.AddEntity(EntityOptions{SuggestedID: "outdoor"})
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("same suggested id returned two live handles")
	}

	other, err := factory.AddEntity(EntityOptions{SuggestedID: "indoor"})
	if err != nil {
		t.Fatal(err)
	}
	if other == first {
		t.Error("distinct suggested ids returned the same handle")
	}
}

func TestAddEntityCrossDomainCollision(t *testing.T) {
	rt := newTestRuntime(t, nil)
	sensors, _ := rt.RegisterDomain(sensorDomain())
	switches, _ := rt.RegisterDomain(Domain{Name: "switch", Keys: []KeySpec{
		{Name: "state", Kind: KindSettable, Default: false},
	}})

	if _, err := sensors.AddEntity(EntityOptions{UniqueID: "shared.id"}); err != nil {
		t.Fatal(err)
	}
	if _, err := switches.AddEntity(EntityOptions{UniqueID: "shared.id"}); !errors.Is(err, ErrEntityExists) {
		t.Errorf("cross-domain reuse error = %v, want ErrEntityExists", err)
	}
}

func TestHandleWriteEnforcement(t *testing.T) {
	rt := newTestRuntime(t, nil)
	factory, _ := rt.RegisterDomain(sensorDomain())
	h, err := factory.AddEntity(EntityOptions{SuggestedID: "outdoor"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		key  string
		want error
	}{
		{"immutable", "device_class", ErrImmutableKey},
		{"static", "unit", ErrReadOnlyKey},
		{"reactive", "average", ErrReadOnlyKey},
		{"unknown", "no_such_key", ErrUnknownKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := h.Get(tt.key)
			if err := h.Set(tt.key, "changed"); !errors.Is(err, tt.want) {
				t.Errorf("Set(%q) error = %v, want %v", tt.key, err, tt.want)
			}
			if after := h.Get(tt.key); !equalValues(before, after) {
				t.Errorf("rejected write changed %q: %v -> %v", tt.key, before, after)
			}
		})
	}

	if err := h.Set("state", 21); err != nil {
		t.Errorf("settable write rejected: %v", err)
	}
	if got := h.Get("state"); !equalValues(got, 21) {
		t.Errorf("Get(state) = %v, want 21", got)
	}
}

func TestAddEntityRejectsUndeclaredDefault(t *testing.T) {
	rt := newTestRuntime(t, nil)
	factory, _ := rt.RegisterDomain(sensorDomain())

	_, err := factory.AddEntity(EntityOptions{
		SuggestedID: "outdoor",
		Defaults:    map[string]any{"bogus": 1},
	})
	if !errors.Is(err, ErrUnknownKey) {
		t.Errorf("undeclared default error = %v, want ErrUnknownKey", err)
	}
}

func TestAddChildSharesEngine(t *testing.T) {
	rt := newTestRuntime(t, nil)
	factory, _ := rt.RegisterDomain(sensorDomain())

	parent, err := factory.AddEntity(EntityOptions{SuggestedID: "outdoor"})
	if err != nil {
		t.Fatal(err)
	}
	child, err := factory.AddChild(EntityOptions{SuggestedID: "outdoor"})
	if err != nil {
		t.Fatal(err)
	}
	if child == parent {
		t.Fatal("child is the parent handle, want a clone")
	}

	if err := child.Set("state", 42); err != nil {
		t.Fatal(err)
	}
	if got := parent.Get("state"); !equalValues(got, 42) {
		t.Errorf("parent sees %v after child write, want 42", got)
	}
	if child.UniqueID() != parent.UniqueID() {
		t.Error("child has a different unique id")
	}
}

func TestPurgeRemovesHandleAndDurableState(t *testing.T) {
	backend := newMockBackend()
	rt := newTestRuntime(t, backend)
	factory, _ := rt.RegisterDomain(sensorDomain())

	h, err := factory.AddEntity(EntityOptions{SuggestedID: "outdoor"})
	if err != nil {
		t.Fatal(err)
	}
	uid := h.UniqueID()

	rt.SetReady(context.Background())
	if err := h.Set("state", 30); err != nil {
		t.Fatal(err)
	}
	rt.Flush()
	if backend.row(uid) == nil {
		t.Fatal("no durable row before purge")
	}
	if err := h.Locals().Set("note", "hello"); err != nil {
		t.Fatal(err)
	}
	rt.Flush()

	if err := h.Purge(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, live := rt.Handle(uid); live {
		t.Error("handle still live after purge")
	}
	if backend.row(uid) != nil {
		t.Error("durable row survived purge")
	}
	if _, ok := backend.local(uid, "note"); ok {
		t.Error("locals row survived purge")
	}

	// The id is free again; re-adding builds a fresh entity.
	fresh, err := factory.AddEntity(EntityOptions{SuggestedID: "outdoor"})
	if err != nil {
		t.Fatal(err)
	}
	if !equalValues(fresh.Get("state"), 20) {
		t.Errorf("re-added entity state = %v, want default 20", fresh.Get("state"))
	}
}

func TestRuntimeClosedRejectsNewEntities(t *testing.T) {
	rt := NewRuntime(Options{AppName: "testapp"})
	factory, err := rt.RegisterDomain(sensorDomain())
	if err != nil {
		t.Fatal(err)
	}
	rt.Close()

	if _, err := factory.AddEntity(EntityOptions{SuggestedID: "late"}); !errors.Is(err, ErrClosed) {
		t.Errorf("AddEntity after Close error = %v, want ErrClosed", err)
	}
	if _, err := rt.RegisterDomain(Domain{Name: "other"}); !errors.Is(err, ErrClosed) {
		t.Errorf("RegisterDomain after Close error = %v, want ErrClosed", err)
	}
}
