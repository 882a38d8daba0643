package entity

import (
	"context"
	"errors"
	"testing"
)

func localsFixture(t *testing.T, backend *mockBackend) (*Runtime, *Handle) {
	t.Helper()
	rt := newTestRuntime(t, backend)
	factory, err := rt.RegisterDomain(sensorDomain())
	if err != nil {
		t.Fatal(err)
	}
	h, err := factory.AddEntity(EntityOptions{
		SuggestedID: "outdoor",
		Locals:      map[string]any{"calibration": 1.0, "note": "factory"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return rt, h
}

// loaded reports whether the cache finished its one-time load.
func loaded(l *Locals) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

func TestLocalsDefaultsBeforeReady(t *testing.T) {
	_, h := localsFixture(t, newMockBackend())
	locals := h.Locals()

	if got := locals.Get("calibration"); !equalValues(got, 1.0) {
		t.Errorf("Get(calibration) = %v, want compiled default 1.0", got)
	}
	if locals.Has("missing") {
		t.Error("Has(missing) = true before any write")
	}
	if loaded(locals) {
		t.Error("cache loaded before the ready phase")
	}
}

func TestLocalsLoadOnFirstAccessAfterReady(t *testing.T) {
	backend := newMockBackend()
	rt, h := localsFixture(t, backend)
	uid := h.UniqueID()
	backend.mu.Lock()
	backend.locals[uid] = map[string]any{"note": "stored", "extra": 7}
	backend.mu.Unlock()

	rt.SetReady(context.Background())
	locals := h.Locals()

	// First access fires the background load.
	locals.Get("note")
	waitFor(t, func() bool { return loaded(locals) })

	if got := locals.Get("note"); got != "stored" {
		t.Errorf("Get(note) = %v, want stored value", got)
	}
	if got := locals.Get("extra"); !equalValues(got, 7) {
		t.Errorf("Get(extra) = %v, want 7", got)
	}
	if got := locals.Get("calibration"); !equalValues(got, 1.0) {
		t.Errorf("unstored key lost its default: %v", got)
	}
}

func TestLocalsSetPersistsAndSuppressesNoOps(t *testing.T) {
	backend := newMockBackend()
	rt, h := localsFixture(t, backend)
	rt.SetReady(context.Background())
	locals := h.Locals()
	waitForLoad := func() { waitFor(t, func() bool { return loaded(locals) }) }

	if err := locals.Set("note", "written"); err != nil {
		t.Fatal(err)
	}
	waitForLoad()
	rt.Flush()

	if v, ok := backend.local(h.UniqueID(), "note"); !ok || v != "written" {
		t.Errorf("backend row = %v, %v; want written", v, ok)
	}

	backend.mu.Lock()
	writes := backend.localUpdates
	backend.mu.Unlock()

	// Deep-equal write: no cache change, no persistence.
	if err := locals.Set("note", "written"); err != nil {
		t.Fatal(err)
	}
	rt.Flush()
	backend.mu.Lock()
	after := backend.localUpdates
	backend.mu.Unlock()
	if after != writes {
		t.Errorf("deep-equal Set persisted: %d writes, want %d", after, writes)
	}
}

func TestLocalsWriteBeforeLoadSurvivesLoad(t *testing.T) {
	backend := newMockBackend()
	rt, h := localsFixture(t, backend)
	uid := h.UniqueID()
	backend.mu.Lock()
	backend.locals[uid] = map[string]any{"note": "stale"}
	backend.mu.Unlock()

	rt.SetReady(context.Background())
	locals := h.Locals()

	// The write races the load it triggers; the written value must win.
	if err := locals.Set("note", "fresh"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return loaded(locals) })

	if got := locals.Get("note"); got != "fresh" {
		t.Errorf("Get(note) = %v after load, want fresh", got)
	}
}

func TestLocalsDeleteSemantics(t *testing.T) {
	backend := newMockBackend()
	rt, h := localsFixture(t, backend)
	locals := h.Locals()

	// Before the loaded phase: deleting a present key is not
	// well-defined and fails loudly; deleting an absent key is a no-op.
	if err := locals.Delete("note"); !errors.Is(err, ErrLocalsNotLoaded) {
		t.Errorf("pre-load delete error = %v, want ErrLocalsNotLoaded", err)
	}
	if err := locals.Delete("never_existed"); err != nil {
		t.Errorf("absent-key delete error = %v, want nil", err)
	}

	rt.SetReady(context.Background())
	locals.Get("note")
	waitFor(t, func() bool { return loaded(locals) })

	if err := locals.Delete("note"); err != nil {
		t.Fatalf("post-load delete failed: %v", err)
	}
	if locals.Has("note") {
		t.Error("deleted key still present")
	}
	rt.Flush()
	if _, ok := backend.local(h.UniqueID(), "note"); ok {
		t.Error("deleted key still has a backend row")
	}
}

func TestLocalsReplace(t *testing.T) {
	backend := newMockBackend()
	rt, h := localsFixture(t, backend)
	rt.SetReady(context.Background())
	locals := h.Locals()
	locals.Get("note")
	waitFor(t, func() bool { return loaded(locals) })

	if err := locals.Replace(map[string]any{"calibration": 2.0, "mode": "auto"}); err != nil {
		t.Fatal(err)
	}
	rt.Flush()

	if locals.Has("note") {
		t.Error("Replace kept a key missing from the replacement")
	}
	if got := locals.Get("calibration"); !equalValues(got, 2.0) {
		t.Errorf("calibration = %v, want 2.0", got)
	}
	if got := locals.Get("mode"); got != "auto" {
		t.Errorf("mode = %v, want auto", got)
	}
	if _, ok := backend.local(h.UniqueID(), "mode"); !ok {
		t.Error("Replace did not persist the new key")
	}
}

func TestLocalsReset(t *testing.T) {
	backend := newMockBackend()
	rt, h := localsFixture(t, backend)
	rt.SetReady(context.Background())
	locals := h.Locals()

	if err := locals.Set("note", "written"); err != nil {
		t.Fatal(err)
	}
	rt.Flush()

	if err := locals.Reset(); err != nil {
		t.Fatal(err)
	}
	rt.Flush()

	if got := locals.Get("note"); got != "factory" {
		t.Errorf("Get(note) after reset = %v, want compiled default", got)
	}
	if _, ok := backend.local(h.UniqueID(), "note"); ok {
		t.Error("reset left locals rows behind")
	}
}
