package bus

import (
	"sync"
	"testing"
)

func TestMemoryFireDeliversToSubscribers(t *testing.T) {
	m := NewMemory()

	var got []map[string]any
	unsub, err := m.Subscribe("entity/updated/e1", func(_ string, payload map[string]any) {
		got = append(got, payload)
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer unsub()

	payload := map[string]any{"on": true}
	if err := m.Fire("entity/updated/e1", payload); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("handler called %d times, want 1", len(got))
	}
	if got[0]["on"] != true {
		t.Errorf("payload = %v, want on=true", got[0])
	}
}

func TestMemoryFireExactNameOnly(t *testing.T) {
	m := NewMemory()

	called := false
	unsub, err := m.Subscribe("entity/updated/e1", func(string, map[string]any) {
		called = true
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer unsub()

	if err := m.Fire("entity/updated/e2", nil); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	if called {
		t.Error("handler for e1 should not fire for e2")
	}
}

func TestMemoryUnsubscribeStopsDelivery(t *testing.T) {
	m := NewMemory()

	calls := 0
	unsub, err := m.Subscribe("ev", func(string, map[string]any) { calls++ })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	m.Fire("ev", nil) //nolint:errcheck
	unsub()
	unsub() // idempotent
	m.Fire("ev", nil) //nolint:errcheck

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
	if m.SubscriptionCount("ev") != 0 {
		t.Errorf("SubscriptionCount = %d, want 0", m.SubscriptionCount("ev"))
	}
}

func TestMemoryMultipleHandlers(t *testing.T) {
	m := NewMemory()

	calls := make([]int, 2)
	for i := 0; i < 2; i++ {
		i := i
		if _, err := m.Subscribe("ev", func(string, map[string]any) { calls[i]++ }); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}

	if err := m.Fire("ev", nil); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	if calls[0] != 1 || calls[1] != 1 {
		t.Errorf("handler calls = %v, want [1 1]", calls)
	}
}

func TestMemoryRejectsEmptyEvent(t *testing.T) {
	m := NewMemory()

	if err := m.Fire("", nil); err == nil {
		t.Error("Fire(\"\") should fail")
	}
	if _, err := m.Subscribe("", func(string, map[string]any) {}); err == nil {
		t.Error("Subscribe(\"\") should fail")
	}
	if _, err := m.Subscribe("ev", nil); err == nil {
		t.Error("Subscribe with nil handler should fail")
	}
}

func TestMemoryConcurrentFireAndSubscribe(t *testing.T) {
	m := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsub, _ := m.Subscribe("ev", func(string, map[string]any) {})
			unsub()
		}()
		go func() {
			defer wg.Done()
			m.Fire("ev", map[string]any{"n": 1}) //nolint:errcheck
		}()
	}
	wg.Wait()
}
