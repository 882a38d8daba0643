package entity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mirrorstate/mirror-core/internal/infrastructure/storage"
)

// mockBackend is an in-memory storage.Backend recording call counts so
// tests can assert write suppression.
type mockBackend struct {
	mu sync.Mutex

	rows   map[string]*storage.Row
	locals map[string]map[string]any

	updates      int
	localUpdates int
	localDeletes int

	loadErr error
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		rows:   make(map[string]*storage.Row),
		locals: make(map[string]map[string]any),
	}
}

func (m *mockBackend) Load(_ context.Context, uniqueID string) (*storage.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	row, ok := m.rows[uniqueID]
	if !ok {
		return nil, nil
	}
	cp := *row
	cp.State = copyMap(row.State)
	cp.BaseState = copyMap(row.BaseState)
	return &cp, nil
}

func (m *mockBackend) Update(_ context.Context, uniqueID, entityID string, state, baseState map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++

	row, ok := m.rows[uniqueID]
	if !ok {
		row = &storage.Row{UniqueID: uniqueID, FirstObserved: time.Now()}
		m.rows[uniqueID] = row
		if baseState == nil {
			baseState = state
		}
	}
	row.State = copyMap(state)
	if baseState != nil {
		row.BaseState = copyMap(baseState)
	}
	if entityID != "" {
		row.EntityID = entityID
	}
	row.LastModified = time.Now()
	return nil
}

func (m *mockBackend) UpdateLocal(_ context.Context, uniqueID, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localUpdates++
	if m.locals[uniqueID] == nil {
		m.locals[uniqueID] = make(map[string]any)
	}
	m.locals[uniqueID][key] = value
	return nil
}

func (m *mockBackend) LoadLocals(_ context.Context, uniqueID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.locals[uniqueID]
	if !ok {
		return nil, nil
	}
	return copyMap(stored), nil
}

func (m *mockBackend) DeleteLocal(_ context.Context, uniqueID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localDeletes++
	delete(m.locals[uniqueID], key)
	return nil
}

func (m *mockBackend) DeleteLocals(_ context.Context, uniqueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locals, uniqueID)
	return nil
}

func (m *mockBackend) Purge(_ context.Context, uniqueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, uniqueID)
	delete(m.locals, uniqueID)
	return nil
}

func (m *mockBackend) Close() error { return nil }

func (m *mockBackend) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

func (m *mockBackend) row(uniqueID string) *storage.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[uniqueID]
}

func (m *mockBackend) local(uniqueID, key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.locals[uniqueID][key]
	return v, ok
}

// recordingConsumer is a Consumer double capturing pushed state.
type recordingConsumer struct {
	mu         sync.Mutex
	ids        map[string]string
	registered bool
	pushes     []map[string]any
}

func newRecordingConsumer() *recordingConsumer {
	return &recordingConsumer{ids: make(map[string]string)}
}

func (c *recordingConsumer) EntityID(uniqueID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids[uniqueID]
	return id, ok
}

func (c *recordingConsumer) IsAppRegistered(string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

func (c *recordingConsumer) Push(_, _ string, state map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushes = append(c.pushes, copyMap(state))
	return nil
}

func (c *recordingConsumer) pushCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pushes)
}

// sensorDomain is the declaration used across tests: one settable
// reading, one static unit, one immutable class, one reactive average.
func sensorDomain() Domain {
	return Domain{
		Name: "sensor",
		Keys: []KeySpec{
			{Name: "state", Kind: KindSettable, Default: 20},
			{Name: "unit", Kind: KindStatic, Default: "C"},
			{Name: "device_class", Kind: KindImmutable, Default: "temperature"},
			{Name: "average", Kind: KindReactive},
		},
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
