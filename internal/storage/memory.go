package storage

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory Adapter, used by tests.
type Memory struct {
	mu         sync.Mutex
	lists      map[string]ListState
	registry   RegistryState
	syncState  SyncState
	outbox     []OutboxEntry
	kv         map[string][]byte
}

// NewMemory returns an empty in-memory Adapter.
func NewMemory() *Memory {
	return &Memory{
		lists: make(map[string]ListState),
		kv:    make(map[string][]byte),
	}
}

func cloneOps(ops []OpRecord) []OpRecord {
	out := make([]OpRecord, len(ops))
	copy(out, ops)
	return out
}

func (m *Memory) LoadAllLists(ctx context.Context) ([]ListState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ListState, 0, len(m.lists))
	for _, ls := range m.lists {
		ls.Operations = cloneOps(ls.Operations)
		out = append(out, ls)
	}
	return out, nil
}

func (m *Memory) LoadList(ctx context.Context, listID string) (ListState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.lists[listID]
	if !ok {
		return ListState{}, false, nil
	}
	ls.Operations = cloneOps(ls.Operations)
	return ls, true, nil
}

func (m *Memory) LoadRegistry(ctx context.Context) (RegistryState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := m.registry
	rs.Operations = cloneOps(rs.Operations)
	return rs, nil
}

func (m *Memory) PersistOperations(ctx context.Context, listID string, ops []OpRecord, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls := m.lists[listID]
	ls.ListID = listID
	if snapshot != nil {
		ls.State = snapshot
		ls.Operations = cloneOps(ops)
	} else {
		ls.Operations = mergeOps(ls.Operations, ops)
	}
	ls.UpdatedAt = now()
	m.lists[listID] = ls
	return nil
}

func (m *Memory) PersistRegistry(ctx context.Context, ops []OpRecord, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snapshot != nil {
		m.registry.State = snapshot
		m.registry.Operations = cloneOps(ops)
	} else {
		m.registry.Operations = mergeOps(m.registry.Operations, ops)
	}
	m.registry.UpdatedAt = now()
	return nil
}

func (m *Memory) PruneOperations(ctx context.Context, listID string, beforeClock int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.lists[listID]
	if !ok {
		return nil
	}
	ls.Operations = pruneBefore(ls.Operations, beforeClock)
	m.lists[listID] = ls
	return nil
}

func (m *Memory) PruneRegistryOperations(ctx context.Context, beforeClock int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry.Operations = pruneBefore(m.registry.Operations, beforeClock)
	return nil
}

func (m *Memory) LoadSyncState(ctx context.Context) (SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncState, nil
}

func (m *Memory) PersistSyncState(ctx context.Context, state SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncState = state
	return nil
}

func (m *Memory) LoadOutbox(ctx context.Context) ([]OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboxEntry, len(m.outbox))
	copy(out, m.outbox)
	return out, nil
}

func (m *Memory) PersistOutbox(ctx context.Context, entries []OutboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = make([]OutboxEntry, len(entries))
	copy(m.outbox, entries)
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists = make(map[string]ListState)
	m.registry = RegistryState{}
	m.syncState = SyncState{}
	m.outbox = nil
	return nil
}

func (m *Memory) Close() error { return nil }

// mergeOps appends incoming ops, replacing any existing record that
// shares the same (Clock, Actor) key so retried pushes stay idempotent.
func mergeOps(existing, incoming []OpRecord) []OpRecord {
	byKey := make(map[[2]any]int, len(existing))
	out := append([]OpRecord(nil), existing...)
	for i, op := range out {
		byKey[[2]any{op.Clock, op.Actor}] = i
	}
	for _, op := range incoming {
		key := [2]any{op.Clock, op.Actor}
		if i, ok := byKey[key]; ok {
			out[i] = op
			continue
		}
		byKey[key] = len(out)
		out = append(out, op)
	}
	return out
}

func pruneBefore(ops []OpRecord, beforeClock int64) []OpRecord {
	out := make([]OpRecord, 0, len(ops))
	for _, op := range ops {
		if op.Clock >= beforeClock {
			out = append(out, op)
		}
	}
	return out
}

var timeNow = time.Now

func now() time.Time { return timeNow() }
