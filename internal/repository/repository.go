// Package repository owns the registry and task-list CRDT instances, and
// mediates every local mutation through one pipeline: generate the CRDT
// operation, rewrite the affected snapshot to storage, enqueue an outbox
// envelope for the sync engine, push an undo/redo entry, then notify
// subscribers.
package repository

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/listsync/listsync/internal/actor"
	"github.com/listsync/listsync/internal/codec"
	"github.com/listsync/listsync/internal/hydrate"
	"github.com/listsync/listsync/internal/registry"
	"github.com/listsync/listsync/internal/storage"
	"github.com/listsync/listsync/internal/tasklist"
	"github.com/listsync/listsync/internal/undo"
)

// ErrNotInitialized is returned by every accessor and mutation called
// before Initialize completes or after Dispose.
var ErrNotInitialized = errors.New("repository: not initialized")

// ErrNotFound covers an unknown list or task id passed to a mutation.
var ErrNotFound = errors.New("repository: not found")

// DefaultUndoWindow is the reference coalescing window for rapid-fire
// text edits to the same field.
const DefaultUndoWindow = 500 * time.Millisecond

// ListState is the read-oriented view of one list handed to subscribers
// and read accessors — the repository's own in-memory model, distinct
// from the wire-encoded ListSnapshot bytes GetListSnapshot returns.
type ListState struct {
	ListID string
	Title  string
	Tasks  []tasklist.Entry
}

// EventKind distinguishes the two change notification shapes.
type EventKind string

const (
	EventRegistry EventKind = "registry"
	EventList     EventKind = "list"
)

// Event is the payload delivered to a GlobalHandler.
type Event struct {
	Kind     EventKind
	Registry []registry.Entry // set when Kind == EventRegistry
	ListID   string           // set when Kind == EventList
	List     ListState        // set when Kind == EventList
}

// GlobalHandler observes every change, registry or list.
type GlobalHandler func(Event)

// RegistryHandler observes registry changes only.
type RegistryHandler func([]registry.Entry)

// ListStateHandler observes one list's changes only.
type ListStateHandler func(ListState)

// Unsubscribe removes a previously registered handler.
type Unsubscribe func()

// Repository owns the CRDT instances for one device and mediates every
// mutation through persistence, the outbox, undo history, and
// subscriptions. The zero value is not usable; construct with New.
type Repository struct {
	storage storage.Adapter
	history *undo.History
	now     func() time.Time

	mu          sync.Mutex
	initialized bool
	actorID     string
	reg         *registry.Registry
	lists       map[string]*tasklist.List

	nextSubID    int
	globalSubs   map[int]GlobalHandler
	registrySubs map[int]RegistryHandler
	listSubs     map[string]map[int]ListStateHandler
}

// New constructs a Repository against st. Call Initialize before any
// other method.
func New(st storage.Adapter, undoWindow time.Duration) *Repository {
	return &Repository{
		storage:      st,
		history:      undo.New(undoWindow),
		now:          time.Now,
		globalSubs:   make(map[int]GlobalHandler),
		registrySubs: make(map[int]RegistryHandler),
		listSubs:     make(map[string]map[int]ListStateHandler),
	}
}

// Initialize resolves the device's stable actor id and hydrates the
// registry and every known list from storage. Hydration never fires
// subscriber events; the first emission any subscriber sees happens only
// after Initialize returns, in response to a subsequent mutation.
func (r *Repository) Initialize(ctx context.Context) error {
	id, err := actor.Resolve(ctx, r.storage)
	if err != nil {
		return err
	}
	result, err := hydrate.Load(ctx, r.storage, id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.actorID = id
	r.reg = result.Registry
	r.lists = result.Lists
	r.initialized = true
	return nil
}

// Dispose releases every subscriber and drops the CRDT references. Any
// storage write already in flight completes on its own; its result is
// ignored, matching the fire-and-forget persistence contract elsewhere in
// the repository.
func (r *Repository) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initialized = false
	r.reg = nil
	r.lists = nil
	r.globalSubs = make(map[int]GlobalHandler)
	r.registrySubs = make(map[int]RegistryHandler)
	r.listSubs = make(map[string]map[int]ListStateHandler)
}

// IsInitialized reports whether Initialize has completed without a
// subsequent Dispose.
func (r *Repository) IsInitialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

// GetRegistrySnapshot returns the live lists in display order.
func (r *Repository) GetRegistrySnapshot() ([]registry.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	return r.reg.Lists(), nil
}

// GetListIDs returns every live list id, in registry display order.
func (r *Repository) GetListIDs() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	entries := r.reg.Lists()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids, nil
}

// GetListState returns the in-memory read model for listID: its title and
// live tasks in display order.
func (r *Repository) GetListState(listID string) (ListState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return ListState{}, false, ErrNotInitialized
	}
	return r.listStateLocked(listID)
}

func (r *Repository) listStateLocked(listID string) (ListState, bool, error) {
	l, ok := r.lists[listID]
	if !ok {
		return ListState{}, false, nil
	}
	return ListState{ListID: listID, Title: l.Title(), Tasks: l.Tasks()}, true, nil
}

// GetListSnapshot returns listID's versioned wire snapshot, the same
// bytes persisted to storage and exported, for callers that need the
// encoded form directly (e.g. building an ad hoc export of one list).
func (r *Repository) GetListSnapshot(listID string) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil, false, ErrNotInitialized
	}
	l, ok := r.lists[listID]
	if !ok {
		return nil, false, nil
	}
	snap, err := codec.EncodeListSnapshot(l.Set(), l.Title(), l.TitleClock(), l.TitleActor())
	if err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

// GetTaskSnapshot returns one task's entry within listID.
func (r *Repository) GetTaskSnapshot(listID, itemID string) (tasklist.Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return tasklist.Entry{}, false, ErrNotInitialized
	}
	l, ok := r.lists[listID]
	if !ok {
		return tasklist.Entry{}, false, nil
	}
	e, ok := l.Set().Get(itemID)
	return e, ok, nil
}

// Subscribe registers handler against every registry and list change.
func (r *Repository) Subscribe(handler GlobalHandler) Unsubscribe {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSubID
	r.nextSubID++
	r.globalSubs[id] = handler
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.globalSubs, id)
	}
}

// SubscribeRegistry registers handler against registry changes only. When
// emitCurrent is true and the repository is initialized, handler is
// invoked once immediately with the current snapshot.
func (r *Repository) SubscribeRegistry(handler RegistryHandler, emitCurrent bool) Unsubscribe {
	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.registrySubs[id] = handler
	var current []registry.Entry
	emit := emitCurrent && r.initialized
	if emit {
		current = r.reg.Lists()
	}
	r.mu.Unlock()

	if emit {
		handler(current)
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.registrySubs, id)
	}
}

// SubscribeList registers handler against changes to listID only. When
// emitCurrent is true and listID currently exists, handler is invoked
// once immediately with the current state.
func (r *Repository) SubscribeList(listID string, handler ListStateHandler, emitCurrent bool) Unsubscribe {
	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	if r.listSubs[listID] == nil {
		r.listSubs[listID] = make(map[int]ListStateHandler)
	}
	r.listSubs[listID][id] = handler
	var current ListState
	emit := false
	if emitCurrent && r.initialized {
		current, emit, _ = r.listStateLocked(listID)
	}
	r.mu.Unlock()

	if emit {
		handler(current)
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if subs := r.listSubs[listID]; subs != nil {
			delete(subs, id)
			if len(subs) == 0 {
				delete(r.listSubs, listID)
			}
		}
	}
}

// emitRegistry notifies every registry and global subscriber. Called with
// mu unlocked — subscriber callbacks must never re-enter the repository
// while holding its lock.
func (r *Repository) emitRegistry() {
	r.mu.Lock()
	entries := r.reg.Lists()
	registrySubs := make([]RegistryHandler, 0, len(r.registrySubs))
	for _, h := range r.registrySubs {
		registrySubs = append(registrySubs, h)
	}
	globalSubs := make([]GlobalHandler, 0, len(r.globalSubs))
	for _, h := range r.globalSubs {
		globalSubs = append(globalSubs, h)
	}
	r.mu.Unlock()

	for _, h := range registrySubs {
		h(entries)
	}
	event := Event{Kind: EventRegistry, Registry: entries}
	for _, h := range globalSubs {
		h(event)
	}
}

func (r *Repository) emitList(listID string) {
	r.mu.Lock()
	state, ok, _ := r.listStateLocked(listID)
	var listSubs []ListStateHandler
	if subs := r.listSubs[listID]; subs != nil {
		listSubs = make([]ListStateHandler, 0, len(subs))
		for _, h := range subs {
			listSubs = append(listSubs, h)
		}
	}
	globalSubs := make([]GlobalHandler, 0, len(r.globalSubs))
	for _, h := range r.globalSubs {
		globalSubs = append(globalSubs, h)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	for _, h := range listSubs {
		h(state)
	}
	event := Event{Kind: EventList, ListID: listID, List: state}
	for _, h := range globalSubs {
		h(event)
	}
}

// persistRegistry rewrites the registry's full snapshot to storage.
// Storage faults are swallowed here (the in-memory CRDT stays
// authoritative for the session; the outbox entry already enqueued keeps
// the operation queued for the sync engine regardless of this write's
// outcome), matching the storage-fault handling in §7 of this package's
// design notes.
func (r *Repository) persistRegistry(ctx context.Context) {
	snap, err := codec.EncodeSnapshot(r.reg.Set())
	if err != nil {
		log.Printf("repository: encode registry snapshot: %v", err)
		return
	}
	if err := r.storage.PersistRegistry(ctx, nil, snap); err != nil {
		log.Printf("repository: persist registry snapshot: %v", err)
	}
}

func (r *Repository) persistList(ctx context.Context, listID string) {
	l, ok := r.lists[listID]
	if !ok {
		return
	}
	snap, err := codec.EncodeListSnapshot(l.Set(), l.Title(), l.TitleClock(), l.TitleActor())
	if err != nil {
		log.Printf("repository: encode list %q snapshot: %v", listID, err)
		return
	}
	if err := r.storage.PersistOperations(ctx, listID, nil, snap); err != nil {
		log.Printf("repository: persist list %q snapshot: %v", listID, err)
	}
}

// enqueueOutbox appends one envelope to the durable outbox via a
// read-modify-write, per §5's "no in-memory shared mutable state"
// contract between the repository and the sync engine.
func (r *Repository) enqueueOutbox(ctx context.Context, scope, resourceID, actor string, clock int64, payload []byte) {
	existing, err := r.storage.LoadOutbox(ctx)
	if err != nil {
		log.Printf("repository: load outbox: %v", err)
		return
	}
	entry := storage.OutboxEntry{Scope: scope, ResourceID: resourceID, Actor: actor, Clock: clock, Payload: payload}
	updated := append(existing, entry)
	if err := r.storage.PersistOutbox(ctx, updated); err != nil {
		log.Printf("repository: persist outbox: %v", err)
	}
}

// ensureList returns listID's task-list CRDT, lazily creating an empty
// one owned by the local actor if it doesn't yet exist in memory — the
// case when a registry entry is resurrected (insert at a higher clock
// than its tombstone) or replayed by undo/redo after a fresh Initialize.
func (r *Repository) ensureList(listID, title string) *tasklist.List {
	if l, ok := r.lists[listID]; ok {
		return l
	}
	l := tasklist.New(r.actorID, title)
	r.lists[listID] = l
	return l
}
