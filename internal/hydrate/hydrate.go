// Package hydrate rebuilds the registry CRDT and the map of task-list
// CRDTs from whatever a storage.Adapter holds on disk: a snapshot plus a
// tail of operations not yet folded into it.
package hydrate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/listsync/listsync/internal/codec"
	"github.com/listsync/listsync/internal/registry"
	"github.com/listsync/listsync/internal/storage"
	"github.com/listsync/listsync/internal/tasklist"
)

// Result is the rebuilt in-memory state ready to hand to the repository.
type Result struct {
	Registry *registry.Registry
	Lists    map[string]*tasklist.List
}

// Load rebuilds the registry and every list it (or the list-state store)
// references, in the order §4.6 describes: registry first (snapshot then
// its op tail), then each list (its own snapshot then its own op tail).
func Load(ctx context.Context, st storage.Adapter, actor string) (Result, error) {
	reg, err := loadRegistry(ctx, st, actor)
	if err != nil {
		return Result{}, fmt.Errorf("hydrate: registry: %w", err)
	}

	listIDs := make(map[string]struct{})
	for _, e := range reg.Set().All() {
		listIDs[e.ID] = struct{}{}
	}
	allStored, err := st.LoadAllLists(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("hydrate: load all lists: %w", err)
	}
	storedByID := make(map[string]storage.ListState, len(allStored))
	for _, ls := range allStored {
		storedByID[ls.ListID] = ls
		listIDs[ls.ListID] = struct{}{}
	}

	lists := make(map[string]*tasklist.List, len(listIDs))
	for id := range listIDs {
		l, err := loadList(actor, storedByID[id])
		if err != nil {
			return Result{}, fmt.Errorf("hydrate: list %q: %w", id, err)
		}
		lists[id] = l
	}

	return Result{Registry: reg, Lists: lists}, nil
}

func loadRegistry(ctx context.Context, st storage.Adapter, actor string) (*registry.Registry, error) {
	rs, err := st.LoadRegistry(ctx)
	if err != nil {
		return nil, err
	}

	reg := registry.New(actor)
	if rs.State != nil {
		if err := codec.DecodeSnapshot(rs.State, reg.Set()); err != nil {
			return nil, err
		}
	}

	ops := sortedByClock(rs.Operations)
	for _, rec := range ops {
		op, err := codec.DecodeOp[registry.Payload](rec.Data)
		if err != nil {
			return nil, err
		}
		if _, err := reg.Apply(op); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func loadList(actor string, stored storage.ListState) (*tasklist.List, error) {
	l := tasklist.New(actor, "")
	if stored.State != nil {
		decoded, err := codec.DecodeListSnapshot[tasklist.Payload](stored.State)
		if err != nil {
			return nil, err
		}
		l.ResetFromSnapshot(decoded.Clock, decoded.Entries, decoded.Title, decoded.TitleClock, decoded.TitleActor)
	}

	ops := sortedByClock(stored.Operations)
	for _, rec := range ops {
		var entry tasklist.LogEntry
		if err := json.Unmarshal(rec.Data, &entry); err != nil {
			return nil, fmt.Errorf("decode log entry: %w", err)
		}
		if _, err := l.ApplyLogEntry(entry); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func sortedByClock(ops []storage.OpRecord) []storage.OpRecord {
	out := append([]storage.OpRecord(nil), ops...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Clock != out[j].Clock {
			return out[i].Clock < out[j].Clock
		}
		return out[i].Actor < out[j].Actor
	})
	return out
}
