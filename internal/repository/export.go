package repository

import (
	"context"
	"time"

	"github.com/listsync/listsync/internal/codec"
	"github.com/listsync/listsync/internal/registry"
	"github.com/listsync/listsync/internal/tasklist"
)

// BuildExportSnapshot serialises the full dataset — the registry and
// every known list, live and tombstoned — into the versioned export
// wire form, per spec.md §6's {schema, version, data} export contract.
func (r *Repository) BuildExportSnapshot(exportedAt time.Time) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil, ErrNotInitialized
	}

	lists := make([]codec.ExportList[tasklist.Payload], 0, len(r.lists))
	for id, l := range r.lists {
		lists = append(lists, codec.NewExportList(id, l.Title(), l.TitleClock(), l.TitleActor(), l.Set()))
	}
	return codec.BuildExport(r.reg.Set(), lists, exportedAt)
}

// ReplaceWithSnapshot discards the current registry and list state and
// rebuilds it from a previously built export, per §5's dataset-generation
// reset path: the repository's in-memory CRDTs and their storage-backed
// snapshots are both replaced atomically, and — unlike every other
// mutation in this package — this is never expressed as an undo/redo
// entry, since a reset isn't a user edit to later reverse.
//
// When publishSnapshot is true, subscribers are notified of the new state
// once the swap and persistence both complete; pass false during initial
// bootstrap before any subscriber has attached.
func (r *Repository) ReplaceWithSnapshot(ctx context.Context, raw []byte, publishSnapshot bool) error {
	result := codec.ParseExport[registry.Payload, tasklist.Payload](raw)
	if !result.OK {
		return result.Err
	}
	env := result.Value

	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}

	codec.RestoreRegistryFromExport(env, r.reg.Set())

	decodedLists := codec.RestoreListsFromExport(env)
	seen := make(map[string]struct{}, len(decodedLists))
	for _, dl := range decodedLists {
		seen[dl.ListID] = struct{}{}
		l, ok := r.lists[dl.ListID]
		if !ok {
			l = tasklist.New(r.actorID, dl.Title)
			r.lists[dl.ListID] = l
		}
		l.ResetFromSnapshot(dl.Clock, dl.Entries, dl.Title, dl.TitleClock, dl.TitleActor)
	}
	// Lists no longer present in the imported dataset are dropped from
	// memory; their storage state is cleared below along with everything
	// else, since a reset replaces the whole local dataset.
	for id := range r.lists {
		if _, ok := seen[id]; !ok {
			delete(r.lists, id)
		}
	}

	if err := r.storage.Clear(ctx); err != nil {
		r.mu.Unlock()
		return err
	}
	r.persistRegistry(ctx)
	for id := range r.lists {
		r.persistList(ctx, id)
	}
	r.history.Reset()
	r.mu.Unlock()

	if publishSnapshot {
		r.emitRegistry()
		for id := range seen {
			r.emitList(id)
		}
	}
	return nil
}
