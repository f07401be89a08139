package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketListState  = []byte("list_state")
	bucketListOps    = []byte("list_ops")
	bucketRegistry   = []byte("registry_state")
	bucketRegistryOp = []byte("registry_ops")
	bucketSync       = []byte("sync_state")
	bucketOutbox     = []byte("outbox")
	bucketKV         = []byte("kv")

	keyRegistryState = []byte("registry")
	keySyncState     = []byte("cursor")
	keyOutboxAll     = []byte("entries")
)

// Bolt is the production Adapter, backed by a single bbolt file. Every
// exported method opens exactly one transaction, matching the "one
// write group per call" contract of Adapter.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (creating if absent) a bbolt database at path and
// ensures every top-level bucket this adapter needs exists.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketListState, bucketListOps, bucketRegistry, bucketRegistryOp,
			bucketSync, bucketOutbox, bucketKV,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Close() error { return b.db.Close() }

// opBucketKey builds the ops-bucket key "<listID>\x00<clock-be><actor>" so a
// per-list ForEach with a prefix scan enumerates operations in clock order.
func opBucketKey(listID string, clock int64, actor string) []byte {
	key := make([]byte, 0, len(listID)+1+8+len(actor))
	key = append(key, listID...)
	key = append(key, 0)
	var clockBE [8]byte
	binary.BigEndian.PutUint64(clockBE[:], uint64(clock))
	key = append(key, clockBE[:]...)
	key = append(key, actor...)
	return key
}

type persistedOp struct {
	Clock int64  `json:"clock"`
	Actor string `json:"actor"`
	Data  []byte `json:"data"`
}

type persistedListMeta struct {
	State     []byte    `json:"state"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (b *Bolt) LoadAllLists(ctx context.Context) ([]ListState, error) {
	var out []ListState
	err := b.db.View(func(tx *bolt.Tx) error {
		metaBkt := tx.Bucket(bucketListState)
		opsBkt := tx.Bucket(bucketListOps)
		return metaBkt.ForEach(func(k, v []byte) error {
			listID := string(k)
			ls, err := decodeListState(listID, v, opsBkt)
			if err != nil {
				return err
			}
			out = append(out, ls)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Bolt) LoadList(ctx context.Context, listID string) (ListState, bool, error) {
	var ls ListState
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		metaBkt := tx.Bucket(bucketListState)
		opsBkt := tx.Bucket(bucketListOps)
		raw := metaBkt.Get([]byte(listID))
		if raw == nil {
			return nil
		}
		found = true
		decoded, err := decodeListState(listID, raw, opsBkt)
		if err != nil {
			return err
		}
		ls = decoded
		return nil
	})
	if err != nil {
		return ListState{}, false, err
	}
	return ls, found, nil
}

func decodeListState(listID string, raw []byte, opsBkt *bolt.Bucket) (ListState, error) {
	var meta persistedListMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ListState{}, fmt.Errorf("storage: decode list meta %q: %w", listID, err)
	}
	ops, err := loadOpsForList(opsBkt, listID)
	if err != nil {
		return ListState{}, err
	}
	return ListState{ListID: listID, State: meta.State, Operations: ops, UpdatedAt: meta.UpdatedAt}, nil
}

func loadOpsForList(opsBkt *bolt.Bucket, listID string) ([]OpRecord, error) {
	prefix := append([]byte(listID), 0)
	var ops []OpRecord
	c := opsBkt.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		var po persistedOp
		if err := json.Unmarshal(v, &po); err != nil {
			return nil, fmt.Errorf("storage: decode op for %q: %w", listID, err)
		}
		ops = append(ops, OpRecord{Clock: po.Clock, Actor: po.Actor, Data: po.Data})
	}
	return ops, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (b *Bolt) LoadRegistry(ctx context.Context) (RegistryState, error) {
	var rs RegistryState
	err := b.db.View(func(tx *bolt.Tx) error {
		metaBkt := tx.Bucket(bucketRegistry)
		opsBkt := tx.Bucket(bucketRegistryOp)
		raw := metaBkt.Get(keyRegistryState)
		if raw != nil {
			var meta persistedListMeta
			if err := json.Unmarshal(raw, &meta); err != nil {
				return fmt.Errorf("storage: decode registry meta: %w", err)
			}
			rs.State = meta.State
			rs.UpdatedAt = meta.UpdatedAt
		}
		var ops []OpRecord
		c := opsBkt.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var po persistedOp
			if err := json.Unmarshal(v, &po); err != nil {
				return fmt.Errorf("storage: decode registry op: %w", err)
			}
			ops = append(ops, OpRecord{Clock: po.Clock, Actor: po.Actor, Data: po.Data})
		}
		rs.Operations = ops
		return nil
	})
	return rs, err
}

func (b *Bolt) PersistOperations(ctx context.Context, listID string, ops []OpRecord, snapshot []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		metaBkt := tx.Bucket(bucketListState)
		opsBkt := tx.Bucket(bucketListOps)

		if snapshot != nil {
			if err := clearPrefix(opsBkt, append([]byte(listID), 0)); err != nil {
				return err
			}
			meta, err := json.Marshal(persistedListMeta{State: snapshot, UpdatedAt: wallClock()})
			if err != nil {
				return err
			}
			if err := metaBkt.Put([]byte(listID), meta); err != nil {
				return err
			}
		} else if raw := metaBkt.Get([]byte(listID)); raw == nil {
			meta, err := json.Marshal(persistedListMeta{UpdatedAt: wallClock()})
			if err != nil {
				return err
			}
			if err := metaBkt.Put([]byte(listID), meta); err != nil {
				return err
			}
		} else {
			var meta persistedListMeta
			if err := json.Unmarshal(raw, &meta); err != nil {
				return err
			}
			meta.UpdatedAt = wallClock()
			encoded, err := json.Marshal(meta)
			if err != nil {
				return err
			}
			if err := metaBkt.Put([]byte(listID), encoded); err != nil {
				return err
			}
		}

		for _, op := range ops {
			encoded, err := json.Marshal(persistedOp{Clock: op.Clock, Actor: op.Actor, Data: op.Data})
			if err != nil {
				return err
			}
			if err := opsBkt.Put(opBucketKey(listID, op.Clock, op.Actor), encoded); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) PersistRegistry(ctx context.Context, ops []OpRecord, snapshot []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		metaBkt := tx.Bucket(bucketRegistry)
		opsBkt := tx.Bucket(bucketRegistryOp)

		if snapshot != nil {
			if err := clearAll(opsBkt); err != nil {
				return err
			}
			meta, err := json.Marshal(persistedListMeta{State: snapshot, UpdatedAt: wallClock()})
			if err != nil {
				return err
			}
			if err := metaBkt.Put(keyRegistryState, meta); err != nil {
				return err
			}
		}

		for _, op := range ops {
			encoded, err := json.Marshal(persistedOp{Clock: op.Clock, Actor: op.Actor, Data: op.Data})
			if err != nil {
				return err
			}
			if err := opsBkt.Put(opBucketKey("", op.Clock, op.Actor), encoded); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) PruneOperations(ctx context.Context, listID string, beforeClock int64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return pruneOpsBefore(tx.Bucket(bucketListOps), listID, beforeClock)
	})
}

func (b *Bolt) PruneRegistryOperations(ctx context.Context, beforeClock int64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return pruneOpsBefore(tx.Bucket(bucketRegistryOp), "", beforeClock)
	})
}

func pruneOpsBefore(opsBkt *bolt.Bucket, listID string, beforeClock int64) error {
	prefix := append([]byte(listID), 0)
	var stale [][]byte
	c := opsBkt.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		var po persistedOp
		if err := json.Unmarshal(v, &po); err != nil {
			return err
		}
		if po.Clock < beforeClock {
			stale = append(stale, append([]byte(nil), k...))
		}
	}
	for _, k := range stale {
		if err := opsBkt.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func clearPrefix(bkt *bolt.Bucket, prefix []byte) error {
	var stale [][]byte
	c := bkt.Cursor()
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := bkt.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func clearAll(bkt *bolt.Bucket) error {
	var stale [][]byte
	c := bkt.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := bkt.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bolt) LoadSyncState(ctx context.Context) (SyncState, error) {
	var st SyncState
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSync).Get(keySyncState)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &st)
	})
	return st, err
}

func (b *Bolt) PersistSyncState(ctx context.Context, state SyncState) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		encoded, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSync).Put(keySyncState, encoded)
	})
}

func (b *Bolt) LoadOutbox(ctx context.Context) ([]OutboxEntry, error) {
	var entries []OutboxEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketOutbox).Get(keyOutboxAll)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &entries)
	})
	return entries, err
}

func (b *Bolt) PersistOutbox(ctx context.Context, entries []OutboxEntry) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		encoded, err := json.Marshal(entries)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketOutbox).Put(keyOutboxAll, encoded)
	})
}

func (b *Bolt) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketKV).Get([]byte(key))
		if raw != nil {
			value = append([]byte(nil), raw...)
		}
		return nil
	})
	return value, value != nil, err
}

func (b *Bolt) Put(ctx context.Context, key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(key), value)
	})
}

func (b *Bolt) Clear(ctx context.Context) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketListState, bucketListOps, bucketRegistry, bucketRegistryOp,
			bucketSync, bucketOutbox,
		} {
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
}

var wallClock = time.Now
