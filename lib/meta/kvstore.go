package meta

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ValentinKolb/dShard/lib/lockmgr"
	"github.com/ValentinKolb/dShard/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("meta")

const (
	keyLastmod     = "lastmod"
	keyCollections = "colls"
	keyWriteLock   = "meta/write"

	lockTTL = 30 // seconds
)

var (
	lockAttempts = 10
	lockBackoff  = 2 * time.Millisecond
)

func chunkIndexKey(ns string) string { return "chunks/" + ns }
func chunkKey(id string) string      { return "chunk/" + id }
func collectionKey(ns string) string { return "coll/" + ns }
func changelogKey(ns string) string  { return "changelog/" + ns }

type kvMetaStore struct {
	store store.IStore
	locks lockmgr.ILockManager
	mu    sync.Mutex
	now   func() time.Time
}

// NewKVMetaStore creates a metadata store on top of any store.IStore.
func NewKVMetaStore(s store.IStore) IMetaStore {
	return &kvMetaStore{
		store: s,
		locks: lockmgr.NewLockManager(s),
		now:   time.Now,
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s (%s): %v", ErrStoreUnavailable, op, store.CodeOf(err), err)
}

// withWriteLock runs fn while holding the process local mutex and the shared
// write lease of the store.
func (m *kvMetaStore) withWriteLock(op string, fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ok, owner, err := lockmgr.AcquireWithRetry(m.locks, keyWriteLock, lockTTL, lockAttempts, lockBackoff)
	if err != nil {
		return unavailable(op, err)
	}
	if !ok {
		return unavailable(op, fmt.Errorf("write lock is held by another router"))
	}
	defer func() {
		if _, err := m.locks.ReleaseLock(keyWriteLock, owner); err != nil {
			log.Warningf("failed to release %s: %v", keyWriteLock, err)
		}
	}()
	return fn()
}

func (m *kvMetaStore) getJSON(key string, v any) (bool, error) {
	b, ok, err := m.store.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (m *kvMetaStore) setJSON(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.store.Set(key, b)
}

func (m *kvMetaStore) getList(key string) ([]string, error) {
	var list []string
	_, err := m.getJSON(key, &list)
	return list, err
}

func addToList(list []string, v string) ([]string, bool) {
	for _, x := range list {
		if x == v {
			return list, false
		}
	}
	return append(list, v), true
}

func removeFromList(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// nextLastmod allocates the next version. Must be called with the write lock held.
func (m *kvMetaStore) nextLastmod() (uint64, error) {
	var prev uint64
	b, ok, err := m.store.Get(keyLastmod)
	if err != nil {
		return 0, err
	}
	if ok {
		prev, err = strconv.ParseUint(string(b), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("decode %s: %w", keyLastmod, err)
		}
	}
	next := prev + 1
	if ts := uint64(m.now().Unix()) << 32; ts > next {
		next = ts
	}
	if err := m.store.Set(keyLastmod, []byte(strconv.FormatUint(next, 10))); err != nil {
		return 0, err
	}
	return next, nil
}

// --------------------------------------------------------------------------
// Chunks
// --------------------------------------------------------------------------

func (m *kvMetaStore) LoadChunks(ns string) ([]ChunkRecord, error) {
	ids, err := m.getList(chunkIndexKey(ns))
	if err != nil {
		return nil, unavailable("load chunks", err)
	}
	out := make([]ChunkRecord, 0, len(ids))
	for _, id := range ids {
		var rec ChunkRecord
		ok, err := m.getJSON(chunkKey(id), &rec)
		if err != nil {
			return nil, unavailable("load chunks", err)
		}
		if !ok {
			// index and record are written in two steps, a dangling id is skipped
			log.Warningf("chunk index of %s references missing record %s", ns, id)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *kvMetaStore) SaveChunk(rec ChunkRecord) (ChunkRecord, error) {
	if rec.ID == "" || rec.NS == "" {
		return rec, fmt.Errorf("chunk record needs id and ns")
	}
	err := m.withWriteLock("save chunk", func() error {
		if rec.Lastmod == 0 {
			v, err := m.nextLastmod()
			if err != nil {
				return err
			}
			rec.Lastmod = v
		}
		if err := m.setJSON(chunkKey(rec.ID), rec); err != nil {
			return err
		}
		ids, err := m.getList(chunkIndexKey(rec.NS))
		if err != nil {
			return err
		}
		if ids, added := addToList(ids, rec.ID); added {
			return m.setJSON(chunkIndexKey(rec.NS), ids)
		}
		return nil
	})
	if err != nil {
		return rec, unavailable("save chunk", err)
	}
	return rec, nil
}

func (m *kvMetaStore) RemoveChunks(ns string) error {
	err := m.withWriteLock("remove chunks", func() error {
		ids, err := m.getList(chunkIndexKey(ns))
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := m.store.Delete(chunkKey(id)); err != nil {
				return err
			}
		}
		return m.store.Delete(chunkIndexKey(ns))
	})
	if err != nil {
		return unavailable("remove chunks", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Collections
// --------------------------------------------------------------------------

func (m *kvMetaStore) GetCollection(ns string) (CollectionInfo, bool, error) {
	var info CollectionInfo
	ok, err := m.getJSON(collectionKey(ns), &info)
	if err != nil {
		return info, false, unavailable("get collection", err)
	}
	return info, ok, nil
}

func (m *kvMetaStore) SaveCollection(info CollectionInfo) error {
	if info.NS == "" || len(info.Key) == 0 {
		return fmt.Errorf("collection info needs ns and key")
	}
	err := m.withWriteLock("save collection", func() error {
		if err := m.setJSON(collectionKey(info.NS), info); err != nil {
			return err
		}
		names, err := m.getList(keyCollections)
		if err != nil {
			return err
		}
		if names, added := addToList(names, info.NS); added {
			return m.setJSON(keyCollections, names)
		}
		return nil
	})
	if err != nil {
		return unavailable("save collection", err)
	}
	return nil
}

func (m *kvMetaStore) RemoveCollection(ns string) error {
	err := m.withWriteLock("remove collection", func() error {
		has, err := m.store.Has(collectionKey(ns))
		if err != nil {
			return err
		}
		if !has {
			return fmt.Errorf("no sharding data for %s", ns)
		}
		if err := m.store.Delete(collectionKey(ns)); err != nil {
			return err
		}
		names, err := m.getList(keyCollections)
		if err != nil {
			return err
		}
		return m.setJSON(keyCollections, removeFromList(names, ns))
	})
	if err != nil {
		return unavailable("remove collection", err)
	}
	return nil
}

func (m *kvMetaStore) ListCollections() ([]string, error) {
	names, err := m.getList(keyCollections)
	if err != nil {
		return nil, unavailable("list collections", err)
	}
	sort.Strings(names)
	return names, nil
}

// --------------------------------------------------------------------------
// Change log
// --------------------------------------------------------------------------

func (m *kvMetaStore) LogChange(what, ns string, details map[string]any) error {
	entry := ChangeEntry{What: what, NS: ns, Time: m.now().UTC(), Details: details}
	err := m.withWriteLock("log change", func() error {
		var entries []ChangeEntry
		if _, err := m.getJSON(changelogKey(ns), &entries); err != nil {
			return err
		}
		return m.setJSON(changelogKey(ns), append(entries, entry))
	})
	if err != nil {
		return unavailable("log change", err)
	}
	return nil
}

func (m *kvMetaStore) Changes(ns string) ([]ChangeEntry, error) {
	var entries []ChangeEntry
	if _, err := m.getJSON(changelogKey(ns), &entries); err != nil {
		return nil, unavailable("changes", err)
	}
	return entries, nil
}
