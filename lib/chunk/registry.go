package chunk

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/dShard/lib/meta"
	"github.com/ValentinKolb/dShard/lib/shardkey"
)

// Registry holds one Manager per sharded namespace. Managers are created on
// first use from the collection info in the metadata store.
type Registry struct {
	env      Env
	mu       sync.Mutex
	managers map[string]*Manager
}

// NewRegistry creates an empty registry.
func NewRegistry(env Env) (*Registry, error) {
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &Registry{env: env, managers: map[string]*Manager{}}, nil
}

// ShardCollection registers ns as sharded by key and creates its manager.
func (r *Registry) ShardCollection(ns string, key []string, unique bool, primary string) (*Manager, error) {
	pattern, err := shardkey.NewPattern(key...)
	if err != nil {
		return nil, validationErr("shardCollection", "%v", err)
	}
	if _, err := r.env.Shards.Get(primary); err != nil {
		return nil, validationErr("shardCollection", "unknown primary shard %s", primary)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.managers[ns]; ok {
		return nil, validationErr("shardCollection", "%s is already sharded", ns)
	}
	existing, ok, err := r.env.Meta.GetCollection(ns)
	if err != nil {
		return nil, fatalErr(KindStore, "shardCollection", err, "can't read collection %s", ns)
	}
	if ok {
		return nil, validationErr("shardCollection", "%s is already sharded by %v", ns, existing.Key)
	}

	info := meta.CollectionInfo{NS: ns, Key: key, Unique: unique, Primary: primary}
	if err := r.env.Meta.SaveCollection(info); err != nil {
		return nil, fatalErr(KindStore, "shardCollection", err, "can't save collection %s", ns)
	}
	m, err := NewManager(info, pattern, r.env)
	if err != nil {
		return nil, err
	}
	r.managers[ns] = m
	log.Infof("sharded %s by %s on %s", ns, pattern, primary)
	return m, nil
}

// Get returns the manager of ns.
func (r *Registry) Get(ns string) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.managers[ns]; ok {
		return m, nil
	}
	info, ok, err := r.env.Meta.GetCollection(ns)
	if err != nil {
		return nil, fatalErr(KindStore, "get", err, "can't read collection %s", ns)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSharded, ns)
	}
	pattern, err := shardkey.NewPattern(info.Key...)
	if err != nil {
		return nil, fmt.Errorf("collection %s has an invalid key: %w", ns, err)
	}
	m, err := NewManager(info, pattern, r.env)
	if err != nil {
		return nil, err
	}
	r.managers[ns] = m
	return m, nil
}

// Drop drops ns and forgets its manager.
func (r *Registry) Drop(ns string) error {
	m, err := r.Get(ns)
	if err != nil {
		return err
	}
	err = m.Drop()
	r.mu.Lock()
	delete(r.managers, ns)
	r.mu.Unlock()
	return err
}

// Collections returns the names of all sharded collections.
func (r *Registry) Collections() ([]string, error) {
	names, err := r.env.Meta.ListCollections()
	if err != nil {
		return nil, fatalErr(KindStore, "collections", err, "can't list collections")
	}
	return names, nil
}
