package memshard

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dShard/lib/lockmgr"
	"github.com/ValentinKolb/dShard/lib/shard"
	"github.com/ValentinKolb/dShard/lib/shardkey"
	"github.com/ValentinKolb/dShard/lib/store/lstore"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/zhangyunhao116/skipmap"
)

var log = logger.GetLogger("shard")

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

type docKey struct {
	key shardkey.Key
	seq uint64
}

type storedDoc struct {
	doc  shardkey.Doc
	size int64
}

type migration struct {
	token  string
	from   string
	to     string
	filter shardkey.Filter
}

type namespace struct {
	mu      sync.RWMutex
	pattern *shardkey.Pattern
	docs    *skipmap.FuncMap[docKey, storedDoc]
	size    atomic.Int64

	indexes   map[string]bool // key fields -> unique
	migration *migration
}

// Engine is an in-memory shard.
type Engine struct {
	name  string
	seq   atomic.Uint64
	nss   *xsync.MapOf[string, *namespace]
	locks lockmgr.ILockManager

	peersMu sync.RWMutex
	peers   shard.IDirectory

	versionsMu sync.Mutex
	versions   map[string]uint64 // routing versions set by SetVersion
}

// New creates an empty shard called name.
func New(name string) *Engine {
	return &Engine{
		name:     name,
		nss:      xsync.NewMapOf[string, *namespace](),
		locks:    lockmgr.NewLockManager(lstore.NewLocalStore()),
		versions: map[string]uint64{},
	}
}

// SetPeers sets the directory used to hand over documents during migrations.
func (e *Engine) SetPeers(peers shard.IDirectory) {
	e.peersMu.Lock()
	e.peers = peers
	e.peersMu.Unlock()
}

// Name returns the name of the shard.
func (e *Engine) Name() string {
	return e.name
}

var _ shard.IShard = (*Engine)(nil)

func newNamespace(fields []string) (*namespace, error) {
	p, err := shardkey.NewPattern(fields...)
	if err != nil {
		return nil, err
	}
	return &namespace{
		pattern: p,
		docs: skipmap.NewFunc[docKey, storedDoc](func(a, b docKey) bool {
			if c := shardkey.Compare(a.key, b.key); c != 0 {
				return c < 0
			}
			return a.seq < b.seq
		}),
		indexes: map[string]bool{},
	}, nil
}

// getOrCreate returns the namespace, creating it with the given shard key.
func (e *Engine) getOrCreate(name string, fields []string) (*namespace, error) {
	if ns, ok := e.nss.Load(name); ok {
		if !slices.Equal(ns.pattern.Fields(), fields) {
			return nil, fmt.Errorf("%w: %s is keyed by %v", shard.ErrKeyMismatch, name, ns.pattern.Fields())
		}
		return ns, nil
	}
	created, err := newNamespace(fields)
	if err != nil {
		return nil, err
	}
	ns, _ := e.nss.LoadOrStore(name, created)
	if !slices.Equal(ns.pattern.Fields(), fields) {
		return nil, fmt.Errorf("%w: %s is keyed by %v", shard.ErrKeyMismatch, name, ns.pattern.Fields())
	}
	return ns, nil
}

// lookup returns the namespace for a filtered read. A missing namespace is not an error.
func (e *Engine) lookup(name string, filter shardkey.Filter) (*namespace, error) {
	ns, ok := e.nss.Load(name)
	if !ok {
		return nil, nil
	}
	if len(filter.Fields) > 0 && !slices.Equal(ns.pattern.Fields(), filter.Fields) {
		return nil, fmt.Errorf("%w: %s is keyed by %v", shard.ErrKeyMismatch, name, ns.pattern.Fields())
	}
	return ns, nil
}

// scan calls fn for every matching document in ascending key order until fn returns false.
// The caller must hold the namespace lock.
func (ns *namespace) scan(filter shardkey.Filter, fn func(k docKey, d storedDoc) bool) {
	ns.docs.Range(func(k docKey, d storedDoc) bool {
		if len(filter.Max) > 0 && shardkey.Compare(k.key, filter.Max) >= 0 {
			return false
		}
		if !filter.Matches(k.key) {
			return true
		}
		return fn(k, d)
	})
}

// --------------------------------------------------------------------------
// Documents
// --------------------------------------------------------------------------

func (e *Engine) Insert(name string, keyFields []string, docs []shardkey.Doc) error {
	ns, err := e.getOrCreate(name, keyFields)
	if err != nil {
		return err
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	for _, d := range docs {
		if err := e.insertLocked(ns, d); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) insertLocked(ns *namespace, d shardkey.Doc) error {
	key, err := ns.pattern.ExtractKey(d)
	if err != nil {
		return err
	}
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	ns.docs.Store(docKey{key: key, seq: e.seq.Add(1)}, storedDoc{doc: d, size: int64(len(b))})
	ns.size.Add(int64(len(b)))
	return nil
}

func (e *Engine) Find(name string, filter shardkey.Filter) ([]shardkey.Doc, error) {
	ns, err := e.lookup(name, filter)
	if err != nil || ns == nil {
		return nil, err
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	var out []shardkey.Doc
	ns.scan(filter, func(_ docKey, d storedDoc) bool {
		out = append(out, d.doc)
		return true
	})
	return out, nil
}

func (e *Engine) FindOne(name string, filter shardkey.Filter, descending bool) (shardkey.Doc, bool, error) {
	ns, err := e.lookup(name, filter)
	if err != nil || ns == nil {
		return nil, false, err
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	var (
		found shardkey.Doc
		ok    bool
	)
	ns.scan(filter, func(_ docKey, d storedDoc) bool {
		found, ok = d.doc, true
		return descending
	})
	return found, ok, nil
}

func (e *Engine) Count(name string, filter shardkey.Filter) (int64, error) {
	ns, err := e.lookup(name, filter)
	if err != nil || ns == nil {
		return 0, err
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	var n int64
	ns.scan(filter, func(docKey, storedDoc) bool {
		n++
		return true
	})
	return n, nil
}

func (e *Engine) DataSize(name string, filter shardkey.Filter, maxSize int64) (int64, error) {
	ns, err := e.lookup(name, filter)
	if err != nil || ns == nil {
		return 0, err
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	var size int64
	ns.scan(filter, func(_ docKey, d storedDoc) bool {
		size += d.size
		return maxSize <= 0 || size <= maxSize
	})
	return size, nil
}

func (e *Engine) MedianKey(name string, filter shardkey.Filter) (shardkey.Key, error) {
	ns, err := e.lookup(name, filter)
	if err != nil || ns == nil {
		return nil, err
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	var keys []shardkey.Key
	ns.scan(filter, func(k docKey, _ storedDoc) bool {
		keys = append(keys, k.key)
		return true
	})
	if len(keys) == 0 {
		return nil, nil
	}
	return keys[len(keys)/2], nil
}

// --------------------------------------------------------------------------
// Migrations
// --------------------------------------------------------------------------

func (e *Engine) MoveChunkStart(name, from, to string, filter shardkey.Filter) (string, error) {
	if from != e.name {
		return "", fmt.Errorf("migration source %s is not this shard (%s)", from, e.name)
	}
	if to == e.name {
		return "", fmt.Errorf("can not migrate %s to itself", name)
	}
	ns, err := e.getOrCreate(name, filter.Fields)
	if err != nil {
		return "", err
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.migration != nil {
		return "", fmt.Errorf("%w: %s -> %s", shard.ErrMigrationInProgress, ns.migration.from, ns.migration.to)
	}
	ns.migration = &migration{token: uuid.NewString(), from: from, to: to, filter: filter}
	log.Infof("[%s] migration of %s %v started (to %s)", e.name, name, filter.Doc(), to)
	return ns.migration.token, nil
}

func (e *Engine) MoveChunkFinish(name, to string, newVersion uint64, token string) error {
	ns, ok := e.nss.Load(name)
	if !ok {
		return fmt.Errorf("%w: no migration for %s", shard.ErrInvalidToken, name)
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	mig := ns.migration
	if mig == nil || mig.token != token || mig.to != to {
		return fmt.Errorf("%w: %s", shard.ErrInvalidToken, name)
	}
	ns.migration = nil

	var (
		keys []docKey
		docs []shardkey.Doc
	)
	ns.scan(mig.filter, func(k docKey, d storedDoc) bool {
		keys = append(keys, k)
		docs = append(docs, d.doc)
		return true
	})

	if len(docs) > 0 {
		e.peersMu.RLock()
		peers := e.peers
		e.peersMu.RUnlock()
		if peers != nil {
			target, err := peers.Get(to)
			if err != nil {
				return err
			}
			if err := target.Insert(name, ns.pattern.Fields(), docs); err != nil {
				return fmt.Errorf("hand over %d documents to %s: %w", len(docs), to, err)
			}
		}
	}
	for _, k := range keys {
		if d, ok := ns.docs.LoadAndDelete(k); ok {
			ns.size.Add(-d.size)
		}
	}
	e.versionsMu.Lock()
	e.versions[name] = newVersion
	e.versionsMu.Unlock()
	log.Infof("[%s] migration of %s to %s finished, %d documents moved, version %d", e.name, name, to, len(docs), newVersion)
	return nil
}

func (e *Engine) MoveChunkAbort(name, token string) error {
	ns, ok := e.nss.Load(name)
	if !ok {
		return fmt.Errorf("%w: no migration for %s", shard.ErrInvalidToken, name)
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.migration == nil || ns.migration.token != token {
		return fmt.Errorf("%w: %s", shard.ErrInvalidToken, name)
	}
	log.Infof("[%s] migration of %s to %s aborted", e.name, name, ns.migration.to)
	ns.migration = nil
	return nil
}

// --------------------------------------------------------------------------
// Administration
// --------------------------------------------------------------------------

func (e *Engine) DropCollection(name string) error {
	ns, ok := e.nss.LoadAndDelete(name)
	if ok {
		ns.mu.Lock()
		ns.migration = nil
		ns.mu.Unlock()
	}
	e.versionsMu.Lock()
	delete(e.versions, name)
	e.versionsMu.Unlock()
	log.Infof("[%s] dropped %s", e.name, name)
	return nil
}

func (e *Engine) SetVersion(name string, version uint64, authoritative bool) error {
	e.versionsMu.Lock()
	defer e.versionsMu.Unlock()
	if cur, ok := e.versions[name]; ok && !authoritative && version < cur && version != 0 {
		return fmt.Errorf("version %d for %s is older than %d", version, name, cur)
	}
	e.versions[name] = version
	return nil
}

// Version returns the routing version last set for ns.
func (e *Engine) Version(name string) uint64 {
	e.versionsMu.Lock()
	defer e.versionsMu.Unlock()
	return e.versions[name]
}

func (e *Engine) EnsureIndex(name string, keyFields []string, unique bool) error {
	ns, err := e.getOrCreate(name, keyFields)
	if err != nil {
		return err
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.indexes[fmt.Sprint(keyFields)] = unique
	return nil
}

func (e *Engine) LockNamespace(name string, timeout uint64) ([]byte, error) {
	ok, owner, err := e.locks.AcquireLock("ns/"+name, timeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("namespace %s is locked on %s", name, e.name)
	}
	return owner, nil
}

func (e *Engine) UnlockNamespace(name string, owner []byte) error {
	ok, err := e.locks.ReleaseLock("ns/"+name, owner)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("namespace lock of %s on %s is held by someone else", name, e.name)
	}
	return nil
}

func (e *Engine) Stats() (shard.Stats, error) {
	st := shard.Stats{Name: e.name, Versions: map[string]uint64{}}
	e.nss.Range(func(name string, ns *namespace) bool {
		st.Namespaces++
		st.Documents += int64(ns.docs.Len())
		st.DataSize += ns.size.Load()
		return true
	})
	e.versionsMu.Lock()
	for k, v := range e.versions {
		st.Versions[k] = v
	}
	e.versionsMu.Unlock()
	return st, nil
}
