package chunk

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dShard/lib/balancer"
	"github.com/ValentinKolb/dShard/lib/meta"
	"github.com/ValentinKolb/dShard/lib/shard"
	"github.com/ValentinKolb/dShard/lib/shardkey"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("chunk")

// Env bundles the collaborators of a Manager.
type Env struct {
	Meta   meta.IMetaStore
	Shards shard.IDirectory
	Picker balancer.IPicker
	Config Config
}

func (e Env) validate() error {
	switch {
	case e.Meta == nil:
		return fmt.Errorf("missing metadata store")
	case e.Shards == nil:
		return fmt.Errorf("missing shard directory")
	case e.Picker == nil:
		return fmt.Errorf("missing shard picker")
	}
	return nil
}

// Manager is the routing table of one sharded collection. It owns the chunks,
// the chunk map keyed by max and the derived range index.
//
// Reads (routing, versions) take the shared lock, structural changes (split,
// migration, reload, drop) the exclusive lock. Shard commands are issued
// outside the lock except during drop.
type Manager struct {
	ns      string
	pattern shardkey.IPattern
	unique  bool
	primary string

	meta   meta.IMetaStore
	shards shard.IDirectory
	picker balancer.IPicker
	config Config

	mu         sync.RWMutex
	generation uint64
	chunkMap   *maxIndex[*Chunk]
	ranges     *RangeManager

	sequence atomic.Uint64
	saveMu   sync.Mutex
}

// NewManager loads the chunks of a sharded collection. A collection without
// chunks gets a single chunk covering the whole key space on the primary
// shard, which is persisted right away.
func NewManager(info meta.CollectionInfo, pattern shardkey.IPattern, env Env) (*Manager, error) {
	if err := env.validate(); err != nil {
		return nil, err
	}
	if info.NS == "" || info.Primary == "" {
		return nil, fmt.Errorf("collection needs a namespace and a primary shard")
	}
	m := &Manager{
		ns:       info.NS,
		pattern:  pattern,
		unique:   info.Unique,
		primary:  info.Primary,
		meta:     env.Meta,
		shards:   env.Shards,
		picker:   env.Picker,
		config:   env.Config.withDefaults(),
		chunkMap: newMaxIndex[*Chunk](pattern.Compare),
		ranges:   newRangeManager(info.NS, pattern),
	}

	m.mu.Lock()
	if err := m.reloadLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	created := false
	if m.chunkMap.len() == 0 {
		c := m.newChunkLocked(pattern.GlobalMin(), pattern.GlobalMax(), m.primary)
		c.markModified()
		m.chunkMap.set(c.max, c)
		m.ranges.reloadAll(m.chunkMap)
		created = true
	}
	m.mu.Unlock()

	if created {
		log.Infof("no chunks for %s, created %s", m.ns, m.chunksString())
		if err := m.Save(); err != nil {
			return nil, err
		}
	}
	m.sequence.Store(nextSequenceNumber.Add(1))
	return m, nil
}

// newChunkLocked creates a chunk of the current generation. Requires mu.
func (m *Manager) newChunkLocked(min, max shardkey.Key, owner string) *Chunk {
	return &Chunk{
		manager: m,
		gen:     m.generation,
		id:      genID(m.ns, m.pattern, min),
		min:     min,
		max:     max,
		shard:   owner,
	}
}

// reloadLocked replaces the cached chunks with the persisted ones and starts
// a new generation. Requires the exclusive lock.
func (m *Manager) reloadLocked() error {
	recs, err := m.meta.LoadChunks(m.ns)
	if err != nil {
		return fatalErr(KindStore, "reload", err, "can't load chunks of %s", m.ns)
	}
	m.generation++
	m.chunkMap.clear()
	for _, rec := range recs {
		if rec.IsMaxMarker {
			continue
		}
		c := m.newChunkLocked(rec.Min, rec.Max, rec.Shard)
		c.id = rec.ID
		c.lastmod.Store(rec.Lastmod)
		m.chunkMap.set(c.max, c)
	}
	m.ranges.reloadAll(m.chunkMap)
	reloadsTotal.Inc()
	log.Debugf("loaded %d chunks of %s (generation %d)", m.chunkMap.len(), m.ns, m.generation)
	return nil
}

// Reload replaces the cached chunks with the persisted ones. All chunk
// handles obtained before become stale.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloadLocked()
}

func (m *Manager) shardClient(op, name string) (shard.IShard, error) {
	s, err := m.shards.Get(name)
	if err != nil {
		return nil, remoteErr(op, err, "can't reach shard %s", name)
	}
	return s, nil
}

func (m *Manager) unlockNamespace(s shard.IShard, name string, owner []byte) {
	if err := s.UnlockNamespace(m.ns, owner); err != nil {
		log.Warningf("failed to unlock %s on %s: %v", m.ns, name, err)
	}
}

// abortMigration clears a started migration on the source shard so it can be retried.
func (m *Manager) abortMigration(s shard.IShard, name, token string) {
	migrationFailuresTotal.Inc()
	if err := s.MoveChunkAbort(m.ns, token); err != nil {
		log.Warningf("failed to abort migration of %s on %s: %v", m.ns, name, err)
	}
}

func (m *Manager) logChange(what string, details map[string]any) {
	if err := m.meta.LogChange(what, m.ns, details); err != nil {
		log.Warningf("failed to log %s of %s: %v", what, m.ns, err)
	}
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// NS returns the namespace of the collection.
func (m *Manager) NS() string { return m.ns }

// Pattern returns the shard key pattern.
func (m *Manager) Pattern() shardkey.IPattern { return m.pattern }

// Unique reports whether the shard key is unique.
func (m *Manager) Unique() bool { return m.unique }

// Primary returns the primary shard of the collection.
func (m *Manager) Primary() string { return m.primary }

// SequenceNumber changes on every persisted save and is unique across all
// managers of the process.
func (m *Manager) SequenceNumber() uint64 {
	return m.sequence.Load()
}

// HasShardKey reports whether doc contains every shard key field.
func (m *Manager) HasShardKey(doc shardkey.Doc) bool {
	return m.pattern.HasShardKey(doc)
}

// NumChunks returns the number of chunks.
func (m *Manager) NumChunks() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chunkMap.len()
}

// Chunks returns the current chunk handles ordered by key.
func (m *Manager) Chunks() []*Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chunksLocked()
}

func (m *Manager) chunksLocked() []*Chunk {
	out := make([]*Chunk, 0, m.chunkMap.len())
	m.chunkMap.each(func(e entry[*Chunk]) bool {
		out = append(out, e.val)
		return true
	})
	return out
}

// Ranges returns the merged chunk ranges ordered by key.
func (m *Manager) Ranges() []ChunkRange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ranges.all()
}

// AllShards returns the sorted names of the shards owning at least one chunk.
func (m *Manager) AllShards() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allShardsLocked()
}

func (m *Manager) allShardsLocked() []string {
	set := map[string]struct{}{}
	m.chunkMap.each(func(e entry[*Chunk]) bool {
		set[e.val.shard] = struct{}{}
		return true
	})
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FindChunkOnShard returns any chunk owned by the shard, or nil.
func (m *Manager) FindChunkOnShard(name string) *Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findChunkOnShardLocked(name)
}

func (m *Manager) findChunkOnShardLocked(name string) *Chunk {
	var found *Chunk
	m.chunkMap.each(func(e entry[*Chunk]) bool {
		if e.val.shard == name {
			found = e.val
			return false
		}
		return true
	})
	return found
}

// GetVersionFor returns the highest lastmod among the chunks of a shard, or 0.
func (m *Manager) GetVersionFor(name string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var v uint64
	m.chunkMap.each(func(e entry[*Chunk]) bool {
		if e.val.shard == name {
			v = max(v, e.val.lastmod.Load())
		}
		return true
	})
	return v
}

// GetVersion returns the highest lastmod among all chunks.
func (m *Manager) GetVersion() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versionLocked()
}

func (m *Manager) versionLocked() uint64 {
	var v uint64
	m.chunkMap.each(func(e entry[*Chunk]) bool {
		v = max(v, e.val.lastmod.Load())
		return true
	})
	return v
}

// AssertValid checks the range index against the chunk map.
func (m *Manager) AssertValid() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ranges.assertValid(m.chunkMap)
}

func (m *Manager) chunksString() string {
	var b strings.Builder
	for _, c := range m.Chunks() {
		b.WriteString("\n\t")
		b.WriteString(c.String())
	}
	return b.String()
}

func (m *Manager) String() string {
	return fmt.Sprintf("ChunkManager: %s key:%v%s", m.ns, m.pattern.Fields(), m.chunksString())
}

// --------------------------------------------------------------------------
// Routing
// --------------------------------------------------------------------------

// FindChunk returns the chunk containing the shard key of doc.
//
// A miss in the chunk map forces one full reload from the metadata store.
// A miss after the reload means the metadata itself is inconsistent and is
// reported as a fatal error.
func (m *Manager) FindChunk(doc shardkey.Doc) (*Chunk, error) {
	key, err := m.pattern.ExtractKey(doc)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Op: "findChunk", Msg: "can't route document", Err: err}
	}
	return m.FindChunkByKey(key)
}

// FindChunkByKey returns the chunk containing key.
func (m *Manager) FindChunkByKey(key shardkey.Key) (*Chunk, error) {
	return m.findChunk(key, false)
}

func (m *Manager) findChunk(key shardkey.Key, retry bool) (*Chunk, error) {
	m.mu.RLock()
	e, ok := m.chunkMap.upperBound(key)
	if ok && e.val.containsLocked(key) {
		m.mu.RUnlock()
		return e.val, nil
	}
	m.mu.RUnlock()

	if retry {
		return nil, fatalErr(KindCacheInconsistency, "findChunk", nil, "couldn't find a chunk for %s in %s after reload", key, m.ns)
	}
	log.Warningf("no chunk for %s in %s, reloading", key, m.ns)
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m.findChunk(key, true)
}

// probe builds a full key from a leading field value.
func (m *Manager) probe(v any, pad shardkey.Sentinel) shardkey.Key {
	k := make(shardkey.Key, len(m.pattern.Fields()))
	k[0] = v
	for i := 1; i < len(k); i++ {
		k[i] = pad
	}
	return k
}

// GetChunksForQuery returns the ranges a query on the leading shard key field
// may touch, ordered by key. Only the leading field is considered.
func (m *Manager) GetChunksForQuery(query shardkey.Doc) ([]ChunkRange, error) {
	const op = "getChunksForQuery"
	fields := m.pattern.Fields()
	fr, err := shardkey.Analyze(query, fields[0])
	if err != nil {
		if errors.Is(err, shardkey.ErrUnsupportedQuery) {
			return nil, &Error{Kind: KindUnsupported, Op: op, Msg: "can't route query", Err: err}
		}
		return nil, &Error{Kind: KindValidation, Op: op, Msg: "invalid query", Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if fr.Empty() {
		return nil, nil
	}
	if fr.Unconstrained() {
		return m.ranges.all(), nil
	}
	if v, ok := fr.Equality(); ok && len(fields) == 1 {
		e, ok := m.ranges.ranges.upperBound(shardkey.Key{v})
		if !ok {
			return nil, nil
		}
		return []ChunkRange{e.val}, nil
	}

	found := newMaxIndex[ChunkRange](m.pattern.Compare)
	for _, iv := range fr.Intervals {
		var (
			start, end     entry[ChunkRange]
			okStart, okEnd bool
		)
		if iv.Lower.Inclusive {
			start, okStart = m.ranges.ranges.upperBound(m.probe(iv.Lower.Value, shardkey.MinKey))
		} else {
			start, okStart = m.ranges.ranges.lowerBound(m.probe(iv.Lower.Value, shardkey.MaxKey))
		}
		if !okStart {
			continue
		}
		if iv.Upper.Inclusive {
			end, okEnd = m.ranges.ranges.upperBound(m.probe(iv.Upper.Value, shardkey.MaxKey))
		} else {
			end, okEnd = m.ranges.ranges.lowerBound(m.probe(iv.Upper.Value, shardkey.MinKey))
		}
		m.ranges.ranges.ascendFrom(start.max, func(e entry[ChunkRange]) bool {
			found.set(e.max, e.val)
			return !okEnd || m.pattern.Compare(e.max, end.max) < 0
		})
	}

	out := make([]ChunkRange, 0, found.len())
	found.each(func(e entry[ChunkRange]) bool {
		out = append(out, e.val)
		return true
	})
	return out, nil
}

// GetShardsForQuery returns the sorted names of the shards a query may touch.
func (m *Manager) GetShardsForQuery(query shardkey.Doc) ([]string, error) {
	if _, constrained := query[m.pattern.Fields()[0]]; !constrained {
		if _, err := shardkey.Analyze(query, m.pattern.Fields()[0]); err != nil {
			return nil, &Error{Kind: KindUnsupported, Op: "getShardsForQuery", Msg: "can't route query", Err: err}
		}
		return m.AllShards(), nil
	}
	ranges, err := m.GetChunksForQuery(query)
	if err != nil {
		return nil, err
	}
	set := map[string]struct{}{}
	for _, r := range ranges {
		set[r.shard] = struct{}{}
	}
	return sortedKeys(set), nil
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

// Save persists every modified chunk, bumps the sequence number and makes
// sure the shard key index exists on every shard owning chunks.
func (m *Manager) Save() error {
	const op = "save"
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	type pending struct {
		c   *Chunk
		rec meta.ChunkRecord
	}
	m.mu.RLock()
	before := m.versionLocked()
	var dirty []pending
	m.chunkMap.each(func(e entry[*Chunk]) bool {
		if e.val.modified.Swap(false) {
			dirty = append(dirty, pending{c: e.val, rec: e.val.recordLocked()})
		}
		return true
	})
	shards := m.allShardsLocked()
	m.mu.RUnlock()

	if len(dirty) == 0 {
		return nil
	}

	for i, p := range dirty {
		p.rec.Lastmod = 0
		saved, err := m.meta.SaveChunk(p.rec)
		if err != nil {
			for _, rest := range dirty[i:] {
				rest.c.markModified()
			}
			return fatalErr(KindStore, op, err, "can't save chunk %s", p.rec.ID)
		}
		p.c.lastmod.Store(saved.Lastmod)
	}
	m.sequence.Store(nextSequenceNumber.Add(1))

	if after := m.GetVersion(); after < before {
		return fatalErr(KindStore, op, nil, "version of %s went backwards (%d < %d)", m.ns, after, before)
	}

	for _, name := range shards {
		s, err := m.shards.Get(name)
		if err != nil {
			log.Warningf("ensureIndex of %s on %s skipped: %v", m.ns, name, err)
			continue
		}
		if err := s.EnsureIndex(m.ns, m.pattern.Fields(), m.unique); err != nil {
			log.Warningf("ensureIndex of %s on %s failed: %v", m.ns, name, err)
		}
	}
	return nil
}

// Drop removes the collection from every shard and deletes its metadata.
//
// Every step is fatal on failure and nothing is rolled back: namespace locks
// already taken stay held until their lease runs out, and shards dropped
// before a failure stay dropped.
func (m *Manager) Drop() error {
	const op = "drop"
	m.mu.Lock()
	defer m.mu.Unlock()

	names := m.allShardsLocked()
	clients := make(map[string]shard.IShard, len(names))
	owners := make(map[string][]byte, len(names))
	for _, name := range names {
		s, err := m.shards.Get(name)
		if err != nil {
			return fatalErr(KindLock, op, err, "can't reach %s to lock %s", name, m.ns)
		}
		owner, err := s.LockNamespace(m.ns, m.config.LockTimeout)
		if err != nil {
			return fatalErr(KindLock, op, err, "can't lock %s on %s", m.ns, name)
		}
		clients[name] = s
		owners[name] = owner
	}

	log.Infof("dropping %s on %v", m.ns, names)
	m.generation++
	m.chunkMap.clear()
	m.ranges.clear()

	for _, name := range names {
		if err := clients[name].DropCollection(m.ns); err != nil {
			return fatalErr(KindRemote, op, err, "dropCollection of %s on %s failed", m.ns, name)
		}
	}
	if err := m.meta.RemoveChunks(m.ns); err != nil {
		return fatalErr(KindStore, op, err, "can't remove chunks of %s", m.ns)
	}
	if err := m.meta.RemoveCollection(m.ns); err != nil {
		return fatalErr(KindStore, op, err, "no sharding data for %s", m.ns)
	}
	for _, name := range names {
		if err := clients[name].SetVersion(m.ns, 0, true); err != nil {
			return fatalErr(KindRemote, op, err, "setVersion of %s on %s failed", m.ns, name)
		}
	}
	for _, name := range names {
		m.unlockNamespace(clients[name], name, owners[name])
	}

	dropsTotal.Inc()
	log.Infof("dropped %s", m.ns)
	return nil
}
