package chunk

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dShard/lib/meta"
	"github.com/ValentinKolb/dShard/lib/shardkey"
)

// Chunk is a handle to the contiguous key range [min, max) of a sharded
// collection, owned by exactly one shard.
//
// Handles stay valid across splits and migrations. A reload or drop of the
// manager starts a new generation; operations on handles of an older
// generation fail with ErrStaleChunk.
type Chunk struct {
	manager *Manager
	gen     uint64
	id      string

	// guarded by manager.mu
	min   shardkey.Key
	max   shardkey.Key
	shard string

	lastmod     atomic.Uint64
	modified    atomic.Bool
	dataWritten atomic.Int64
}

// genID derives the persistent identity of a chunk from its namespace and lower bound.
func genID(ns string, pattern shardkey.IPattern, min shardkey.Key) string {
	return ns + "-" + pattern.FormatKey(min)
}

// check returns an error if the handle is detached or stale. Requires manager.mu.
func (c *Chunk) check(op string) error {
	if c.manager == nil {
		return &Error{Kind: KindValidation, Op: op, Msg: "detached chunk", Err: ErrNoManager}
	}
	if c.gen != c.manager.generation {
		return staleErr(op)
	}
	return nil
}

// snapshot returns the bounds and owner of the chunk.
func (c *Chunk) snapshot(op string) (min, max shardkey.Key, owner string, err error) {
	if c.manager == nil {
		return nil, nil, "", &Error{Kind: KindValidation, Op: op, Msg: "detached chunk", Err: ErrNoManager}
	}
	c.manager.mu.RLock()
	defer c.manager.mu.RUnlock()
	if err := c.check(op); err != nil {
		return nil, nil, "", err
	}
	return c.min, c.max, c.shard, nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// ID returns the persistent identity of the chunk.
func (c *Chunk) ID() string {
	return c.id
}

// NS returns the namespace of the chunk.
func (c *Chunk) NS() string {
	return c.manager.ns
}

// Min returns the inclusive lower bound.
func (c *Chunk) Min() shardkey.Key {
	c.manager.mu.RLock()
	defer c.manager.mu.RUnlock()
	return c.min
}

// Max returns the exclusive upper bound.
func (c *Chunk) Max() shardkey.Key {
	c.manager.mu.RLock()
	defer c.manager.mu.RUnlock()
	return c.max
}

// Shard returns the name of the owning shard.
func (c *Chunk) Shard() string {
	c.manager.mu.RLock()
	defer c.manager.mu.RUnlock()
	return c.shard
}

// Lastmod returns the version assigned by the last save.
func (c *Chunk) Lastmod() uint64 {
	return c.lastmod.Load()
}

// Modified reports whether the chunk has unsaved changes.
func (c *Chunk) Modified() bool {
	return c.modified.Load()
}

// Stale reports whether the handle was invalidated by a reload or drop.
func (c *Chunk) Stale() bool {
	c.manager.mu.RLock()
	defer c.manager.mu.RUnlock()
	return c.gen != c.manager.generation
}

// MinIsInf reports whether the chunk starts at the global minimum.
func (c *Chunk) MinIsInf() bool {
	return c.manager.pattern.Compare(c.Min(), c.manager.pattern.GlobalMin()) == 0
}

// MaxIsInf reports whether the chunk ends at the global maximum.
func (c *Chunk) MaxIsInf() bool {
	return c.manager.pattern.Compare(c.Max(), c.manager.pattern.GlobalMax()) == 0
}

// Contains reports whether min <= key < max.
func (c *Chunk) Contains(key shardkey.Key) bool {
	c.manager.mu.RLock()
	defer c.manager.mu.RUnlock()
	return c.containsLocked(key)
}

func (c *Chunk) containsLocked(key shardkey.Key) bool {
	p := c.manager.pattern
	return p.Compare(c.min, key) <= 0 && p.Compare(key, c.max) < 0
}

// Filter returns the containment filter of the chunk.
func (c *Chunk) Filter() shardkey.Filter {
	c.manager.mu.RLock()
	defer c.manager.mu.RUnlock()
	return c.manager.pattern.Filter(c.min, c.max)
}

func (c *Chunk) markModified() {
	c.modified.Store(true)
}

// recordLocked returns the persisted form of the chunk. Requires manager.mu.
func (c *Chunk) recordLocked() meta.ChunkRecord {
	return meta.ChunkRecord{
		ID:      c.id,
		Lastmod: c.lastmod.Load(),
		NS:      c.manager.ns,
		Min:     c.min,
		Max:     c.max,
		Shard:   c.shard,
	}
}

func (c *Chunk) String() string {
	c.manager.mu.RLock()
	defer c.manager.mu.RUnlock()
	return c.stringLocked()
}

func (c *Chunk) stringLocked() string {
	return fmt.Sprintf("ns:%s at: %s lastmod: %d min: %s max: %s",
		c.manager.ns, c.shard, c.lastmod.Load(), c.min, c.max)
}

// --------------------------------------------------------------------------
// Shard queries
// --------------------------------------------------------------------------

// CountObjects returns the number of documents inside the chunk.
func (c *Chunk) CountObjects() (int64, error) {
	const op = "count"
	min, max, owner, err := c.snapshot(op)
	if err != nil {
		return 0, err
	}
	m := c.manager
	s, err := m.shardClient(op, owner)
	if err != nil {
		return 0, err
	}
	n, err := s.Count(m.ns, m.pattern.Filter(min, max))
	if err != nil {
		return 0, remoteErr(op, err, "count on %s failed", owner)
	}
	return n, nil
}

// PhysicalSize returns the data size of the chunk on its shard. The shard may
// stop counting once the size exceeds the maximum chunk size.
func (c *Chunk) PhysicalSize() (int64, error) {
	const op = "datasize"
	min, max, owner, err := c.snapshot(op)
	if err != nil {
		return 0, err
	}
	m := c.manager
	s, err := m.shardClient(op, owner)
	if err != nil {
		return 0, err
	}
	size, err := s.DataSize(m.ns, m.pattern.Filter(min, max), m.config.MaxChunkSize+1)
	if err != nil {
		return 0, remoteErr(op, err, "datasize on %s failed", owner)
	}
	return size, nil
}

// PickSplitPoint asks the owning shard for a key to split this chunk at.
//
// Chunks at the global minimum (or maximum) are split at the first (or last)
// document, so monotonically growing keys keep hitting a small chunk. Other
// chunks are split at the median key; when the median equals the lower bound
// the next larger key is used instead. An empty key means no point was found.
func (c *Chunk) PickSplitPoint() (shardkey.Key, error) {
	const op = "pickSplitPoint"
	defer splitPointDuration.UpdateDuration(time.Now())

	min, max, owner, err := c.snapshot(op)
	if err != nil {
		return nil, err
	}
	m := c.manager
	p := m.pattern
	s, err := m.shardClient(op, owner)
	if err != nil {
		return nil, err
	}
	filter := p.Filter(min, max)

	firstDoc := func(f shardkey.Filter, descending bool) (shardkey.Key, error) {
		doc, ok, err := s.FindOne(m.ns, f, descending)
		if err != nil {
			return nil, remoteErr(op, err, "findOne on %s failed", owner)
		}
		if !ok {
			return nil, nil
		}
		key, err := p.ExtractKey(doc)
		if err != nil {
			return nil, remoteErr(op, err, "shard %s returned a document without shard key", owner)
		}
		return key, nil
	}

	if p.Compare(min, p.GlobalMin()) == 0 {
		return firstDoc(filter, false)
	}
	if p.Compare(max, p.GlobalMax()) == 0 {
		return firstDoc(filter, true)
	}

	median, err := s.MedianKey(m.ns, filter)
	if err != nil {
		return nil, remoteErr(op, err, "medianKey on %s failed", owner)
	}
	if !median.IsEmpty() && p.Compare(median, min) == 0 {
		// all documents up to the median share the lower bound, skip past its leading value
		after := make(shardkey.Key, len(min))
		after[0] = min[0]
		for i := 1; i < len(after); i++ {
			after[i] = shardkey.MaxKey
		}
		return firstDoc(shardkey.Filter{Fields: filter.Fields, Min: after, Max: max, MinExclusive: true}, false)
	}
	return median, nil
}

// --------------------------------------------------------------------------
// Split
// --------------------------------------------------------------------------

// Split splits the chunk at point. The receiver keeps [min, point), the
// returned chunk covers [point, max) on the same shard. Both are persisted and
// the split is recorded in the change log.
func (c *Chunk) Split(point shardkey.Key) (*Chunk, error) {
	const op = "split"
	min, max, owner, err := c.snapshot(op)
	if err != nil {
		return nil, err
	}
	m := c.manager
	if point.IsEmpty() {
		return nil, validationErr(op, "split point is empty")
	}
	if m.pattern.Compare(point, min) <= 0 || m.pattern.Compare(point, max) >= 0 {
		return nil, validationErr(op, "split point %s is not inside [%s, %s)", point, min, max)
	}

	s, err := m.shardClient(op, owner)
	if err != nil {
		return nil, err
	}
	lockOwner, err := s.LockNamespace(m.ns, m.config.LockTimeout)
	if err != nil {
		return nil, remoteErr(op, err, "can't lock %s on %s", m.ns, owner)
	}
	defer m.unlockNamespace(s, owner, lockOwner)

	m.mu.Lock()
	if err := c.check(op); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if !c.min.Equal(min) || !c.max.Equal(max) || c.shard != owner {
		m.mu.Unlock()
		return nil, validationErr(op, "chunk changed while splitting, retry")
	}
	before := c.recordLocked()
	nc := m.newChunkLocked(point, max, owner)
	c.max = point
	m.chunkMap.set(point, c)
	m.chunkMap.set(max, nc)
	c.markModified()
	nc.markModified()
	m.ranges.reloadRange(m.chunkMap, min, max)
	m.mu.Unlock()

	if err := m.Save(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	left, right := c.recordLocked(), nc.recordLocked()
	m.mu.RUnlock()
	m.logChange("split", map[string]any{"before": before, "left": left, "right": right})

	splitsTotal.Inc()
	log.Infof("split %s at %s", m.ns, point)
	return nc, nil
}

// --------------------------------------------------------------------------
// Migration
// --------------------------------------------------------------------------

// MoveAndCommit migrates the chunk to shard `to` and commits the new owner.
//
// The namespace lock on the source shard is held for the whole migration, so
// splits of chunks on that shard wait for the commit. Any failure before the
// final handshake aborts the migration on the source shard and leaves the
// owner unchanged.
//
// There is no rollback: when the final handshake with the source shard fails,
// the metadata already names `to` as owner and the error is returned as is.
func (c *Chunk) MoveAndCommit(to string) error {
	const op = "moveAndCommit"
	min, max, from, err := c.snapshot(op)
	if err != nil {
		return err
	}
	m := c.manager
	if to == "" {
		return validationErr(op, "no destination shard")
	}
	if to == from {
		return validationErr(op, "can't move chunk to its current location")
	}
	src, err := m.shardClient(op, from)
	if err != nil {
		return err
	}
	if _, err := m.shardClient(op, to); err != nil {
		return err
	}

	lockOwner, err := src.LockNamespace(m.ns, m.config.LockTimeout)
	if err != nil {
		return remoteErr(op, err, "can't lock %s on %s", m.ns, from)
	}
	defer m.unlockNamespace(src, from, lockOwner)

	filter := m.pattern.Filter(min, max)
	oldVersion := m.GetVersionFor(from)

	token, err := src.MoveChunkStart(m.ns, from, to, filter)
	if err != nil {
		migrationFailuresTotal.Inc()
		return remoteErr(op, err, "movechunk.start on %s failed", from)
	}

	m.mu.Lock()
	if err := c.check(op); err != nil {
		m.mu.Unlock()
		m.abortMigration(src, from, token)
		return err
	}
	if !c.min.Equal(min) || !c.max.Equal(max) || c.shard != from {
		m.mu.Unlock()
		m.abortMigration(src, from, token)
		return validationErr(op, "chunk changed while migrating, retry")
	}
	c.setShardLocked(to)
	if other := m.findChunkOnShardLocked(from); other != nil {
		// forces a new version for the source shard
		other.markModified()
	}
	m.mu.Unlock()

	if err := m.Save(); err != nil {
		m.mu.Lock()
		if c.gen == m.generation && c.shard == to {
			c.setShardLocked(from)
		}
		m.mu.Unlock()
		m.abortMigration(src, from, token)
		return err
	}

	newVersion := m.GetVersionFor(from)
	if newVersion <= oldVersion {
		// the source shard has no chunks left
		newVersion = oldVersion + 1
	}

	if err := src.MoveChunkFinish(m.ns, to, newVersion, token); err != nil {
		migrationFailuresTotal.Inc()
		log.Errorf("movechunk.finish of %s on %s failed, metadata already points to %s: %v", m.ns, from, to, err)
		return remoteErr(op, err, "movechunk.finish on %s failed", from)
	}

	m.logChange("migrate", map[string]any{
		"from":  from,
		"to":    to,
		"chunk": map[string]any{"min": min, "max": max},
	})
	migrationsTotal.Inc()
	log.Infof("moved %s [%s, %s) from %s to %s (version %d)", m.ns, min, max, from, to, newVersion)
	return nil
}

// setShardLocked reassigns the owner and updates the range index. Requires manager.mu.
func (c *Chunk) setShardLocked(to string) {
	c.shard = to
	c.markModified()
	c.manager.ranges.reloadRange(c.manager.chunkMap, c.min, c.max)
}

// --------------------------------------------------------------------------
// Auto split
// --------------------------------------------------------------------------

// SplitIfShould accounts bytesWritten to the chunk and splits it once its
// physical size exceeds the limit. After a split, one of the halves may be
// moved to another shard. Returns whether the chunk was split.
//
// Only one auto-split evaluation runs per process at a time; concurrent calls
// return false without waiting.
func (c *Chunk) SplitIfShould(bytesWritten int64) (bool, error) {
	if c.manager == nil {
		return false, &Error{Kind: KindValidation, Op: "splitIfShould", Msg: "detached chunk", Err: ErrNoManager}
	}
	m := c.manager
	written := c.dataWritten.Add(bytesWritten)

	limit := m.config.MaxChunkSize
	if c.MinIsInf() || c.MaxIsInf() {
		limit = int64(float64(limit) * boundaryFactor)
	}
	if written < limit/splitCheckDivisor {
		return false, nil
	}

	if !splitLock.TryLock() {
		splitSkippedTotal.Inc()
		log.Debugf("split of %s skipped, another split is running", m.ns)
		return false, nil
	}
	defer splitLock.Unlock()

	c.dataWritten.Store(0)

	point, err := c.PickSplitPoint()
	if err != nil {
		return false, err
	}
	min, max := c.Min(), c.Max()
	if point.IsEmpty() || point.Equal(min) || point.Equal(max) {
		log.Warningf("can't split %s [%s, %s), no usable split point", m.ns, min, max)
		return false, nil
	}

	size, err := c.PhysicalSize()
	if err != nil {
		return false, err
	}
	if size < limit {
		return false, nil
	}

	log.Infof("autosplitting %s size: %d at %s", m.ns, size, point)
	nc, err := c.Split(point)
	if err != nil {
		return false, err
	}
	if _, err := c.moveIfShould(nc); err != nil {
		return true, err
	}
	return true, nil
}

// moveIfShould moves a nearly empty half of a fresh split to the shard the
// picker suggests. A failed move of a decided migration is fatal.
func (c *Chunk) moveIfShould(newChunk *Chunk) (bool, error) {
	const op = "moveIfShould"
	m := c.manager

	var toMove *Chunk
	n, err := newChunk.CountObjects()
	if err != nil {
		return false, err
	}
	if n <= 1 {
		toMove = newChunk
	} else {
		n, err = c.CountObjects()
		if err != nil {
			return false, err
		}
		if n <= 1 {
			toMove = c
		}
	}
	if toMove == nil {
		return false, nil
	}

	dest, err := m.picker.Pick()
	if err != nil {
		return false, remoteErr(op, err, "no destination for %s", m.ns)
	}
	if dest == c.Shard() {
		return false, nil
	}

	log.Infof("moving chunk (auto): %s to %s", toMove, dest)
	if err := toMove.MoveAndCommit(dest); err != nil {
		return false, fatalErr(KindMigration, op, err, "moveAndCommit of %s to %s failed", m.ns, dest)
	}
	return true, nil
}
