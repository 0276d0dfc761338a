package chunk

import (
	"errors"
	"sync"
	"testing"

	"github.com/ValentinKolb/dShard/lib/balancer"
	"github.com/ValentinKolb/dShard/lib/meta"
	"github.com/ValentinKolb/dShard/lib/shard"
	"github.com/ValentinKolb/dShard/lib/shardkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerCreatesInitialChunk(t *testing.T) {
	withDebugChecks(t)
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)

	require.Equal(t, 1, m.NumChunks())
	c := m.Chunks()[0]
	assert.True(t, c.MinIsInf())
	assert.True(t, c.MaxIsInf())
	assert.Equal(t, "A", c.Shard())
	assert.Equal(t, "db.coll-x_MinKey", c.ID())
	assert.NotZero(t, c.Lastmod())
	assert.False(t, c.Modified())
	assert.Len(t, m.Ranges(), 1)
	assert.NotZero(t, m.SequenceNumber())

	recs, err := e.meta.LoadChunks(testNS)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "A", recs[0].Shard)
}

func TestSplitAndMigrate(t *testing.T) {
	withDebugChecks(t)
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)
	insertRange(t, e.a, 0, 100)

	seq := m.SequenceNumber()
	version := m.GetVersion()

	right := splitAt(t, m, 50)
	require.Equal(t, 2, m.NumChunks())
	assert.Greater(t, m.SequenceNumber(), seq)
	assert.GreaterOrEqual(t, m.GetVersion(), version)

	left, err := m.FindChunk(shardkey.Doc{"x": 10})
	require.NoError(t, err)
	assert.True(t, left.Min().Equal(shardkey.Key{shardkey.MinKey}))
	assert.True(t, left.Max().Equal(key(50)))

	c, err := m.FindChunk(shardkey.Doc{"x": 50})
	require.NoError(t, err)
	assert.Same(t, right, c)
	assert.Equal(t, "db.coll-x_50", right.ID())

	// same shard: the ranges stay merged
	ranges := m.Ranges()
	require.Len(t, ranges, 1)
	assert.Equal(t, "A", ranges[0].Shard())

	oldVersionA := m.GetVersionFor("A")
	require.NoError(t, right.MoveAndCommit("B"))

	ranges = m.Ranges()
	require.Len(t, ranges, 2)
	assert.Equal(t, "A", ranges[0].Shard())
	assert.Equal(t, "B", ranges[1].Shard())
	assert.True(t, ranges[1].Min().Equal(key(50)))
	assert.Equal(t, []string{"A", "B"}, m.AllShards())

	assert.Greater(t, m.GetVersionFor("A"), oldVersionA)
	assert.Greater(t, e.a.Version(testNS), oldVersionA)

	// documents followed the chunk
	n, err := right.CountObjects()
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
	n, err = left.CountObjects()
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)

	changes, err := e.meta.Changes(testNS)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "split", changes[0].What)
	assert.Contains(t, changes[0].Details, "before")
	assert.Contains(t, changes[0].Details, "left")
	assert.Contains(t, changes[0].Details, "right")
	assert.Equal(t, "migrate", changes[1].What)
	assert.Equal(t, "B", changes[1].Details["to"])

	// a fresh manager sees the same layout
	other, err := NewManager(meta.CollectionInfo{NS: testNS, Key: []string{"x"}, Primary: "A"},
		shardkey.MustPattern("x"), Env{Meta: e.meta, Shards: e.dir, Picker: balancer.Fixed("B")})
	require.NoError(t, err)
	want, got := m.Ranges(), other.Ranges()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Shard(), got[i].Shard())
		assert.Zero(t, m.Pattern().Compare(want[i].Min(), got[i].Min()))
		assert.Zero(t, m.Pattern().Compare(want[i].Max(), got[i].Max()))
	}
}

func TestMigratingLastChunkBumpsVersion(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)

	old := m.GetVersionFor("A")
	require.NotZero(t, old)

	require.NoError(t, m.Chunks()[0].MoveAndCommit("B"))
	assert.Zero(t, m.GetVersionFor("A"), "A has no chunks left")
	assert.Equal(t, old+1, e.a.Version(testNS))
	assert.Nil(t, m.FindChunkOnShard("A"))
	assert.NotNil(t, m.FindChunkOnShard("B"))
}

func TestMoveValidation(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)
	c := m.Chunks()[0]
	version := m.GetVersion()

	err := c.MoveAndCommit("A")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.False(t, IsFatal(err))

	err = c.MoveAndCommit("")
	assert.Equal(t, KindValidation, KindOf(err))

	err = c.MoveAndCommit("nowhere")
	assert.Equal(t, KindRemote, KindOf(err))
	assert.Equal(t, "A", c.Shard())
	assert.Equal(t, version, m.GetVersion())
}

func TestSplitValidation(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)
	splitAt(t, m, 50)
	c, err := m.FindChunkByKey(key(60))
	require.NoError(t, err)

	for name, point := range map[string]shardkey.Key{
		"empty":   nil,
		"min":     key(50),
		"max":     {shardkey.MaxKey},
		"outside": key(10),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.Split(point)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
	assert.Equal(t, 2, m.NumChunks())
}

func TestSplitLockFailure(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	flaky := &flakyShard{IShard: e.a}
	e.dir.Add("A", flaky)
	m := e.shardCollection(t)

	flaky.failLock.Store(true)
	_, err := m.Chunks()[0].Split(key(5))
	require.Error(t, err)
	assert.Equal(t, KindRemote, KindOf(err))
	assert.Equal(t, 1, m.NumChunks())
}

func TestStaleHandle(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)
	c := m.Chunks()[0]

	require.NoError(t, m.Reload())
	assert.True(t, c.Stale())

	_, err := c.Split(key(5))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStaleChunk)
	assert.Equal(t, KindStaleHandle, KindOf(err))

	err = c.MoveAndCommit("B")
	assert.ErrorIs(t, err, ErrStaleChunk)

	fresh := m.Chunks()[0]
	assert.False(t, fresh.Stale())
	_, err = fresh.Split(key(5))
	assert.NoError(t, err)
}

func TestFindChunkReloadsOnMiss(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)
	splitAt(t, m, 50)

	// lose the upper chunk from the cache
	m.mu.Lock()
	m.chunkMap.remove(shardkey.Key{shardkey.MaxKey})
	m.mu.Unlock()

	c, err := m.FindChunk(shardkey.Doc{"x": 70})
	require.NoError(t, err)
	assert.True(t, c.Min().Equal(key(50)))
	assert.Equal(t, 2, m.NumChunks())
	assert.NoError(t, m.AssertValid())
}

func TestFindChunkFatalAfterReload(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)
	splitAt(t, m, 50)

	// persisted metadata with a hole
	recs, err := e.meta.LoadChunks(testNS)
	require.NoError(t, err)
	require.NoError(t, e.meta.RemoveChunks(testNS))
	for _, r := range recs {
		if r.Min[0] == shardkey.MinKey {
			_, err := e.meta.SaveChunk(r)
			require.NoError(t, err)
		}
	}
	m.mu.Lock()
	m.chunkMap.remove(shardkey.Key{shardkey.MaxKey})
	m.mu.Unlock()

	_, err = m.FindChunk(shardkey.Doc{"x": 70})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, KindCacheInconsistency, KindOf(err))
}

func TestFindChunkWithoutShardKey(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)

	_, err := m.FindChunk(shardkey.Doc{"y": 1})
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.ErrorIs(t, err, shardkey.ErrMissingShardKey)
	assert.False(t, m.HasShardKey(shardkey.Doc{"y": 1}))
}

func TestSaveFailureIsFatal(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)

	e.meta.failSave.Store(true)
	_, err := m.Chunks()[0].Split(key(5))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, KindStore, KindOf(err))
	assert.ErrorIs(t, err, errInjected)

	// the changes stay pending and are saved once the store is back
	e.meta.failSave.Store(false)
	require.NoError(t, m.Save())
	recs, err := e.meta.LoadChunks(testNS)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestMoveStartFailureChangesNothing(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	flaky := &flakyShard{IShard: e.a}
	e.dir.Add("A", flaky)
	m := e.shardCollection(t)

	flaky.failStart.Store(true)
	err := m.Chunks()[0].MoveAndCommit("B")
	require.Error(t, err)
	assert.Equal(t, KindRemote, KindOf(err))
	assert.Equal(t, []string{"A"}, m.AllShards())
}

func TestMoveFinishFailureKeepsMetadata(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	flaky := &flakyShard{IShard: e.a}
	e.dir.Add("A", flaky)
	m := e.shardCollection(t)

	flaky.failFinish.Store(true)
	err := m.Chunks()[0].MoveAndCommit("B")
	require.Error(t, err)
	assert.Equal(t, KindRemote, KindOf(err))
	assert.False(t, IsFatal(err))

	// no rollback: the metadata names the new owner
	assert.Equal(t, []string{"B"}, m.AllShards())
	recs, err := e.meta.LoadChunks(testNS)
	require.NoError(t, err)
	assert.Equal(t, "B", recs[0].Shard)
}

func TestMoveBlocksSplitOnSource(t *testing.T) {
	withDebugChecks(t)
	e := newTestEnv(t, DefaultConfig(), nil)
	flaky := &flakyShard{IShard: e.a}
	e.dir.Add("A", flaky)
	m := e.shardCollection(t)
	insertRange(t, e.a, 0, 100)
	c := m.Chunks()[0]

	var splitErr error
	flaky.afterStart = func() {
		_, splitErr = c.Split(key(80))
	}
	require.NoError(t, c.MoveAndCommit("B"))

	require.Error(t, splitErr, "the namespace is locked during the migration")
	assert.Equal(t, KindRemote, KindOf(splitErr))
	assert.Equal(t, 1, m.NumChunks())
	assert.Equal(t, "B", c.Shard())

	start := shardkey.Key{shardkey.MinKey}
	end := shardkey.Key{shardkey.MaxKey}
	assert.Equal(t, int64(0), countOn(t, m, e.a, start, end))
	assert.Equal(t, int64(100), countOn(t, m, e.b, start, end))

	// the lock is released afterwards
	_, err := c.Split(key(80))
	assert.NoError(t, err)
}

func TestMoveDetectsChangedChunk(t *testing.T) {
	withDebugChecks(t)
	e := newTestEnv(t, DefaultConfig(), nil)
	flaky := &flakyShard{IShard: e.a}
	e.dir.Add("A", flaky)
	m := e.shardCollection(t)
	insertRange(t, e.a, 0, 100)
	c := m.Chunks()[0]

	// a split that bypasses the namespace lock
	flaky.noLock.Store(true)
	flaky.afterStart = func() {
		_, err := c.Split(key(80))
		require.NoError(t, err)
	}
	err := c.MoveAndCommit("B")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, int32(1), flaky.aborts.Load())

	// nothing moved, both halves stay on A
	require.Equal(t, 2, m.NumChunks())
	assert.Equal(t, []string{"A"}, m.AllShards())
	end := shardkey.Key{shardkey.MaxKey}
	assert.Equal(t, int64(20), countOn(t, m, e.a, key(80), end))
	assert.Equal(t, int64(0), countOn(t, m, e.b, key(80), end))

	// the aborted migration does not block the next one
	flaky.noLock.Store(false)
	require.NoError(t, c.MoveAndCommit("B"))
	assert.Equal(t, int64(80), countOn(t, m, e.b, shardkey.Key{shardkey.MinKey}, key(80)))
	right, err := m.FindChunkByKey(key(90))
	require.NoError(t, err)
	assert.Equal(t, "A", right.Shard())
	assert.NoError(t, m.AssertValid())
}

func TestMoveRetryAfterStaleHandle(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	flaky := &flakyShard{IShard: e.a}
	e.dir.Add("A", flaky)
	m := e.shardCollection(t)
	insertRange(t, e.a, 0, 10)

	flaky.afterStart = func() {
		require.NoError(t, m.Reload())
	}
	err := m.Chunks()[0].MoveAndCommit("B")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStaleChunk)
	assert.Equal(t, int32(1), flaky.aborts.Load())

	require.NoError(t, m.Chunks()[0].MoveAndCommit("B"))
	assert.Equal(t, []string{"B"}, m.AllShards())
	n, err := m.Chunks()[0].CountObjects()
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func TestMoveSaveFailureRestoresOwner(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	flaky := &flakyShard{IShard: e.a}
	e.dir.Add("A", flaky)
	m := e.shardCollection(t)
	insertRange(t, e.a, 0, 10)
	c := m.Chunks()[0]

	flaky.afterStart = func() {
		e.meta.failSave.Store(true)
	}
	err := c.MoveAndCommit("B")
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, KindStore, KindOf(err))
	assert.Equal(t, int32(1), flaky.aborts.Load())
	assert.Equal(t, "A", c.Shard())
	assert.Equal(t, []string{"A"}, m.AllShards())

	e.meta.failSave.Store(false)
	require.NoError(t, c.MoveAndCommit("B"))
	recs, err := e.meta.LoadChunks(testNS)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "B", recs[0].Shard)
	n, err := c.CountObjects()
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func TestGetChunksForQuery(t *testing.T) {
	withDebugChecks(t)
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)
	for _, p := range []int{10, 20, 30, 40} {
		splitAt(t, m, p)
	}
	for _, p := range []int{10, 30} {
		c, err := m.FindChunkByKey(key(p))
		require.NoError(t, err)
		require.NoError(t, c.MoveAndCommit("B"))
	}
	require.Len(t, m.Ranges(), 5)

	mins := func(rs []ChunkRange) []any {
		out := make([]any, len(rs))
		for i, r := range rs {
			out[i] = r.Min()[0]
		}
		return out
	}

	tests := []struct {
		name  string
		query shardkey.Doc
		want  []any
	}{
		{"unconstrained", shardkey.Doc{"y": 1}, []any{shardkey.MinKey, 10, 20, 30, 40}},
		{"equality", shardkey.Doc{"x": 25}, []any{20}},
		{"equality on boundary", shardkey.Doc{"x": 30}, []any{30}},
		{"half open interval", shardkey.Doc{"x": shardkey.Doc{"$gte": 10, "$lt": 30}}, []any{10, 20}},
		{"exclusive lower on boundary", shardkey.Doc{"x": shardkey.Doc{"$gt": 10, "$lte": 30}}, []any{shardkey.MinKey, 10, 20, 30}},
		{"open upper", shardkey.Doc{"x": shardkey.Doc{"$gte": 35}}, []any{30, 40}},
		{"in", shardkey.Doc{"x": shardkey.Doc{"$in": []any{5, 35, 36}}}, []any{shardkey.MinKey, 30}},
		{"empty", shardkey.Doc{"x": shardkey.Doc{"$gt": 50, "$lt": 40}}, []any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.GetChunksForQuery(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, mins(got))
		})
	}

	_, err := m.GetChunksForQuery(shardkey.Doc{"x": shardkey.Doc{"$near": []any{1, 2}}})
	require.Error(t, err)
	assert.Equal(t, KindUnsupported, KindOf(err))

	shards, err := m.GetShardsForQuery(shardkey.Doc{"x": 25})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, shards)

	shards, err = m.GetShardsForQuery(shardkey.Doc{"x": shardkey.Doc{"$gte": 10, "$lt": 20}})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, shards)

	shards, err = m.GetShardsForQuery(shardkey.Doc{"y": 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, shards)

	_, err = m.GetShardsForQuery(shardkey.Doc{"$where": "1"})
	assert.Equal(t, KindUnsupported, KindOf(err))
}

func TestCompoundKeyRouting(t *testing.T) {
	withDebugChecks(t)
	e := newTestEnv(t, DefaultConfig(), nil)
	m, err := e.reg.ShardCollection("db.compound", []string{"x", "y"}, false, "A")
	require.NoError(t, err)

	c := m.Chunks()[0]
	_, err = c.Split(shardkey.Key{5, "m"})
	require.NoError(t, err)

	c, err = m.FindChunk(shardkey.Doc{"x": 5, "y": "z"})
	require.NoError(t, err)
	assert.True(t, c.Min().Equal(shardkey.Key{5, "m"}))
	require.NoError(t, c.MoveAndCommit("B"))

	// an equality on the leading field spans both chunks
	shards, err := m.GetShardsForQuery(shardkey.Doc{"x": 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, shards)

	shards, err = m.GetShardsForQuery(shardkey.Doc{"x": 4})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, shards)
}

func TestDrop(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)
	insertRange(t, e.a, 0, 100)
	right := splitAt(t, m, 50)
	require.NoError(t, right.MoveAndCommit("B"))

	require.NoError(t, e.reg.Drop(testNS))

	assert.Zero(t, m.NumChunks())
	assert.True(t, right.Stale())
	for _, s := range []shard.IShard{e.a, e.b} {
		n, err := s.Count(testNS, shardkey.Filter{Fields: []string{"x"}})
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.Zero(t, e.a.Version(testNS))
	assert.Zero(t, e.b.Version(testNS))

	recs, err := e.meta.LoadChunks(testNS)
	require.NoError(t, err)
	assert.Empty(t, recs)
	_, ok, err := e.meta.GetCollection(testNS)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.reg.Get(testNS)
	assert.ErrorIs(t, err, ErrNotSharded)

	// namespace locks were released
	owner, err := e.a.LockNamespace(testNS, 0)
	require.NoError(t, err)
	require.NoError(t, e.a.UnlockNamespace(testNS, owner))
}

func TestDropLockFailureIsFatal(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)
	require.NoError(t, splitAt(t, m, 50).MoveAndCommit("B"))

	_, err := e.b.LockNamespace(testNS, 0)
	require.NoError(t, err)

	err = m.Drop()
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, KindLock, KindOf(err))

	// nothing was dropped, and the lock taken on A is not rolled back
	assert.Equal(t, 2, m.NumChunks())
	_, err = e.a.LockNamespace(testNS, 0)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)
	splitAt(t, m, 50)

	_, err := e.reg.ShardCollection(testNS, []string{"x"}, false, "A")
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = e.reg.ShardCollection("db.other", []string{"x"}, false, "Z")
	assert.Equal(t, KindValidation, KindOf(err))

	got, err := e.reg.Get(testNS)
	require.NoError(t, err)
	assert.Same(t, m, got)

	// a second router loads the collection lazily
	other, err := NewRegistry(Env{Meta: e.meta, Shards: e.dir, Picker: balancer.Fixed("B")})
	require.NoError(t, err)
	om, err := other.Get(testNS)
	require.NoError(t, err)
	assert.Equal(t, 2, om.NumChunks())
	assert.True(t, om.Pattern().Compare(om.Chunks()[1].Min(), key(50)) == 0)

	names, err := other.Collections()
	require.NoError(t, err)
	assert.Equal(t, []string{testNS}, names)

	_, err = other.Get("db.nothing")
	assert.True(t, errors.Is(err, ErrNotSharded))
}

func TestConcurrentRoutingDuringSplits(t *testing.T) {
	withDebugChecks(t)
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)

	var (
		wg   sync.WaitGroup
		stop = make(chan struct{})
	)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				x := (i*7 + g) % 200
				c, err := m.FindChunkByKey(key(x))
				if !assert.NoError(t, err) {
					return
				}
				assert.False(t, c.Stale())
				if _, err := m.GetChunksForQuery(shardkey.Doc{"x": x}); !assert.NoError(t, err) {
					return
				}
			}
		}(g)
	}

	for p := 10; p < 200; p += 10 {
		splitAt(t, m, p)
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 20, m.NumChunks())
	assert.NoError(t, m.AssertValid())
}
