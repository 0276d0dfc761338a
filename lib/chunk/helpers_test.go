package chunk

import (
	"bytes"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dShard/lib/balancer"
	"github.com/ValentinKolb/dShard/lib/meta"
	"github.com/ValentinKolb/dShard/lib/shard"
	"github.com/ValentinKolb/dShard/lib/shard/memshard"
	"github.com/ValentinKolb/dShard/lib/shardkey"
	"github.com/ValentinKolb/dShard/lib/store/lstore"
	"github.com/stretchr/testify/require"
)

const testNS = "db.coll"

type testEnv struct {
	meta *flakyMeta
	dir  *shard.StaticDirectory
	a, b *memshard.Engine
	reg  *Registry
}

func newTestEnv(t *testing.T, cfg Config, picker balancer.IPicker) *testEnv {
	t.Helper()
	e := &testEnv{
		meta: &flakyMeta{IMetaStore: meta.NewKVMetaStore(lstore.NewLocalStore())},
		dir:  shard.NewStaticDirectory(),
		a:    memshard.New("A"),
		b:    memshard.New("B"),
	}
	e.dir.Add("A", e.a)
	e.dir.Add("B", e.b)
	e.a.SetPeers(e.dir)
	e.b.SetPeers(e.dir)
	if picker == nil {
		picker = balancer.Fixed("B")
	}
	reg, err := NewRegistry(Env{Meta: e.meta, Shards: e.dir, Picker: picker, Config: cfg})
	require.NoError(t, err)
	e.reg = reg
	return e
}

func (e *testEnv) shardCollection(t *testing.T) *Manager {
	t.Helper()
	m, err := e.reg.ShardCollection(testNS, []string{"x"}, false, "A")
	require.NoError(t, err)
	return m
}

func key(v any) shardkey.Key {
	return shardkey.Key{v}
}

func insertRange(t *testing.T, s shard.IShard, from, to int) {
	t.Helper()
	docs := make([]shardkey.Doc, 0, to-from)
	for i := from; i < to; i++ {
		docs = append(docs, shardkey.Doc{"x": i, "payload": "some bytes to make the document larger"})
	}
	require.NoError(t, s.Insert(testNS, []string{"x"}, docs))
}

func splitAt(t *testing.T, m *Manager, v any) *Chunk {
	t.Helper()
	c, err := m.FindChunkByKey(key(v))
	require.NoError(t, err)
	nc, err := c.Split(key(v))
	require.NoError(t, err)
	return nc
}

func withDebugChecks(t *testing.T) {
	t.Helper()
	SetDebugChecks(true)
	t.Cleanup(func() { SetDebugChecks(false) })
}

// flakyMeta fails chunk writes on demand.
type flakyMeta struct {
	meta.IMetaStore
	failSave atomic.Bool
}

var errInjected = errors.New("injected failure")

func (f *flakyMeta) SaveChunk(rec meta.ChunkRecord) (meta.ChunkRecord, error) {
	if f.failSave.Load() {
		return rec, errInjected
	}
	return f.IMetaStore.SaveChunk(rec)
}

// flakyShard fails selected commands.
type flakyShard struct {
	shard.IShard
	failFinish atomic.Bool
	failStart  atomic.Bool
	failLock   atomic.Bool
	// noLock grants every namespace lock without taking it
	noLock atomic.Bool
	// afterStart runs once after the next successful MoveChunkStart
	afterStart func()
	aborts     atomic.Int32
}

var fakeLockOwner = []byte("unlocked")

func (f *flakyShard) MoveChunkStart(ns, from, to string, filter shardkey.Filter) (string, error) {
	if f.failStart.Load() {
		return "", errInjected
	}
	token, err := f.IShard.MoveChunkStart(ns, from, to, filter)
	if err == nil && f.afterStart != nil {
		hook := f.afterStart
		f.afterStart = nil
		hook()
	}
	return token, err
}

func (f *flakyShard) MoveChunkAbort(ns, token string) error {
	f.aborts.Add(1)
	return f.IShard.MoveChunkAbort(ns, token)
}

func (f *flakyShard) MoveChunkFinish(ns, to string, v uint64, token string) error {
	if f.failFinish.Load() {
		return errInjected
	}
	return f.IShard.MoveChunkFinish(ns, to, v, token)
}

func (f *flakyShard) LockNamespace(ns string, timeout uint64) ([]byte, error) {
	if f.failLock.Load() {
		return nil, errInjected
	}
	if f.noLock.Load() {
		return fakeLockOwner, nil
	}
	return f.IShard.LockNamespace(ns, timeout)
}

func (f *flakyShard) UnlockNamespace(ns string, owner []byte) error {
	if bytes.Equal(owner, fakeLockOwner) {
		return nil
	}
	return f.IShard.UnlockNamespace(ns, owner)
}

// countOn returns the number of documents of testNS on s within [min, max).
func countOn(t *testing.T, m *Manager, s shard.IShard, min, max shardkey.Key) int64 {
	t.Helper()
	n, err := s.Count(testNS, m.Pattern().Filter(min, max))
	require.NoError(t, err)
	return n
}
