package chunks

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ValentinKolb/dShard/lib/balancer"
	"github.com/ValentinKolb/dShard/lib/chunk"
	"github.com/ValentinKolb/dShard/lib/meta"
	"github.com/ValentinKolb/dShard/lib/shard"
	"github.com/ValentinKolb/dShard/lib/shard/memshard"
	"github.com/ValentinKolb/dShard/lib/shardkey"
	"github.com/ValentinKolb/dShard/lib/store/lstore"
	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ns = "db.users"

type fixture struct {
	sess *session
	out  *bytes.Buffer
	a, b *memshard.Engine
}

func newFixture(t *testing.T, format string, cfg chunk.Config) *fixture {
	t.Helper()
	dir := shard.NewStaticDirectory()
	f := &fixture{out: &bytes.Buffer{}, a: memshard.New("A"), b: memshard.New("B")}
	dir.Add("A", f.a)
	dir.Add("B", f.b)
	f.a.SetPeers(dir)
	f.b.SetPeers(dir)
	s, err := newSession(chunk.Env{
		Meta:   meta.NewKVMetaStore(lstore.NewLocalStore()),
		Shards: dir,
		Picker: balancer.Fixed("B"),
		Config: cfg,
	}, f.out, format)
	require.NoError(t, err)
	f.sess = s
	require.NoError(t, s.shardCollection(ns, "x", "A", false))
	f.out.Reset()
	return f
}

func TestShowText(t *testing.T) {
	f := newFixture(t, "text", chunk.DefaultConfig())
	require.NoError(t, f.sess.show(ns, false))
	assert.Contains(t, f.out.String(), "db.users key=[x] unique=false primary=A")
	assert.Contains(t, f.out.String(), "db.users-x_MinKey")
}

func TestShowYAML(t *testing.T) {
	f := newFixture(t, "yaml", chunk.DefaultConfig())
	insertDocs(t, f.a, 0, 10)
	require.NoError(t, f.sess.split(ns, `{"x": 5}`, "[5]"))
	f.out.Reset()

	require.NoError(t, f.sess.show(ns, true))
	var v collectionView
	require.NoError(t, yaml.Unmarshal(f.out.Bytes(), &v))
	assert.Equal(t, ns, v.NS)
	assert.Equal(t, []string{"x"}, v.Key)
	require.Len(t, v.Chunks, 2)
	assert.Equal(t, "A", v.Chunks[0].Shard)
	assert.NotEmpty(t, v.Changes)
}

func TestRoute(t *testing.T) {
	f := newFixture(t, "text", chunk.DefaultConfig())
	insertDocs(t, f.a, 0, 100)
	require.NoError(t, f.sess.split(ns, `{"x": 50}`, "[50]"))
	require.NoError(t, f.sess.move(ns, `{"x": 75}`, "B"))
	f.out.Reset()

	require.NoError(t, f.sess.route(ns, `{"x": {"$gte": 60}}`))
	assert.Contains(t, f.out.String(), "shards: B\n")

	f.out.Reset()
	require.NoError(t, f.sess.route(ns, `{}`))
	assert.Contains(t, f.out.String(), "shards: A,B\n")

	assert.Error(t, f.sess.route(ns, `{"x": {"$near": [1, 2]}}`))
	assert.Error(t, f.sess.route(ns, `not json`))
}

func TestFindAndMove(t *testing.T) {
	f := newFixture(t, "text", chunk.DefaultConfig())
	insertDocs(t, f.a, 0, 20)
	require.NoError(t, f.sess.split(ns, `{"x": 10}`, "[10]"))

	require.NoError(t, f.sess.move(ns, `{"x": 15}`, "B"))
	n, err := f.b.Count(ns, shardkey.Filter{Fields: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	f.out.Reset()
	require.NoError(t, f.sess.find(ns, `{"x": 15}`))
	assert.Contains(t, f.out.String(), "\tB\t")

	assert.Error(t, f.sess.find(ns, `{"y": 1}`))
	assert.Error(t, f.sess.move(ns, `{"x": 1}`, "nowhere"))
}

func TestSplitPicksPoint(t *testing.T) {
	f := newFixture(t, "text", chunk.DefaultConfig())
	insertDocs(t, f.a, 0, 100)
	require.NoError(t, f.sess.split(ns, `{"x": 1}`, ""))
	m, err := f.sess.reg.Get(ns)
	require.NoError(t, err)
	assert.Equal(t, 2, m.NumChunks())

	assert.Error(t, f.sess.split(ns, `{"x": 1}`, "not json"))
}

func TestInsertSplitsLargeChunk(t *testing.T) {
	f := newFixture(t, "text", chunk.Config{MaxChunkSize: 2000})
	insertDocs(t, f.a, 0, 100)

	// the first writes stay below the check threshold
	require.NoError(t, f.sess.insert(ns, `{"x": 200}`))
	assert.Contains(t, f.out.String(), "inserted on A (split=false)")

	var split bool
	for i := 0; i < 50 && !split; i++ {
		f.out.Reset()
		require.NoError(t, f.sess.insert(ns, fmt.Sprintf(`{"x": %d, "pad": "................................................................"}`, 300+i)))
		split = bytes.Contains(f.out.Bytes(), []byte("split=true"))
	}
	assert.True(t, split)
	m, err := f.sess.reg.Get(ns)
	require.NoError(t, err)
	assert.Greater(t, m.NumChunks(), 1)
}

func TestListAndDrop(t *testing.T) {
	f := newFixture(t, "text", chunk.DefaultConfig())
	require.NoError(t, f.sess.list())
	assert.Equal(t, ns+"\n", f.out.String())

	f.out.Reset()
	require.NoError(t, f.sess.drop(ns))
	assert.Equal(t, "dropped "+ns+"\n", f.out.String())

	f.out.Reset()
	require.NoError(t, f.sess.list())
	assert.Empty(t, f.out.String())
	assert.ErrorIs(t, f.sess.show(ns, false), chunk.ErrNotSharded)
}

func TestShardCollectionErrors(t *testing.T) {
	f := newFixture(t, "text", chunk.DefaultConfig())
	assert.Error(t, f.sess.shardCollection(ns, "x", "A", false))
	assert.Error(t, f.sess.shardCollection("db.other", "x", "C", false))
	assert.Error(t, f.sess.shardCollection("db.other", " , ", "A", false))
}

func insertDocs(t *testing.T, s shard.IShard, from, to int) {
	t.Helper()
	docs := make([]shardkey.Doc, 0, to-from)
	for i := from; i < to; i++ {
		docs = append(docs, shardkey.Doc{"x": i, "payload": "some bytes to make the document larger"})
	}
	require.NoError(t, s.Insert(ns, []string{"x"}, docs))
}
