package memshard

import (
	"testing"

	"github.com/ValentinKolb/dShard/lib/shard"
	"github.com/ValentinKolb/dShard/lib/shardkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keyX = []string{"x"}

func fill(t *testing.T, e *Engine, ns string, from, to int) {
	t.Helper()
	docs := make([]shardkey.Doc, 0, to-from)
	for i := from; i < to; i++ {
		docs = append(docs, shardkey.Doc{"x": i, "payload": "0123456789"})
	}
	require.NoError(t, e.Insert(ns, keyX, docs))
}

func all() shardkey.Filter {
	return shardkey.Filter{Fields: keyX}
}

func TestInsertCountFind(t *testing.T) {
	e := New("A")
	fill(t, e, "db.coll", 0, 100)

	n, err := e.Count("db.coll", all())
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)

	f := shardkey.MustPattern("x").Filter(shardkey.Key{10}, shardkey.Key{20})
	n, err = e.Count("db.coll", f)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	docs, err := e.Find("db.coll", f)
	require.NoError(t, err)
	require.Len(t, docs, 10)
	assert.Equal(t, 10, docs[0]["x"])
	assert.Equal(t, 19, docs[9]["x"])

	n, err = e.Count("db.missing", all())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInsertRejectsMissingKey(t *testing.T) {
	e := New("A")
	err := e.Insert("db.coll", keyX, []shardkey.Doc{{"y": 1}})
	assert.ErrorIs(t, err, shardkey.ErrMissingShardKey)

	require.NoError(t, e.Insert("db.coll", keyX, nil))
	err = e.Insert("db.coll", []string{"y"}, []shardkey.Doc{{"y": 1}})
	assert.ErrorIs(t, err, shard.ErrKeyMismatch)
}

func TestFindOneAndMedian(t *testing.T) {
	e := New("A")
	fill(t, e, "db.coll", 0, 100)

	d, ok, err := e.FindOne("db.coll", all(), false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, d["x"])

	d, ok, err = e.FindOne("db.coll", all(), true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 99, d["x"])

	gt := shardkey.Filter{Fields: keyX, Min: shardkey.Key{5}, MinExclusive: true}
	d, ok, err = e.FindOne("db.coll", gt, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 6, d["x"])

	m, err := e.MedianKey("db.coll", all())
	require.NoError(t, err)
	assert.Equal(t, shardkey.Key{50}, m)

	m, err = e.MedianKey("db.coll", shardkey.Filter{Fields: keyX, Min: shardkey.Key{1000}})
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestDataSize(t *testing.T) {
	e := New("A")
	fill(t, e, "db.coll", 0, 100)

	total, err := e.DataSize("db.coll", all(), 0)
	require.NoError(t, err)
	assert.Positive(t, total)

	bounded, err := e.DataSize("db.coll", all(), 100)
	require.NoError(t, err)
	assert.Greater(t, bounded, int64(100))
	assert.Less(t, bounded, total)

	st, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, total, st.DataSize)
	assert.Equal(t, int64(100), st.Documents)
}

func TestMigration(t *testing.T) {
	a, b := New("A"), New("B")
	dir := shard.NewStaticDirectory()
	dir.Add("A", a)
	dir.Add("B", b)
	a.SetPeers(dir)

	fill(t, a, "db.coll", 0, 100)
	f := shardkey.MustPattern("x").Filter(shardkey.Key{50}, shardkey.Key{shardkey.MaxKey})

	token, err := a.MoveChunkStart("db.coll", "A", "B", f)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = a.MoveChunkStart("db.coll", "A", "B", f)
	assert.ErrorIs(t, err, shard.ErrMigrationInProgress)

	assert.ErrorIs(t, a.MoveChunkFinish("db.coll", "B", 7, "bogus"), shard.ErrInvalidToken)
	require.NoError(t, a.MoveChunkFinish("db.coll", "B", 7, token))

	n, _ := a.Count("db.coll", all())
	assert.Equal(t, int64(50), n)
	n, _ = b.Count("db.coll", all())
	assert.Equal(t, int64(50), n)
	assert.Equal(t, uint64(7), a.Version("db.coll"))

	// the migration slot is free again
	_, err = a.MoveChunkStart("db.coll", "A", "B", f)
	assert.NoError(t, err)
}

func TestMigrationAbort(t *testing.T) {
	a, b := New("A"), New("B")
	dir := shard.NewStaticDirectory()
	dir.Add("A", a)
	dir.Add("B", b)
	a.SetPeers(dir)

	fill(t, a, "db.coll", 0, 10)
	assert.ErrorIs(t, a.MoveChunkAbort("db.other", "x"), shard.ErrInvalidToken)

	token, err := a.MoveChunkStart("db.coll", "A", "B", all())
	require.NoError(t, err)
	assert.ErrorIs(t, a.MoveChunkAbort("db.coll", "bogus"), shard.ErrInvalidToken)
	require.NoError(t, a.MoveChunkAbort("db.coll", token))

	// nothing moved and the old token is gone
	n, _ := a.Count("db.coll", all())
	assert.Equal(t, int64(10), n)
	assert.ErrorIs(t, a.MoveChunkFinish("db.coll", "B", 3, token), shard.ErrInvalidToken)

	token, err = a.MoveChunkStart("db.coll", "A", "B", all())
	require.NoError(t, err)
	require.NoError(t, a.MoveChunkFinish("db.coll", "B", 3, token))
	n, _ = b.Count("db.coll", all())
	assert.Equal(t, int64(10), n)
}

func TestMigrationValidation(t *testing.T) {
	a := New("A")
	_, err := a.MoveChunkStart("db.coll", "B", "C", all())
	assert.Error(t, err)
	_, err = a.MoveChunkStart("db.coll", "A", "A", all())
	assert.Error(t, err)
}

func TestDropAndVersions(t *testing.T) {
	e := New("A")
	fill(t, e, "db.coll", 0, 10)
	require.NoError(t, e.SetVersion("db.coll", 5, false))
	assert.Error(t, e.SetVersion("db.coll", 3, false))
	require.NoError(t, e.SetVersion("db.coll", 3, true))

	require.NoError(t, e.DropCollection("db.coll"))
	n, err := e.Count("db.coll", all())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, e.Version("db.coll"))

	require.NoError(t, e.SetVersion("db.coll", 0, true))
}

func TestNamespaceLock(t *testing.T) {
	e := New("A")
	owner, err := e.LockNamespace("db.coll", 0)
	require.NoError(t, err)

	_, err = e.LockNamespace("db.coll", 0)
	assert.Error(t, err)

	assert.Error(t, e.UnlockNamespace("db.coll", []byte("other")))
	require.NoError(t, e.UnlockNamespace("db.coll", owner))

	_, err = e.LockNamespace("db.coll", 0)
	assert.NoError(t, err)
}

func TestEnsureIndex(t *testing.T) {
	e := New("A")
	require.NoError(t, e.EnsureIndex("db.coll", keyX, true))
	assert.ErrorIs(t, e.EnsureIndex("db.coll", []string{"y"}, false), shard.ErrKeyMismatch)
}
