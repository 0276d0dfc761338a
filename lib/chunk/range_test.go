package chunk

import (
	"math/rand"
	"testing"

	"github.com/ValentinKolb/dShard/lib/shardkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxIndexBounds(t *testing.T) {
	x := newMaxIndex[string](shardkey.Compare)
	x.set(key(10), "a")
	x.set(key(20), "b")
	x.set(shardkey.Key{shardkey.MaxKey}, "c")

	e, ok := x.upperBound(key(10))
	require.True(t, ok)
	assert.Equal(t, "b", e.val)

	e, ok = x.lowerBound(key(10))
	require.True(t, ok)
	assert.Equal(t, "a", e.val)

	e, ok = x.upperBound(key(5))
	require.True(t, ok)
	assert.Equal(t, "a", e.val)

	_, ok = x.upperBound(shardkey.Key{shardkey.MaxKey})
	assert.False(t, ok)

	e, ok = x.prev(key(20))
	require.True(t, ok)
	assert.Equal(t, "a", e.val)

	x.remove(key(20))
	assert.Equal(t, 2, x.len())
	e, ok = x.upperBound(key(15))
	require.True(t, ok)
	assert.Equal(t, "c", e.val)
}

// Incremental range updates must always match a rebuild from scratch.
func TestRangeIndexMatchesRebuild(t *testing.T) {
	withDebugChecks(t)
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)
	rnd := rand.New(rand.NewSource(42))
	shards := []string{"A", "B"}

	for i := 0; i < 200; i++ {
		p := rnd.Intn(1000)
		c, err := m.FindChunkByKey(key(p))
		require.NoError(t, err)

		if rnd.Intn(3) == 0 {
			to := shards[rnd.Intn(len(shards))]
			if to != c.Shard() {
				require.NoError(t, c.MoveAndCommit(to))
			}
		} else if !c.Min().Equal(key(p)) {
			_, err := c.Split(key(p))
			require.NoError(t, err)
		}

		m.mu.RLock()
		rebuilt := newRangeManager(m.ns, m.pattern)
		rebuilt.reloadAll(m.chunkMap)
		want, got := rebuilt.all(), m.ranges.all()
		m.mu.RUnlock()
		require.Equal(t, want, got, "after step %d", i)
	}
	assert.NoError(t, m.AssertValid())
}

func TestRangesMergeWithBothNeighbours(t *testing.T) {
	withDebugChecks(t)
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)
	splitAt(t, m, 30)
	middle := m.Chunks()[1]
	splitAt(t, m, 60)
	require.Equal(t, 3, m.NumChunks())
	require.Len(t, m.Ranges(), 1)

	require.NoError(t, middle.MoveAndCommit("B"))
	ranges := m.Ranges()
	require.Len(t, ranges, 3)
	assert.Equal(t, "B", ranges[1].Shard())
	assert.True(t, ranges[1].Min().Equal(key(30)))
	assert.True(t, ranges[1].Max().Equal(key(60)))

	require.NoError(t, middle.MoveAndCommit("A"))
	ranges = m.Ranges()
	require.Len(t, ranges, 1)
	assert.Equal(t, "A", ranges[0].Shard())
	assert.True(t, ranges[0].Min().Equal(shardkey.Key{shardkey.MinKey}))
	assert.True(t, ranges[0].Max().Equal(shardkey.Key{shardkey.MaxKey}))
	assert.Equal(t, 3, m.NumChunks())
	assert.NoError(t, m.AssertValid())
}

func TestRangeAssertValidDetectsGaps(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), nil)
	m := e.shardCollection(t)
	splitAt(t, m, 50)

	m.mu.Lock()
	m.chunkMap.remove(key(50))
	m.mu.Unlock()
	assert.Error(t, m.AssertValid())
}
