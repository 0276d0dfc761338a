package shardkey

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareValuesTypeOrder(t *testing.T) {
	ordered := []any{MinKey, nil, -3, 2.5, 5, "a", "b", false, true, MaxKey}
	for i := 0; i < len(ordered); i++ {
		for j := 0; j < len(ordered); j++ {
			got := CompareValues(ordered[i], ordered[j])
			switch {
			case i < j:
				assert.Equal(t, -1, got, "%v < %v", ordered[i], ordered[j])
			case i > j:
				assert.Equal(t, 1, got, "%v > %v", ordered[i], ordered[j])
			default:
				assert.Equal(t, 0, got)
			}
		}
	}
}

func TestCompareNumbersAcrossTypes(t *testing.T) {
	assert.Equal(t, 0, CompareValues(5, float64(5)))
	assert.Equal(t, 0, CompareValues(int64(5), uint8(5)))
	assert.Equal(t, 0, CompareValues(json.Number("5"), 5))
	assert.Equal(t, -1, CompareValues(int32(4), 4.5))
}

func TestCompareKeys(t *testing.T) {
	assert.Equal(t, -1, Compare(Key{1, "a"}, Key{1, "b"}))
	assert.Equal(t, 1, Compare(Key{2}, Key{1, MaxKey}))
	assert.Equal(t, -1, Compare(Key{1}, Key{1, MinKey}), "prefix sorts first")
	assert.True(t, Key{MinKey}.Equal(Key{MinKey}))
}

func TestKeyJSONRoundTrip(t *testing.T) {
	k := Key{MinKey, 5, "x", MaxKey}
	b, err := json.Marshal(k)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"$minKey":1},5,"x",{"$maxKey":1}]`, string(b))

	var back Key
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, 0, Compare(k, back))
	assert.Equal(t, MinKey, back[0])
	assert.Equal(t, MaxKey, back[3])
}

func TestParseDocRestoresSentinels(t *testing.T) {
	d, err := ParseDoc(`{"x": {"$minKey": 1}, "y": {"a": 1}, "z": [1, {"$maxKey": 1}]}`)
	require.NoError(t, err)
	assert.Equal(t, MinKey, d["x"])
	assert.Equal(t, map[string]any{"a": float64(1)}, d["y"])
	assert.Equal(t, []any{float64(1), MaxKey}, d["z"])
}

func TestPattern(t *testing.T) {
	p := MustPattern("x", "meta.y")

	k, err := p.ExtractKey(Doc{"x": 1, "meta": map[string]any{"y": "b"}})
	require.NoError(t, err)
	assert.Equal(t, Key{1, "b"}, k)

	_, err = p.ExtractKey(Doc{"x": 1})
	assert.ErrorIs(t, err, ErrMissingShardKey)

	_, err = p.ExtractKey(Doc{"x": []any{1}, "meta": Doc{"y": 1}})
	assert.ErrorIs(t, err, ErrInvalidKeyValue)

	assert.True(t, p.HasShardKey(Doc{"x": nil, "meta": Doc{"y": 2}}))
	assert.False(t, p.HasShardKey(Doc{"x": 1}))

	assert.Equal(t, Key{MinKey, MinKey}, p.GlobalMin())
	assert.Equal(t, Key{MaxKey, MaxKey}, p.GlobalMax())
	assert.Equal(t, "x_5meta.y_MinKey", p.FormatKey(Key{5, MinKey}))
	assert.Equal(t, Key{7, MaxKey}, p.Pad(Key{7}, MaxKey))

	_, err = NewPattern()
	assert.Error(t, err)
	_, err = NewPattern("x", "x")
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	p := MustPattern("x")
	f := p.Filter(Key{10}, Key{20})
	assert.True(t, f.Matches(Key{10}))
	assert.True(t, f.Matches(Key{19.5}))
	assert.False(t, f.Matches(Key{20}))
	assert.False(t, f.Matches(Key{9}))
	assert.Equal(t, Doc{"x": Doc{"$gte": 10, "$lt": 20}}, f.Doc())

	f.MinExclusive = true
	assert.False(t, f.Matches(Key{10}))
	assert.Equal(t, Doc{"x": Doc{"$gt": 10, "$lt": 20}}, f.Doc())

	open := Filter{Fields: []string{"x"}}
	assert.True(t, open.Matches(Key{MaxKey}))
}

func TestAnalyze(t *testing.T) {
	t.Run("unconstrained", func(t *testing.T) {
		r, err := Analyze(Doc{"y": 1}, "x")
		require.NoError(t, err)
		assert.True(t, r.Unconstrained())
	})

	t.Run("equality", func(t *testing.T) {
		r, err := Analyze(Doc{"x": 5}, "x")
		require.NoError(t, err)
		v, ok := r.Equality()
		assert.True(t, ok)
		assert.Equal(t, 5, v)

		r, err = Analyze(Doc{"x": Doc{"$eq": "a"}}, "x")
		require.NoError(t, err)
		_, ok = r.Equality()
		assert.True(t, ok)
	})

	t.Run("interval", func(t *testing.T) {
		r, err := Analyze(Doc{"x": Doc{"$gte": 10, "$lt": 20, "$gt": 5}}, "x")
		require.NoError(t, err)
		require.Len(t, r.Intervals, 1)
		assert.Equal(t, Bound{10, true}, r.Intervals[0].Lower)
		assert.Equal(t, Bound{20, false}, r.Intervals[0].Upper)
	})

	t.Run("contradiction is empty", func(t *testing.T) {
		r, err := Analyze(Doc{"x": Doc{"$gt": 10, "$lt": 5}}, "x")
		require.NoError(t, err)
		assert.True(t, r.Empty())

		r, err = Analyze(Doc{"x": Doc{"$in": []any{}}}, "x")
		require.NoError(t, err)
		assert.True(t, r.Empty())
	})

	t.Run("in", func(t *testing.T) {
		r, err := Analyze(Doc{"x": Doc{"$in": []any{30, 1, 30, 7}, "$lt": 10}}, "x")
		require.NoError(t, err)
		require.Len(t, r.Intervals, 2)
		assert.True(t, r.Intervals[0].IsPoint())
		assert.Equal(t, 1, r.Intervals[0].Lower.Value)
		assert.Equal(t, 7, r.Intervals[1].Lower.Value)
	})

	t.Run("non narrowing operators", func(t *testing.T) {
		r, err := Analyze(Doc{"x": Doc{"$ne": 3, "$exists": true}}, "x")
		require.NoError(t, err)
		assert.True(t, r.Unconstrained())
	})

	t.Run("special predicates", func(t *testing.T) {
		_, err := Analyze(Doc{"loc": Doc{"$near": []any{1, 2}}}, "x")
		assert.ErrorIs(t, err, ErrUnsupportedQuery)
		_, err = Analyze(Doc{"$where": "this.x > 1"}, "x")
		assert.ErrorIs(t, err, ErrUnsupportedQuery)
	})

	t.Run("embedded document is equality", func(t *testing.T) {
		r, err := Analyze(Doc{"x": Doc{"a": 1}}, "x")
		require.NoError(t, err)
		_, ok := r.Equality()
		assert.True(t, ok)
	})
}
