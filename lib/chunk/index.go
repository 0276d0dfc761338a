package chunk

import (
	"github.com/ValentinKolb/dShard/lib/shardkey"
	"github.com/google/btree"
)

const btreeDegree = 16

// entry is an item of a maxIndex.
type entry[V any] struct {
	max shardkey.Key
	val V
}

// maxIndex is an ordered map keyed by the exclusive upper bound of a span.
// Spans are disjoint, so the entry containing a key k is upperBound(k).
type maxIndex[V any] struct {
	cmp  func(a, b shardkey.Key) int
	tree *btree.BTreeG[entry[V]]
}

func newMaxIndex[V any](cmp func(a, b shardkey.Key) int) *maxIndex[V] {
	return &maxIndex[V]{
		cmp: cmp,
		tree: btree.NewG[entry[V]](btreeDegree, func(a, b entry[V]) bool {
			return cmp(a.max, b.max) < 0
		}),
	}
}

func (x *maxIndex[V]) set(max shardkey.Key, v V) {
	x.tree.ReplaceOrInsert(entry[V]{max: max, val: v})
}

func (x *maxIndex[V]) remove(max shardkey.Key) {
	x.tree.Delete(entry[V]{max: max})
}

func (x *maxIndex[V]) get(max shardkey.Key) (V, bool) {
	e, ok := x.tree.Get(entry[V]{max: max})
	return e.val, ok
}

func (x *maxIndex[V]) len() int {
	return x.tree.Len()
}

func (x *maxIndex[V]) clear() {
	x.tree.Clear(false)
}

// lowerBound returns the first entry with max >= k.
func (x *maxIndex[V]) lowerBound(k shardkey.Key) (entry[V], bool) {
	var (
		found entry[V]
		ok    bool
	)
	x.tree.AscendGreaterOrEqual(entry[V]{max: k}, func(e entry[V]) bool {
		found, ok = e, true
		return false
	})
	return found, ok
}

// upperBound returns the first entry with max > k.
func (x *maxIndex[V]) upperBound(k shardkey.Key) (entry[V], bool) {
	var (
		found entry[V]
		ok    bool
	)
	x.tree.AscendGreaterOrEqual(entry[V]{max: k}, func(e entry[V]) bool {
		if x.cmp(e.max, k) == 0 {
			return true
		}
		found, ok = e, true
		return false
	})
	return found, ok
}

// prev returns the last entry with max < k.
func (x *maxIndex[V]) prev(k shardkey.Key) (entry[V], bool) {
	var (
		found entry[V]
		ok    bool
	)
	x.tree.DescendLessOrEqual(entry[V]{max: k}, func(e entry[V]) bool {
		if x.cmp(e.max, k) == 0 {
			return true
		}
		found, ok = e, true
		return false
	})
	return found, ok
}

// ascendFrom calls fn for every entry with max >= k in order until fn returns false.
func (x *maxIndex[V]) ascendFrom(k shardkey.Key, fn func(e entry[V]) bool) {
	x.tree.AscendGreaterOrEqual(entry[V]{max: k}, func(e entry[V]) bool {
		return fn(e)
	})
}

// each calls fn for every entry in order until fn returns false.
func (x *maxIndex[V]) each(fn func(e entry[V]) bool) {
	x.tree.Ascend(func(e entry[V]) bool {
		return fn(e)
	})
}

func (x *maxIndex[V]) first() (entry[V], bool) {
	return x.tree.Min()
}

func (x *maxIndex[V]) last() (entry[V], bool) {
	return x.tree.Max()
}
