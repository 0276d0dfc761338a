package chunk

import (
	"fmt"

	"github.com/ValentinKolb/dShard/lib/shardkey"
)

// ChunkRange is a maximal run of adjacent chunks owned by the same shard.
// Ranges are immutable values.
type ChunkRange struct {
	ns    string
	shard string
	min   shardkey.Key
	max   shardkey.Key
}

func (r ChunkRange) NS() string        { return r.ns }
func (r ChunkRange) Shard() string     { return r.shard }
func (r ChunkRange) Min() shardkey.Key { return r.min }
func (r ChunkRange) Max() shardkey.Key { return r.max }

// Contains reports whether min <= key < max.
func (r ChunkRange) Contains(key shardkey.Key) bool {
	return shardkey.Compare(r.min, key) <= 0 && shardkey.Compare(key, r.max) < 0
}

func (r ChunkRange) String() string {
	return fmt.Sprintf("ChunkRange(min=%s, max=%s, shard=%s)", r.min, r.max, r.shard)
}

// RangeManager keeps the merged ranges of a chunk map in an index keyed by max.
// It is not synchronized, the owning Manager guards it with its lock.
type RangeManager struct {
	ns      string
	pattern shardkey.IPattern
	ranges  *maxIndex[ChunkRange]
}

func newRangeManager(ns string, pattern shardkey.IPattern) *RangeManager {
	return &RangeManager{
		ns:      ns,
		pattern: pattern,
		ranges:  newMaxIndex[ChunkRange](pattern.Compare),
	}
}

func (r *RangeManager) clear() {
	r.ranges.clear()
}

// reloadAll rebuilds the ranges from scratch.
func (r *RangeManager) reloadAll(chunks *maxIndex[*Chunk]) {
	r.ranges.clear()
	var all []*Chunk
	chunks.each(func(e entry[*Chunk]) bool {
		all = append(all, e.val)
		return true
	})
	r.insertRange(all)
	r.validate(chunks)
}

// reloadRange rebuilds the ranges overlapping [min, max) after the chunks in
// that span changed, and merges the result with its neighbours.
func (r *RangeManager) reloadRange(chunks *maxIndex[*Chunk], min, max shardkey.Key) {
	if r.ranges.len() == 0 {
		r.reloadAll(chunks)
		return
	}

	low, okLow := r.ranges.upperBound(min)
	high, okHigh := r.ranges.lowerBound(max)
	if !okLow || !okHigh {
		// the span is not covered by the index, only possible if it was already broken
		log.Warningf("range index of %s does not cover [%s, %s), rebuilding", r.ns, min, max)
		r.reloadAll(chunks)
		return
	}

	// chunks between the old range boundaries, both ends inclusive
	var affected []*Chunk
	if begin, ok := chunks.upperBound(low.val.min); ok {
		chunks.ascendFrom(begin.max, func(e entry[*Chunk]) bool {
			affected = append(affected, e.val)
			return r.pattern.Compare(e.max, high.val.max) < 0
		})
	}

	// drop the old ranges [low, high]
	var stale []shardkey.Key
	r.ranges.ascendFrom(low.max, func(e entry[ChunkRange]) bool {
		stale = append(stale, e.max)
		return r.pattern.Compare(e.max, high.max) < 0
	})
	for _, k := range stale {
		r.ranges.remove(k)
	}

	r.insertRange(affected)

	// merge the low end with its predecessor
	if cur, ok := r.ranges.upperBound(min); ok {
		if prev, ok := r.ranges.prev(cur.max); ok && prev.val.shard == cur.val.shard {
			r.merge(prev.val, cur.val)
		}
	}

	// merge the high end with its successor
	if cur, ok := r.ranges.lowerBound(max); ok {
		if next, ok := r.ranges.upperBound(cur.max); ok && next.val.shard == cur.val.shard {
			r.merge(cur.val, next.val)
		}
	}

	r.validate(chunks)
}

// insertRange groups consecutive chunks with the same shard into ranges.
func (r *RangeManager) insertRange(chunks []*Chunk) {
	for i := 0; i < len(chunks); {
		j := i + 1
		for j < len(chunks) && chunks[j].shard == chunks[i].shard {
			j++
		}
		cr := ChunkRange{
			ns:    r.ns,
			shard: chunks[i].shard,
			min:   chunks[i].min,
			max:   chunks[j-1].max,
		}
		r.ranges.set(cr.max, cr)
		i = j
	}
}

// merge replaces two adjacent ranges of the same shard by one.
func (r *RangeManager) merge(a, b ChunkRange) {
	r.ranges.remove(a.max)
	r.ranges.remove(b.max)
	merged := ChunkRange{ns: r.ns, shard: a.shard, min: a.min, max: b.max}
	r.ranges.set(merged.max, merged)
}

func (r *RangeManager) validate(chunks *maxIndex[*Chunk]) {
	if !debugChecks.Load() {
		return
	}
	if err := r.assertValid(chunks); err != nil {
		log.Panicf("range index of %s is invalid: %v", r.ns, err)
	}
}

// assertValid checks that the ranges partition the key space without gaps,
// that every index key equals the range max and that every chunk lies inside
// exactly one range of the same shard.
func (r *RangeManager) assertValid(chunks *maxIndex[*Chunk]) error {
	if r.ranges.len() == 0 {
		if chunks.len() != 0 {
			return fmt.Errorf("no ranges for %d chunks", chunks.len())
		}
		return nil
	}

	first, _ := r.ranges.first()
	last, _ := r.ranges.last()
	if r.pattern.Compare(first.val.min, r.pattern.GlobalMin()) != 0 {
		return fmt.Errorf("first range starts at %s", first.val.min)
	}
	if r.pattern.Compare(last.val.max, r.pattern.GlobalMax()) != 0 {
		return fmt.Errorf("last range ends at %s", last.val.max)
	}

	var (
		err  error
		prev *ChunkRange
	)
	r.ranges.each(func(e entry[ChunkRange]) bool {
		if r.pattern.Compare(e.max, e.val.max) != 0 {
			err = fmt.Errorf("index key %s does not match %s", e.max, e.val)
			return false
		}
		if r.pattern.Compare(e.val.min, e.val.max) >= 0 {
			err = fmt.Errorf("empty range %s", e.val)
			return false
		}
		if prev != nil {
			if r.pattern.Compare(prev.max, e.val.min) != 0 {
				err = fmt.Errorf("gap or overlap between %s and %s", prev, e.val)
				return false
			}
			if prev.shard == e.val.shard {
				err = fmt.Errorf("unmerged ranges %s and %s", prev, e.val)
				return false
			}
		}
		cur := e.val
		prev = &cur
		return true
	})
	if err != nil {
		return err
	}

	chunks.each(func(e entry[*Chunk]) bool {
		c := e.val
		cr, ok := r.ranges.upperBound(c.min)
		if !ok {
			err = fmt.Errorf("no range for %s", c.stringLocked())
			return false
		}
		if r.pattern.Compare(cr.val.min, c.min) > 0 || r.pattern.Compare(c.max, cr.val.max) > 0 {
			err = fmt.Errorf("%s is not contained in %s", c.stringLocked(), cr.val)
			return false
		}
		if cr.val.shard != c.shard {
			err = fmt.Errorf("%s: range is on %s", c.stringLocked(), cr.val.shard)
			return false
		}
		return true
	})
	return err
}

// all returns every range in order.
func (r *RangeManager) all() []ChunkRange {
	out := make([]ChunkRange, 0, r.ranges.len())
	r.ranges.each(func(e entry[ChunkRange]) bool {
		out = append(out, e.val)
		return true
	})
	return out
}

// Len returns the number of ranges.
func (r *RangeManager) Len() int {
	return r.ranges.len()
}
