// Package shardkey implements the ordered key abstraction chunks are defined over.
//
// A Key is the list of shard key values of a document, in the order of the
// fields of a Pattern. Values of different types are ordered by a canonical
// type rank:
//
//	MinKey < null < numbers < strings < booleans < MaxKey
//
// Numbers compare by value independent of their Go type, so an int 5 and a
// float64 5 (as produced by encoding/json) are the same key value. Keys compare
// element-wise; when one key is a strict prefix of the other, the shorter one
// sorts first.
//
// MinKey and MaxKey are sentinels below and above every real value. The global
// minimum of a pattern is the key with MinKey in every position, the global
// maximum has MaxKey in every position. A chunk is "at the global min" when its
// lower bound equals that key.
//
// The package also contains the query analysis used for routing: Analyze
// reduces a query document to the intervals it allows on a single field.
package shardkey
