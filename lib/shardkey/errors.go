package shardkey

import "errors"

var (
	// ErrMissingShardKey is returned when a document lacks a shard key field.
	ErrMissingShardKey = errors.New("document does not contain the shard key")
	// ErrInvalidKeyValue is returned for values that can not be part of a key.
	ErrInvalidKeyValue = errors.New("invalid shard key value")
	// ErrUnsupportedQuery is returned for predicates that can not be routed by range.
	ErrUnsupportedQuery = errors.New("unsupported query predicate")
)
