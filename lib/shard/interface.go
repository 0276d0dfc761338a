package shard

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ValentinKolb/dShard/lib/shardkey"
)

var (
	// ErrUnknownShard is returned by a directory for names it does not know.
	ErrUnknownShard = errors.New("unknown shard")
	// ErrMigrationInProgress is returned when a namespace already has an active migration.
	ErrMigrationInProgress = errors.New("migration already in progress")
	// ErrInvalidToken is returned when a migration is finished with a wrong token.
	ErrInvalidToken = errors.New("invalid migration token")
	// ErrKeyMismatch is returned when a namespace is addressed with a different shard key.
	ErrKeyMismatch = errors.New("shard key does not match namespace")
)

// Stats summarizes the content of a shard.
type Stats struct {
	Name       string            `json:"name"`
	Namespaces int               `json:"namespaces"`
	Documents  int64             `json:"documents"`
	DataSize   int64             `json:"dataSize"`
	Versions   map[string]uint64 `json:"versions"`
}

// IShard is the command surface of a single shard node.
type IShard interface {
	// Insert stores documents in ns. keyFields is the shard key of the namespace.
	Insert(ns string, keyFields []string, docs []shardkey.Doc) error
	// Find returns all documents matching the filter in shard key order.
	Find(ns string, filter shardkey.Filter) ([]shardkey.Doc, error)
	// FindOne returns the first matching document in ascending or descending shard key order.
	FindOne(ns string, filter shardkey.Filter, descending bool) (shardkey.Doc, bool, error)
	// Count returns the number of matching documents.
	Count(ns string, filter shardkey.Filter) (int64, error)
	// DataSize returns the size of the matching documents in bytes. With maxSize > 0 the
	// scan may stop as soon as the size exceeds maxSize.
	DataSize(ns string, filter shardkey.Filter, maxSize int64) (int64, error)
	// MedianKey returns the shard key of the middle matching document, or an empty key.
	MedianKey(ns string, filter shardkey.Filter) (shardkey.Key, error)

	// MoveChunkStart prepares handing the filtered range to shard `to` and returns a finish token.
	MoveChunkStart(ns, from, to string, filter shardkey.Filter) (token string, err error)
	// MoveChunkFinish completes a migration started with MoveChunkStart.
	MoveChunkFinish(ns, to string, newVersion uint64, token string) error
	// MoveChunkAbort drops a started migration without moving documents.
	MoveChunkAbort(ns, token string) error

	// DropCollection removes ns and all its documents.
	DropCollection(ns string) error
	// SetVersion sets the routing version the shard expects for ns.
	SetVersion(ns string, version uint64, authoritative bool) error
	// EnsureIndex makes sure an index over keyFields exists for ns.
	EnsureIndex(ns string, keyFields []string, unique bool) error

	// LockNamespace acquires the namespace lock for timeout seconds (0 = no timeout)
	// and returns the owner token needed to release it.
	LockNamespace(ns string, timeout uint64) (owner []byte, err error)
	// UnlockNamespace releases a namespace lock.
	UnlockNamespace(ns string, owner []byte) error

	// Stats returns a summary of the shard content.
	Stats() (Stats, error)
}

// IDirectory resolves shard names to command clients.
type IDirectory interface {
	// Get returns the shard with the given name.
	Get(name string) (IShard, error)
	// Names returns all known shard names in sorted order.
	Names() []string
}

// --------------------------------------------------------------------------
// Static Directory
// --------------------------------------------------------------------------

// StaticDirectory is an IDirectory over a fixed set of shards.
type StaticDirectory struct {
	mu     sync.RWMutex
	shards map[string]IShard
}

// NewStaticDirectory creates an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{shards: map[string]IShard{}}
}

// Add registers a shard under name.
func (d *StaticDirectory) Add(name string, s IShard) {
	d.mu.Lock()
	d.shards[name] = s
	d.mu.Unlock()
}

func (d *StaticDirectory) Get(name string) (IShard, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.shards[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownShard, name)
	}
	return s, nil
}

func (d *StaticDirectory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.shards))
	for n := range d.shards {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
