package meta

import (
	"errors"
	"time"

	"github.com/ValentinKolb/dShard/lib/shardkey"
)

// ErrStoreUnavailable wraps every failure of the underlying store.
var ErrStoreUnavailable = errors.New("metadata store unavailable")

// --------------------------------------------------------------------------
// Records
// --------------------------------------------------------------------------

// ChunkRecord is the persisted form of a chunk.
type ChunkRecord struct {
	ID      string       `json:"_id"`
	Lastmod uint64       `json:"lastmod"`
	NS      string       `json:"ns"`
	Min     shardkey.Key `json:"min"`
	Max     shardkey.Key `json:"max"`
	Shard   string       `json:"shard"`
	// IsMaxMarker flags bookkeeping records that are not chunks.
	IsMaxMarker bool `json:"isMaxMarker,omitempty"`
}

// CollectionInfo describes a sharded collection.
type CollectionInfo struct {
	NS      string   `json:"ns"`
	Key     []string `json:"key"`
	Unique  bool     `json:"unique"`
	Primary string   `json:"primary"`
}

// ChangeEntry is one audit log record.
type ChangeEntry struct {
	What    string         `json:"what"`
	NS      string         `json:"ns"`
	Time    time.Time      `json:"time"`
	Details map[string]any `json:"details"`
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IMetaStore is the persistence port of the chunk layer.
type IMetaStore interface {
	// LoadChunks returns every chunk record of ns, including markers.
	LoadChunks(ns string) ([]ChunkRecord, error)
	// SaveChunk upserts a record by id. A zero Lastmod is replaced by a freshly
	// allocated version; the stored record is returned.
	SaveChunk(rec ChunkRecord) (ChunkRecord, error)
	// RemoveChunks deletes every chunk record of ns.
	RemoveChunks(ns string) error

	// GetCollection returns the sharding info of ns.
	GetCollection(ns string) (CollectionInfo, bool, error)
	// SaveCollection registers ns as sharded.
	SaveCollection(info CollectionInfo) error
	// RemoveCollection clears the sharding info of ns.
	RemoveCollection(ns string) error
	// ListCollections returns the names of all sharded collections.
	ListCollections() ([]string, error)

	// LogChange appends an audit entry.
	LogChange(what, ns string, details map[string]any) error
	// Changes returns the audit entries of ns in insertion order.
	Changes(ns string) ([]ChangeEntry, error)
}
