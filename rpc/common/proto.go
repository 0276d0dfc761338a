package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dShard/lib/shard"
	"github.com/ValentinKolb/dShard/lib/shardkey"
)

// --------------------------------------------------------------------------
// Service IDs
// --------------------------------------------------------------------------

const (
	// ServiceConfigStore addresses the metadata key-value store.
	ServiceConfigStore uint64 = 100
	// ServiceShard addresses the shard engine of a node.
	ServiceShard uint64 = 200
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Key-value fields
	Key      string `json:"key,omitempty"`      // Used for: Set, Get, Has, Expire, Delete
	ExpireIn uint64 `json:"expireIn,omitempty"` // Used for: SetE, SetEIfUnset
	DeleteIn uint64 `json:"deleteIn,omitempty"` // Used for: SetE, SetEIfUnset
	Value    []byte `json:"value,omitempty"`    // Used for: Set (request), Get (response), Unlock (request), Lock (response)

	// Shard command fields
	NS            string           `json:"ns,omitempty"`
	Fields        []string         `json:"fields,omitempty"` // Used for: Insert, EnsureIndex
	Filter        *shardkey.Filter `json:"filter,omitempty"`
	Docs          []shardkey.Doc   `json:"docs,omitempty"`     // Used for: Insert (request), Find, FindOne (response)
	ShardKey      shardkey.Key     `json:"shardKey,omitempty"` // Used for: MedianKey (response)
	Descending    bool             `json:"descending,omitempty"`
	Unique        bool             `json:"unique,omitempty"`
	Authoritative bool             `json:"authoritative,omitempty"`
	From          string           `json:"from,omitempty"`
	To            string           `json:"to,omitempty"`
	Version       uint64           `json:"version,omitempty"`
	Token         string           `json:"token,omitempty"`   // Used for: MoveStart (response), MoveFinish, MoveAbort (request)
	Timeout       uint64           `json:"timeout,omitempty"` // Used for: Lock
	Size          int64            `json:"size,omitempty"`    // Used for: DataSize (request limit and response), Count (response)
	Stats         *shard.Stats     `json:"stats,omitempty"`

	// Response only fields
	Ok  bool   `json:"ok,omitempty"`  // Used for: Get, Has, FindOne responses
	Err string `json:"err,omitempty"` // Empty if no error, otherwise contains the error message
}

// --------------------------------------------------------------------------
// Message Factory Functions (key-value)
// --------------------------------------------------------------------------

// NewSetRequest creates a new Set request
func NewSetRequest(key string, value []byte) *Message {
	return &Message{
		MsgType: MsgTKVSet,
		Key:     key,
		Value:   value,
	}
}

// NewSetERequest creates a new SetE request
func NewSetERequest(key string, value []byte, expireIn, deleteIn uint64) *Message {
	return &Message{
		MsgType:  MsgTKVSetE,
		Key:      key,
		Value:    value,
		ExpireIn: expireIn,
		DeleteIn: deleteIn,
	}
}

// NewSetEIfUnsetRequest creates a new SetEIfUnset request
func NewSetEIfUnsetRequest(key string, value []byte, expireIn, deleteIn uint64) *Message {
	return &Message{
		MsgType:  MsgTKVSetEIfUnset,
		Key:      key,
		Value:    value,
		ExpireIn: expireIn,
		DeleteIn: deleteIn,
	}
}

// NewExpireRequest creates a new Expire request
func NewExpireRequest(key string) *Message {
	return &Message{MsgType: MsgTKVExpire, Key: key}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{MsgType: MsgTKVDelete, Key: key}
}

// NewGetRequest creates a new Get request
func NewGetRequest(key string) *Message {
	return &Message{MsgType: MsgTKVGet, Key: key}
}

// NewHasRequest creates a new Has request
func NewHasRequest(key string) *Message {
	return &Message{MsgType: MsgTKVHas, Key: key}
}

// --------------------------------------------------------------------------
// Message Factory Functions (shard commands)
// --------------------------------------------------------------------------

// NewInsertRequest creates a new Insert request
func NewInsertRequest(ns string, keyFields []string, docs []shardkey.Doc) *Message {
	return &Message{MsgType: MsgTShardInsert, NS: ns, Fields: keyFields, Docs: docs}
}

// NewFindRequest creates a new Find request
func NewFindRequest(ns string, filter shardkey.Filter) *Message {
	return &Message{MsgType: MsgTShardFind, NS: ns, Filter: &filter}
}

// NewFindOneRequest creates a new FindOne request
func NewFindOneRequest(ns string, filter shardkey.Filter, descending bool) *Message {
	return &Message{MsgType: MsgTShardFindOne, NS: ns, Filter: &filter, Descending: descending}
}

// NewCountRequest creates a new Count request
func NewCountRequest(ns string, filter shardkey.Filter) *Message {
	return &Message{MsgType: MsgTShardCount, NS: ns, Filter: &filter}
}

// NewDataSizeRequest creates a new DataSize request
func NewDataSizeRequest(ns string, filter shardkey.Filter, maxSize int64) *Message {
	return &Message{MsgType: MsgTShardDataSize, NS: ns, Filter: &filter, Size: maxSize}
}

// NewMedianKeyRequest creates a new MedianKey request
func NewMedianKeyRequest(ns string, filter shardkey.Filter) *Message {
	return &Message{MsgType: MsgTShardMedianKey, NS: ns, Filter: &filter}
}

// NewMoveStartRequest creates a new MoveChunkStart request
func NewMoveStartRequest(ns, from, to string, filter shardkey.Filter) *Message {
	return &Message{MsgType: MsgTShardMoveStart, NS: ns, From: from, To: to, Filter: &filter}
}

// NewMoveFinishRequest creates a new MoveChunkFinish request
func NewMoveFinishRequest(ns, to string, newVersion uint64, token string) *Message {
	return &Message{MsgType: MsgTShardMoveFinish, NS: ns, To: to, Version: newVersion, Token: token}
}

// NewMoveAbortRequest creates a new MoveChunkAbort request
func NewMoveAbortRequest(ns, token string) *Message {
	return &Message{MsgType: MsgTShardMoveAbort, NS: ns, Token: token}
}

// NewDropRequest creates a new DropCollection request
func NewDropRequest(ns string) *Message {
	return &Message{MsgType: MsgTShardDrop, NS: ns}
}

// NewSetVersionRequest creates a new SetVersion request
func NewSetVersionRequest(ns string, version uint64, authoritative bool) *Message {
	return &Message{MsgType: MsgTShardSetVersion, NS: ns, Version: version, Authoritative: authoritative}
}

// NewEnsureIndexRequest creates a new EnsureIndex request
func NewEnsureIndexRequest(ns string, keyFields []string, unique bool) *Message {
	return &Message{MsgType: MsgTShardEnsureIndex, NS: ns, Fields: keyFields, Unique: unique}
}

// NewLockRequest creates a new LockNamespace request
func NewLockRequest(ns string, timeout uint64) *Message {
	return &Message{MsgType: MsgTShardLock, NS: ns, Timeout: timeout}
}

// NewUnlockRequest creates a new UnlockNamespace request
func NewUnlockRequest(ns string, owner []byte) *Message {
	return &Message{MsgType: MsgTShardUnlock, NS: ns, Value: owner}
}

// NewStatsRequest creates a new Stats request
func NewStatsRequest() *Message {
	return &Message{MsgType: MsgTShardStats}
}

// --------------------------------------------------------------------------
// Responses
// --------------------------------------------------------------------------

// NewResponse creates an empty response for the given request type. A non nil
// error is stored in the Err field.
func NewResponse(t MessageType, err error) *Message {
	msg := &Message{MsgType: t}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IStore operations

	MsgTKVSet         // Set a key-value pair
	MsgTKVSetE        // Set a key-value pair with expiration
	MsgTKVSetEIfUnset // Set a key-value pair if not already set
	MsgTKVExpire      // Expire a key
	MsgTKVDelete      // Delete a key-value pair
	MsgTKVGet         // Get a value by key
	MsgTKVHas         // Check if a key exists

	// IShard operations

	MsgTShardInsert
	MsgTShardFind
	MsgTShardFindOne
	MsgTShardCount
	MsgTShardDataSize
	MsgTShardMedianKey
	MsgTShardMoveStart
	MsgTShardMoveFinish
	MsgTShardDrop
	MsgTShardSetVersion
	MsgTShardEnsureIndex
	MsgTShardLock
	MsgTShardUnlock
	MsgTShardStats
	MsgTShardMoveAbort
)

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:          "success",
	MsgTError:            "error",
	MsgTKVSet:            "set",
	MsgTKVSetE:           "setE",
	MsgTKVSetEIfUnset:    "setEIfUnset",
	MsgTKVExpire:         "expire",
	MsgTKVDelete:         "delete",
	MsgTKVGet:            "get",
	MsgTKVHas:            "has",
	MsgTShardInsert:      "insert",
	MsgTShardFind:        "find",
	MsgTShardFindOne:     "findOne",
	MsgTShardCount:       "count",
	MsgTShardDataSize:    "dataSize",
	MsgTShardMedianKey:   "medianKey",
	MsgTShardMoveStart:   "moveChunk.start",
	MsgTShardMoveFinish:  "moveChunk.finish",
	MsgTShardDrop:        "dropCollection",
	MsgTShardSetVersion:  "setShardVersion",
	MsgTShardEnsureIndex: "ensureIndex",
	MsgTShardLock:        "lockNamespace",
	MsgTShardUnlock:      "unlockNamespace",
	MsgTShardStats:       "stats",
	MsgTShardMoveAbort:   "moveChunk.abort",
}

var messageTypesByName = func() map[string]MessageType {
	m := make(map[string]MessageType, len(messageTypeNames))
	for t, name := range messageTypeNames {
		m[name] = t
	}
	return m
}()

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	mt, ok := messageTypesByName[s]
	if !ok {
		return fmt.Errorf("unknown message type: %s", s)
	}
	*t = mt
	return nil
}
