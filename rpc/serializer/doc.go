// Package serializer converts RPC messages to bytes and back.
//
// Two implementations of IRPCSerializer are provided:
//
//   - jsonSerializerImpl: JSON encoding. Shard key sentinels are written as
//     {"$minKey":1} / {"$maxKey":1} and restored on decode; numbers inside
//     documents come back as float64, which compares equal to any other
//     numeric type in shard key order.
//
//   - gobSerializerImpl: Go's gob encoding. Dynamic values inside documents and
//     keys keep their Go type, the types used by shardkey are registered in
//     init.
//
// All serializers are stateless and safe for concurrent use.
//
// Usage:
//
//	s := serializer.NewJSONSerializer()
//	data, err := s.Serialize(message)
//	// ... send data ...
//	var received common.Message
//	err = s.Deserialize(data, &received)
package serializer
