package serializer

import "github.com/ValentinKolb/dShard/rpc/common"

// IRPCSerializer converts Messages to bytes and back. Both ends of a
// connection have to use the same implementation.
type IRPCSerializer interface {
	// Serialize encodes a Message
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg
	Deserialize(b []byte, msg *common.Message) error
}
