package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/dShard/lib/shardkey"
	"github.com/ValentinKolb/dShard/rpc/common"
)

// Documents and keys carry values of dynamic type, gob has to know them.
func init() {
	gob.Register(shardkey.Sentinel(0))
	gob.Register(shardkey.Doc{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() IRPCSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the IRPCSerializer interface using gob encoding
type gobSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	buf := bytes.NewBuffer(b)
	dec := gob.NewDecoder(buf)
	return dec.Decode(msg)
}
