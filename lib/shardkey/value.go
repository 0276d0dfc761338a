package shardkey

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Sentinel is the type of the MinKey and MaxKey values.
type Sentinel int8

const (
	// MinKey sorts below every other value.
	MinKey Sentinel = -1
	// MaxKey sorts above every other value.
	MaxKey Sentinel = 1
)

func (s Sentinel) String() string {
	if s < 0 {
		return "MinKey"
	}
	return "MaxKey"
}

// MarshalJSON encodes the sentinel the way extended JSON does.
func (s Sentinel) MarshalJSON() ([]byte, error) {
	if s < 0 {
		return []byte(`{"$minKey":1}`), nil
	}
	return []byte(`{"$maxKey":1}`), nil
}

// Doc is a schemaless document.
type Doc map[string]any

// Key is an ordered list of shard key values.
type Key []any

// --------------------------------------------------------------------------
// Ordering
// --------------------------------------------------------------------------

const (
	rankMin = iota
	rankNull
	rankNumber
	rankString
	rankOther
	rankBool
	rankMax
)

func rank(v any) int {
	switch x := v.(type) {
	case Sentinel:
		if x < 0 {
			return rankMin
		}
		return rankMax
	case nil:
		return rankNull
	case string:
		return rankString
	case bool:
		return rankBool
	}
	if _, ok := toFloat(v); ok {
		return rankNumber
	}
	return rankOther
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// CompareValues orders two single values. It returns -1, 0 or +1.
func CompareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		case math.IsNaN(fa) && !math.IsNaN(fb):
			return -1
		case !math.IsNaN(fa) && math.IsNaN(fb):
			return 1
		}
		return 0
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case rankOther:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
	return 0
}

// Compare orders two keys element-wise. A strict prefix sorts first.
func Compare(a, b Key) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := CompareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// Equal reports whether both keys compare equal.
func (k Key) Equal(o Key) bool {
	return Compare(k, o) == 0
}

// IsEmpty reports whether the key has no values.
func (k Key) IsEmpty() bool {
	return len(k) == 0
}

// isScalar reports whether v may be part of a shard key.
func isScalar(v any) bool {
	r := rank(v)
	return r != rankOther
}

// FormatValue renders a single value for ids and log lines.
func FormatValue(v any) string {
	switch x := v.(type) {
	case Sentinel:
		return x.String()
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func (k Key) String() string {
	parts := make([]string, len(k))
	for i, v := range k {
		if s, ok := v.(string); ok {
			parts[i] = strconv.Quote(s)
			continue
		}
		parts[i] = FormatValue(v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// --------------------------------------------------------------------------
// JSON
// --------------------------------------------------------------------------

// UnmarshalJSON decodes a key, restoring MinKey and MaxKey from their extended
// JSON form. Numbers decode as float64.
func (k *Key) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*k = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Key, len(raw))
	for i, r := range raw {
		v, err := decodeValue(r)
		if err != nil {
			return err
		}
		out[i] = v
	}
	*k = out
	return nil
}

func decodeValue(r json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(r)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, err
		}
		if _, ok := obj["$minKey"]; ok && len(obj) == 1 {
			return MinKey, nil
		}
		if _, ok := obj["$maxKey"]; ok && len(obj) == 1 {
			return MaxKey, nil
		}
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ParseKey parses a JSON array (`[5, "a"]`) into a key.
func ParseKey(s string) (Key, error) {
	var k Key
	if err := json.Unmarshal([]byte(s), &k); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyValue, err)
	}
	return k, nil
}

// ParseDoc parses a JSON object into a document. Extended JSON sentinels are
// restored at any depth.
func ParseDoc(s string) (Doc, error) {
	var d Doc
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, err
	}
	return d, nil
}

// UnmarshalJSON decodes a document, restoring MinKey and MaxKey.
func (d *Doc) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*d = nil
		return nil
	}
	out := make(Doc, len(raw))
	for k, r := range raw {
		v, err := decodeAny(r)
		if err != nil {
			return err
		}
		out[k] = v
	}
	*d = out
	return nil
}

func decodeAny(r json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(r)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case '{':
		v, err := decodeValue(trimmed)
		if err != nil {
			return nil, err
		}
		if s, ok := v.(Sentinel); ok {
			return s, nil
		}
		var sub Doc
		if err := json.Unmarshal(trimmed, &sub); err != nil {
			return nil, err
		}
		return map[string]any(sub), nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, it := range items {
			v, err := decodeAny(it)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	var v any
	err := json.Unmarshal(trimmed, &v)
	return v, err
}
