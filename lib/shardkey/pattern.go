package shardkey

import (
	"fmt"
	"strings"
)

// IPattern is the ordered key capability chunks depend on.
type IPattern interface {
	// Fields returns the shard key fields in order.
	Fields() []string
	// Compare orders two keys of this pattern.
	Compare(a, b Key) int
	// ExtractKey returns the shard key of a document.
	ExtractKey(doc Doc) (Key, error)
	// HasShardKey reports whether every shard key field is present in doc.
	HasShardKey(doc Doc) bool
	// GlobalMin returns the key below every real key.
	GlobalMin() Key
	// GlobalMax returns the key above every real key.
	GlobalMax() Key
	// Filter returns the containment filter for [min, max).
	Filter(min, max Key) Filter
	// FormatKey renders a key as field_value pairs.
	FormatKey(k Key) string
}

// Pattern is an ascending shard key over one or more (possibly dotted) fields.
type Pattern struct {
	fields []string
}

// NewPattern creates a pattern for the given fields.
func NewPattern(fields ...string) (*Pattern, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("shard key pattern needs at least one field")
	}
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f == "" || strings.HasPrefix(f, "$") {
			return nil, fmt.Errorf("invalid shard key field %q", f)
		}
		if _, ok := seen[f]; ok {
			return nil, fmt.Errorf("duplicate shard key field %q", f)
		}
		seen[f] = struct{}{}
	}
	return &Pattern{fields: append([]string(nil), fields...)}, nil
}

// MustPattern is like NewPattern but panics on invalid input. Intended for tests
// and static patterns.
func MustPattern(fields ...string) *Pattern {
	p, err := NewPattern(fields...)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) Fields() []string {
	return append([]string(nil), p.fields...)
}

func (p *Pattern) Compare(a, b Key) int {
	return Compare(a, b)
}

func (p *Pattern) ExtractKey(doc Doc) (Key, error) {
	key := make(Key, len(p.fields))
	for i, f := range p.fields {
		v, ok := lookup(doc, f)
		if !ok {
			return nil, fmt.Errorf("%w: field %q", ErrMissingShardKey, f)
		}
		if !isScalar(v) {
			return nil, fmt.Errorf("%w: field %q has type %T", ErrInvalidKeyValue, f, v)
		}
		key[i] = v
	}
	return key, nil
}

func (p *Pattern) HasShardKey(doc Doc) bool {
	for _, f := range p.fields {
		if _, ok := lookup(doc, f); !ok {
			return false
		}
	}
	return true
}

func (p *Pattern) GlobalMin() Key {
	return p.fill(MinKey)
}

func (p *Pattern) GlobalMax() Key {
	return p.fill(MaxKey)
}

func (p *Pattern) fill(s Sentinel) Key {
	k := make(Key, len(p.fields))
	for i := range k {
		k[i] = s
	}
	return k
}

// Pad extends a prefix of key values to a full key using s for the missing fields.
func (p *Pattern) Pad(prefix Key, s Sentinel) Key {
	k := make(Key, len(p.fields))
	for i := range k {
		if i < len(prefix) {
			k[i] = prefix[i]
		} else {
			k[i] = s
		}
	}
	return k
}

func (p *Pattern) Filter(min, max Key) Filter {
	return Filter{Fields: p.Fields(), Min: min, Max: max}
}

func (p *Pattern) FormatKey(k Key) string {
	parts := make([]string, 0, len(k))
	for i, v := range k {
		name := fmt.Sprintf("f%d", i)
		if i < len(p.fields) {
			name = p.fields[i]
		}
		parts = append(parts, name+"_"+FormatValue(v))
	}
	return strings.Join(parts, "")
}

// KeyDoc renders a key as a document ({x: 5}).
func (p *Pattern) KeyDoc(k Key) Doc {
	d := make(Doc, len(k))
	for i, v := range k {
		if i < len(p.fields) {
			d[p.fields[i]] = v
		}
	}
	return d
}

func (p *Pattern) String() string {
	parts := make([]string, len(p.fields))
	for i, f := range p.fields {
		parts[i] = f + ": 1"
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

// lookup resolves a dotted path inside a document.
func lookup(doc Doc, path string) (any, bool) {
	var cur any = map[string]any(doc)
	for _, part := range strings.Split(path, ".") {
		var m map[string]any
		switch x := cur.(type) {
		case map[string]any:
			m = x
		case Doc:
			m = x
		default:
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
