package shardkey

// Filter selects documents whose shard key lies in [Min, Max), or in (Min, Max)
// when MinExclusive is set. An empty bound is unbounded.
type Filter struct {
	Fields       []string `json:"fields"`
	Min          Key      `json:"min,omitempty"`
	Max          Key      `json:"max,omitempty"`
	MinExclusive bool     `json:"minExclusive,omitempty"`
}

// Matches reports whether key lies inside the filter.
func (f Filter) Matches(key Key) bool {
	if len(f.Min) > 0 {
		c := Compare(key, f.Min)
		if c < 0 || (c == 0 && f.MinExclusive) {
			return false
		}
	}
	if len(f.Max) > 0 && Compare(key, f.Max) >= 0 {
		return false
	}
	return true
}

// Doc renders the filter as a query document. Single field filters use the
// usual operator form ({x: {$gte: 1, $lt: 5}}), compound filters render the
// bounds as key documents.
func (f Filter) Doc() Doc {
	lower := "$gte"
	if f.MinExclusive {
		lower = "$gt"
	}
	if len(f.Fields) == 1 {
		cond := Doc{}
		if len(f.Min) > 0 {
			cond[lower] = f.Min[0]
		}
		if len(f.Max) > 0 {
			cond["$lt"] = f.Max[0]
		}
		return Doc{f.Fields[0]: cond}
	}
	p := &Pattern{fields: f.Fields}
	d := Doc{}
	if len(f.Min) > 0 {
		d[lower] = p.KeyDoc(f.Min)
	}
	if len(f.Max) > 0 {
		d["$lt"] = p.KeyDoc(f.Max)
	}
	return Doc{"$key": d}
}
