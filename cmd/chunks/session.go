package chunks

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ValentinKolb/dShard/lib/chunk"
	"github.com/ValentinKolb/dShard/lib/meta"
	"github.com/ValentinKolb/dShard/lib/shard"
	"github.com/ValentinKolb/dShard/lib/shardkey"
	"github.com/goccy/go-yaml"
)

// session bundles everything a chunk command needs.
type session struct {
	reg    *chunk.Registry
	meta   meta.IMetaStore
	shards shard.IDirectory
	out    io.Writer
	format string
}

func newSession(env chunk.Env, out io.Writer, format string) (*session, error) {
	reg, err := chunk.NewRegistry(env)
	if err != nil {
		return nil, err
	}
	return &session{reg: reg, meta: env.Meta, shards: env.Shards, out: out, format: format}, nil
}

// --------------------------------------------------------------------------
// Views
// --------------------------------------------------------------------------

type chunkView struct {
	ID      string `yaml:"id"`
	Min     string `yaml:"min"`
	Max     string `yaml:"max"`
	Shard   string `yaml:"shard"`
	Lastmod uint64 `yaml:"lastmod"`
}

type collectionView struct {
	NS      string      `yaml:"ns"`
	Key     []string    `yaml:"key"`
	Unique  bool        `yaml:"unique"`
	Primary string      `yaml:"primary"`
	Version uint64      `yaml:"version"`
	Shards  []string    `yaml:"shards"`
	Chunks  []chunkView `yaml:"chunks"`
	Changes []string    `yaml:"changes,omitempty"`
}

type routeView struct {
	Query  string      `yaml:"query"`
	Shards []string    `yaml:"shards"`
	Ranges []chunkView `yaml:"ranges"`
}

func viewOf(c *chunk.Chunk) chunkView {
	return chunkView{ID: c.ID(), Min: c.Min().String(), Max: c.Max().String(), Shard: c.Shard(), Lastmod: c.Lastmod()}
}

func collectionOf(m *chunk.Manager) collectionView {
	v := collectionView{
		NS:      m.NS(),
		Key:     m.Pattern().Fields(),
		Unique:  m.Unique(),
		Primary: m.Primary(),
		Version: m.GetVersion(),
		Shards:  m.AllShards(),
	}
	for _, c := range m.Chunks() {
		v.Chunks = append(v.Chunks, viewOf(c))
	}
	return v
}

// print writes v as yaml or through the text renderer.
func (s *session) print(v any, text func(w io.Writer)) error {
	if s.format == "yaml" {
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = s.out.Write(b)
		return err
	}
	text(s.out)
	return nil
}

func printChunk(w io.Writer, c chunkView) {
	fmt.Fprintf(w, "%s\t[%s, %s)\t%s\tlastmod=%d\n", c.ID, c.Min, c.Max, c.Shard, c.Lastmod)
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

func (s *session) shardCollection(ns, key, primary string, unique bool) error {
	var fields []string
	for _, f := range strings.Split(key, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	m, err := s.reg.ShardCollection(ns, fields, unique, primary)
	if err != nil {
		return err
	}
	return s.print(collectionOf(m), func(w io.Writer) {
		fmt.Fprintf(w, "sharded %s by %s on %s\n", m.NS(), m.Pattern(), m.Primary())
	})
}

func (s *session) list() error {
	names, err := s.reg.Collections()
	if err != nil {
		return err
	}
	return s.print(names, func(w io.Writer) {
		for _, n := range names {
			fmt.Fprintln(w, n)
		}
	})
}

func (s *session) show(ns string, withChanges bool) error {
	m, err := s.reg.Get(ns)
	if err != nil {
		return err
	}
	v := collectionOf(m)
	if withChanges {
		changes, err := s.meta.Changes(ns)
		if err != nil {
			return err
		}
		for _, c := range changes {
			details, _ := json.Marshal(c.Details)
			v.Changes = append(v.Changes, fmt.Sprintf("%s %s %s", c.Time.Format("2006-01-02T15:04:05Z07:00"), c.What, details))
		}
	}
	return s.print(v, func(w io.Writer) {
		fmt.Fprintf(w, "%s key=%v unique=%t primary=%s version=%d\n", v.NS, v.Key, v.Unique, v.Primary, v.Version)
		for _, c := range v.Chunks {
			printChunk(w, c)
		}
		for _, c := range v.Changes {
			fmt.Fprintln(w, c)
		}
	})
}

func (s *session) route(ns, queryJSON string) error {
	m, err := s.reg.Get(ns)
	if err != nil {
		return err
	}
	query, err := shardkey.ParseDoc(queryJSON)
	if err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}
	ranges, err := m.GetChunksForQuery(query)
	if err != nil {
		return err
	}
	shards, err := m.GetShardsForQuery(query)
	if err != nil {
		return err
	}
	v := routeView{Query: queryJSON, Shards: shards}
	for _, r := range ranges {
		v.Ranges = append(v.Ranges, chunkView{Min: r.Min().String(), Max: r.Max().String(), Shard: r.Shard()})
	}
	return s.print(v, func(w io.Writer) {
		fmt.Fprintf(w, "shards: %s\n", strings.Join(shards, ","))
		for _, r := range ranges {
			fmt.Fprintln(w, r)
		}
	})
}

// chunkFor parses doc and returns the chunk owning it.
func (s *session) chunkFor(ns, docJSON string) (*chunk.Manager, *chunk.Chunk, shardkey.Doc, error) {
	m, err := s.reg.Get(ns)
	if err != nil {
		return nil, nil, nil, err
	}
	doc, err := shardkey.ParseDoc(docJSON)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid document: %w", err)
	}
	c, err := m.FindChunk(doc)
	if err != nil {
		return nil, nil, nil, err
	}
	return m, c, doc, nil
}

func (s *session) find(ns, docJSON string) error {
	_, c, _, err := s.chunkFor(ns, docJSON)
	if err != nil {
		return err
	}
	v := viewOf(c)
	return s.print(v, func(w io.Writer) { printChunk(w, v) })
}

func (s *session) split(ns, docJSON, at string) error {
	_, c, _, err := s.chunkFor(ns, docJSON)
	if err != nil {
		return err
	}
	var point shardkey.Key
	if at != "" {
		if point, err = shardkey.ParseKey(at); err != nil {
			return err
		}
	} else if point, err = c.PickSplitPoint(); err != nil {
		return err
	}
	right, err := c.Split(point)
	if err != nil {
		return err
	}
	v := []chunkView{viewOf(c), viewOf(right)}
	return s.print(v, func(w io.Writer) {
		for _, c := range v {
			printChunk(w, c)
		}
	})
}

func (s *session) move(ns, docJSON, to string) error {
	_, c, _, err := s.chunkFor(ns, docJSON)
	if err != nil {
		return err
	}
	if err := c.MoveAndCommit(to); err != nil {
		return err
	}
	v := viewOf(c)
	return s.print(v, func(w io.Writer) { printChunk(w, v) })
}

// insert stores doc on the shard owning it and lets the chunk split when it
// grew too large.
func (s *session) insert(ns, docJSON string) error {
	m, c, doc, err := s.chunkFor(ns, docJSON)
	if err != nil {
		return err
	}
	target, err := s.shards.Get(c.Shard())
	if err != nil {
		return err
	}
	if err := target.Insert(ns, m.Pattern().Fields(), []shardkey.Doc{doc}); err != nil {
		return err
	}
	split, err := c.SplitIfShould(int64(len(docJSON)))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "inserted on %s (split=%t)\n", c.Shard(), split)
	return nil
}

func (s *session) drop(ns string) error {
	if err := s.reg.Drop(ns); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "dropped %s\n", ns)
	return nil
}
