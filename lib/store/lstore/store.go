package lstore

import (
	"time"

	"github.com/ValentinKolb/dShard/lib/store"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// entry is a single value together with its (optional) deadlines.
// A zero deadline means the deadline is not set.
type entry struct {
	value    []byte
	expireAt time.Time
	deleteAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

func (e entry) deleted(now time.Time) bool {
	return !e.deleteAt.IsZero() && !now.Before(e.deleteAt)
}

type storeImpl struct {
	data *xsync.MapOf[string, entry]
	now  func() time.Time
}

// Options configures the local store.
type Options struct {
	// GCInterval is the time between two sweeps removing deleted entries (0 = no background sweep).
	GCInterval time.Duration
	// Clock overrides the wall clock, mainly for tests.
	Clock func() time.Time
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
func NewLocalStore() store.IStore {
	return NewLocalStoreWithOptions(Options{})
}

// NewLocalStoreWithOptions creates a new local store with the given options.
func NewLocalStoreWithOptions(opts Options) store.IStore {
	s := &storeImpl{
		data: xsync.NewMapOf[string, entry](),
		now:  opts.Clock,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.GCInterval > 0 {
		go s.gcLoop(opts.GCInterval)
	}
	return s
}

// gcLoop periodically removes entries whose deletion deadline has passed.
// Reads already hide those entries, the sweep only frees memory.
func (s *storeImpl) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		s.sweep()
	}
}

func (s *storeImpl) sweep() {
	now := s.now()
	s.data.Range(func(key string, e entry) bool {
		if e.deleted(now) {
			s.data.Compute(key, func(old entry, loaded bool) (entry, bool) {
				return old, loaded && old.deleted(now)
			})
		}
		return true
	})
}

// newEntry creates an entry relative to the current time.
func (s *storeImpl) newEntry(value []byte, expireIn, deleteIn uint64) entry {
	now := s.now()
	e := entry{value: append([]byte(nil), value...)}
	if expireIn > 0 {
		e.expireAt = now.Add(time.Duration(expireIn) * time.Second)
	}
	if deleteIn > 0 {
		e.deleteAt = now.Add(time.Duration(deleteIn) * time.Second)
	}
	return e
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	s.data.Store(key, s.newEntry(value, 0, 0))
	return nil
}

func (s *storeImpl) SetE(key string, value []byte, expireIn, deleteIn uint64) error {
	s.data.Store(key, s.newEntry(value, expireIn, deleteIn))
	return nil
}

func (s *storeImpl) SetEIfUnset(key string, value []byte, expireIn, deleteIn uint64) error {
	now := s.now()
	s.data.Compute(key, func(old entry, loaded bool) (entry, bool) {
		if loaded && !old.deleted(now) {
			return old, false
		}
		return s.newEntry(value, expireIn, deleteIn), false
	})
	return nil
}

func (s *storeImpl) Expire(key string) error {
	now := s.now()
	s.data.Compute(key, func(old entry, loaded bool) (entry, bool) {
		if !loaded || old.deleted(now) {
			return old, true
		}
		old.expireAt = now
		return old, false
	})
	return nil
}

func (s *storeImpl) Delete(key string) error {
	s.data.Delete(key)
	return nil
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	e, ok := s.data.Load(key)
	if !ok {
		return nil, false, nil
	}
	now := s.now()
	if e.deleted(now) || e.expired(now) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	e, ok := s.data.Load(key)
	if !ok {
		return false, nil
	}
	return !e.deleted(s.now()), nil
}
