// Package balancer chooses destination shards for chunk migrations.
package balancer

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dShard/lib/shard"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("balancer")

// ErrNoShard is returned when no shard can be picked.
var ErrNoShard = errors.New("no shard available")

// IPicker selects the shard a chunk should move to.
type IPicker interface {
	Pick() (string, error)
}

// LeastLoaded picks the shard with the smallest data size. Ties go to the
// shard whose name sorts first. Shards that fail to report are skipped.
type LeastLoaded struct {
	dir shard.IDirectory
}

// NewLeastLoaded creates a picker over all shards of dir.
func NewLeastLoaded(dir shard.IDirectory) *LeastLoaded {
	return &LeastLoaded{dir: dir}
}

func (l *LeastLoaded) Pick() (string, error) {
	var (
		best     string
		bestSize int64
		found    bool
	)
	for _, name := range l.dir.Names() {
		s, err := l.dir.Get(name)
		if err != nil {
			log.Warningf("skipping shard %s: %v", name, err)
			continue
		}
		st, err := s.Stats()
		if err != nil {
			log.Warningf("skipping shard %s: %v", name, err)
			continue
		}
		if !found || st.DataSize < bestSize {
			best, bestSize, found = name, st.DataSize, true
		}
	}
	if !found {
		return "", fmt.Errorf("%w: %d shards known", ErrNoShard, len(l.dir.Names()))
	}
	return best, nil
}

// Fixed always picks the same shard.
type Fixed string

func (f Fixed) Pick() (string, error) {
	if f == "" {
		return "", ErrNoShard
	}
	return string(f), nil
}
