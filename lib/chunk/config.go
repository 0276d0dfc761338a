package chunk

import (
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// DefaultMaxChunkSize is the size in bytes above which a chunk is split.
const DefaultMaxChunkSize int64 = 1024 * 1204 * 200

const (
	// splitCheckDivisor: the physical size is only checked once the bytes
	// written since the last check exceed max/splitCheckDivisor.
	splitCheckDivisor = 5
	// boundaryFactor lowers the limit of chunks touching the global min or max.
	boundaryFactor = 0.9
	// defaultLockTimeout is the lease of namespace locks taken on shards (seconds).
	defaultLockTimeout = 60
)

// Config holds the tunables of a Manager.
type Config struct {
	MaxChunkSize int64
	LockTimeout  uint64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize: DefaultMaxChunkSize,
		LockTimeout:  defaultLockTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = DefaultMaxChunkSize
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = defaultLockTimeout
	}
	return c
}

// splitLock allows at most one auto-split evaluation per process. It is only
// ever acquired with TryLock, a busy lock skips the evaluation.
var splitLock sync.Mutex

// nextSequenceNumber is shared by all managers of the process.
var nextSequenceNumber atomic.Uint64

// debugChecks enables full range index validation after every update.
var debugChecks atomic.Bool

// SetDebugChecks enables or disables range index validation after every update.
// A failed validation panics.
func SetDebugChecks(on bool) {
	debugChecks.Store(on)
}

var (
	splitsTotal            = metrics.GetOrCreateCounter("dshard_chunk_splits_total")
	splitSkippedTotal      = metrics.GetOrCreateCounter("dshard_chunk_split_skipped_total")
	migrationsTotal        = metrics.GetOrCreateCounter("dshard_chunk_migrations_total")
	migrationFailuresTotal = metrics.GetOrCreateCounter("dshard_chunk_migration_failures_total")
	reloadsTotal           = metrics.GetOrCreateCounter("dshard_chunk_reloads_total")
	dropsTotal             = metrics.GetOrCreateCounter("dshard_chunk_drops_total")
	splitPointDuration     = metrics.GetOrCreateHistogram("dshard_chunk_split_point_duration_seconds")
)
