package chunk

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleChunk is returned for operations on a chunk handle that was
	// invalidated by a reload or drop of its manager.
	ErrStaleChunk = errors.New("chunk handle is stale")
	// ErrNoManager is returned for chunks that are not attached to a manager.
	ErrNoManager = errors.New("chunk has no manager")
	// ErrNotSharded is returned for namespaces without sharding metadata.
	ErrNotSharded = errors.New("namespace is not sharded")
)

// Kind classifies chunk layer errors.
type Kind uint8

const (
	KindValidation         Kind = iota + 1 // caller error, nothing changed
	KindCacheInconsistency                 // routing cache disagrees with itself after a reload
	KindRemote                             // a shard command failed
	KindLock                               // a namespace could not be locked
	KindStore                              // the metadata store failed
	KindStaleHandle                        // the chunk handle belongs to an older generation
	KindUnsupported                        // the query can not be routed by range
	KindMigration                          // a decided migration failed
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCacheInconsistency:
		return "cache inconsistency"
	case KindRemote:
		return "remote"
	case KindLock:
		return "lock"
	case KindStore:
		return "store"
	case KindStaleHandle:
		return "stale handle"
	case KindUnsupported:
		return "unsupported"
	case KindMigration:
		return "migration"
	default:
		return "unknown"
	}
}

// Error is the error type of the chunk layer.
type Error struct {
	Kind  Kind
	Op    string
	Msg   string
	Err   error
	Fatal bool // the enclosing operation must be aborted, state may be partially applied
}

func (e *Error) Error() string {
	s := fmt.Sprintf("chunk %s (%s): %s", e.Op, e.Kind, e.Msg)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	if e.Fatal {
		s = "fatal " + s
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is a fatal chunk layer error.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Fatal
}

// KindOf returns the kind of a chunk layer error, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func validationErr(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func remoteErr(op string, err error, format string, args ...any) error {
	return &Error{Kind: KindRemote, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

func fatalErr(kind Kind, op string, err error, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err, Fatal: true}
}

func staleErr(op string) error {
	return &Error{Kind: KindStaleHandle, Op: op, Msg: "manager was reloaded", Err: ErrStaleChunk}
}
