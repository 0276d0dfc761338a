package lockmgr

// ILockManager hands out leases on keys of a store.IStore.
type ILockManager interface {
	// AcquireLock tries once to take the lease on key. timeout is the lease
	// duration in seconds, 0 means the lease never runs out. ok is false if
	// someone else holds the lease; ownerID is needed to release it.
	AcquireLock(key string, timeout uint64) (ok bool, ownerID []byte, err error)

	// ReleaseLock gives the lease on key back. ok is false if the lease belongs
	// to another owner, releasing a lease that no longer exists succeeds.
	ReleaseLock(key string, ownerID []byte) (ok bool, err error)
}
