package lockmgr

import (
	"bytes"
	"time"

	"github.com/ValentinKolb/dShard/lib/store"
)

type lockMgrImpl struct {
	store store.IStore
}

func NewLockManager(store store.IStore) ILockManager {
	return &lockMgrImpl{
		store: store,
	}
}

func (lp *lockMgrImpl) AcquireLock(key string, timeout uint64) (bool, []byte, error) {
	// 256 bit owner token, returned to the caller for the release
	ownerID, err := generateOwnerID()
	if err != nil {
		return false, nil, err
	}

	// Try to acquire the lock (by setting the value only if it doesn't exist - atomic CAS operation)
	// timeout is the deletion deadline of the lease
	err = lp.store.SetEIfUnset(key, ownerID, 0, timeout)
	if err != nil {
		return false, nil, err
	}

	// Check if the lock was acquired
	value, found, err := lp.store.Get(key)
	if err != nil {
		return false, nil, err
	}

	// Return true if lock was acquired BY US
	if found && bytes.Equal(value, ownerID) {
		return true, ownerID, nil
	}
	// Return false if lock was acquired BY SOMEONE ELSE in the meantime
	return false, nil, nil
}

func (lp *lockMgrImpl) ReleaseLock(key string, ownerID []byte) (bool, error) {
	// Check if the lock exists
	value, ok, err := lp.store.Get(key)
	if err != nil || !ok {
		return err == nil, err
	}

	// Check if the lock is owned by us
	if !bytes.Equal(ownerID, value) {
		return false, nil
	}

	// Release the lock
	err = lp.store.Delete(key)
	return err == nil, err
}

// AcquireWithRetry calls AcquireLock until the lock is acquired, an error occurs
// or the given number of attempts is used up. The wait between two attempts
// doubles starting at backoff.
func AcquireWithRetry(mgr ILockManager, key string, timeout uint64, attempts int, backoff time.Duration) (bool, []byte, error) {
	for i := 0; i < attempts; i++ {
		ok, owner, err := mgr.AcquireLock(key, timeout)
		if err != nil {
			return false, nil, err
		}
		if ok {
			return true, owner, nil
		}
		// held by someone else
		if i < attempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return false, nil, nil
}
