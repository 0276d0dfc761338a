package lockmgr

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dShard/lib/store/lstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	mgr := NewLockManager(lstore.NewLocalStore())

	ok, owner, err := mgr.AcquireLock("ns/db.coll", 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, owner, ownerIDLength)

	ok, _, err = mgr.AcquireLock("ns/db.coll", 0)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while the lock is held")

	released, err := mgr.ReleaseLock("ns/db.coll", []byte("not-the-owner"))
	require.NoError(t, err)
	assert.False(t, released)

	released, err = mgr.ReleaseLock("ns/db.coll", owner)
	require.NoError(t, err)
	assert.True(t, released)

	ok, _, err = mgr.AcquireLock("ns/db.coll", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseMissingLock(t *testing.T) {
	mgr := NewLockManager(lstore.NewLocalStore())
	released, err := mgr.ReleaseLock("missing", []byte("x"))
	require.NoError(t, err)
	assert.True(t, released)
}

func TestAcquireWithRetry(t *testing.T) {
	s := lstore.NewLocalStore()
	mgr := NewLockManager(s)

	ok, owner, err := mgr.AcquireLock("k", 0)
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(5 * time.Millisecond)
		_, _ = mgr.ReleaseLock("k", owner)
	}()

	ok, _, err = AcquireWithRetry(mgr, "k", 0, 10, 2*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = AcquireWithRetry(mgr, "k", 0, 2, time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}
