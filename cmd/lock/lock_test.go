package lock

import (
	"encoding/hex"
	"testing"

	"github.com/ValentinKolb/dShard/lib/shard"
	"github.com/ValentinKolb/dShard/lib/shard/memshard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	dir := shard.NewStaticDirectory()
	engine := memshard.New("A")
	dir.Add("A", engine)

	require.NoError(t, acquire(dir, "A", "db.c", 30))
	// held by the command above
	_, err := engine.LockNamespace("db.c", 30)
	assert.Error(t, err)

	assert.Error(t, release(dir, "A", "db.c", "zz"))
	assert.Error(t, release(dir, "A", "db.c", hex.EncodeToString([]byte("someone-else"))))
	assert.Error(t, acquire(dir, "B", "db.c", 30))
}
