package redisdir

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rarydzu/redisdir/config"
	"github.com/rarydzu/redisdir/kvstore"
	"github.com/rarydzu/redisdir/utils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testStores = map[string]func(t *testing.T) kvstore.HashStore{
	"badger": func(t *testing.T) kvstore.HashStore {
		s, err := kvstore.NewBadger("", nil)
		require.NoError(t, err)
		return s
	},
	"leveldb": func(t *testing.T) kvstore.HashStore {
		s, err := kvstore.NewLevelDB("")
		require.NoError(t, err)
		return s
	},
	"leveldb-file": func(t *testing.T) kvstore.HashStore {
		s, err := kvstore.NewLevelDB(t.TempDir())
		require.NoError(t, err)
		return s
	},
	"nutsdb": func(t *testing.T) kvstore.HashStore {
		s, err := kvstore.NewNutsDB(t.TempDir())
		require.NoError(t, err)
		return s
	},
	"redis": func(t *testing.T) kvstore.HashStore {
		mr := miniredis.RunT(t)
		return kvstore.NewRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	},
}

// forEachStore runs fn with a directory on top of every store kind
func forEachStore(t *testing.T, fn func(t *testing.T, dir *Directory, store kvstore.HashStore)) {
	for name, open := range testStores {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			defer store.Close()
			dir, err := New(config.Default(), zap.NewNop().Sugar(), WithStore(store))
			require.NoError(t, err)
			defer dir.Close()
			fn(t, dir, store)
		})
	}
}

func TestDeleteFileAllStores(t *testing.T) {
	ctx := context.Background()
	forEachStore(t, func(t *testing.T, dir *Directory, store kvstore.HashStore) {
		writeFile(t, dir, "big", utils.RandBytes(2*BlockSize+5))
		fi, err := dir.fileInfo(ctx, "big")
		require.NoError(t, err)
		require.NotNil(t, fi)

		require.NoError(t, dir.DeleteFile(ctx, "big"))
		_, err = dir.OpenInput(ctx, "big")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = dir.FileLength(ctx, "big")
		assert.ErrorIs(t, err, ErrNotFound)
		for i := int64(0); i < fi.Blocks(); i++ {
			ok, err := store.HExists(ctx, dir.DataHash(), blockKey(fi, i))
			require.NoError(t, err)
			assert.False(t, ok, "block %d", i)
		}
		names, err := dir.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, names)

		// deleting again is a no-op and the name can be reused
		require.NoError(t, dir.DeleteFile(ctx, "big"))
		writeFile(t, dir, "big", []byte("small"))
		length, err := dir.FileLength(ctx, "big")
		require.NoError(t, err)
		assert.Equal(t, int64(5), length)
	})
}

func TestLockReobtainAllStores(t *testing.T) {
	ctx := context.Background()
	forEachStore(t, func(t *testing.T, dir *Directory, _ kvstore.HashStore) {
		for round := 0; round < 3; round++ {
			lock, err := dir.ObtainLock(ctx, "write.lock")
			require.NoError(t, err, "round %d", round)
			_, err = dir.ObtainLock(ctx, "write.lock")
			assert.ErrorIs(t, err, ErrLockObtainFailed)
			locked, err := lock.IsLocked(ctx)
			require.NoError(t, err)
			assert.True(t, locked)

			require.NoError(t, lock.Close())
			locked, err = dir.CreateLock("write.lock").IsLocked(ctx)
			require.NoError(t, err)
			assert.False(t, locked)
		}
	})
}
