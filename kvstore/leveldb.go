package kvstore

import (
	"context"
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	lfilter "github.com/syndtr/goleveldb/leveldb/filter"
	lopt "github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	lutil "github.com/syndtr/goleveldb/leveldb/util"
	"github.com/ztrue/tracerr"
)

// LevelDB keeps hashes in an embedded leveldb, one key per field
type LevelDB struct {
	db *leveldb.DB
	// leveldb has no read-modify-write primitive, writers take this
	writeLock sync.Mutex
}

// NewLevelDB opens leveldb at path, in memory when path is empty
func NewLevelDB(path string) (*LevelDB, error) {
	opts := &lopt.Options{
		Filter: lfilter.NewBloomFilter(1000),
	}
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), opts)
	} else {
		db, err = leveldb.OpenFile(path, opts)
	}
	if err != nil {
		return nil, tracerr.Wrap(err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) HGet(_ context.Context, hash, field string) ([]byte, error) {
	val, err := l.db.Get(fieldKey(hash, field), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, tracerr.Wrap(err)
	}
	return val, nil
}

func (l *LevelDB) HSet(_ context.Context, hash, field string, value []byte) error {
	l.writeLock.Lock()
	defer l.writeLock.Unlock()
	return tracerr.Wrap(l.db.Put(fieldKey(hash, field), value, nil))
}

func (l *LevelDB) HDel(_ context.Context, hash string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	l.writeLock.Lock()
	defer l.writeLock.Unlock()
	batch := new(leveldb.Batch)
	for _, field := range fields {
		batch.Delete(fieldKey(hash, field))
	}
	return tracerr.Wrap(l.db.Write(batch, nil))
}

func (l *LevelDB) HGetAll(_ context.Context, hash string) (map[string][]byte, error) {
	prefix := hashPrefix(hash)
	result := map[string][]byte{}
	iter := l.db.NewIterator(lutil.BytesPrefix(prefix), nil)
	for iter.Next() {
		val := make([]byte, len(iter.Value()))
		copy(val, iter.Value())
		result[string(iter.Key()[len(prefix):])] = val
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, tracerr.Wrap(err)
	}
	return result, nil
}

func (l *LevelDB) HIncrBy(_ context.Context, hash, field string, incr int64) (int64, error) {
	l.writeLock.Lock()
	defer l.writeLock.Unlock()
	key := fieldKey(hash, field)
	current, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		// Get returns an empty slice, not nil, for a deleted key
		current = nil
	} else if err != nil {
		return 0, tracerr.Wrap(err)
	}
	n, next, err := incrValue(current, incr)
	if err != nil {
		return 0, err
	}
	if err := l.db.Put(key, next, nil); err != nil {
		return 0, tracerr.Wrap(err)
	}
	return n, nil
}

func (l *LevelDB) HExists(_ context.Context, hash, field string) (bool, error) {
	ok, err := l.db.Has(fieldKey(hash, field), nil)
	return ok, tracerr.Wrap(err)
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
