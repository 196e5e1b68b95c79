package kvstore

import (
	"context"
	"errors"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/ztrue/tracerr"
	"go.uber.org/zap"
)

// Badger keeps hashes in an embedded badger database, one key per field
type Badger struct {
	db *badger.DB
}

// NewBadger opens badger at path, in memory when path is empty
func NewBadger(path string, log *zap.SugaredLogger) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	if log != nil {
		opts = opts.WithLogger(badgerLogger{log})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, tracerr.Wrap(err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) HGet(_ context.Context, hash, field string) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fieldKey(hash, field))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return val, tracerr.Wrap(err)
}

func (b *Badger) HSet(_ context.Context, hash, field string, value []byte) error {
	return tracerr.Wrap(b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fieldKey(hash, field), value)
	}))
}

func (b *Badger) HDel(_ context.Context, hash string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, field := range fields {
		if err := wb.Delete(fieldKey(hash, field)); err != nil {
			return tracerr.Wrap(err)
		}
	}
	return tracerr.Wrap(wb.Flush())
}

func (b *Badger) HGetAll(_ context.Context, hash string) (map[string][]byte, error) {
	prefix := hashPrefix(hash)
	result := map[string][]byte{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result[string(item.Key()[len(prefix):])] = val
		}
		return nil
	})
	if err != nil {
		return nil, tracerr.Wrap(err)
	}
	return result, nil
}

func (b *Badger) HIncrBy(_ context.Context, hash, field string, incr int64) (int64, error) {
	key := fieldKey(hash, field)
	for {
		var n int64
		err := b.db.Update(func(txn *badger.Txn) error {
			var current []byte
			item, err := txn.Get(key)
			switch {
			case err == nil:
				if current, err = item.ValueCopy(nil); err != nil {
					return err
				}
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
			var next []byte
			n, next, err = incrValue(current, incr)
			if err != nil {
				return err
			}
			return txn.Set(key, next)
		})
		// a concurrent increment of the same key won, read again
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return 0, tracerr.Wrap(err)
		}
		return n, nil
	}
}

func (b *Badger) HExists(ctx context.Context, hash, field string) (bool, error) {
	_, err := b.HGet(ctx, hash, field)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *Badger) Close() error {
	return b.db.Close()
}

type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.log.Errorf("[badger] "+f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.log.Warnf("[badger] "+f, v...) }
func (l badgerLogger) Infof(string, ...interface{})        {}
func (l badgerLogger) Debugf(string, ...interface{})       {}
