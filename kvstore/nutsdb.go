package kvstore

import (
	"context"
	"errors"

	"github.com/nutsdb/nutsdb"
	"github.com/ztrue/tracerr"
)

// NutsDB keeps each hash in its own nutsdb bucket
type NutsDB struct {
	db *nutsdb.DB
}

// NewNutsDB opens nutsdb in dir
func NewNutsDB(dir string) (*NutsDB, error) {
	db, err := nutsdb.Open(nutsdb.DefaultOptions, nutsdb.WithDir(dir))
	if err != nil {
		return nil, tracerr.Wrap(err)
	}
	return &NutsDB{db: db}, nil
}

// absent reports errors nutsdb returns for missing keys, deleted keys
// included, and for missing or empty buckets
func absent(err error) bool {
	return nutsdb.IsKeyNotFound(err) || errors.Is(err, nutsdb.ErrNotFoundKey) ||
		nutsdb.IsBucketNotFound(err) || nutsdb.IsBucketEmpty(err)
}

func (n *NutsDB) HGet(_ context.Context, hash, field string) ([]byte, error) {
	var val []byte
	err := n.db.View(func(tx *nutsdb.Tx) error {
		e, err := tx.Get(hash, []byte(field))
		if err != nil {
			return err
		}
		val = append([]byte(nil), e.Value...)
		return nil
	})
	if err != nil {
		if absent(err) {
			return nil, ErrNotFound
		}
		return nil, tracerr.Wrap(err)
	}
	return val, nil
}

func (n *NutsDB) HSet(_ context.Context, hash, field string, value []byte) error {
	return tracerr.Wrap(n.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(hash, []byte(field), value, nutsdb.Persistent)
	}))
}

func (n *NutsDB) HDel(_ context.Context, hash string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return tracerr.Wrap(n.db.Update(func(tx *nutsdb.Tx) error {
		for _, field := range fields {
			if err := tx.Delete(hash, []byte(field)); err != nil && !absent(err) {
				return err
			}
		}
		return nil
	}))
}

func (n *NutsDB) HGetAll(_ context.Context, hash string) (map[string][]byte, error) {
	result := map[string][]byte{}
	err := n.db.View(func(tx *nutsdb.Tx) error {
		iterator := nutsdb.NewIterator(tx, hash, nutsdb.IteratorOptions{Reverse: false})
		ok, err := iterator.SetNext()
		for ; err == nil && ok; ok, err = iterator.SetNext() {
			e := iterator.Entry()
			result[string(e.Key)] = append([]byte(nil), e.Value...)
		}
		return err
	})
	if err != nil && !absent(err) {
		return nil, tracerr.Wrap(err)
	}
	return result, nil
}

func (n *NutsDB) HIncrBy(_ context.Context, hash, field string, incr int64) (int64, error) {
	var result int64
	// update transactions are serialized by nutsdb
	err := n.db.Update(func(tx *nutsdb.Tx) error {
		var current []byte
		e, err := tx.Get(hash, []byte(field))
		if err == nil {
			current = e.Value
		} else if !absent(err) {
			return err
		}
		var next []byte
		result, next, err = incrValue(current, incr)
		if err != nil {
			return err
		}
		return tx.Put(hash, []byte(field), next, nutsdb.Persistent)
	})
	if err != nil {
		if errors.Is(err, ErrNotInteger) {
			return 0, err
		}
		return 0, tracerr.Wrap(err)
	}
	return result, nil
}

func (n *NutsDB) HExists(ctx context.Context, hash, field string) (bool, error) {
	_, err := n.HGet(ctx, hash, field)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (n *NutsDB) Close() error {
	return n.db.Close()
}
