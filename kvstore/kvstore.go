// Package kvstore defines the hash-map store the directory persists into and
// its backends. A hash is a named field -> value map, as in Redis.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rarydzu/redisdir/config"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("no such field")
	ErrConnectivity = errors.New("store unreachable")
	ErrNotInteger   = errors.New("hash value is not an integer")
)

// HashStore is the contract every backend fulfils. Single-field operations
// are atomic, nothing else is.
type HashStore interface {
	// HGet returns ErrNotFound when field is absent
	HGet(ctx context.Context, hash, field string) ([]byte, error)
	HSet(ctx context.Context, hash, field string, value []byte) error
	// HDel ignores absent fields
	HDel(ctx context.Context, hash string, fields ...string) error
	HGetAll(ctx context.Context, hash string) (map[string][]byte, error)
	// HIncrBy atomically adds incr to the decimal counter stored in field
	HIncrBy(ctx context.Context, hash, field string, incr int64) (int64, error)
	HExists(ctx context.Context, hash, field string) (bool, error)
	Close() error
}

// Open creates the backend selected by cfg.Backend
func Open(cfg *config.Config, log *zap.SugaredLogger) (HashStore, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		return NewRedis(cfg), nil
	case config.BackendBadger:
		return NewBadger(cfg.Path, log)
	case config.BackendLevelDB:
		return NewLevelDB(cfg.Path)
	case config.BackendNutsDB:
		return NewNutsDB(cfg.Path)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// fieldKey joins hash and field into a flat key for embedded backends
func fieldKey(hash, field string) []byte {
	return []byte(hash + ":" + field)
}

func hashPrefix(hash string) []byte {
	return []byte(hash + ":")
}

// incrValue parses the current counter value and adds incr
func incrValue(current []byte, incr int64) (int64, []byte, error) {
	var n int64
	if current != nil {
		v, err := strconv.ParseInt(string(current), 10, 64)
		if err != nil {
			return 0, nil, ErrNotInteger
		}
		n = v
	}
	n += incr
	return n, []byte(strconv.FormatInt(n, 10)), nil
}
