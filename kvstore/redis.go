package kvstore

import (
	"context"
	"errors"
	"strings"

	"github.com/rarydzu/redisdir/config"
	"github.com/redis/go-redis/v9"
	"github.com/ztrue/tracerr"
)

// Redis keeps hashes in a redis server. The go-redis client owns the
// connection pool; every call checks a connection out and returns it.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a pooled client from cfg
func NewRedis(cfg *config.Config) *Redis {
	return NewRedisClient(redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.ConnectTimeout,
		PoolTimeout: cfg.ConnectTimeout,
		// no internal retries, failures surface to the caller
		MaxRetries: -1,
	}))
}

// NewRedisClient wraps an existing client
func NewRedisClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Client returns underlying redis client
func (r *Redis) Client() *redis.Client {
	return r.client
}

func (r *Redis) HGet(ctx context.Context, hash, field string) ([]byte, error) {
	val, err := r.client.HGet(ctx, hash, field).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, redisErr(err)
	}
	return val, nil
}

func (r *Redis) HSet(ctx context.Context, hash, field string, value []byte) error {
	return redisErr(r.client.HSet(ctx, hash, field, value).Err())
}

func (r *Redis) HDel(ctx context.Context, hash string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return redisErr(r.client.HDel(ctx, hash, fields...).Err())
}

func (r *Redis) HGetAll(ctx context.Context, hash string) (map[string][]byte, error) {
	all, err := r.client.HGetAll(ctx, hash).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	result := make(map[string][]byte, len(all))
	for k, v := range all {
		result[k] = []byte(v)
	}
	return result, nil
}

func (r *Redis) HIncrBy(ctx context.Context, hash, field string, incr int64) (int64, error) {
	n, err := r.client.HIncrBy(ctx, hash, field, incr).Result()
	return n, redisErr(err)
}

func (r *Redis) HExists(ctx context.Context, hash, field string) (bool, error) {
	ok, err := r.client.HExists(ctx, hash, field).Result()
	return ok, redisErr(err)
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// redisErr separates server replies from transport failures
func redisErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return tracerr.Wrap(err)
	}
	var reply redis.Error
	if errors.As(err, &reply) {
		if strings.Contains(err.Error(), "not an integer") {
			return tracerr.Errorf("%w: %v", ErrNotInteger, err)
		}
		return tracerr.Wrap(err)
	}
	return tracerr.Errorf("%w: %v", ErrConnectivity, err)
}
