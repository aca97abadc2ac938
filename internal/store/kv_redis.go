package store

import (
	"context"
	"iter"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "strategykit/internal/errors"
)

var _ KeyValueBackend = (*RedisBackend)(nil)

// RedisBackend is a KeyValueBackend over a go-redis client.
type RedisBackend struct {
	client redis.UniversalClient
}

func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) RPush(ctx context.Context, key string, values ...string) error {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return classify(b.client.RPush(ctx, key, args...).Err())
}

func (b *RedisBackend) LPop(ctx context.Context, key string) (string, bool, error) {
	return stringResult(b.client.LPop(ctx, key).Result())
}

// BLPop waits at most timeout. Sub-second timeouts are sent as fractional
// seconds (Redis 6+), since go-redis rounds them up to a whole second.
func (b *RedisBackend) BLPop(ctx context.Context, key string, timeout time.Duration) (string, bool, error) {
	var (
		res []string
		err error
	)
	if timeout >= time.Second && timeout%time.Second == 0 {
		res, err = b.client.BLPop(ctx, timeout, key).Result()
	} else {
		res, err = b.client.Do(ctx, "blpop", key, blockSeconds(timeout)).StringSlice()
	}
	if xerrors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	// [key, value]
	if len(res) != 2 {
		return "", false, nil
	}
	return res[1], true, nil
}

// blockSeconds renders timeout for a blocking command. Zero would block
// forever, so it is raised to one millisecond.
func blockSeconds(timeout time.Duration) string {
	timeout = max(timeout, time.Millisecond)
	return strconv.FormatFloat(timeout.Seconds(), 'f', 3, 64)
}

func (b *RedisBackend) Set(ctx context.Context, key, value string) (string, error) {
	status, err := b.client.Set(ctx, key, value, 0).Result()
	return status, classify(err)
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	return stringResult(b.client.Get(ctx, key).Result())
}

func (b *RedisBackend) HGet(ctx context.Context, key, field string) (string, bool, error) {
	return stringResult(b.client.HGet(ctx, key, field).Result())
}

func (b *RedisBackend) HSet(ctx context.Context, key string, values map[string]string) (int64, error) {
	args := make([]any, 0, len(values)*2)
	for field, value := range values {
		args = append(args, field, value)
	}
	n, err := b.client.HSet(ctx, key, args...).Result()
	return n, classify(err)
}

func (b *RedisBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	values, err := b.client.HGetAll(ctx, key).Result()
	return values, classify(err)
}

func (b *RedisBackend) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	n, err := b.client.HDel(ctx, key, fields...).Result()
	return n, classify(err)
}

func (b *RedisBackend) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := b.client.Del(ctx, keys...).Result()
	return n, classify(err)
}

func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	return n > 0, classify(err)
}

func (b *RedisBackend) Scan(ctx context.Context, pattern string, count int64) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		it := b.client.Scan(ctx, 0, pattern, count).Iterator()
		for it.Next(ctx) {
			if !yield(it.Val(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield("", classify(err))
		}
	}
}

func (b *RedisBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := b.client.Keys(ctx, pattern).Result()
	return keys, classify(err)
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return classify(b.client.Ping(ctx).Err())
}

func (b *RedisBackend) Close() error {
	return classify(b.client.Close())
}

func stringResult(value string, err error) (string, bool, error) {
	if xerrors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	return value, true, nil
}
