package conn

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"

	"strategykit/pkg/exception"
)

// RedisOption defines connection options for Redis.
type RedisOption struct {
	// URL is a redis:// or rediss:// url. It takes precedence over Addr.
	URL      string
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Redis wraps a Redis connection pool.
type Redis struct {
	opt    RedisOption
	client *redis.Client
}

// NewRedis creates a Redis client from the provided options and pings it.
func NewRedis(ctx context.Context, option RedisOption) (*Redis, error) {
	opts, err := option.options()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Redis{opt: option, client: client}, nil
}

// RedisFromURL creates a Redis client from a connection url.
func RedisFromURL(ctx context.Context, rawURL string) (*Redis, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, exception.ErrEmptyURL
	}
	return NewRedis(ctx, RedisOption{URL: rawURL})
}

// Client returns the underlying go-redis client.
func (r *Redis) Client() *redis.Client {
	if r == nil {
		return nil
	}
	return r.client
}

// Close closes the underlying connection pool.
func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (opt RedisOption) options() (*redis.Options, error) {
	var opts *redis.Options
	if opt.URL != "" {
		parsed, err := redis.ParseURL(opt.URL)
		if err != nil {
			return nil, err
		}
		opts = parsed
	} else {
		if opt.Addr == "" {
			return nil, exception.ErrEmptyURL
		}
		opts = &redis.Options{
			Addr:     opt.Addr,
			Password: opt.Password,
			DB:       opt.DB,
		}
	}

	if opt.PoolSize > 0 {
		opts.PoolSize = opt.PoolSize
	}
	// blocking pops rely on ctx deadlines reaching the socket.
	opts.ContextTimeoutEnabled = true
	return opts, nil
}
