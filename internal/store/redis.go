package store

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/winton/unstorage/internal/keyspace"
)

// scanCount is the COUNT hint passed to SCAN
const scanCount = 256

// redisDriver stores keys in a Redis database through go-redis
type redisDriver struct {
	url    string
	client *redis.Client
	ns     keyspace.Namespace
	life   *lifecycle
}

// NewRedisDriver creates a driver for the Redis server at url
// (redis://[user:password@]host:port/db)
func NewRedisDriver(ctx context.Context, url string, opts Options) (Driver, error) {
	r := &redisDriver{
		url: url,
		ns:  keyspace.NewNamespace(opts.Base),
	}
	logger := opts.logger("redis")
	r.life = newLifecycle(logger, r.connect, func() error { return r.client.Close() })
	if err := r.life.start(ctx, opts.LazyConnect); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *redisDriver) connect(ctx context.Context) error {
	opt, err := redis.ParseURL(r.url)
	if err != nil {
		return transportErr("redis", "connect", "", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return transportErr("redis", "connect", "", err)
	}
	r.client = client
	return nil
}

func (r *redisDriver) Name() string { return "redis" }

func (r *redisDriver) Capabilities() Capabilities {
	return Capabilities{Binary: true, List: true, Persistent: true}
}

func (r *redisDriver) Close() error {
	return r.life.close()
}

func (r *redisDriver) Has(ctx context.Context, key string) (bool, error) {
	if err := r.life.ready(ctx); err != nil {
		return false, err
	}
	n, err := r.client.Exists(ctx, r.ns.Physical(key)).Result()
	if err != nil {
		return false, transportErr("redis", "has", key, err)
	}
	return n > 0, nil
}

func (r *redisDriver) Get(ctx context.Context, key string) ([]byte, error) {
	if err := r.life.ready(ctx); err != nil {
		return nil, err
	}
	value, err := r.client.Get(ctx, r.ns.Physical(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, transportErr("redis", "get", key, err)
	}
	return value, nil
}

func (r *redisDriver) Set(ctx context.Context, key string, value []byte) error {
	if err := r.life.ready(ctx); err != nil {
		return err
	}
	err := r.client.Set(ctx, r.ns.Physical(key), value, 0).Err()
	return transportErr("redis", "set", key, err)
}

func (r *redisDriver) Remove(ctx context.Context, key string) error {
	if err := r.life.ready(ctx); err != nil {
		return err
	}
	err := r.client.Del(ctx, r.ns.Physical(key)).Err()
	return transportErr("redis", "remove", key, err)
}

// scan returns the physical keys matching the physical prefix.
func (r *redisDriver) scan(ctx context.Context, prefix string) ([]string, error) {
	match := globEscape(r.ns.Physical(prefix)) + "*"
	var (
		cursor uint64
		keys   []string
	)
	for {
		page, next, err := r.client.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, page...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (r *redisDriver) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := r.life.ready(ctx); err != nil {
		return nil, err
	}
	physical, err := r.scan(ctx, prefix)
	if err != nil {
		return nil, transportErr("redis", "keys", prefix, err)
	}
	return r.ns.Filter(dedupe(physical), prefix), nil
}

func (r *redisDriver) Clear(ctx context.Context, prefix string) error {
	if err := r.life.ready(ctx); err != nil {
		return err
	}
	physical, err := r.scan(ctx, prefix)
	if err != nil {
		return transportErr("redis", "clear", prefix, err)
	}
	for start := 0; start < len(physical); start += scanCount {
		end := min(start+scanCount, len(physical))
		if err := r.client.Del(ctx, physical[start:end]...).Err(); err != nil {
			return transportErr("redis", "clear", prefix, err)
		}
	}
	return nil
}

// globEscape escapes the characters Redis treats specially in MATCH
// patterns.
func globEscape(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// dedupe removes duplicates; SCAN may return a key more than once.
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
