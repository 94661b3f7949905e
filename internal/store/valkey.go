package store

import (
	"context"
	"strings"

	"github.com/valkey-io/valkey-go"

	"github.com/winton/unstorage/internal/keyspace"
)

// valkeyDriver stores keys in a standalone Valkey (or Redis) server through
// valkey-go
type valkeyDriver struct {
	url    string
	client valkey.Client
	ns     keyspace.Namespace
	life   *lifecycle
}

// NewValkeyDriver creates a driver for the server at url
// (valkey://host:port/db or redis://host:port/db)
func NewValkeyDriver(ctx context.Context, url string, opts Options) (Driver, error) {
	v := &valkeyDriver{
		url: url,
		ns:  keyspace.NewNamespace(opts.Base),
	}
	v.life = newLifecycle(opts.logger("valkey"), v.connect, func() error {
		v.client.Close()
		return nil
	})
	if err := v.life.start(ctx, opts.LazyConnect); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *valkeyDriver) connect(ctx context.Context) error {
	url := v.url
	if rest, ok := strings.CutPrefix(url, "valkey://"); ok {
		url = "redis://" + rest
	} else if rest, ok := strings.CutPrefix(url, "valkeys://"); ok {
		url = "rediss://" + rest
	}
	opt, err := valkey.ParseURL(url)
	if err != nil {
		return transportErr("valkey", "connect", "", err)
	}
	// SCAN only covers one node, and client-side caching is never used
	opt.ForceSingleClient = true
	opt.DisableCache = true

	client, err := valkey.NewClient(opt)
	if err != nil {
		return transportErr("valkey", "connect", "", err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return transportErr("valkey", "connect", "", err)
	}
	v.client = client
	return nil
}

func (v *valkeyDriver) Name() string { return "valkey" }

func (v *valkeyDriver) Capabilities() Capabilities {
	return Capabilities{Binary: true, List: true, Persistent: true}
}

func (v *valkeyDriver) Close() error {
	return v.life.close()
}

func (v *valkeyDriver) Has(ctx context.Context, key string) (bool, error) {
	if err := v.life.ready(ctx); err != nil {
		return false, err
	}
	n, err := v.client.Do(ctx, v.client.B().Exists().Key(v.ns.Physical(key)).Build()).AsInt64()
	if err != nil {
		return false, transportErr("valkey", "has", key, err)
	}
	return n > 0, nil
}

func (v *valkeyDriver) Get(ctx context.Context, key string) ([]byte, error) {
	if err := v.life.ready(ctx); err != nil {
		return nil, err
	}
	value, err := v.client.Do(ctx, v.client.B().Get().Key(v.ns.Physical(key)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, transportErr("valkey", "get", key, err)
	}
	return value, nil
}

func (v *valkeyDriver) Set(ctx context.Context, key string, value []byte) error {
	if err := v.life.ready(ctx); err != nil {
		return err
	}
	cmd := v.client.B().Set().Key(v.ns.Physical(key)).Value(valkey.BinaryString(value)).Build()
	return transportErr("valkey", "set", key, v.client.Do(ctx, cmd).Error())
}

func (v *valkeyDriver) Remove(ctx context.Context, key string) error {
	if err := v.life.ready(ctx); err != nil {
		return err
	}
	cmd := v.client.B().Del().Key(v.ns.Physical(key)).Build()
	return transportErr("valkey", "remove", key, v.client.Do(ctx, cmd).Error())
}

func (v *valkeyDriver) scan(ctx context.Context, prefix string) ([]string, error) {
	match := globEscape(v.ns.Physical(prefix)) + "*"
	var (
		cursor uint64
		keys   []string
	)
	for {
		cmd := v.client.B().Scan().Cursor(cursor).Match(match).Count(scanCount).Build()
		entry, err := v.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, err
		}
		keys = append(keys, entry.Elements...)
		if entry.Cursor == 0 {
			return keys, nil
		}
		cursor = entry.Cursor
	}
}

func (v *valkeyDriver) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := v.life.ready(ctx); err != nil {
		return nil, err
	}
	physical, err := v.scan(ctx, prefix)
	if err != nil {
		return nil, transportErr("valkey", "keys", prefix, err)
	}
	return v.ns.Filter(dedupe(physical), prefix), nil
}

func (v *valkeyDriver) Clear(ctx context.Context, prefix string) error {
	if err := v.life.ready(ctx); err != nil {
		return err
	}
	physical, err := v.scan(ctx, prefix)
	if err != nil {
		return transportErr("valkey", "clear", prefix, err)
	}
	if len(physical) == 0 {
		return nil
	}
	// One DEL per key keeps every command on a single hash slot
	cmds := make([]valkey.Completed, 0, len(physical))
	for _, k := range physical {
		cmds = append(cmds, v.client.B().Del().Key(k).Build())
	}
	for _, res := range v.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return transportErr("valkey", "clear", prefix, err)
		}
	}
	return nil
}
