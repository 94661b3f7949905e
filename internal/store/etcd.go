package store

import (
	"context"
	"errors"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/winton/unstorage/internal/keyspace"
)

// etcdDriver stores keys in an etcd v3 cluster
type etcdDriver struct {
	endpoints   []string
	dialTimeout time.Duration
	client      *clientv3.Client
	ns          keyspace.Namespace
	life        *lifecycle
}

// NewEtcdDriver creates a driver for the etcd cluster at url
// (etcd://host1:2379,host2:2379)
func NewEtcdDriver(ctx context.Context, url string, dialTimeout time.Duration, opts Options) (Driver, error) {
	endpoints, err := parseEtcdURL(url)
	if err != nil {
		return nil, err
	}
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	e := &etcdDriver{
		endpoints:   endpoints,
		dialTimeout: dialTimeout,
		ns:          keyspace.NewNamespace(opts.Base),
	}
	e.life = newLifecycle(opts.logger("etcd"), e.connect, func() error { return e.client.Close() })
	if err := e.life.start(ctx, opts.LazyConnect); err != nil {
		return nil, err
	}
	return e, nil
}

func parseEtcdURL(url string) ([]string, error) {
	rest, ok := strings.CutPrefix(url, "etcd://")
	if !ok {
		return nil, errors.New("etcd url must start with etcd://")
	}
	rest, _, _ = strings.Cut(rest, "/")
	var endpoints []string
	for _, ep := range strings.Split(rest, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			endpoints = append(endpoints, ep)
		}
	}
	if len(endpoints) == 0 {
		return nil, errors.New("etcd url has no endpoints")
	}
	return endpoints, nil
}

func (e *etcdDriver) connect(ctx context.Context) error {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   e.endpoints,
		DialTimeout: e.dialTimeout,
		Context:     context.WithoutCancel(ctx),
	})
	if err != nil {
		return transportErr("etcd", "connect", "", err)
	}
	e.client = cli
	return nil
}

func (e *etcdDriver) Name() string { return "etcd" }

func (e *etcdDriver) Capabilities() Capabilities {
	return Capabilities{Binary: true, List: true, Persistent: true}
}

func (e *etcdDriver) Close() error {
	return e.life.close()
}

func (e *etcdDriver) Has(ctx context.Context, key string) (bool, error) {
	if err := e.life.ready(ctx); err != nil {
		return false, err
	}
	resp, err := e.client.Get(ctx, e.ns.Physical(key), clientv3.WithCountOnly())
	if err != nil {
		return false, transportErr("etcd", "has", key, err)
	}
	return resp.Count > 0, nil
}

func (e *etcdDriver) Get(ctx context.Context, key string) ([]byte, error) {
	if err := e.life.ready(ctx); err != nil {
		return nil, err
	}
	resp, err := e.client.Get(ctx, e.ns.Physical(key))
	if err != nil {
		return nil, transportErr("etcd", "get", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

func (e *etcdDriver) Set(ctx context.Context, key string, value []byte) error {
	if err := e.life.ready(ctx); err != nil {
		return err
	}
	_, err := e.client.Put(ctx, e.ns.Physical(key), string(value))
	return transportErr("etcd", "set", key, err)
}

func (e *etcdDriver) Remove(ctx context.Context, key string) error {
	if err := e.life.ready(ctx); err != nil {
		return err
	}
	_, err := e.client.Delete(ctx, e.ns.Physical(key))
	return transportErr("etcd", "remove", key, err)
}

func (e *etcdDriver) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := e.life.ready(ctx); err != nil {
		return nil, err
	}
	resp, err := e.client.Get(ctx, e.ns.Physical(prefix), clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, transportErr("etcd", "keys", prefix, err)
	}
	physical := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		physical = append(physical, string(kv.Key))
	}
	return e.ns.Filter(physical, prefix), nil
}

func (e *etcdDriver) Clear(ctx context.Context, prefix string) error {
	if err := e.life.ready(ctx); err != nil {
		return err
	}
	_, err := e.client.Delete(ctx, e.ns.Physical(prefix), clientv3.WithPrefix())
	return transportErr("etcd", "clear", prefix, err)
}
