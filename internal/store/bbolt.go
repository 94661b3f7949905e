package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/winton/unstorage/internal/keyspace"
)

var (
	// defaultBucket is the name of the bucket used to store key-value pairs
	defaultBucket = []byte("unstorage")
)

// boltDriver is a persistent implementation of the Driver interface using bbolt
type boltDriver struct {
	path string
	db   *bbolt.DB
	ns   keyspace.Namespace
	life *lifecycle
}

// NewBoltDriver creates a bbolt-backed driver storing data in the file at path
func NewBoltDriver(ctx context.Context, path string, opts Options) (Driver, error) {
	b := &boltDriver{
		path: path,
		ns:   keyspace.NewNamespace(opts.Base),
	}
	b.life = newLifecycle(opts.logger("bolt"), b.connect, b.disconnect)
	if err := b.life.start(ctx, opts.LazyConnect); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *boltDriver) connect(context.Context) error {
	db, err := openBoltDb(b.path)
	if err != nil {
		return transportErr("bolt", "connect", "", err)
	}
	b.db = db
	return nil
}

func (b *boltDriver) disconnect() error {
	return b.db.Close()
}

func openBoltDb(path string) (*bbolt.DB, error) {
	// The file lock is held per handle; fail instead of blocking forever
	// when another handle has it.
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(defaultBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return db, nil
}

func (b *boltDriver) Name() string { return "bolt" }

func (b *boltDriver) Capabilities() Capabilities {
	return Capabilities{Binary: true, List: true, Persistent: true}
}

func (b *boltDriver) Close() error {
	return b.life.close()
}

func (b *boltDriver) Has(ctx context.Context, key string) (bool, error) {
	_, err := b.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (b *boltDriver) Get(ctx context.Context, key string) ([]byte, error) {
	if err := b.life.ready(ctx); err != nil {
		return nil, err
	}

	var value []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		// Seek instead of Get: an empty value may come back as nil
		pk := []byte(b.ns.Physical(key))
		k, val := tx.Bucket(defaultBucket).Cursor().Seek(pk)
		if !bytes.Equal(k, pk) {
			return ErrNotFound
		}
		// Make a copy since the value is only valid during the transaction
		value = make([]byte, len(val))
		copy(value, val)
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, transportErr("bolt", "get", key, err)
	}
	return value, nil
}

func (b *boltDriver) Set(ctx context.Context, key string, value []byte) error {
	if err := b.life.ready(ctx); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(defaultBucket).Put([]byte(b.ns.Physical(key)), value)
	})
	return transportErr("bolt", "set", key, err)
}

func (b *boltDriver) Remove(ctx context.Context, key string) error {
	if err := b.life.ready(ctx); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		// Deleting a missing key is a no-op in bbolt
		return tx.Bucket(defaultBucket).Delete([]byte(b.ns.Physical(key)))
	})
	return transportErr("bolt", "remove", key, err)
}

// scan calls fn for every physical key starting with the physical prefix.
func (b *boltDriver) scan(tx *bbolt.Tx, prefix string, fn func(k []byte)) {
	p := []byte(b.ns.Physical(prefix))
	c := tx.Bucket(defaultBucket).Cursor()
	for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
		fn(k)
	}
}

func (b *boltDriver) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := b.life.ready(ctx); err != nil {
		return nil, err
	}
	var keys []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		b.scan(tx, prefix, func(k []byte) {
			if key, ok := b.ns.Logical(string(k)); ok {
				keys = append(keys, key)
			}
		})
		return nil
	})
	if err != nil {
		return nil, transportErr("bolt", "keys", prefix, err)
	}
	return keys, nil
}

func (b *boltDriver) Clear(ctx context.Context, prefix string) error {
	if err := b.life.ready(ctx); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		// Deleting while iterating a cursor skips entries, so collect first
		var doomed [][]byte
		b.scan(tx, prefix, func(k []byte) {
			doomed = append(doomed, append([]byte(nil), k...))
		})
		bucket := tx.Bucket(defaultBucket)
		for _, k := range doomed {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return transportErr("bolt", "clear", prefix, err)
}
