package store

import (
	"context"
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/winton/unstorage/internal/keyspace"
)

// levelDriver stores keys in a LevelDB database directory
type levelDriver struct {
	dir  string
	db   *leveldb.DB
	ns   keyspace.Namespace
	life *lifecycle
}

// NewLevelDriver opens (or creates) the LevelDB database in dir
func NewLevelDriver(ctx context.Context, dir string, opts Options) (Driver, error) {
	l := &levelDriver{
		dir: dir,
		ns:  keyspace.NewNamespace(opts.Base),
	}
	l.life = newLifecycle(opts.logger("leveldb"), l.connect, func() error { return l.db.Close() })
	if err := l.life.start(ctx, opts.LazyConnect); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *levelDriver) connect(context.Context) error {
	db, err := leveldb.OpenFile(l.dir, &opt.Options{ErrorIfMissing: false})
	if err != nil {
		return transportErr("leveldb", "connect", "", err)
	}
	l.db = db
	return nil
}

func (l *levelDriver) Name() string { return "leveldb" }

func (l *levelDriver) Capabilities() Capabilities {
	return Capabilities{Binary: true, List: true, Persistent: true}
}

func (l *levelDriver) Close() error {
	return l.life.close()
}

func (l *levelDriver) Has(ctx context.Context, key string) (bool, error) {
	if err := l.life.ready(ctx); err != nil {
		return false, err
	}
	ok, err := l.db.Has([]byte(l.ns.Physical(key)), nil)
	if err != nil {
		return false, transportErr("leveldb", "has", key, err)
	}
	return ok, nil
}

func (l *levelDriver) Get(ctx context.Context, key string) ([]byte, error) {
	if err := l.life.ready(ctx); err != nil {
		return nil, err
	}
	value, err := l.db.Get([]byte(l.ns.Physical(key)), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, transportErr("leveldb", "get", key, err)
	}
	return value, nil
}

func (l *levelDriver) Set(ctx context.Context, key string, value []byte) error {
	if err := l.life.ready(ctx); err != nil {
		return err
	}
	err := l.db.Put([]byte(l.ns.Physical(key)), value, nil)
	return transportErr("leveldb", "set", key, err)
}

func (l *levelDriver) Remove(ctx context.Context, key string) error {
	if err := l.life.ready(ctx); err != nil {
		return err
	}
	err := l.db.Delete([]byte(l.ns.Physical(key)), nil)
	return transportErr("leveldb", "remove", key, err)
}

func (l *levelDriver) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := l.life.ready(ctx); err != nil {
		return nil, err
	}
	iter := l.db.NewIterator(util.BytesPrefix([]byte(l.ns.Physical(prefix))), nil)
	defer iter.Release()

	var keys []string
	for iter.Next() {
		if key, ok := l.ns.Logical(string(iter.Key())); ok {
			keys = append(keys, key)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, transportErr("leveldb", "keys", prefix, err)
	}
	return keys, nil
}

func (l *levelDriver) Clear(ctx context.Context, prefix string) error {
	if err := l.life.ready(ctx); err != nil {
		return err
	}
	iter := l.db.NewIterator(util.BytesPrefix([]byte(l.ns.Physical(prefix))), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return transportErr("leveldb", "clear", prefix, err)
	}
	return transportErr("leveldb", "clear", prefix, l.db.Write(batch, nil))
}
