package store

import (
	"context"
	"errors"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/winton/unstorage/internal/keyspace"
)

const (
	defaultMongoDatabase   = "unstorage"
	defaultMongoCollection = "kv"
)

// MongoOptions configures the MongoDB driver.
type MongoOptions struct {
	Options
	Database   string
	Collection string
}

// mongoItem is the document stored per key. The physical key is the _id.
type mongoItem struct {
	Key   string `bson:"_id"`
	Value string `bson:"value"`
}

// mongoDriver keeps one document per key. Values are stored as strings so
// the collection stays readable, which makes it a text-only backend.
type mongoDriver struct {
	uri    string
	dbName string
	coll   string
	client *mongo.Client
	items  *mongo.Collection
	ns     keyspace.Namespace
	life   *lifecycle
}

// NewMongoDriver creates a driver for the MongoDB deployment at uri
func NewMongoDriver(ctx context.Context, uri string, opts MongoOptions) (Driver, error) {
	m := &mongoDriver{
		uri:    uri,
		dbName: opts.Database,
		coll:   opts.Collection,
		ns:     keyspace.NewNamespace(opts.Base),
	}
	if m.dbName == "" {
		m.dbName = defaultMongoDatabase
	}
	if m.coll == "" {
		m.coll = defaultMongoCollection
	}
	m.life = newLifecycle(opts.logger("mongodb"), m.connect, func() error {
		return m.client.Disconnect(context.Background())
	})
	if err := m.life.start(ctx, opts.LazyConnect); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *mongoDriver) connect(ctx context.Context) error {
	client, err := mongo.Connect(options.Client().ApplyURI(m.uri))
	if err != nil {
		return transportErr("mongodb", "connect", "", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return transportErr("mongodb", "connect", "", err)
	}
	m.client = client
	m.items = client.Database(m.dbName).Collection(m.coll)
	return nil
}

func (m *mongoDriver) Name() string { return "mongodb" }

func (m *mongoDriver) Capabilities() Capabilities {
	return Capabilities{Binary: false, List: true, Persistent: true}
}

func (m *mongoDriver) Close() error {
	return m.life.close()
}

func byID(physical string) bson.D {
	return bson.D{{Key: "_id", Value: physical}}
}

func (m *mongoDriver) prefixFilter(prefix string) bson.D {
	pattern := "^" + regexp.QuoteMeta(m.ns.Physical(prefix))
	return bson.D{{Key: "_id", Value: bson.D{{Key: "$regex", Value: pattern}}}}
}

func (m *mongoDriver) Has(ctx context.Context, key string) (bool, error) {
	if err := m.life.ready(ctx); err != nil {
		return false, err
	}
	n, err := m.items.CountDocuments(ctx, byID(m.ns.Physical(key)), options.Count().SetLimit(1))
	if err != nil {
		return false, transportErr("mongodb", "has", key, err)
	}
	return n > 0, nil
}

func (m *mongoDriver) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.life.ready(ctx); err != nil {
		return nil, err
	}
	var item mongoItem
	err := m.items.FindOne(ctx, byID(m.ns.Physical(key))).Decode(&item)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, transportErr("mongodb", "get", key, err)
	}
	return []byte(item.Value), nil
}

func (m *mongoDriver) Set(ctx context.Context, key string, value []byte) error {
	if err := m.life.ready(ctx); err != nil {
		return err
	}
	physical := m.ns.Physical(key)
	_, err := m.items.ReplaceOne(ctx, byID(physical),
		mongoItem{Key: physical, Value: string(value)},
		options.Replace().SetUpsert(true))
	return transportErr("mongodb", "set", key, err)
}

func (m *mongoDriver) Remove(ctx context.Context, key string) error {
	if err := m.life.ready(ctx); err != nil {
		return err
	}
	_, err := m.items.DeleteOne(ctx, byID(m.ns.Physical(key)))
	return transportErr("mongodb", "remove", key, err)
}

func (m *mongoDriver) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := m.life.ready(ctx); err != nil {
		return nil, err
	}
	cur, err := m.items.Find(ctx, m.prefixFilter(prefix),
		options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, transportErr("mongodb", "keys", prefix, err)
	}
	var items []mongoItem
	if err := cur.All(ctx, &items); err != nil {
		return nil, transportErr("mongodb", "keys", prefix, err)
	}
	physical := make([]string, 0, len(items))
	for _, item := range items {
		physical = append(physical, item.Key)
	}
	return m.ns.Filter(physical, prefix), nil
}

func (m *mongoDriver) Clear(ctx context.Context, prefix string) error {
	if err := m.life.ready(ctx); err != nil {
		return err
	}
	_, err := m.items.DeleteMany(ctx, m.prefixFilter(prefix))
	return transportErr("mongodb", "clear", prefix, err)
}
