package store

import (
	"context"
	"io"

	"github.com/hashicorp/go-hclog"
)

// Driver defines the operations every storage backend implements.
//
// Keys passed to and returned from a Driver are logical keys: the driver
// prepends its configured base when talking to the backend and strips it
// again when listing. Values are opaque bytes; use Storage for encoded
// values.
type Driver interface {
	io.Closer

	// Name identifies the driver kind, e.g. "memory" or "redis"
	Name() string

	// Capabilities describes what the backend supports natively
	Capabilities() Capabilities

	// Has reports whether the key exists
	Has(ctx context.Context, key string) (bool, error)

	// Get retrieves the value for the given key
	// Returns ErrNotFound if the key doesn't exist
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value for the given key, overwriting any previous value
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes a key. Removing a missing key is not an error
	Remove(ctx context.Context, key string) error

	// Keys lists the logical keys starting with prefix
	// An empty prefix lists every key under the driver's base
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Clear removes every key starting with prefix
	Clear(ctx context.Context, prefix string) error
}

// Capabilities is the static capability descriptor of a driver.
type Capabilities struct {
	// Binary is set when arbitrary bytes can be stored; otherwise values
	// must be valid UTF-8 text
	Binary bool
	// List is set when the driver can enumerate keys
	List bool
	// Persistent is set when data outlives the process
	Persistent bool
}

// Options holds the settings shared by all drivers.
type Options struct {
	// Base is prepended to every key sent to the backend
	Base string
	// LazyConnect defers connecting until the first operation
	LazyConnect bool
	// Logger receives driver logs; defaults to a null logger
	Logger hclog.Logger
}

func (o Options) logger(driver string) hclog.Logger {
	if o.Logger == nil {
		return hclog.NewNullLogger()
	}
	return o.Logger.Named("store." + driver)
}
