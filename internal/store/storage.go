package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"

	"github.com/winton/unstorage/internal/codec"
	"github.com/winton/unstorage/internal/keyspace"
)

// Storage encodes application values and hands them to a Driver.
//
// Set stores JSON for any value except []byte, which is stored raw under
// ".bin" keys. Drivers without binary support receive raw values as base64
// text.
type Storage struct {
	driver  Driver
	caps    Capabilities
	metrics *metrics.Metrics
	logger  hclog.Logger
}

// StorageOption configures a Storage.
type StorageOption func(*Storage)

// WithMetrics records per-operation timings on m instead of the global
// metrics instance.
func WithMetrics(m *metrics.Metrics) StorageOption {
	return func(s *Storage) {
		s.metrics = m
	}
}

// WithLogger sets the logger used for failed operations.
func WithLogger(logger hclog.Logger) StorageOption {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStorage wraps d. The driver's capabilities are captured once here.
func NewStorage(d Driver, opts ...StorageOption) (*Storage, error) {
	if d == nil {
		return nil, errors.New("driver cannot be nil")
	}
	s := &Storage{
		driver:  d,
		caps:    d.Capabilities(),
		metrics: metrics.Default(),
		logger:  hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Driver returns the wrapped driver.
func (s *Storage) Driver() Driver {
	return s.driver
}

// observe records the duration of op and counts failures. Missing keys
// are not failures.
func (s *Storage) observe(op string, start time.Time, err error) {
	key := []string{"store", s.driver.Name(), op}
	s.metrics.MeasureSince(key, start)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.metrics.IncrCounter(append(key, "errors"), 1)
		s.logger.Debug("operation failed", "driver", s.driver.Name(), "op", op, "error", err)
	}
}

// Has reports whether key exists.
func (s *Storage) Has(ctx context.Context, key string) (found bool, err error) {
	defer func(start time.Time) { s.observe("has", start, err) }(time.Now())

	if err := keyspace.Validate(key); err != nil {
		return false, err
	}
	return s.driver.Has(ctx, key)
}

// Get returns the JSON value stored under key, decoded into its natural Go
// type: bool, float64, string, nil, map[string]any or []any.
func (s *Storage) Get(ctx context.Context, key string) (value any, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())

	b, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}
	return codec.Decode(b, codec.TagJSON)
}

// GetInto decodes the JSON value stored under key into dst.
func (s *Storage) GetInto(ctx context.Context, key string, dst any) (err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())

	b, err := s.get(ctx, key)
	if err != nil {
		return err
	}
	return codec.DecodeInto(b, codec.TagJSON, dst)
}

// GetRaw returns the raw bytes stored under key.
func (s *Storage) GetRaw(ctx context.Context, key string) (value []byte, err error) {
	defer func(start time.Time) { s.observe("get_raw", start, err) }(time.Now())

	b, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !s.caps.Binary {
		return codec.DecodeBinaryText(string(b))
	}
	return b, nil
}

// Load returns the value under key decoded according to the tag implied by
// the key's suffix: []byte for ".bin" keys, a JSON value otherwise.
func (s *Storage) Load(ctx context.Context, key string) (any, error) {
	if codec.TagOf(key) == codec.TagRaw {
		return s.GetRaw(ctx, key)
	}
	return s.Get(ctx, key)
}

func (s *Storage) get(ctx context.Context, key string) ([]byte, error) {
	if err := keyspace.Validate(key); err != nil {
		return nil, err
	}
	return s.driver.Get(ctx, key)
}

// Set stores value under key. A []byte is stored raw and only under a ".bin"
// key; anything else is stored as JSON under any other key. Use SetRaw to
// store opaque bytes without that check.
func (s *Storage) Set(ctx context.Context, key string, value any) (err error) {
	defer func(start time.Time) { s.observe("set", start, err) }(time.Now())

	if err := keyspace.Validate(key); err != nil {
		return err
	}
	b, tag, err := codec.Encode(value)
	if err != nil {
		return err
	}
	// Get and Load pick the decoding from the key, so the value must agree
	if want := codec.TagOf(key); tag != want {
		return &codec.Error{Tag: want, Err: fmt.Errorf("key %q holds %s values, got %T", key, want, value)}
	}
	if tag == codec.TagRaw {
		return s.setRaw(ctx, key, b)
	}
	return s.driver.Set(ctx, key, b)
}

// SetRaw stores value under key without encoding.
func (s *Storage) SetRaw(ctx context.Context, key string, value []byte) (err error) {
	defer func(start time.Time) { s.observe("set_raw", start, err) }(time.Now())

	if err := keyspace.Validate(key); err != nil {
		return err
	}
	return s.setRaw(ctx, key, value)
}

func (s *Storage) setRaw(ctx context.Context, key string, value []byte) error {
	if !s.caps.Binary {
		return s.driver.Set(ctx, key, []byte(codec.EncodeBinaryText(value)))
	}
	return s.driver.Set(ctx, key, value)
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Storage) Remove(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { s.observe("remove", start, err) }(time.Now())

	if err := keyspace.Validate(key); err != nil {
		return err
	}
	return s.driver.Remove(ctx, key)
}

// Keys lists the keys starting with prefix. Order is driver-defined.
func (s *Storage) Keys(ctx context.Context, prefix string) (keys []string, err error) {
	defer func(start time.Time) { s.observe("keys", start, err) }(time.Now())

	if !s.caps.List {
		return nil, fmt.Errorf("%s keys: %w", s.driver.Name(), ErrUnsupported)
	}
	return s.driver.Keys(ctx, prefix)
}

// Clear removes every key starting with prefix.
func (s *Storage) Clear(ctx context.Context, prefix string) (err error) {
	defer func(start time.Time) { s.observe("clear", start, err) }(time.Now())

	if !s.caps.List {
		return fmt.Errorf("%s clear: %w", s.driver.Name(), ErrUnsupported)
	}
	return s.driver.Clear(ctx, prefix)
}

// Close disposes the driver.
func (s *Storage) Close() error {
	return s.driver.Close()
}
