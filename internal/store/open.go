package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-hclog"

	"github.com/winton/unstorage/internal/compress"
)

// Config selects and configures a driver.
type Config struct {
	// Driver names the adapter; inferred from the URL scheme when empty
	Driver string `json:"driver" validate:"omitempty,oneof=memory fs bolt leveldb redis valkey etcd mongodb http"`
	// Base is prepended to every key
	Base string `json:"base"`
	// URL locates the backend: a connection string or a file path
	URL string `json:"url"`
	// LazyConnect defers connecting until the first operation
	LazyConnect bool `json:"lazy_connect"`
	// Compression applies to the fs driver: none, s2, zstd or lz4
	Compression string `json:"compression" validate:"omitempty,oneof=none s2 zstd lz4"`
	// Database and Collection apply to the mongodb driver
	Database   string `json:"database"`
	Collection string `json:"collection"`
	// Timeout bounds connects and HTTP requests. In JSON it is either a
	// duration string such as "5s" or a number of nanoseconds.
	Timeout time.Duration `json:"timeout" validate:"gte=0"`
}

// UnmarshalJSON decodes c, accepting Go duration strings for timeout.
func (c *Config) UnmarshalJSON(b []byte) error {
	type plain Config
	aux := struct {
		*plain
		Timeout json.RawMessage `json:"timeout"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	raw := bytes.TrimSpace(aux.Timeout)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", s, err)
		}
		c.Timeout = d
		return nil
	}
	var ns int64
	if err := json.Unmarshal(raw, &ns); err != nil {
		return fmt.Errorf("invalid timeout %s: %w", raw, err)
	}
	c.Timeout = time.Duration(ns)
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DriverName returns the configured driver or the one implied by the URL.
func (c Config) DriverName() (string, error) {
	if c.Driver != "" {
		return c.Driver, nil
	}
	if c.URL == "" {
		return "memory", nil
	}
	scheme, _, ok := strings.Cut(c.URL, "://")
	if !ok {
		if strings.HasPrefix(c.URL, "memory:") {
			return "memory", nil
		}
		return "", fmt.Errorf("cannot infer driver from url %q", c.URL)
	}
	switch scheme {
	case "file":
		return "fs", nil
	case "redis", "rediss":
		return "redis", nil
	case "valkey", "valkeys":
		return "valkey", nil
	case "mongodb", "mongodb+srv":
		return "mongodb", nil
	case "http", "https":
		return "http", nil
	case "memory", "bolt", "leveldb", "etcd":
		return scheme, nil
	default:
		return "", fmt.Errorf("unknown url scheme %q", scheme)
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}
	name, err := c.DriverName()
	if err != nil {
		return err
	}
	if name != "memory" && c.URL == "" {
		return fmt.Errorf("url is required for the %s driver", name)
	}
	return nil
}

// filePath strips a file-like scheme from the URL.
func (c Config) filePath() (string, error) {
	scheme, rest, ok := strings.Cut(c.URL, "://")
	if !ok {
		return c.URL, nil
	}
	switch scheme {
	case "file", "bolt", "leveldb":
	default:
		return "", fmt.Errorf("url %q is not a file path", c.URL)
	}
	if u, err := url.Parse(c.URL); err == nil && u.Host == "" {
		return u.Path, nil
	}
	// bolt://relative/path parses the first segment as host
	return rest, nil
}

// Open creates the driver described by cfg.
func Open(ctx context.Context, cfg Config, logger hclog.Logger) (Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	name, _ := cfg.DriverName()
	opts := Options{Base: cfg.Base, LazyConnect: cfg.LazyConnect, Logger: logger}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	switch name {
	case "memory":
		return NewMemoryDriver(nil, opts), nil
	case "fs":
		dir, err := cfg.filePath()
		if err != nil {
			return nil, err
		}
		comp, err := compress.Parse(cfg.Compression)
		if err != nil {
			return nil, err
		}
		return NewFSDriver(ctx, dir, FSOptions{Options: opts, Compression: comp})
	case "bolt":
		path, err := cfg.filePath()
		if err != nil {
			return nil, err
		}
		return NewBoltDriver(ctx, path, opts)
	case "leveldb":
		dir, err := cfg.filePath()
		if err != nil {
			return nil, err
		}
		return NewLevelDriver(ctx, dir, opts)
	case "redis":
		return NewRedisDriver(ctx, cfg.URL, opts)
	case "valkey":
		return NewValkeyDriver(ctx, cfg.URL, opts)
	case "etcd":
		return NewEtcdDriver(ctx, cfg.URL, cfg.Timeout, opts)
	case "mongodb":
		return NewMongoDriver(ctx, cfg.URL, MongoOptions{
			Options:    opts,
			Database:   cfg.Database,
			Collection: cfg.Collection,
		})
	case "http":
		return NewHTTPDriver(ctx, cfg.URL, HTTPOptions{Options: opts, Timeout: cfg.Timeout})
	default:
		return nil, fmt.Errorf("%w: driver %q", ErrUnsupported, name)
	}
}
