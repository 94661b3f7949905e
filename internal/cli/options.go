package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"

	"github.com/winton/unstorage/internal/store"
)

// Options holds the flags shared by every command. Defaults come from the
// UNSTORAGE_* environment variables.
type Options struct {
	Driver   string
	URL      string
	Base     string
	Lazy     bool
	Timeout  time.Duration
	LogLevel string
}

// AddFlags registers the shared flags on fs
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Driver, "driver", "d", os.Getenv("UNSTORAGE_DRIVER"), "Storage driver (inferred from --url when empty)")
	fs.StringVarP(&o.URL, "url", "u", os.Getenv("UNSTORAGE_URL"), "Backend URL, e.g. redis://localhost:6379/0 or file:///var/lib/kv")
	fs.StringVarP(&o.Base, "base", "b", os.Getenv("UNSTORAGE_BASE"), "Key prefix applied to every operation")
	fs.BoolVar(&o.Lazy, "lazy", false, "Connect on first use instead of at startup")
	fs.DurationVar(&o.Timeout, "timeout", 10*time.Second, "Timeout for each command")
	fs.StringVar(&o.LogLevel, "log-level", "warn", "Log level: trace, debug, info, warn, error")
}

func (o *Options) logger(w io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "storagectl",
		Level:  hclog.LevelFromString(o.LogLevel),
		Output: w,
	})
}

// open creates the configured driver wrapped in a Storage. The returned
// context carries the command timeout.
func (o *Options) open(ctx context.Context, stderr io.Writer) (*store.Storage, context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	logger := o.logger(stderr)

	driver, err := store.Open(ctx, store.Config{
		Driver:      o.Driver,
		URL:         o.URL,
		Base:        o.Base,
		LazyConnect: o.Lazy,
		Timeout:     o.Timeout,
	}, logger)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	s, err := store.NewStorage(driver, store.WithLogger(logger))
	if err != nil {
		driver.Close()
		cancel()
		return nil, nil, nil, err
	}
	return s, ctx, cancel, nil
}

// withStorage runs fn against a freshly opened Storage and closes it after
func (o *Options) withStorage(ctx context.Context, stderr io.Writer, fn func(ctx context.Context, s *store.Storage) error) error {
	s, ctx, cancel, err := o.open(ctx, stderr)
	if err != nil {
		return err
	}
	defer cancel()
	defer s.Close()

	return fn(ctx, s)
}
