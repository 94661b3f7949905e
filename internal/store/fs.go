package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/winton/unstorage/internal/codec"
	"github.com/winton/unstorage/internal/compress"
	"github.com/winton/unstorage/internal/keyspace"
)

const tempPrefix = ".tmp-"

// FSOptions configures the filesystem driver.
type FSOptions struct {
	Options
	// Compression is applied to file contents; its extension is appended
	// to file names. Defaults to compress.None().
	Compression compress.Compressor
}

// fsDriver stores each key as a file. Key segments become directories, so
// "test:data:raw.bin" is stored at <dir>/test/data/raw.bin.
type fsDriver struct {
	dir  string
	ns   keyspace.Namespace
	comp compress.Compressor
	life *lifecycle
}

// NewFSDriver creates a driver rooted at dir
func NewFSDriver(ctx context.Context, dir string, opts FSOptions) (Driver, error) {
	if dir == "" {
		return nil, errors.New("fs driver requires a directory")
	}
	comp := opts.Compression
	if comp == nil {
		comp = compress.None()
	}
	d := &fsDriver{
		dir:  filepath.Clean(dir),
		ns:   keyspace.NewNamespace(opts.Base),
		comp: comp,
	}
	d.life = newLifecycle(opts.logger("fs"), d.connect, func() error { return nil })
	if err := d.life.start(ctx, opts.LazyConnect); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *fsDriver) connect(context.Context) error {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return transportErr("fs", "connect", "", fmt.Errorf("failed to create data directory: %w", err))
	}
	return nil
}

func (d *fsDriver) Name() string { return "fs" }

func (d *fsDriver) Capabilities() Capabilities {
	return Capabilities{Binary: true, List: true, Persistent: true}
}

func (d *fsDriver) Close() error {
	return d.life.close()
}

// path maps a logical key to its file, rejecting segments that would
// escape the root directory.
func (d *fsDriver) path(key string) (string, error) {
	segs := keyspace.Segments(d.ns.Physical(key))
	for _, seg := range segs {
		if seg == "" || seg == "." || seg == ".." ||
			strings.ContainsAny(seg, `/\`+"\x00") || strings.HasPrefix(seg, tempPrefix) {
			return "", fmt.Errorf("%w: %q cannot be stored as a file", keyspace.ErrInvalidKey, key)
		}
	}
	return filepath.Join(append([]string{d.dir}, segs...)...) + d.comp.Extension(), nil
}

// absent reports errors meaning no file exists at the key's path, including
// a path that runs through another key's file.
func absent(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

// physical maps a file path under the root back to its physical key.
func (d *fsDriver) physical(path string) (string, bool) {
	rel, err := filepath.Rel(d.dir, path)
	if err != nil {
		return "", false
	}
	if ext := d.comp.Extension(); ext != "" {
		if !strings.HasSuffix(rel, ext) {
			return "", false
		}
		rel = strings.TrimSuffix(rel, ext)
	}
	return keyspace.Join(strings.Split(filepath.ToSlash(rel), "/")...), true
}

func (d *fsDriver) Has(ctx context.Context, key string) (bool, error) {
	if err := d.life.ready(ctx); err != nil {
		return false, err
	}
	p, err := d.path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if absent(err) {
		return false, nil
	}
	if err != nil {
		return false, transportErr("fs", "has", key, err)
	}
	return info.Mode().IsRegular(), nil
}

func (d *fsDriver) Get(ctx context.Context, key string) ([]byte, error) {
	if err := d.life.ready(ctx); err != nil {
		return nil, err
	}
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	// A directory holds longer keys, not a value
	if absent(err) || errors.Is(err, syscall.EISDIR) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, transportErr("fs", "get", key, err)
	}
	value, err := d.comp.Decode(data)
	if err != nil {
		return nil, &codec.Error{Tag: codec.TagRaw, Err: fmt.Errorf("corrupt %q: %w", key, err)}
	}
	return value, nil
}

func (d *fsDriver) Set(ctx context.Context, key string, value []byte) error {
	if err := d.life.ready(ctx); err != nil {
		return err
	}
	p, err := d.path(key)
	if err != nil {
		return err
	}
	data, err := d.comp.Encode(value)
	if err != nil {
		return transportErr("fs", "set", key, err)
	}
	return transportErr("fs", "set", key, writeFileAtomic(p, data))
}

// writeFileAtomic writes through a temp file in the target directory so
// readers never observe a partial value.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, tempPrefix+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (d *fsDriver) Remove(ctx context.Context, key string) error {
	if err := d.life.ready(ctx); err != nil {
		return err
	}
	p, err := d.path(key)
	if err != nil {
		return err
	}
	info, err := os.Lstat(p)
	if absent(err) {
		return nil
	}
	if err != nil {
		return transportErr("fs", "remove", key, err)
	}
	if info.IsDir() {
		return nil
	}
	err = os.Remove(p)
	if err == nil || absent(err) {
		return nil
	}
	return transportErr("fs", "remove", key, err)
}

func (d *fsDriver) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := d.life.ready(ctx); err != nil {
		return nil, err
	}
	var physical []string
	err := filepath.WalkDir(d.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), tempPrefix) {
			return nil
		}
		if pk, ok := d.physical(path); ok {
			physical = append(physical, pk)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, transportErr("fs", "keys", prefix, err)
	}
	return d.ns.Filter(physical, prefix), nil
}

func (d *fsDriver) Clear(ctx context.Context, prefix string) error {
	keys, err := d.Keys(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := d.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
