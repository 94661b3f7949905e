package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Dump writes every key under prefix and its raw value to w as a JSON
// object. Byte values are base64-encoded by encoding/json.
func Dump(ctx context.Context, d Driver, prefix string, w io.Writer) (int, error) {
	keys, err := d.Keys(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list keys: %w", err)
	}
	data := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, err := d.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			// Removed between listing and reading
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read %q: %w", key, err)
		}
		data[key] = value
	}
	b, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal data: %v", err)
	}
	if _, err := w.Write(b); err != nil {
		return 0, fmt.Errorf("failed to write data: %v", err)
	}
	return len(data), nil
}

// Restore reads a Dump from r and stores every entry in d, overwriting
// existing keys.
func Restore(ctx context.Context, d Driver, r io.Reader) (int, error) {
	var data map[string][]byte
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return 0, fmt.Errorf("failed to unmarshal data: %v", err)
	}
	n := 0
	for key, value := range data {
		if err := d.Set(ctx, key, value); err != nil {
			return n, fmt.Errorf("failed to restore %q: %w", key, err)
		}
		n++
	}
	return n, nil
}
