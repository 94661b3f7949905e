// Package keyspace maps logical keys to the physical keys stored in a backend.
//
// A physical key is the configured base prefix followed by the logical key.
// Keys are ":"-delimited segments; the mapping performs no normalization so
// it stays bidirectional.
package keyspace

import (
	"errors"
	"fmt"
	"strings"
)

// Delimiter separates key segments.
const Delimiter = ":"

// ErrInvalidKey is returned for keys that cannot be stored.
var ErrInvalidKey = errors.New("invalid key")

// ToPhysical returns the physical key for key under base.
func ToPhysical(base, key string) string {
	return base + key
}

// ToLogical strips base from a physical key. It reports false when the
// physical key belongs to another namespace.
func ToLogical(base, physical string) (string, bool) {
	if !strings.HasPrefix(physical, base) {
		return "", false
	}
	return physical[len(base):], true
}

// Join joins segments with the delimiter.
func Join(segments ...string) string {
	return strings.Join(segments, Delimiter)
}

// Segments splits key on the delimiter.
func Segments(key string) []string {
	return strings.Split(key, Delimiter)
}

// Validate rejects empty keys and keys containing empty segments.
func Validate(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}
	for _, seg := range Segments(key) {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// Namespace binds a base prefix so adapters can translate keys in both
// directions without passing the base around.
type Namespace struct {
	base string
}

// NewNamespace returns a Namespace for base. An empty base is allowed and
// maps keys to themselves.
func NewNamespace(base string) Namespace {
	return Namespace{base: base}
}

// Base returns the configured prefix.
func (n Namespace) Base() string {
	return n.base
}

// Physical maps a logical key to its physical key.
func (n Namespace) Physical(key string) string {
	return ToPhysical(n.base, key)
}

// Logical maps a physical key back to a logical key.
func (n Namespace) Logical(physical string) (string, bool) {
	return ToLogical(n.base, physical)
}

// Filter converts physical keys to logical keys, dropping entries from other
// namespaces and entries that don't start with prefix.
func (n Namespace) Filter(physical []string, prefix string) []string {
	out := make([]string, 0, len(physical))
	for _, p := range physical {
		key, ok := n.Logical(p)
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, key)
	}
	return out
}
