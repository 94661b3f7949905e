package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/winton/unstorage/internal/keyspace"
)

// MemoryBackend is an in-process key space. Several memory drivers with
// different bases may attach to the same backend.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBackend creates an empty backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string][]byte),
	}
}

// Keys returns every physical key in the backend, sorted
func (b *MemoryBackend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// memoryDriver is an in-memory implementation of the Driver interface
type memoryDriver struct {
	backend *MemoryBackend
	ns      keyspace.Namespace
	life    *lifecycle
}

// NewMemoryDriver creates a driver over backend. A nil backend gets a
// fresh private one.
func NewMemoryDriver(backend *MemoryBackend, opts Options) Driver {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	d := &memoryDriver{
		backend: backend,
		ns:      keyspace.NewNamespace(opts.Base),
	}
	d.life = newLifecycle(opts.logger("memory"),
		func(context.Context) error { return nil },
		func() error { return nil },
	)
	// Connecting to an in-process map cannot fail.
	_ = d.life.start(context.Background(), opts.LazyConnect)
	return d
}

func (m *memoryDriver) Name() string { return "memory" }

func (m *memoryDriver) Capabilities() Capabilities {
	return Capabilities{Binary: true, List: true}
}

func (m *memoryDriver) Close() error {
	return m.life.close()
}

func (m *memoryDriver) Has(ctx context.Context, key string) (bool, error) {
	if err := m.life.ready(ctx); err != nil {
		return false, err
	}
	m.backend.mu.RLock()
	defer m.backend.mu.RUnlock()

	_, found := m.backend.data[m.ns.Physical(key)]
	return found, nil
}

func (m *memoryDriver) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.life.ready(ctx); err != nil {
		return nil, err
	}
	m.backend.mu.RLock()
	defer m.backend.mu.RUnlock()

	value, found := m.backend.data[m.ns.Physical(key)]
	if !found {
		return nil, ErrNotFound
	}
	// Callers may mutate the returned slice
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *memoryDriver) Set(ctx context.Context, key string, value []byte) error {
	if err := m.life.ready(ctx); err != nil {
		return err
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()

	m.backend.data[m.ns.Physical(key)] = stored
	return nil
}

func (m *memoryDriver) Remove(ctx context.Context, key string) error {
	if err := m.life.ready(ctx); err != nil {
		return err
	}
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()

	delete(m.backend.data, m.ns.Physical(key))
	return nil
}

func (m *memoryDriver) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := m.life.ready(ctx); err != nil {
		return nil, err
	}
	keys := m.ns.Filter(m.backend.Keys(), prefix)
	return keys, nil
}

func (m *memoryDriver) Clear(ctx context.Context, prefix string) error {
	if err := m.life.ready(ctx); err != nil {
		return err
	}
	physicalPrefix := m.ns.Physical(prefix)

	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()

	for k := range m.backend.data {
		if strings.HasPrefix(k, physicalPrefix) {
			delete(m.backend.data, k)
		}
	}
	return nil
}
