package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/winton/unstorage/internal/codec"
	"github.com/winton/unstorage/internal/keyspace"
)

// textDriver behaves like a backend that only stores strings
type textDriver struct {
	Driver
}

func (textDriver) Capabilities() Capabilities {
	return Capabilities{Binary: false, List: true}
}

// noListDriver behaves like a backend that cannot enumerate keys
type noListDriver struct {
	Driver
}

func (noListDriver) Capabilities() Capabilities {
	return Capabilities{Binary: true, List: false}
}

func newTestStorage(t *testing.T, d Driver, opts ...StorageOption) *Storage {
	t.Helper()
	s, err := NewStorage(d, opts...)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStorage_NilDriver(t *testing.T) {
	if _, err := NewStorage(nil); err == nil {
		t.Error("expected error for nil driver")
	}
}

func TestStorage_RawOnTextBackend(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := newTestStorage(t, textDriver{NewMemoryDriver(backend, Options{Base: "t:"})})

	raw := []byte{0x00, 0xff, 0x10}
	if err := s.Set(ctx, "blob.bin", raw); err != nil {
		t.Fatalf("Set() returned unexpected error: %v", err)
	}

	stored, err := s.Driver().Get(ctx, "blob.bin")
	if err != nil {
		t.Fatalf("failed to read stored value: %v", err)
	}
	if !strings.HasPrefix(string(stored), "base64:") {
		t.Errorf("expected base64 text on a text-only backend, got %q", stored)
	}

	got, err := s.Load(ctx, "blob.bin")
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if b, ok := got.([]byte); !ok || string(b) != string(raw) {
		t.Errorf("expected %v, got %#v", raw, got)
	}

	// JSON values are stored untouched
	if err := s.Set(ctx, "flag", true); err != nil {
		t.Fatalf("Set() returned unexpected error: %v", err)
	}
	if stored, _ := s.Driver().Get(ctx, "flag"); string(stored) != "true" {
		t.Errorf("expected JSON text 'true', got %q", stored)
	}
}

func TestStorage_ListUnsupported(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, noListDriver{NewMemoryDriver(nil, Options{})})

	if _, err := s.Keys(ctx, ""); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported from Keys, got %v", err)
	}
	if err := s.Clear(ctx, ""); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported from Clear, got %v", err)
	}
	// Point operations still work
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Errorf("Set() returned unexpected error: %v", err)
	}
}

func TestStorage_InvalidKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, NewMemoryDriver(nil, Options{}))

	for _, key := range []string{"", "a::b", ":a", "a:"} {
		if err := s.Set(ctx, key, 1); !errors.Is(err, keyspace.ErrInvalidKey) {
			t.Errorf("Set(%q): expected ErrInvalidKey, got %v", key, err)
		}
		if _, err := s.Get(ctx, key); !errors.Is(err, keyspace.ErrInvalidKey) {
			t.Errorf("Get(%q): expected ErrInvalidKey, got %v", key, err)
		}
		if _, err := s.Has(ctx, key); !errors.Is(err, keyspace.ErrInvalidKey) {
			t.Errorf("Has(%q): expected ErrInvalidKey, got %v", key, err)
		}
		if err := s.Remove(ctx, key); !errors.Is(err, keyspace.ErrInvalidKey) {
			t.Errorf("Remove(%q): expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestStorage_CodecErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, NewMemoryDriver(nil, Options{}))

	if err := s.Driver().Set(ctx, "broken", []byte("{not json")); err != nil {
		t.Fatalf("failed to seed value: %v", err)
	}
	if _, err := s.Get(ctx, "broken"); !errors.Is(err, codec.ErrCodec) {
		t.Errorf("expected ErrCodec for malformed JSON, got %v", err)
	}
	if err := s.Set(ctx, "chan", make(chan int)); !errors.Is(err, codec.ErrCodec) {
		t.Errorf("expected ErrCodec for unencodable value, got %v", err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStorage_SetTagMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, NewMemoryDriver(nil, Options{}))

	// Bytes under a JSON key would later decode as JSON
	if err := s.Set(ctx, "blob", []byte("true")); !errors.Is(err, codec.ErrCodec) {
		t.Errorf("expected ErrCodec for bytes under a JSON key, got %v", err)
	}
	if found, _ := s.Has(ctx, "blob"); found {
		t.Error("expected rejected value not to be stored")
	}
	if err := s.Set(ctx, "blob.bin", "text"); !errors.Is(err, codec.ErrCodec) {
		t.Errorf("expected ErrCodec for a JSON value under a .bin key, got %v", err)
	}

	// The byte API stores opaque values under any key
	if err := s.SetRaw(ctx, "blob", []byte("true")); err != nil {
		t.Fatalf("SetRaw() returned unexpected error: %v", err)
	}
	value, err := s.GetRaw(ctx, "blob")
	if err != nil || string(value) != "true" {
		t.Errorf("expected raw %q, got %q (%v)", "true", value, err)
	}
}

func TestStorage_GetInto(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, NewMemoryDriver(nil, Options{}))

	type user struct {
		Name  string `json:"name"`
		Admin bool   `json:"admin"`
	}
	if err := s.Set(ctx, "users:1", user{Name: "ada", Admin: true}); err != nil {
		t.Fatalf("Set() returned unexpected error: %v", err)
	}

	var got user
	if err := s.GetInto(ctx, "users:1", &got); err != nil {
		t.Fatalf("GetInto() returned unexpected error: %v", err)
	}
	if got.Name != "ada" || !got.Admin {
		t.Errorf("unexpected value %+v", got)
	}
}

func TestStorage_Metrics(t *testing.T) {
	ctx := context.Background()
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	cfg := metrics.DefaultConfig("unstorage")
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	m, err := metrics.New(cfg, sink)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	s := newTestStorage(t, noListDriver{NewMemoryDriver(nil, Options{})}, WithMetrics(m))
	_ = s.Set(ctx, "k", "v")
	_, _ = s.Get(ctx, "k")
	_, _ = s.Get(ctx, "missing")
	_, _ = s.Keys(ctx, "")

	data := sink.Data()
	if len(data) == 0 {
		t.Fatal("expected at least one interval")
	}
	intv := data[len(data)-1]
	intv.RLock()
	defer intv.RUnlock()

	for _, name := range []string{
		"unstorage.store.memory.set",
		"unstorage.store.memory.get",
		"unstorage.store.memory.keys",
	} {
		if _, ok := intv.Samples[name]; !ok {
			t.Errorf("expected timing sample %q, got %v", name, keysOf(intv.Samples))
		}
	}
	if c, ok := intv.Counters["unstorage.store.memory.keys.errors"]; !ok || c.Count != 1 {
		t.Errorf("expected one keys error, got %+v", c)
	}
	if _, ok := intv.Counters["unstorage.store.memory.get.errors"]; ok {
		t.Error("missing keys should not count as errors")
	}
}

func keysOf[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
