package store

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
)

// Backend is a freshly created physical store for one test.
type Backend struct {
	// Open returns a new driver attached to this backend under base
	Open func(t *testing.T, base string) Driver
	// Exclusive is set when the backend allows one open driver at a time
	Exclusive bool
	// PhysicalKeys lists every raw key in the backend. Optional; only
	// called once all drivers are closed
	PhysicalKeys func(t *testing.T) []string
}

// StoreFactory creates a new Backend for each test
type StoreFactory func(t *testing.T) Backend

// RunStoreTests runs the conformance suite against a Driver implementation
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		tests := []struct {
			name string
			fn   func(t *testing.T, b Backend)
		}{
			{"GetNonExistent", testGetNonExistent},
			{"SetAndGet", testSetAndGet},
			{"SetOverwrite", testSetOverwrite},
			{"SetEmptyValue", testSetEmptyValue},
			{"Has", testHas},
			{"RemoveExisting", testRemoveExisting},
			{"RemoveIdempotent", testRemoveIdempotent},
			{"MultipleKeys", testMultipleKeys},
			{"LargeValue", testLargeValue},
			{"KeysWithPrefix", testKeysWithPrefix},
			{"ClearAll", testClearAll},
			{"ClearPrefix", testClearPrefix},
			{"StorageRoundTrip", testStorageRoundTrip},
			{"BaseIsolation", testBaseIsolation},
			{"CloseTwice", testCloseTwice},
			{"CloseLeavesOthers", testCloseLeavesOthers},
			{"Scenario", testScenario},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				tt.fn(t, factory(t))
			})
		}
	})
}

func openDriver(t *testing.T, b Backend, base string) Driver {
	t.Helper()
	d := b.Open(t, base)
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d
}

func mustSet(t *testing.T, d Driver, key string, value []byte) {
	t.Helper()
	if err := d.Set(context.Background(), key, value); err != nil {
		t.Fatalf("expected no error writing key %s, got %v", key, err)
	}
}

func sortedKeys(t *testing.T, d Driver, prefix string) []string {
	t.Helper()
	keys, err := d.Keys(context.Background(), prefix)
	if err != nil {
		t.Fatalf("expected no error listing %q, got %v", prefix, err)
	}
	sort.Strings(keys)
	if keys == nil {
		keys = []string{}
	}
	return keys
}

func testGetNonExistent(t *testing.T, b Backend) {
	d := openDriver(t, b, "test:")
	ctx := context.Background()

	value, err := d.Get(ctx, "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if value != nil {
		t.Errorf("expected nil value, got %v", value)
	}
}

func testSetAndGet(t *testing.T, b Backend) {
	d := openDriver(t, b, "test:")
	ctx := context.Background()

	key := "testkey"
	expectedValue := []byte("testvalue")
	mustSet(t, d, key, expectedValue)

	value, err := d.Get(ctx, key)
	if err != nil {
		t.Fatalf("expected key to be found, got %v", err)
	}
	if !bytes.Equal(value, expectedValue) {
		t.Errorf("expected value %v, got %v", expectedValue, value)
	}
}

func testSetOverwrite(t *testing.T, b Backend) {
	d := openDriver(t, b, "test:")
	ctx := context.Background()

	key := "testkey"
	mustSet(t, d, key, []byte("value1"))
	mustSet(t, d, key, []byte("value2"))

	value, err := d.Get(ctx, key)
	if err != nil {
		t.Fatalf("expected key to be found, got %v", err)
	}
	if !bytes.Equal(value, []byte("value2")) {
		t.Errorf("expected value %q, got %q", "value2", value)
	}
}

func testSetEmptyValue(t *testing.T, b Backend) {
	d := openDriver(t, b, "test:")
	ctx := context.Background()

	key := "testkey"
	mustSet(t, d, key, []byte{})

	value, err := d.Get(ctx, key)
	if err != nil {
		t.Fatalf("expected key to be found, got %v", err)
	}
	if len(value) != 0 {
		t.Errorf("expected empty value, got %v", value)
	}
}

func testHas(t *testing.T, b Backend) {
	d := openDriver(t, b, "test:")
	ctx := context.Background()

	found, err := d.Has(ctx, "testkey")
	if err != nil || found {
		t.Errorf("expected missing key, got found=%v err=%v", found, err)
	}

	mustSet(t, d, "testkey", []byte("x"))

	found, err = d.Has(ctx, "testkey")
	if err != nil || !found {
		t.Errorf("expected key to exist, got found=%v err=%v", found, err)
	}
}

func testRemoveExisting(t *testing.T, b Backend) {
	d := openDriver(t, b, "test:")
	ctx := context.Background()

	key := "testkey"
	mustSet(t, d, key, []byte("testvalue"))

	if err := d.Remove(ctx, key); err != nil {
		t.Errorf("expected no error deleting key, got %v", err)
	}
	if _, err := d.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected key to not be found after deletion, got %v", err)
	}
}

func testRemoveIdempotent(t *testing.T, b Backend) {
	d := openDriver(t, b, "test:")
	ctx := context.Background()

	mustSet(t, d, "testkey", []byte("testvalue"))

	for i := 0; i < 2; i++ {
		if err := d.Remove(ctx, "testkey"); err != nil {
			t.Errorf("remove #%d: expected no error, got %v", i+1, err)
		}
		found, err := d.Has(ctx, "testkey")
		if err != nil || found {
			t.Errorf("remove #%d: expected key gone, got found=%v err=%v", i+1, found, err)
		}
	}

	if err := d.Remove(ctx, "nonexistent"); err != nil {
		t.Errorf("expected no error deleting non-existent key, got %v", err)
	}
}

func testMultipleKeys(t *testing.T, b Backend) {
	d := openDriver(t, b, "test:")
	ctx := context.Background()

	keys := []string{"key1", "key2", "key3"}
	values := [][]byte{[]byte("value1"), []byte("value2"), []byte("value3")}

	for i, key := range keys {
		mustSet(t, d, key, values[i])
	}

	for i, key := range keys {
		value, err := d.Get(ctx, key)
		if err != nil {
			t.Errorf("expected key %s to be found, got %v", key, err)
		}
		if !bytes.Equal(value, values[i]) {
			t.Errorf("expected value %v for key %s, got %v", values[i], key, value)
		}
	}

	if err := d.Remove(ctx, keys[1]); err != nil {
		t.Errorf("expected no error deleting key %s, got %v", keys[1], err)
	}

	if value, err := d.Get(ctx, keys[0]); err != nil || !bytes.Equal(value, values[0]) {
		t.Error("expected key1 to still exist")
	}
	if _, err := d.Get(ctx, keys[1]); !errors.Is(err, ErrNotFound) {
		t.Error("expected key2 to be deleted")
	}
	if value, err := d.Get(ctx, keys[2]); err != nil || !bytes.Equal(value, values[2]) {
		t.Error("expected key3 to still exist")
	}
}

func testLargeValue(t *testing.T, b Backend) {
	d := openDriver(t, b, "test:")
	ctx := context.Background()

	key := "largekey"
	largeValue := make([]byte, 1024*1024) // 1MB
	for i := range largeValue {
		largeValue[i] = byte(i % 256)
	}

	// Text-only backends get binary values through Storage
	if !d.Capabilities().Binary {
		for i := range largeValue {
			largeValue[i] = 'a' + byte(i%26)
		}
	}

	mustSet(t, d, key, largeValue)

	value, err := d.Get(ctx, key)
	if err != nil {
		t.Fatalf("expected key to be found, got %v", err)
	}
	if !bytes.Equal(value, largeValue) {
		t.Error("large value not stored correctly")
	}
}

func testKeysWithPrefix(t *testing.T, b Backend) {
	d := openDriver(t, b, "test:")

	for _, key := range []string{"s1:a", "s2:a", "s3:a", "other:b"} {
		mustSet(t, d, key, []byte("x"))
	}

	if got, want := sortedKeys(t, d, "s"), []string{"s1:a", "s2:a", "s3:a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got, want := sortedKeys(t, d, ""), []string{"other:b", "s1:a", "s2:a", "s3:a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got := sortedKeys(t, d, "missing"); len(got) != 0 {
		t.Errorf("expected no keys, got %v", got)
	}
}

func testClearAll(t *testing.T, b Backend) {
	d := openDriver(t, b, "test:")
	ctx := context.Background()

	for _, key := range []string{"s1:a", "s2:a", "data:x"} {
		mustSet(t, d, key, []byte("x"))
	}

	if err := d.Clear(ctx, ""); err != nil {
		t.Fatalf("expected no error clearing, got %v", err)
	}
	if got := sortedKeys(t, d, ""); len(got) != 0 {
		t.Errorf("expected no keys after clear, got %v", got)
	}

	// Clearing an empty namespace is not an error
	if err := d.Clear(ctx, ""); err != nil {
		t.Errorf("expected no error clearing twice, got %v", err)
	}
}

func testClearPrefix(t *testing.T, b Backend) {
	d := openDriver(t, b, "test:")
	ctx := context.Background()

	for _, key := range []string{"s1:a", "s2:a", "data:x"} {
		mustSet(t, d, key, []byte("x"))
	}

	if err := d.Clear(ctx, "s"); err != nil {
		t.Fatalf("expected no error clearing, got %v", err)
	}
	if got, want := sortedKeys(t, d, ""), []string{"data:x"}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func testStorageRoundTrip(t *testing.T, b Backend) {
	d := openDriver(t, b, "test:")
	ctx := context.Background()

	s, err := NewStorage(d)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	values := []struct {
		key   string
		value any
		want  any
	}{
		{"bool", true, true},
		{"false", false, false},
		{"string", "test_data", "test_data"},
		{"number", 42, float64(42)},
		{"null", nil, nil},
		{"object", map[string]any{"a": "b"}, map[string]any{"a": "b"}},
		{"array", []any{"a", 1.5}, []any{"a", 1.5}},
	}

	for _, v := range values {
		if err := s.Set(ctx, v.key, v.value); err != nil {
			t.Fatalf("failed to set %s: %v", v.key, err)
		}
	}
	for _, v := range values {
		got, err := s.Get(ctx, v.key)
		if err != nil {
			t.Errorf("failed to get %s: %v", v.key, err)
			continue
		}
		if !reflect.DeepEqual(got, v.want) {
			t.Errorf("%s: expected %#v, got %#v", v.key, v.want, got)
		}
	}

	raw := []byte{0x00, 0x01, 0xfe, 0xff}
	if err := s.SetRaw(ctx, "blob", raw); err != nil {
		t.Fatalf("failed to set raw: %v", err)
	}
	got, err := s.GetRaw(ctx, "blob")
	if err != nil {
		t.Fatalf("failed to get raw: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("expected raw %v, got %v", raw, got)
	}
}

func testBaseIsolation(t *testing.T, b Backend) {
	ctx := context.Background()

	a := openDriver(t, b, "a:")
	mustSet(t, a, "k", []byte("from-a"))
	mustSet(t, a, "only-a", []byte("x"))
	if b.Exclusive {
		_ = a.Close()
	}

	other := openDriver(t, b, "b:")
	mustSet(t, other, "k", []byte("from-b"))

	if got, want := sortedKeys(t, other, ""), []string{"k"}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v under b:, got %v", want, got)
	}
	if value, err := other.Get(ctx, "k"); err != nil || string(value) != "from-b" {
		t.Errorf("expected 'from-b', got %q (%v)", value, err)
	}
	if found, _ := other.Has(ctx, "only-a"); found {
		t.Error("expected key from a: to be invisible under b:")
	}
	if err := other.Clear(ctx, ""); err != nil {
		t.Fatalf("expected no error clearing b:, got %v", err)
	}
	if b.Exclusive {
		_ = other.Close()
		a = openDriver(t, b, "a:")
	}

	if got, want := sortedKeys(t, a, ""), []string{"k", "only-a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v under a: after clearing b:, got %v", want, got)
	}
	if value, err := a.Get(ctx, "k"); err != nil || string(value) != "from-a" {
		t.Errorf("expected 'from-a', got %q (%v)", value, err)
	}
}

func testCloseTwice(t *testing.T, b Backend) {
	d := openDriver(t, b, "test:")
	ctx := context.Background()

	mustSet(t, d, "k", []byte("v"))

	if err := d.Close(); err != nil {
		t.Errorf("expected no error closing, got %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("expected no error closing twice, got %v", err)
	}

	if _, err := d.Get(ctx, "k"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after close, got %v", err)
	}
	if err := d.Set(ctx, "k", []byte("v")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after close, got %v", err)
	}
	if _, err := d.Keys(ctx, ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after close, got %v", err)
	}
}

func testCloseLeavesOthers(t *testing.T, b Backend) {
	if b.Exclusive {
		t.Skip("backend allows a single open driver")
	}
	ctx := context.Background()

	first := openDriver(t, b, "test:")
	second := openDriver(t, b, "test:")

	mustSet(t, second, "k", []byte("v"))

	_ = first.Close()
	_ = first.Close()

	value, err := second.Get(ctx, "k")
	if err != nil || string(value) != "v" {
		t.Errorf("expected other driver to keep working, got %q (%v)", value, err)
	}
}

func testScenario(t *testing.T, b Backend) {
	d := openDriver(t, b, "test:")
	ctx := context.Background()

	s, err := NewStorage(d)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	raw := []byte{0x01, 0x02, 0x03, 0xff}
	items := []struct {
		key   string
		value any
		want  any
	}{
		{"s1:a", "test_data", "test_data"},
		{"s2:a", "test_data", "test_data"},
		{"s3:a", "test_data", "test_data"},
		{"data:test.json", map[string]any{"test": "value"}, map[string]any{"test": "value"}},
		{"data:true.json", true, true},
		{
			"data:serialized1.json",
			map[string]any{"serializedObj": "works"},
			map[string]any{"serializedObj": "works"},
		},
		{
			"data:serialized2.json",
			map[string]any{"nested": map[string]any{"list": []any{1, "two"}}},
			map[string]any{"nested": map[string]any{"list": []any{float64(1), "two"}}},
		},
		{"data:raw.bin", raw, raw},
	}

	for _, item := range items {
		if err := s.Set(ctx, item.key, item.value); err != nil {
			t.Fatalf("failed to set %s: %v", item.key, err)
		}
	}

	for _, item := range items {
		got, err := s.Load(ctx, item.key)
		if err != nil {
			t.Errorf("failed to load %s: %v", item.key, err)
			continue
		}
		if !reflect.DeepEqual(got, item.want) {
			t.Errorf("%s: expected %#v, got %#v", item.key, item.want, got)
		}
	}

	if got, want := sortedKeys(t, d, "s"), []string{"s1:a", "s2:a", "s3:a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if b.PhysicalKeys == nil {
		return
	}
	if err := d.Close(); err != nil {
		t.Fatalf("failed to close driver: %v", err)
	}

	physical := b.PhysicalKeys(t)
	sort.Strings(physical)
	want := []string{
		"test:data:raw.bin",
		"test:data:serialized1.json",
		"test:data:serialized2.json",
		"test:data:test.json",
		"test:data:true.json",
		"test:s1:a",
		"test:s2:a",
		"test:s3:a",
	}
	if !reflect.DeepEqual(physical, want) {
		t.Errorf("expected physical keys %v, got %v", want, physical)
	}
}
