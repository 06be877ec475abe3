// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cache

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/testutil"
)

func testStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	const key = "scan/chr01/000-of-001-abc"
	ok, err := store.Exists(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Errorf("%s: unexpected entry", key)
	}
	if _, err := store.Get(ctx, key); !errors.Is(errors.NotExist, err) {
		t.Errorf("got %v, want not exist", err)
	}
	if err := store.Put(ctx, key, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	ok, err = store.Exists(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Errorf("%s: missing entry", key)
	}
	p, err := store.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(p), "hello"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := store.Put(ctx, key, []byte("world")); err != nil {
		t.Fatal(err)
	}
	p, err = store.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(p), "world"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := store.Remove(ctx, key); err != nil {
		t.Fatal(err)
	}
	if err := store.Remove(ctx, key); err != nil {
		t.Errorf("remove of missing entry: %v", err)
	}
	if ok, _ := store.Exists(ctx, key); ok {
		t.Errorf("%s: entry not removed", key)
	}

	// Clear removes only the namespace.
	for _, k := range []string{"a/chr01/000-of-001-00", "a/chr02/000-of-001-00", "ab/chr01/000-of-001-00"} {
		if err := store.Put(ctx, k, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Clear(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	for k, want := range map[string]bool{
		"a/chr01/000-of-001-00":  false,
		"a/chr02/000-of-001-00":  false,
		"ab/chr01/000-of-001-00": true,
	} {
		ok, err := store.Exists(ctx, k)
		if err != nil {
			t.Fatal(err)
		}
		if got := ok; got != want {
			t.Errorf("%s: got %v, want %v", k, got, want)
		}
	}
	if err := store.Clear(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if ok, _ := store.Exists(ctx, "ab/chr01/000-of-001-00"); ok {
		t.Error("entry not cleared")
	}
	if err := store.Put(ctx, "../escape", nil); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
}

// testConcurrent verifies that readers racing with writers, and then
// with a clear, observe either a complete entry or a miss.
func testConcurrent(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	const n = 64
	key := func(i int) string {
		return fmt.Sprintf("chr01/%03d-of-%03d-00", i, n)
	}
	value := func(i int) []byte {
		return bytes.Repeat([]byte{byte('a' + i%26)}, 1<<14)
	}
	get := func(i int) error {
		p, err := store.Get(ctx, key(i))
		if errors.Is(errors.NotExist, err) {
			return nil
		}
		if err != nil {
			return err
		}
		if !bytes.Equal(p, value(i)) {
			return fmt.Errorf("%s: partial or corrupt entry", key(i))
		}
		return nil
	}
	err := traverse.Each(2*n, func(i int) error {
		if i < n {
			return store.Put(ctx, key(i), value(i))
		}
		return get(i - n)
	})
	if err != nil {
		t.Fatal(err)
	}
	err = traverse.Each(n+1, func(i int) error {
		if i == n {
			return store.Clear(ctx, "")
		}
		return get(i)
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if ok, _ := store.Exists(ctx, key(i)); ok {
			t.Errorf("%s: not cleared", key(i))
		}
	}
}

func TestNull(t *testing.T) {
	ctx := context.Background()
	var store Null
	if err := store.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if ok, _ := store.Exists(ctx, "k"); ok {
		t.Error("null store has an entry")
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(errors.NotExist, err) {
		t.Errorf("got %v, want not exist", err)
	}
}

func TestMemory(t *testing.T) {
	store, err := NewMemory(100)
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, store)
	testConcurrent(t, store)
}

func TestMemoryEviction(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemory(2)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if err := store.Put(ctx, k, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	if got, want := store.Len(), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if ok, _ := store.Exists(ctx, "a"); ok {
		t.Error("least recently used entry not evicted")
	}
	if _, err := NewMemory(0); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
}

func TestFile(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	testStore(t, NewFile(dir))
	testConcurrent(t, NewFile(dir))
}

func TestPeer(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	common, root := filepath.Join(dir, "common"), filepath.Join(dir, "peers")
	testStore(t, NewPeer(common, root))

	ctx := context.Background()
	a, b := NewPeer(common, root), NewPeer(common, root)
	if a.ID == b.ID {
		t.Fatal("peers share an identity")
	}
	const key = "chr05/000-of-001-00"
	if err := a.Put(ctx, key, []byte("from a")); err != nil {
		t.Fatal(err)
	}
	ok, err := b.Exists(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("entry not visible to peer")
	}
	p, err := b.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(p), "from a"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := exists(ctx, filepath.Join(root, a.ID, key)); err != nil {
		t.Fatal(err)
	}
	if err := b.Clear(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if ok, _ := exists(ctx, filepath.Join(root, a.ID, key)); ok {
		t.Error("owner's entry not cleared")
	}
	testConcurrent(t, NewPeer(common, root))
}

func TestRouted(t *testing.T) {
	ctx := context.Background()
	one, err := NewMemory(10)
	if err != nil {
		t.Fatal(err)
	}
	two, err := NewMemory(10)
	if err != nil {
		t.Fatal(err)
	}
	store := ByChrom(map[int]Store{1: one, 2: two, 3: two})
	for _, key := range []string{"chr01/000-of-001-00", "chr02/000-of-001-00", "chr03/000-of-001-00"} {
		if err := store.Put(ctx, key, []byte(key)); err != nil {
			t.Fatal(err)
		}
	}
	if got, want := one.Len(), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := two.Len(), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	// Unmapped chromosomes are not cached.
	const unmapped = "chr09/000-of-001-00"
	if err := store.Put(ctx, unmapped, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if ok, err := store.Exists(ctx, unmapped); err != nil || ok {
		t.Errorf("got %v, %v; want false, nil", ok, err)
	}
	store.Strict = true
	if _, err := store.Exists(ctx, unmapped); !errors.Is(errors.NotExist, err) {
		t.Errorf("got %v, want not exist", err)
	}
	if err := store.Put(ctx, unmapped, nil); !errors.Is(errors.NotExist, err) {
		t.Errorf("got %v, want not exist", err)
	}
	store.Strict = false

	if err := store.Clear(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if got, want := one.Len()+two.Len(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestObjectConfig(t *testing.T) {
	if _, err := NewObject(ObjectConfig{Bucket: "b"}); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
	if _, err := NewObject(ObjectConfig{Endpoint: "localhost:9000"}); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
	o, err := NewObject(ObjectConfig{Endpoint: "localhost:9000", Bucket: "b", Prefix: "/cache/"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := o.object("chr01/000-of-001-00"), "cache/chr01/000-of-001-00"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := o.Config.Region, "us-east-1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// objectTestConfig returns the configuration of an object store for
// testing, taken from the environment. The test is skipped if
// BIGSNP_TEST_OBJECT_ENDPOINT is unset. Each call uses a fresh prefix.
func objectTestConfig(t *testing.T) ObjectConfig {
	t.Helper()
	endpoint := os.Getenv("BIGSNP_TEST_OBJECT_ENDPOINT")
	if endpoint == "" {
		t.Skip("BIGSNP_TEST_OBJECT_ENDPOINT not set")
	}
	bucket := os.Getenv("BIGSNP_TEST_OBJECT_BUCKET")
	if bucket == "" {
		bucket = "bigsnp-test"
	}
	return ObjectConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("BIGSNP_TEST_OBJECT_ACCESS_KEY"),
		SecretKey: os.Getenv("BIGSNP_TEST_OBJECT_SECRET_KEY"),
		UseSSL:    os.Getenv("BIGSNP_TEST_OBJECT_SSL") != "",
		Bucket:    bucket,
		Prefix:    "test-" + uuid.New().String(),
	}
}

func TestObject(t *testing.T) {
	store, err := NewObject(objectTestConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Clear(context.Background(), "")
	testStore(t, store)
	testConcurrent(t, store)
}

func TestObjectRetryInit(t *testing.T) {
	store, err := NewObject(objectTestConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Clear(context.Background(), "")
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Exists(canceled, "chr01/000-of-001-00"); err == nil {
		t.Fatal("expected error")
	}
	// The failure of the first call is not remembered.
	ctx := context.Background()
	if err := store.Put(ctx, "chr01/000-of-001-00", []byte("ok")); err != nil {
		t.Fatal(err)
	}
	p, err := store.Get(ctx, "chr01/000-of-001-00")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(p), "ok"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
