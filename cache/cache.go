// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cache provides stores for the cached partial results of
// units of work. A Store maps a unit key to an opaque blob. Keys are
// slash-separated paths, and a namespace is a key prefix.
//
// Every store publishes entries atomically: a concurrent reader
// observes either the complete entry or no entry at all. All stores
// are safe for concurrent use, including by multiple processes where
// the underlying storage is shared.
package cache

import (
	"context"
	"encoding/gob"
	"strings"

	"github.com/grailbio/base/errors"
)

func init() {
	gob.Register(Null{})
	gob.Register(&File{})
	gob.Register(&Peer{})
	gob.Register(&Object{})
}

// Store is a key-value store for cache entries.
type Store interface {
	// Exists tells whether an entry is stored for key.
	Exists(ctx context.Context, key string) (bool, error)
	// Get returns the entry stored for key. Get returns an error of
	// kind errors.NotExist if there is none.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores p as the entry for key, replacing any existing entry.
	Put(ctx context.Context, key string, p []byte) error
	// Remove removes the entry for key, if any.
	Remove(ctx context.Context, key string) error
	// Clear removes every entry whose key is in the given namespace.
	// An empty namespace clears the whole store. Reads that are in
	// flight during a Clear return either the old entry or a miss.
	Clear(ctx context.Context, namespace string) error
}

// Null is a store that never stores anything.
type Null struct{}

func (Null) Exists(context.Context, string) (bool, error) { return false, nil }

func (Null) Get(_ context.Context, key string) ([]byte, error) {
	return nil, errors.E(errors.NotExist, "cache: ", key)
}

func (Null) Put(context.Context, string, []byte) error { return nil }
func (Null) Remove(context.Context, string) error      { return nil }
func (Null) Clear(context.Context, string) error       { return nil }

// inNamespace tells whether key is in namespace ns.
func inNamespace(key, ns string) bool {
	ns = strings.Trim(ns, "/")
	if ns == "" {
		return true
	}
	return key == ns || strings.HasPrefix(key, ns+"/")
}

func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return errors.E(errors.Invalid, "cache: invalid key ", key)
	}
	return nil
}
