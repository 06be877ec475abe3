// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cache

import (
	"context"

	"github.com/grailbio/base/errors"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Memory is an in-process store that retains up to a fixed number of
// entries, evicting the least recently used.
type Memory struct {
	entries *lru.Cache[string, []byte]
}

// NewMemory returns a memory store of the given capacity.
func NewMemory(capacity int) (*Memory, error) {
	entries, err := lru.New[string, []byte](capacity)
	if err != nil {
		return nil, errors.E(errors.Invalid, "cache: memory store", err)
	}
	return &Memory{entries: entries}, nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	return m.entries.Contains(key), nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	p, ok := m.entries.Get(key)
	if !ok {
		return nil, errors.E(errors.NotExist, "cache: ", key)
	}
	return append([]byte(nil), p...), nil
}

func (m *Memory) Put(_ context.Context, key string, p []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	m.entries.Add(key, append([]byte(nil), p...))
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.entries.Remove(key)
	return nil
}

func (m *Memory) Clear(_ context.Context, ns string) error {
	for _, key := range m.entries.Keys() {
		if inNamespace(key, ns) {
			m.entries.Remove(key)
		}
	}
	return nil
}

// Len returns the number of entries in the store.
func (m *Memory) Len() int {
	return m.entries.Len()
}
