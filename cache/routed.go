// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bigsnp/partition"
)

// Routed is a store that delegates each key to one of several
// underlying stores, as chosen by a classifier. Keys the classifier
// does not map are uncached: they are never stored and always miss.
// If Strict is set, operations on unmapped keys instead fail with
// errors.NotExist.
type Routed struct {
	// Classify returns the store for key, and whether there is one.
	Classify func(key string) (Store, bool)
	// Stores are all of the stores Classify may return.
	Stores []Store
	Strict bool
}

// ByChrom returns a store that routes the entries of each chromosome's
// units to the store mapped to that chromosome.
func ByChrom(stores map[int]Store) *Routed {
	chroms := make([]int, 0, len(stores))
	for chrom := range stores {
		chroms = append(chroms, chrom)
	}
	sort.Ints(chroms)
	r := &Routed{
		Classify: func(key string) (Store, bool) {
			chrom, ok := partition.ChromOf(key)
			if !ok {
				return nil, false
			}
			s, ok := stores[chrom]
			return s, ok
		},
	}
	for _, chrom := range chroms {
		r.Stores = append(r.Stores, stores[chrom])
	}
	return r
}

func (r *Routed) route(key string) (Store, error) {
	if s, ok := r.Classify(key); ok {
		return s, nil
	}
	if r.Strict {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("cache: no store for key %s", key))
	}
	log.Debug.Printf("cache: key %s is not routed; not caching", key)
	return Null{}, nil
}

func (r *Routed) Exists(ctx context.Context, key string) (bool, error) {
	s, err := r.route(key)
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, key)
}

func (r *Routed) Get(ctx context.Context, key string) ([]byte, error) {
	s, err := r.route(key)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, key)
}

func (r *Routed) Put(ctx context.Context, key string, p []byte) error {
	s, err := r.route(key)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, p)
}

func (r *Routed) Remove(ctx context.Context, key string) error {
	s, err := r.route(key)
	if err != nil {
		return err
	}
	return s.Remove(ctx, key)
}

// Clear clears the namespace in every underlying store.
func (r *Routed) Clear(ctx context.Context, ns string) error {
	var stores []Store
	seen := make(map[Store]bool)
	for _, s := range r.Stores {
		if !seen[s] {
			seen[s] = true
			stores = append(stores, s)
		}
	}
	return traverse.Each(len(stores), func(i int) error {
		return stores[i].Clear(ctx, ns)
	})
}
