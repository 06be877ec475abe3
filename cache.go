// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigsnp

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/sync/once"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bigsnp/assoc"
	"github.com/grailbio/bigsnp/cache"
	"github.com/grailbio/bigsnp/partition"
	"github.com/grailbio/bigsnp/resultio"
	"golang.org/x/sync/errgroup"
)

// probe looks up every unit of the scan in the cache, concurrently.
// Units found are marked CacheHit; units with corrupt entries are
// marked Failed. probe returns the indices of the remaining units.
func (s *scan) probe(ctx context.Context) (misses []int) {
	var (
		hits = make([]bool, len(s.units))
		errs = make([]error, len(s.units))
	)
	_ = traverse.Limit(s.opts.cacheParallelism).Each(len(s.units), func(i int) error {
		rows, ok, err := s.lookup(ctx, s.units[i])
		switch {
		case err != nil:
			errs[i] = err
		case ok:
			hits[i] = true
			s.parts[i] = rows
		}
		// Lookup errors fail single units, not the probe.
		return nil
	})
	for i := range s.units {
		switch {
		case errs[i] != nil:
			s.fail(i, StageCache, errs[i])
		case hits[i]:
			s.set(i, CacheHit)
		default:
			misses = append(misses, i)
		}
	}
	return
}

// lookup reads the cached result of unit u. Cache errors other than
// corruption are treated as misses.
func (s *scan) lookup(ctx context.Context, u partition.Unit) ([]assoc.Row, bool, error) {
	ok, err := s.opts.cache.Exists(ctx, u.Key)
	if err != nil {
		log.Error.Printf("bigsnp: cache: probe %s: %v; recomputing", u.Key, err)
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}
	p, err := s.opts.cache.Get(ctx, u.Key)
	if err != nil {
		// The entry may have been cleared since it was probed.
		if !errors.Is(errors.NotExist, err) {
			log.Error.Printf("bigsnp: cache: get %s: %v; recomputing", u.Key, err)
		}
		return nil, false, nil
	}
	rows, err := resultio.Unmarshal(u.Key, p)
	if err != nil {
		return nil, false, err
	}
	if err := checkRows(s.job.Snps, u, rows); err != nil {
		return nil, false, err
	}
	log.Debug.Printf("bigsnp: cache: hit %s", u.Key)
	return rows, true, nil
}

// puts serializes concurrent writes of the same entry to the same
// store within a process.
var puts once.Map

type putKey struct {
	store cache.Store
	key   string
}

// writer writes unit results back to the cache.
type writer struct {
	ctx   context.Context
	store cache.Store
	g     errgroup.Group
}

func (s *scan) writer(ctx context.Context) *writer {
	w := &writer{ctx: ctx, store: s.opts.cache}
	w.g.SetLimit(s.opts.cacheParallelism)
	return w
}

// put writes rows as the cached result of the unit with the provided
// key. Failures are logged: the scan does not depend on them.
func (w *writer) put(key string, rows []assoc.Row) {
	if _, ok := w.store.(cache.Null); ok {
		return
	}
	w.g.Go(func() error {
		p, err := resultio.Marshal(key, rows)
		if err != nil {
			log.Error.Printf("bigsnp: cache: encode %s: %v", key, err)
			return nil
		}
		k := putKey{w.store, key}
		err = puts.Do(k, func() error {
			return w.store.Put(w.ctx, key, p)
		})
		puts.Forget(k)
		if err != nil {
			log.Error.Printf("bigsnp: cache: put %s: %v", key, err)
		}
		return nil
	})
}

func (w *writer) wait() {
	_ = w.g.Wait()
}

// ClearCache removes the entries of store in namespace ns: the entries
// written by scans run with Namespace(ns). An empty namespace clears
// the whole store. Reads in flight are unaffected.
func ClearCache(ctx context.Context, store cache.Store, ns string) error {
	if err := store.Clear(ctx, ns); err != nil {
		return &Error{Stage: StageCache, Err: err}
	}
	log.Printf("bigsnp: cleared cache namespace %q", ns)
	return nil
}
