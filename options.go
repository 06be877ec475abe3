// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigsnp

import (
	"runtime"

	"github.com/grailbio/base/status"
	"github.com/grailbio/bigsnp/assoc"
	"github.com/grailbio/bigsnp/cache"
	"github.com/grailbio/bigsnp/exec"
	"github.com/grailbio/bigsnp/snpset"
)

// An Option configures a scan.
type Option func(o *options)

type options struct {
	covar            *assoc.Table
	g0               snpset.Collection
	k0               *assoc.Kernel
	numPC            int
	cache            cache.Store
	runner           exec.Runner
	output           string
	piecesPerChrom   int
	ranked           bool
	test             string
	allowPartial     bool
	status           *status.Status
	cacheParallelism int
	namespace        string
}

func applyOptions(opts []Option) options {
	o := options{
		cache:            cache.Null{},
		test:             "linear",
		cacheParallelism: 10 * runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runner == nil {
		if o.allowPartial {
			o.runner = exec.Sync()
		} else {
			o.runner = exec.Sync(exec.FailFast)
		}
	}
	return o
}

// Covar sets the covariates of the scan. Individuals missing a
// covariate value are excluded.
func Covar(covar *assoc.Table) Option {
	return func(o *options) {
		o.covar = covar
	}
}

// G0 sets the reference genotypes from which the scan's kinship is
// computed. G0 is ignored if K0 is also given.
func G0(g0 snpset.Collection) Option {
	return func(o *options) {
		o.g0 = g0
	}
}

// K0 sets the kinship of the scan.
func K0(k0 *assoc.Kernel) Option {
	return func(o *options) {
		o.k0 = k0
	}
}

// NumPC sets the number of principal components of the kinship that
// are added to the scan's covariates.
func NumPC(n int) Option {
	return func(o *options) {
		o.numPC = n
	}
}

// Cache sets the store in which unit results are cached. By default,
// results are not cached.
func Cache(store cache.Store) Option {
	return func(o *options) {
		o.cache = store
	}
}

// Runner sets the runner used to compute units that are not cached.
// By default, units are computed synchronously in the calling
// goroutine.
func Runner(runner exec.Runner) Option {
	return func(o *options) {
		o.runner = runner
	}
}

// Output sets the path (local or a URL supported by
// github.com/grailbio/base/file) to which the result table is written.
func Output(path string) Option {
	return func(o *options) {
		o.output = path
	}
}

// PiecesPerChrom sets the number of units into which each chromosome
// is split. The default, 0, uses the test collection's own pieces if
// it has any, and one unit per chromosome otherwise.
func PiecesPerChrom(n int) Option {
	return func(o *options) {
		o.piecesPerChrom = n
	}
}

// Ranked orders results by ascending p-value instead of by genomic
// position.
var Ranked Option = func(o *options) {
	o.ranked = true
}

// Test sets the name of the registered association test used by the
// scan. The default is "linear".
func Test(name string) Option {
	return func(o *options) {
		o.test = name
	}
}

// AllowPartial lets a scan succeed when some of its units fail. The
// failed units are reported in Result.Failed; their SNPs are missing
// from the result.
var AllowPartial Option = func(o *options) {
	o.allowPartial = true
}

// Status sets the status object to which scan progress is reported.
func Status(s *status.Status) Option {
	return func(o *options) {
		o.status = s
	}
}

// CacheParallelism sets the number of concurrent cache operations
// issued by the scan.
func CacheParallelism(n int) Option {
	if n <= 0 {
		panic("bigsnp.CacheParallelism: n <= 0")
	}
	return func(o *options) {
		o.cacheParallelism = n
	}
}

// Namespace prefixes every cache key of the scan with ns, so that the
// scan's entries may be cleared together with ClearCache.
func Namespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}
