// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package bigsnp implements a distributed, cache-aware coordinator for
	genome-wide association scans. A scan tests each SNP of a (possibly
	very large) test collection against a phenotype, given covariates and
	optional kinship, and produces one globally ordered result table.

	Run partitions the test collection into units of work: contiguous
	blocks of SNPs within a chromosome. Each unit is addressed by a key
	that identifies every input affecting its results, so that units
	computed by previous scans may be reused from a cache. Units missing
	from the cache are computed by a runner (package exec), which may
	run them in the calling goroutine, in a pool of goroutines, or on a
	cluster of machines managed by bigmachine. Fresh results are written
	back to the cache, and all results are merged into a single table.

	Cached and freshly computed results are indistinguishable to the
	caller: units are pure functions of their keys, and cache entries
	are published atomically.

	Programs that use bigmachine runners must start bigmachine early in
	main, as workers are copies of the driver binary:

		func main() {
			runner := exec.NewBigmachine(bigmachine.Local, exec.Machines(4))
			defer runner.Shutdown()
			...
			res, err := bigsnp.Run(ctx, snps, pheno, bigsnp.Runner(runner))
		}

	Package snpconfig configures runners and caches from configuration
	profiles.
*/
package bigsnp
