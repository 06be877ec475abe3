// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package assoc implements single-SNP association tests. A test is
// applied to a genotype block (individuals by SNPs) within a shared
// Context that holds the phenotype and covariates, and yields one Row
// of statistics per SNP.
//
// Tests are resolved by name from a process-wide registry, so that
// remote workers can run the test named in a serialized job.
package assoc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigsnp/snpset"
	"gonum.org/v1/gonum/mat"
)

// A Row holds the statistics of one tested SNP.
type Row struct {
	SNP   string
	Chrom int
	Pos   int64
	// Beta is the estimated effect size, and Stat its test statistic.
	Beta, Stat float64
	PValue     float64
	// NumIID is the number of individuals with a called genotype.
	NumIID int
}

// A Test is a single-SNP association test.
type Test interface {
	// Name returns the name under which the test is registered.
	Name() string
	// Test tests each SNP of the genotype block g, whose rows are the
	// context's individuals and whose columns are the provided SNPs.
	// It returns one row per SNP, in the order of snps.
	Test(ctx context.Context, g *mat.Dense, snps []snpset.SNP, c *Context) ([]Row, error)
}

var (
	mu    sync.Mutex
	tests = make(map[string]Test)
)

// Register registers the test t under its name. Register panics if a
// test of the same name is already registered.
func Register(t Test) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := tests[t.Name()]; ok {
		panic(fmt.Sprintf("assoc: test %s registered twice", t.Name()))
	}
	tests[t.Name()] = t
}

// Lookup returns the test registered under the given name.
func Lookup(name string) (Test, error) {
	mu.Lock()
	defer mu.Unlock()
	t, ok := tests[name]
	if !ok {
		return nil, errors.E(errors.NotExist, "assoc: no test named ", name)
	}
	return t, nil
}

// Tests returns the names of the registered tests.
func Tests() []string {
	mu.Lock()
	defer mu.Unlock()
	var names []string
	for name := range tests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
