// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package snpset provides test-SNP collections: ordered sets of SNPs
// with positional metadata and an accessor for their genotype matrix.
// Collections are immutable views. They may be held in memory,
// generated synthetically, or stored as a set of per-chromosome pieces
// under a file prefix.
//
// Collections are serialized with gob when a scan is dispatched to
// remote workers, so every implementation in this package is
// gob-registered.
package snpset

import (
	"context"
	"encoding/gob"
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"gonum.org/v1/gonum/mat"
)

func init() {
	gob.Register(&Mem{})
	gob.Register(&Gen{})
	gob.Register(&Subset{})
	gob.Register(&Distributed{})
}

// A SNP describes one tested variant: a column of the genotype matrix.
type SNP struct {
	// ID is the variant identifier. IDs are unique within a
	// collection.
	ID string
	// Chrom is the chromosome number (1-based).
	Chrom int
	// Pos is the physical position on the chromosome.
	Pos int64
}

func (s SNP) String() string {
	return fmt.Sprintf("%s(chr%d:%d)", s.ID, s.Chrom, s.Pos)
}

// A Collection is an immutable, ordered set of SNPs over a fixed set of
// individuals.
type Collection interface {
	// NumIID returns the number of individuals.
	NumIID() int
	// IIDs returns the individual identifiers, in row order.
	IIDs() []string
	// NumSNP returns the number of SNPs.
	NumSNP() int
	// SNP returns the i'th SNP.
	SNP(i int) SNP
	// Fingerprint identifies the genotype source underlying this
	// collection. Two collections with the same fingerprint return the
	// same values for the same (individual, SNP ID) pair, regardless of
	// how each is represented.
	Fingerprint() string
	// Read returns the genotype block for the given rows (individuals)
	// and columns (SNPs), as allele counts; missing values are NaN.
	// A nil rows or cols selects everything, in order.
	Read(ctx context.Context, rows, cols []int) (*mat.Dense, error)
}

// SNPs returns all of the SNPs in c, in order.
func SNPs(c Collection) []SNP {
	snps := make([]SNP, c.NumSNP())
	for i := range snps {
		snps[i] = c.SNP(i)
	}
	return snps
}

// ByChrom groups the SNP indices of c by chromosome. It returns the
// chromosomes in ascending order, and, for each, the indices of its
// SNPs in collection order.
func ByChrom(c Collection) (chroms []int, sids map[int][]int) {
	sids = make(map[int][]int)
	for i := 0; i < c.NumSNP(); i++ {
		chrom := c.SNP(i).Chrom
		if _, ok := sids[chrom]; !ok {
			chroms = append(chroms, chrom)
		}
		sids[chrom] = append(sids[chrom], i)
	}
	sort.Ints(chroms)
	return
}

// Split returns the boundaries of n items divided into k contiguous,
// near-equal, nonempty pieces. Piece i spans [bounds[i], bounds[i+1]).
// If k > n, only n pieces are returned.
func Split(n, k int) []int {
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}
	bounds := make([]int, k+1)
	for i := 0; i <= k; i++ {
		bounds[i] = i * n / k
	}
	return bounds
}

// Piecer is implemented by collections that are stored in pieces.
type Piecer interface {
	// NumPieces returns the number of pieces the given chromosome is
	// stored in, or 0 if it is not present.
	NumPieces(chrom int) int
}

func checkIndices(what string, idx []int, n int) error {
	for _, i := range idx {
		if i < 0 || i >= n {
			return errors.E(errors.Invalid, fmt.Sprintf("%s index %d out of range [0, %d)", what, i, n))
		}
	}
	return nil
}

func identity(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
