// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package snpset

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigsnp/internal/fingerprint"
	"gonum.org/v1/gonum/mat"
)

// Subset is a view of a subset of its parent's SNPs, in the order
// given by SIDs.
type Subset struct {
	Parent Collection
	SIDs   []int
	// FP is the subset's fingerprint. It is empty when the subset
	// holds whole chromosomes of its parent, whose fingerprint it
	// then shares.
	FP string
}

// NewSubset returns the view of c restricted to the given SNP indices.
// Each index may appear at most once.
func NewSubset(c Collection, sids []int) (*Subset, error) {
	if err := checkIndices("SNP", sids, c.NumSNP()); err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(sids))
	for _, sid := range sids {
		if seen[sid] {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("SNP index %d repeated in subset", sid))
		}
		seen[sid] = true
	}
	h := fingerprint.New().String("subset").String(c.Fingerprint())
	for _, sid := range sids {
		h.Int(int64(sid))
	}
	return &Subset{Parent: c, SIDs: sids, FP: h.Sum()}, nil
}

// FilterChrom returns the view of c restricted to SNPs on the given
// chromosomes.
func FilterChrom(c Collection, chroms ...int) *Subset {
	want := make(map[int]bool)
	for _, chrom := range chroms {
		want[chrom] = true
	}
	var sids []int
	for i := 0; i < c.NumSNP(); i++ {
		if want[c.SNP(i).Chrom] {
			sids = append(sids, i)
		}
	}
	return &Subset{Parent: c, SIDs: sids}
}

func (s *Subset) NumIID() int    { return s.Parent.NumIID() }
func (s *Subset) IIDs() []string { return s.Parent.IIDs() }
func (s *Subset) NumSNP() int    { return len(s.SIDs) }
func (s *Subset) SNP(i int) SNP  { return s.Parent.SNP(s.SIDs[i]) }

// Fingerprint implements Collection. Chromosome filters share their
// parent's fingerprint, so their units reuse the parent's cache
// entries.
func (s *Subset) Fingerprint() string {
	if s.FP != "" {
		return s.FP
	}
	return s.Parent.Fingerprint()
}

// NumPieces forwards to the parent, if it is stored in pieces.
func (s *Subset) NumPieces(chrom int) int {
	if p, ok := s.Parent.(Piecer); ok {
		return p.NumPieces(chrom)
	}
	return 0
}

// Read implements Collection.
func (s *Subset) Read(ctx context.Context, rows, cols []int) (*mat.Dense, error) {
	if cols == nil {
		cols = identity(len(s.SIDs))
	}
	if err := checkIndices("column", cols, len(s.SIDs)); err != nil {
		return nil, err
	}
	pcols := make([]int, len(cols))
	for i, col := range cols {
		pcols[i] = s.SIDs[col]
	}
	return s.Parent.Read(ctx, rows, pcols)
}
