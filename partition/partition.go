// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package partition splits a test-SNP collection into units of work:
// disjoint, independently computable blocks of SNPs, each addressed by
// a stable cache key.
package partition

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigsnp/internal/fingerprint"
	"github.com/grailbio/bigsnp/snpset"
)

// Granularity controls how finely a collection is partitioned.
type Granularity struct {
	// PiecesPerChrom is the maximum number of units per chromosome. If
	// zero, collections stored in pieces are split along their pieces,
	// and other collections yield one unit per chromosome.
	PiecesPerChrom int
}

// A Unit is one unit of work: a contiguous block of the SNPs on a
// single chromosome.
type Unit struct {
	// Chrom is the unit's chromosome. Piece is the unit's index among
	// the NumPiece units of that chromosome.
	Chrom, Piece, NumPiece int
	// SIDs are the collection indices of the unit's SNPs, in
	// collection order.
	SIDs []int
	// Key is the unit's cache key. Two units with the same key produce
	// the same results.
	Key string
}

func (u Unit) String() string {
	return u.Key
}

// Partition splits the collection c into units. Units are ordered by
// ascending chromosome and then by piece. A chromosome with no SNPs
// yields no units; no unit is empty. SNP IDs must be unique within
// the collection. Each unit's key is derived from
// the job fingerprint (which must identify every input that affects
// the computed results other than the SNPs themselves), the
// chromosome, the piece boundaries, and the IDs of the unit's SNPs.
// Partition is deterministic.
func Partition(c snpset.Collection, g Granularity, job string) ([]Unit, error) {
	if c.NumSNP() == 0 {
		return nil, errors.E(errors.Invalid, "partition: empty collection")
	}
	if g.PiecesPerChrom < 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("partition: invalid piece count %d", g.PiecesPerChrom))
	}
	ids := make(map[string]int, c.NumSNP())
	for i := 0; i < c.NumSNP(); i++ {
		id := c.SNP(i).ID
		if j, ok := ids[id]; ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("partition: SNPs %d and %d share the ID %s", j, i, id))
		}
		ids[id] = i
	}
	piecer, _ := c.(snpset.Piecer)
	chroms, byChrom := snpset.ByChrom(c)
	var units []Unit
	for _, chrom := range chroms {
		if chrom < 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("partition: invalid chromosome %d", chrom))
		}
		sids := byChrom[chrom]
		n := g.PiecesPerChrom
		if n == 0 && piecer != nil {
			n = piecer.NumPieces(chrom)
		}
		if n == 0 {
			n = 1
		}
		bounds := snpset.Split(len(sids), n)
		n = len(bounds) - 1
		for i := 0; i < n; i++ {
			u := Unit{
				Chrom:    chrom,
				Piece:    i,
				NumPiece: n,
				SIDs:     sids[bounds[i]:bounds[i+1]],
			}
			u.Key = key(c, u, job)
			units = append(units, u)
		}
	}
	return units, nil
}

func key(c snpset.Collection, u Unit, job string) string {
	h := fingerprint.New().String(job).Int(int64(u.Chrom))
	for _, sid := range u.SIDs {
		h.String(c.SNP(sid).ID)
	}
	return fmt.Sprintf("chr%02d/%03d-of-%03d-%s", u.Chrom, u.Piece, u.NumPiece, h.Sum())
}

var keyPattern = regexp.MustCompile(`(?:^|/)chr([0-9]+)/[0-9]+-of-[0-9]+-[0-9a-f]+$`)

// ChromOf returns the chromosome of the unit with the given key. The
// key may be qualified by a namespace prefix.
func ChromOf(key string) (int, bool) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return 0, false
	}
	chrom, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return chrom, true
}
