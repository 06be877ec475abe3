// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package snpset

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigsnp/internal/fingerprint"
	"gonum.org/v1/gonum/mat"
)

// Gen is a deterministic synthetic genotype generator. Each SNP column
// is drawn from its own random stream, seeded from Seed and the
// column's index, and every individual consumes the same number of
// draws. Thus a given (seed, individual, SNP) cell always has the same
// value, whichever rows and columns are read along with it.
type Gen struct {
	Seed   int64
	NIID   int
	NSNP   int
	Chroms int
	// MissingRate is the probability that a genotype is missing.
	MissingRate float64
}

// NewGen returns a generator of niid individuals by nsnp SNPs, spread
// over 22 chromosomes.
func NewGen(seed int64, niid, nsnp int) *Gen {
	return &Gen{Seed: seed, NIID: niid, NSNP: nsnp, Chroms: 22}
}

func (g *Gen) NumIID() int { return g.NIID }
func (g *Gen) NumSNP() int { return g.NSNP }

func (g *Gen) IIDs() []string {
	iids := make([]string, g.NIID)
	for i := range iids {
		iids[i] = fmt.Sprintf("iid_%d", i)
	}
	return iids
}

// SNP implements Collection. Chromosomes are assigned in contiguous,
// near-equal blocks of SNP indices; positions ascend within each.
func (g *Gen) SNP(i int) SNP {
	chroms := g.chroms()
	bounds := Split(g.NSNP, chroms)
	chrom := 1
	for chrom < len(bounds)-1 && i >= bounds[chrom] {
		chrom++
	}
	return SNP{
		ID:    fmt.Sprintf("sid_%d", i),
		Chrom: chrom,
		Pos:   int64(i-bounds[chrom-1]+1) * 1000,
	}
}

func (g *Gen) Fingerprint() string {
	return fingerprint.New().
		String("gen").
		Int(g.Seed).
		Int(int64(g.NIID)).
		Int(int64(g.NSNP)).
		Int(int64(g.chroms())).
		Float(g.MissingRate).
		Sum()
}

// Read implements Collection.
func (g *Gen) Read(ctx context.Context, rows, cols []int) (*mat.Dense, error) {
	if rows == nil {
		rows = identity(g.NIID)
	}
	if cols == nil {
		cols = identity(g.NSNP)
	}
	if err := checkIndices("row", rows, g.NIID); err != nil {
		return nil, err
	}
	if err := checkIndices("column", cols, g.NSNP); err != nil {
		return nil, err
	}
	if len(rows) == 0 || len(cols) == 0 {
		return nil, errors.E(errors.Invalid, "empty selection")
	}
	dst := mat.NewDense(len(rows), len(cols), nil)
	col := make([]float64, g.NIID)
	for j, sid := range cols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g.column(sid, col)
		for i, row := range rows {
			dst.Set(i, j, col[row])
		}
	}
	return dst, nil
}

// column fills col with the genotypes of SNP sid. Each SNP has its own
// allele frequency, in [0.05, 0.5), and each genotype is the sum of
// two Bernoulli draws at that frequency.
func (g *Gen) column(sid int, col []float64) {
	r := rand.New(rand.NewSource(fingerprint.Seed(g.Seed, sid)))
	freq := 0.05 + 0.45*r.Float64()
	for i := range col {
		a, b, m := r.Float64(), r.Float64(), r.Float64()
		if m < g.MissingRate {
			col[i] = math.NaN()
			continue
		}
		col[i] = 0
		if a < freq {
			col[i]++
		}
		if b < freq {
			col[i]++
		}
	}
}

func (g *Gen) chroms() int {
	if g.Chroms <= 0 {
		return 22
	}
	if g.Chroms > g.NSNP && g.NSNP > 0 {
		return g.NSNP
	}
	return g.Chroms
}
