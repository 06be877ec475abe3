// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package assoc

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigsnp/snpset"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

func init() {
	Register(Linear{})
}

// Linear is the ordinary least squares test, registered as "linear".
// Each SNP is regressed jointly with the context's covariates, and
// its effect tested with a two-sided t test. Missing genotypes are
// imputed to the SNP's mean. A SNP that does not vary once the
// covariates are accounted for has Beta 0 and PValue 1.
type Linear struct{}

// Name implements Test.
func (Linear) Name() string { return "linear" }

// Test implements Test.
func (Linear) Test(ctx context.Context, g *mat.Dense, snps []snpset.SNP, c *Context) ([]Row, error) {
	n, m := g.Dims()
	if n != c.NumIID() || m != len(snps) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("linear: genotype block is %dx%d; want %dx%d", n, m, c.NumIID(), len(snps)))
	}
	_, k := c.Design.Dims()
	df := float64(n - k - 1)
	if df < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("linear: %d individuals is too few for %d covariates", n, k))
	}
	r, err := newResidualizer(c.Design)
	if err != nil {
		return nil, err
	}
	y := mat.NewVecDense(n, append([]float64(nil), c.Pheno...))
	r.apply(y)
	yy := mat.Dot(y, y)
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	rows := make([]Row, m)
	col := make([]float64, n)
	for j, snp := range snps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := Row{SNP: snp.ID, Chrom: snp.Chrom, Pos: snp.Pos, PValue: 1}
		mat.Col(col, j, g)
		for _, v := range col {
			if !math.IsNaN(v) {
				row.NumIID++
			}
		}
		meanImpute(col)
		x := mat.NewVecDense(n, col)
		r.apply(x)
		xx := mat.Dot(x, x)
		if xx > 1e-8*float64(n) {
			xy := mat.Dot(x, y)
			row.Beta = xy / xx
			rss := math.Max(yy-row.Beta*xy, 0)
			se := math.Sqrt(rss / df / xx)
			switch {
			case se > 0:
				row.Stat = row.Beta / se
				row.PValue = 2 * t.CDF(-math.Abs(row.Stat))
			case row.Beta != 0:
				row.Stat = math.Copysign(math.Inf(1), row.Beta)
				row.PValue = 0
			}
		}
		rows[j] = row
	}
	return rows, nil
}

// A residualizer projects vectors onto the orthogonal complement of the
// column space of a design matrix X: v - X(XᵀX)⁻¹Xᵀv.
type residualizer struct {
	x, p *mat.Dense
	tmp  *mat.VecDense
}

func newResidualizer(x *mat.Dense) (*residualizer, error) {
	n, k := x.Dims()
	var xtx, inv mat.Dense
	xtx.Mul(x.T(), x)
	if err := inv.Inverse(&xtx); err != nil {
		return nil, errors.E(errors.Invalid, "linear: singular covariates", err)
	}
	p := mat.NewDense(n, k, nil)
	p.Mul(x, &inv)
	return &residualizer{x: x, p: p, tmp: mat.NewVecDense(k, nil)}, nil
}

func (r *residualizer) apply(v *mat.VecDense) {
	r.tmp.MulVec(r.x.T(), v)
	var proj mat.VecDense
	proj.MulVec(r.p, r.tmp)
	v.SubVec(v, &proj)
}

func meanImpute(v []float64) {
	var (
		sum float64
		n   int
	)
	for _, x := range v {
		if !math.IsNaN(x) {
			sum += x
			n++
		}
	}
	mean := 0.0
	if n > 0 {
		mean = sum / float64(n)
	}
	for i, x := range v {
		if math.IsNaN(x) {
			v[i] = mean
		}
	}
}
