// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package assoc

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigsnp/internal/fingerprint"
	"github.com/grailbio/bigsnp/snpset"
	"gonum.org/v1/gonum/mat"
)

// Config configures an association test.
type Config struct {
	// NumPC is the number of principal components of the kinship
	// kernel to include as covariates.
	NumPC int
}

// A Kernel is a kinship matrix over a set of individuals.
type Kernel struct {
	IIDs []string
	K    *mat.SymDense
}

// Kinship computes the realized relationship kernel of the reference
// genotypes g0: ZZᵀ/m, where Z holds the m standardized SNP columns of
// g0 that vary. Missing genotypes are imputed to the column mean.
func Kinship(ctx context.Context, g0 snpset.Collection) (*Kernel, error) {
	g, err := g0.Read(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	n, m := g.Dims()
	z := mat.NewDense(n, m, nil)
	col := make([]float64, n)
	var used int
	for j := 0; j < m; j++ {
		mat.Col(col, j, g)
		if _, sd := impute(col); sd > 0 {
			z.SetCol(used, col)
			used++
		}
	}
	if used == 0 {
		return nil, errors.E(errors.Invalid, "kinship: no variable SNPs in reference genotypes")
	}
	k := mat.NewSymDense(n, nil)
	k.SymOuterK(1/float64(used), z.Slice(0, n, 0, used))
	log.Debug.Printf("kinship: %d individuals, %d of %d SNPs used", n, used, m)
	return &Kernel{IIDs: g0.IIDs(), K: k}, nil
}

// impute replaces missing values in v by the mean of the others and
// standardizes v to zero mean and unit variance. It returns the mean
// and standard deviation before standardization. If v has no variance,
// it is left imputed but unscaled and sd is 0.
func impute(v []float64) (mean, sd float64) {
	var n int
	for _, x := range v {
		if !math.IsNaN(x) {
			mean += x
			n++
		}
	}
	if n == 0 {
		for i := range v {
			v[i] = 0
		}
		return 0, 0
	}
	mean /= float64(n)
	var ss float64
	for i, x := range v {
		if math.IsNaN(x) {
			v[i] = mean
		}
		d := v[i] - mean
		ss += d * d
	}
	sd = math.Sqrt(ss / float64(len(v)))
	if sd < 1e-12 {
		return mean, 0
	}
	for i := range v {
		v[i] = (v[i] - mean) / sd
	}
	return mean, sd
}

// Context is the state shared by every unit of a scan: the phenotype
// and covariates aligned to the individuals of the test collection.
// It is immutable once constructed and is broadcast to every worker.
type Context struct {
	// IIDs are the individuals included in the test, and Rows their
	// rows in the test collection.
	IIDs []string
	Rows []int
	// Pheno is the phenotype of each included individual.
	Pheno []float64
	// Design is the covariate matrix: an intercept, the provided
	// covariates, and any kinship principal components.
	Design *mat.Dense
	Config Config
	// FP is the context's fingerprint.
	FP string
}

// NewContext aligns the phenotype, the optional covariates and the
// optional kinship kernel to the individuals iids of a test
// collection. Individuals missing from any input, or with a missing
// phenotype or covariate, are excluded. Only the first phenotype
// column is tested.
func NewContext(iids []string, pheno, covar *Table, k0 *Kernel, cfg Config) (*Context, error) {
	if pheno == nil || len(pheno.Names) == 0 {
		return nil, errors.E(errors.Invalid, "no phenotype")
	}
	if cfg.NumPC < 0 || (cfg.NumPC > 0 && k0 == nil) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%d principal components requested without a kinship kernel", cfg.NumPC))
	}
	var (
		phenoIndex = pheno.index()
		covarIndex map[string]int
		k0Index    map[string]int
		ncovar     int
	)
	if covar != nil {
		covarIndex = covar.index()
		ncovar = len(covar.Names)
	}
	if k0 != nil {
		k0Index = make(map[string]int, len(k0.IIDs))
		for i, iid := range k0.IIDs {
			k0Index[iid] = i
		}
	}
	c := &Context{Config: cfg}
	var (
		covarVals []float64
		k0Rows    []int
	)
outer:
	for row, iid := range iids {
		p, ok := phenoIndex[iid]
		if !ok || math.IsNaN(pheno.Vals.At(p, 0)) {
			continue
		}
		var cv []float64
		if covar != nil {
			i, ok := covarIndex[iid]
			if !ok {
				continue
			}
			cv = mat.Row(nil, i, covar.Vals)
			for _, v := range cv {
				if math.IsNaN(v) {
					continue outer
				}
			}
		}
		if k0 != nil {
			i, ok := k0Index[iid]
			if !ok {
				continue
			}
			k0Rows = append(k0Rows, i)
		}
		c.IIDs = append(c.IIDs, iid)
		c.Rows = append(c.Rows, row)
		c.Pheno = append(c.Pheno, pheno.Vals.At(p, 0))
		covarVals = append(covarVals, cv...)
	}
	n := len(c.Rows)
	if n == 0 {
		return nil, errors.E(errors.Invalid, "no individuals with complete phenotype and covariates")
	}
	k := 1 + ncovar + cfg.NumPC
	if n <= k+1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%d individuals is too few for %d covariates", n, k))
	}
	c.Design = mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		c.Design.Set(i, 0, 1)
		for j := 0; j < ncovar; j++ {
			c.Design.Set(i, 1+j, covarVals[i*ncovar+j])
		}
	}
	if cfg.NumPC > 0 {
		pcs, err := topEigenvectors(k0.K, k0Rows, cfg.NumPC)
		if err != nil {
			return nil, err
		}
		c.Design.Slice(0, n, 1+ncovar, k).(*mat.Dense).Copy(pcs)
	}
	h := fingerprint.New().
		String("context").
		Strings(c.IIDs).
		Floats(c.Pheno).
		Int(int64(cfg.NumPC))
	for j := 0; j < k; j++ {
		h.Floats(mat.Col(nil, j, c.Design))
	}
	c.FP = h.Sum()
	log.Debug.Printf("assoc: context of %d individuals (of %d), %d covariates", n, len(iids), k)
	return c, nil
}

// Fingerprint identifies the context's contents.
func (c *Context) Fingerprint() string { return c.FP }

// NumIID returns the number of individuals in the context.
func (c *Context) NumIID() int { return len(c.Rows) }

// topEigenvectors returns the eigenvectors of the largest npc
// eigenvalues of k restricted to rows, as columns.
func topEigenvectors(k *mat.SymDense, rows []int, npc int) (*mat.Dense, error) {
	n := len(rows)
	if npc > n {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%d principal components requested of %d individuals", npc, n))
	}
	sub := mat.NewSymDense(n, nil)
	for i, ri := range rows {
		for j := i; j < n; j++ {
			sub.SetSym(i, j, k.At(ri, rows[j]))
		}
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(sub, true); !ok {
		return nil, errors.E(errors.Invalid, "kinship: eigendecomposition failed")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// Eigenvalues are in ascending order.
	pcs := mat.NewDense(n, npc, nil)
	pcs.Copy(vecs.Slice(0, n, n-npc, n))
	return pcs, nil
}
