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

// Mem is an in-memory collection. Its fields are exported so that it
// may be serialized; use NewMem to construct one.
type Mem struct {
	IIDList []string
	SNPList []SNP
	// Vals is the NumIID x NumSNP genotype matrix.
	Vals *mat.Dense
	// FP is the collection's fingerprint.
	FP string
}

// NewMem returns a new in-memory collection with the provided
// individuals, SNPs and genotype matrix. The collection's fingerprint
// is computed from its contents.
func NewMem(iids []string, snps []SNP, vals *mat.Dense) (*Mem, error) {
	m := &Mem{IIDList: iids, SNPList: snps, Vals: vals}
	if err := m.validate(); err != nil {
		return nil, err
	}
	h := fingerprint.New().String("mem").Strings(iids)
	for _, snp := range snps {
		h.String(snp.ID).Int(int64(snp.Chrom)).Int(snp.Pos)
	}
	_, c := vals.Dims()
	for j := 0; j < c; j++ {
		h.Floats(mat.Col(nil, j, vals))
	}
	m.FP = h.Sum()
	return m, nil
}

func (m *Mem) validate() error {
	r, c := m.Vals.Dims()
	if r != len(m.IIDList) || c != len(m.SNPList) {
		return errors.E(errors.Invalid, fmt.Sprintf("genotype matrix is %dx%d; want %dx%d", r, c, len(m.IIDList), len(m.SNPList)))
	}
	seen := make(map[string]bool, len(m.SNPList))
	for _, snp := range m.SNPList {
		if seen[snp.ID] {
			return errors.E(errors.Invalid, "duplicate SNP ID ", snp.ID)
		}
		seen[snp.ID] = true
	}
	return nil
}

func (m *Mem) NumIID() int         { return len(m.IIDList) }
func (m *Mem) IIDs() []string      { return m.IIDList }
func (m *Mem) NumSNP() int         { return len(m.SNPList) }
func (m *Mem) SNP(i int) SNP       { return m.SNPList[i] }
func (m *Mem) Fingerprint() string { return m.FP }

// Read implements Collection.
func (m *Mem) Read(ctx context.Context, rows, cols []int) (*mat.Dense, error) {
	return selectDense(m.Vals, rows, cols)
}

// selectDense copies the selected rows and columns of src into a new
// matrix.
func selectDense(src *mat.Dense, rows, cols []int) (*mat.Dense, error) {
	r, c := src.Dims()
	if rows == nil {
		rows = identity(r)
	}
	if cols == nil {
		cols = identity(c)
	}
	if err := checkIndices("row", rows, r); err != nil {
		return nil, err
	}
	if err := checkIndices("column", cols, c); err != nil {
		return nil, err
	}
	if len(rows) == 0 || len(cols) == 0 {
		return nil, errors.E(errors.Invalid, "empty selection")
	}
	dst := mat.NewDense(len(rows), len(cols), nil)
	for i, row := range rows {
		for j, col := range cols {
			dst.Set(i, j, src.At(row, col))
		}
	}
	return dst, nil
}
