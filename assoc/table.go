// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package assoc

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"gonum.org/v1/gonum/mat"
)

// A Table holds per-individual values, such as phenotypes or
// covariates. Missing values are NaN.
type Table struct {
	IIDs  []string
	Names []string
	// Vals is the len(IIDs) x len(Names) value matrix.
	Vals *mat.Dense
}

// NewTable returns a single-column table.
func NewTable(name string, iids []string, vals []float64) *Table {
	return &Table{
		IIDs:  iids,
		Names: []string{name},
		Vals:  mat.NewDense(len(vals), 1, vals),
	}
}

// ReadTable reads a whitespace-separated table of the form
//
//	FID IID v1 v2 ...
//
// from path, which may be a local path or a URL supported by package
// file. A first line beginning with "FID" names the columns. The
// values "NA" and "NaN" denote missing values.
func ReadTable(ctx context.Context, path string) (*Table, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx)
	var (
		t     = new(Table)
		data  []float64
		ncol  = -1
		scan  = bufio.NewScanner(f.Reader(ctx))
		lines int
	)
	scan.Buffer(nil, 1<<24)
	for scan.Scan() {
		lines++
		fields := strings.Fields(scan.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 3 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s:%d: expected at least 3 fields, got %d", path, lines, len(fields)))
		}
		if ncol < 0 {
			ncol = len(fields) - 2
			if fields[0] == "FID" {
				t.Names = fields[2:]
				continue
			}
			for i := 0; i < ncol; i++ {
				t.Names = append(t.Names, fmt.Sprintf("v%d", i+1))
			}
		}
		if len(fields)-2 != ncol {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s:%d: expected %d values, got %d", path, lines, ncol, len(fields)-2))
		}
		t.IIDs = append(t.IIDs, fields[1])
		for _, field := range fields[2:] {
			v, err := parseValue(field)
			if err != nil {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("%s:%d", path, lines), err)
			}
			data = append(data, v)
		}
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	if len(t.IIDs) == 0 {
		return nil, errors.E(errors.Invalid, path, "empty table")
	}
	t.Vals = mat.NewDense(len(t.IIDs), ncol, data)
	return t, nil
}

func parseValue(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "na", "nan":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// index returns a map from IID to row.
func (t *Table) index() map[string]int {
	m := make(map[string]int, len(t.IIDs))
	for i, iid := range t.IIDs {
		m[iid] = i
	}
	return m
}
