// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigsnp

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigsnp/assoc"
)

// merge concatenates the results of the scan's units that did not
// fail, in unit order, and sorts them. It checks that the merged
// result has exactly one row for each SNP of the merged units.
func (s *scan) merge() ([]assoc.Row, error) {
	var (
		rows   []assoc.Row
		want   int
		failed bool
	)
	for i, u := range s.units {
		if s.states[i] == Failed {
			failed = true
			continue
		}
		want += len(u.SIDs)
		rows = append(rows, s.parts[i]...)
	}
	if !failed && want != s.job.Snps.NumSNP() {
		return nil, mergeError("units cover %d SNPs of %d", want, s.job.Snps.NumSNP())
	}
	if len(rows) != want {
		return nil, mergeError("merged %d rows for %d SNPs", len(rows), want)
	}
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if seen[row.SNP] {
			return nil, mergeError("duplicate SNP %s", row.SNP)
		}
		seen[row.SNP] = true
	}
	if s.opts.ranked {
		sort.SliceStable(rows, func(i, j int) bool { return ranked(rows[i], rows[j]) })
	} else {
		sort.SliceStable(rows, func(i, j int) bool { return positional(rows[i], rows[j]) })
	}
	for i := range s.units {
		if s.states[i] != Failed {
			s.set(i, Merged)
		}
	}
	return rows, nil
}

func mergeError(format string, args ...interface{}) error {
	return &Error{Stage: StageMerge, Err: errors.E(errors.Precondition, fmt.Sprintf(format, args...))}
}

// positional orders rows by chromosome, then position, then SNP ID.
func positional(a, b assoc.Row) bool {
	if a.Chrom != b.Chrom {
		return a.Chrom < b.Chrom
	}
	if a.Pos != b.Pos {
		return a.Pos < b.Pos
	}
	return a.SNP < b.SNP
}

// ranked orders rows by ascending p-value, with undefined p-values
// last, and then positionally.
func ranked(a, b assoc.Row) bool {
	an, bn := math.IsNaN(a.PValue), math.IsNaN(b.PValue)
	switch {
	case an && bn:
	case an:
		return false
	case bn:
		return true
	case a.PValue != b.PValue:
		return a.PValue < b.PValue
	}
	return positional(a, b)
}
