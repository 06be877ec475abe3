// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigsnp

import (
	"bytes"
	"fmt"

	"github.com/grailbio/base/errors"
)

// Stage is the stage of a scan at which an error occurred.
type Stage int

const (
	// StagePartition is the preparation of a scan: validating its
	// inputs and partitioning its test collection.
	StagePartition Stage = iota
	// StageCache is the reading of cached results. Only corrupt
	// entries fail a unit; other cache errors are treated as misses.
	StageCache
	// StageCompute is the computation of a unit's test.
	StageCompute
	// StageDispatch is the scheduling of a unit on a runner.
	StageDispatch
	// StageMerge is the merging of unit results into a scan result.
	StageMerge
)

var stages = [...]string{
	StagePartition: "partition",
	StageCache:     "cache",
	StageCompute:   "compute",
	StageDispatch:  "dispatch",
	StageMerge:     "merge",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stages) {
		return fmt.Sprintf("stage(%d)", s)
	}
	return stages[s]
}

// Error is the error returned by failed scans. It identifies the stage
// and, where applicable, the unit at which the scan failed.
type Error struct {
	Stage Stage
	// Unit is the key of the failed unit, if any.
	Unit string
	// Chrom is the chromosome of the failed unit, if any.
	Chrom int
	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "bigsnp %s", e.Stage)
	if e.Unit != "" {
		fmt.Fprintf(&b, " (chromosome %d, unit %s)", e.Chrom, e.Unit)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

var fatal = errors.E(errors.Fatal)

// outcomeStage classifies a runner error.
func outcomeStage(err error) Stage {
	switch {
	case errors.Is(errors.Canceled, err):
		return StageDispatch
	case errors.Match(fatal, err):
		return StageCompute
	default:
		return StageDispatch
	}
}
