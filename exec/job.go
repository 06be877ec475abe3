// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"encoding/gob"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigsnp/assoc"
	"github.com/grailbio/bigsnp/internal/fingerprint"
	"github.com/grailbio/bigsnp/snpset"
)

func init() {
	gob.Register(&Job{})
}

// A Job is the state shared by every task of a scan: the test
// collection, the test context, and the name of the test to apply.
// Jobs are immutable, and are shipped to remote workers once per
// machine.
type Job struct {
	Snps    snpset.Collection
	Context *assoc.Context
	// Test names a registered assoc.Test.
	Test string
	// FP is the job's fingerprint.
	FP string
}

// NewJob returns a new job. The job's fingerprint identifies the
// genotype source, the context and the test: every input that affects
// computed results other than the tested SNPs themselves.
func NewJob(snps snpset.Collection, ctx *assoc.Context, test string) (*Job, error) {
	if _, err := assoc.Lookup(test); err != nil {
		return nil, err
	}
	if ctx == nil {
		return nil, errors.E(errors.Invalid, "job has no context")
	}
	fp := fingerprint.New().
		String("job").
		String(snps.Fingerprint()).
		String(ctx.Fingerprint()).
		String(test).
		Sum()
	return &Job{Snps: snps, Context: ctx, Test: test, FP: fp}, nil
}

// Fingerprint returns the job's fingerprint.
func (j *Job) Fingerprint() string { return j.FP }

// An Outcome is the result of running a task: either the rows computed
// for the task's unit or an error.
type Outcome struct {
	// Key is the key of the task's unit.
	Key  string
	Rows []assoc.Row
	Err  error
}
