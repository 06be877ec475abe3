// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"github.com/grailbio/base/config"
	"github.com/grailbio/bigmachine"
)

func init() {
	config.Register("bigsnp/runner", func(constr *config.Constructor) {
		var (
			system         bigmachine.System
			procs          int
			machines       int
			maxAttempts    int
			justOneProcess bool
			failFast       bool
		)
		constr.InstanceVar(&system, "system", "", "the bigmachine system used to run tasks; tasks run in-process if empty")
		constr.IntVar(&procs, "procs", 0, "number of tasks run concurrently (per machine); 0 uses the processor count")
		constr.IntVar(&machines, "machines", 1, "number of machines started by bigmachine systems")
		constr.IntVar(&maxAttempts, "max-attempts", defaultOptions.maxAttempts, "number of times a lost task is dispatched before it fails")
		constr.BoolVar(&justOneProcess, "just-one-process", false, "run one task at a time, for debugging")
		constr.BoolVar(&failFast, "fail-fast", true, "abandon remaining tasks after the first failure")
		constr.Doc = "bigsnp/runner configures the runner used to compute association scans"
		constr.New = func() (interface{}, error) {
			var opts []Option
			if procs > 0 {
				opts = append(opts, Procs(procs))
			}
			if machines > 0 {
				opts = append(opts, Machines(machines))
			}
			if maxAttempts > 0 {
				opts = append(opts, MaxAttempts(maxAttempts))
			}
			if justOneProcess {
				opts = append(opts, JustOneProcess)
			}
			if failFast {
				opts = append(opts, FailFast)
			}
			if system != nil {
				return NewBigmachine(system, opts...), nil
			}
			return Local(opts...), nil
		}
	})
}
