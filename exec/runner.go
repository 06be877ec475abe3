// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec implements runners: execution backends that compute the
// tasks of an association scan. A runner accepts a set of independent
// tasks and returns exactly one outcome for each, either the task's
// rows or an error. Outcomes are correlated with tasks by unit key.
//
// Runners range from synchronous execution in the calling goroutine
// (Sync), to a pool of goroutines (Local), to pools of worker
// processes on one or more machines managed by bigmachine
// (Bigmachine).
//
// Errors returned in outcomes are classified: failures of the test
// computation itself have severity errors.Fatal; failures to dispatch
// a task (lost machines, exhausted retries) are of kind
// errors.Unavailable; tasks abandoned after a sibling failed under
// FailFast are of kind errors.Canceled.
package exec

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigsnp/cache"
)

// A Runner runs tasks.
type Runner interface {
	// Run runs the provided tasks, returning one outcome for each.
	// Run does not return until every task has an outcome.
	Run(ctx context.Context, tasks []*Task) []Outcome
}

// Option is an option applied to runners.
type Option func(o *options)

type options struct {
	procs          int
	justOneProcess bool
	failFast       bool
	machines       int
	maxAttempts    int
	handoff        cache.Store
}

var defaultOptions = options{
	maxAttempts: 3,
	machines:    1,
}

// Procs returns an option that sets the number of tasks that are run
// concurrently. For Bigmachine runners, it is the number per machine,
// and defaults to the machine's processor count.
func Procs(p int) Option {
	if p <= 0 {
		panic("exec.Procs: p <= 0")
	}
	return func(o *options) {
		o.procs = p
	}
}

// JustOneProcess is an option that runs tasks one at a time, on one
// machine, regardless of other options. It is useful for debugging.
func JustOneProcess(o *options) {
	o.justOneProcess = true
}

// FailFast is an option that abandons the remaining tasks of a run
// after the first task fails. Abandoned tasks yield errors of kind
// errors.Canceled.
func FailFast(o *options) {
	o.failFast = true
}

// Machines returns an option that sets the number of machines started
// by a Bigmachine runner.
func Machines(n int) Option {
	if n <= 0 {
		panic("exec.Machines: n <= 0")
	}
	return func(o *options) {
		o.machines = n
	}
}

// MaxAttempts returns an option that sets the number of times a
// Bigmachine runner dispatches a task that is lost before giving up on
// it.
func MaxAttempts(n int) Option {
	if n <= 0 {
		panic("exec.MaxAttempts: n <= 0")
	}
	return func(o *options) {
		o.maxAttempts = n
	}
}

// Handoff returns an option that makes Bigmachine workers deposit
// results in the provided shared store, from which the driver then
// reads and removes them, instead of returning them over RPC. The
// store must be reachable from every worker: a File store on shared
// storage, an Object store, or a Peer store. Results are handed off
// under the "handoff" namespace, so the store may also be the scan's
// cache.
func Handoff(store cache.Store) Option {
	return func(o *options) {
		o.handoff = store
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.justOneProcess {
		o.procs = 1
		o.machines = 1
	}
	return o
}

type syncRunner struct {
	failFast bool
}

// Sync returns a runner that runs tasks one at a time, in order, in
// the calling goroutine. Only FailFast is meaningful to Sync.
func Sync(opts ...Option) Runner {
	o := applyOptions(opts)
	return syncRunner{failFast: o.failFast}
}

func (s syncRunner) Run(ctx context.Context, tasks []*Task) []Outcome {
	outcomes := make([]Outcome, len(tasks))
	var failed bool
	for i, task := range tasks {
		if failed {
			outcomes[i] = abandoned(task)
			continue
		}
		outcomes[i] = runTask(ctx, task)
		failed = s.failFast && outcomes[i].Err != nil
	}
	return outcomes
}

// runTask runs task in the current goroutine, recovering any panic as
// a fatal error.
func runTask(ctx context.Context, task *Task) (outcome Outcome) {
	if ctx.Err() != nil {
		return abandoned(task)
	}
	outcome.Key = task.Key
	task.Set(TaskRunning)
	defer func() {
		if e := recover(); e != nil {
			err := errors.E(errors.Fatal, fmt.Sprintf("panic while computing unit %s: %v", task.Key, e))
			log.Error.Print(err)
			outcome.Rows = nil
			outcome.Err = err
			task.Error(err)
		}
	}()
	outcome.Rows, outcome.Err = task.Do(ctx)
	if outcome.Err != nil && ctx.Err() != nil {
		outcome.Err = errors.E(errors.Canceled, fmt.Sprintf("unit %s", task.Key), outcome.Err)
	}
	if outcome.Err != nil {
		task.Error(outcome.Err)
	} else {
		task.Set(TaskOk)
	}
	return
}

func abandoned(task *Task) Outcome {
	err := errors.E(errors.Canceled, fmt.Sprintf("unit %s abandoned", task.Key))
	task.Error(err)
	return Outcome{Key: task.Key, Err: err}
}
