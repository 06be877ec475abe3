// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"runtime"

	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
)

// localRunner runs tasks in-process in separate goroutines, bounded
// by a limiter.
type localRunner struct {
	procs    int
	failFast bool
}

// Local returns a runner that runs tasks concurrently in the current
// process. Procs sets the number of concurrent tasks, which defaults
// to GOMAXPROCS; JustOneProcess runs one at a time.
func Local(opts ...Option) Runner {
	o := applyOptions(opts)
	if o.procs == 0 {
		o.procs = runtime.GOMAXPROCS(0)
	}
	return &localRunner{procs: o.procs, failFast: o.failFast}
}

func (l *localRunner) Run(ctx context.Context, tasks []*Task) []Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lim := limiter.New()
	lim.Release(l.procs)
	outcomes := make([]Outcome, len(tasks))
	done := make(chan int)
	for i := range tasks {
		tasks[i].Set(TaskWaiting)
		go func(i int) {
			task := tasks[i]
			if err := lim.Acquire(ctx, 1); err != nil {
				// The only errors we should encounter here are context
				// errors: the run was abandoned or cancelled.
				if err != context.Canceled && err != context.DeadlineExceeded {
					log.Panicf("exec.Local: unexpected error: %v", err)
				}
				outcomes[i] = abandoned(task)
				done <- i
				return
			}
			defer lim.Release(1)
			outcomes[i] = runTask(ctx, task)
			done <- i
		}(i)
	}
	for range tasks {
		i := <-done
		if outcomes[i].Err != nil && l.failFast {
			cancel()
		}
	}
	return outcomes
}
