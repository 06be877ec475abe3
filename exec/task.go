// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigsnp/assoc"
	"github.com/grailbio/bigsnp/partition"
	"github.com/grailbio/bigsnp/snpset"
)

// ErrTaskLost indicates that a Task was in TaskLost state.
var ErrTaskLost = errors.E(errors.Unavailable, "task was lost")

// TaskState represents the runtime state of a Task. TaskState
// values are defined so that their magnitudes correspond with
// task progression.
type TaskState int

const (
	// TaskInit is the initial state of a task. Tasks in state TaskInit
	// have usually not yet been seen by a runner.
	TaskInit TaskState = iota

	// TaskWaiting indicates that a task has been submitted to a
	// runner but has not yet been allocated resources.
	TaskWaiting
	// TaskRunning is the state of a task that's currently being run.
	TaskRunning

	// TaskOk indicates that a task has successfully completed.
	//
	// All TaskState values greater than TaskOk indicate task
	// errors.
	TaskOk

	// TaskErr indicates that the task experienced a failure while
	// running.
	TaskErr
	// TaskLost indicates that the task was lost, usually because
	// the machine to which the task was assigned failed. Lost tasks
	// are resubmitted.
	TaskLost

	maxState
)

var states = [...]string{
	TaskInit:    "INIT",
	TaskWaiting: "WAITING",
	TaskRunning: "RUNNING",
	TaskOk:      "OK",
	TaskErr:     "ERROR",
	TaskLost:    "LOST",
}

// String returns the task's state as an upper-case string.
func (s TaskState) String() string {
	return states[s]
}

// A Task computes the association statistics of one unit of work
// within a job. Tasks also maintain runner state: a task embeds a
// mutex, and waiters are notified of state changes.
type Task struct {
	// Unit is the unit of work computed by the task.
	partition.Unit
	// Job is the job to which the task belongs.
	Job *Job

	// Status is a status object to which task status is reported. It
	// may be nil.
	Status *status.Task

	mu    sync.Mutex
	waitc chan struct{}
	// state is the task's state, protected by mu.
	state TaskState
	// err is defined when state == TaskErr.
	err error
	// attempts is the number of times this task has been dispatched.
	attempts int
}

// NewTasks returns a task for each of the provided units of job.
func NewTasks(job *Job, units []partition.Unit) []*Task {
	tasks := make([]*Task, len(units))
	for i := range units {
		tasks[i] = &Task{Unit: units[i], Job: job}
	}
	return tasks
}

// String returns a short, human-readable string describing the
// task's state.
func (t *Task) String() string {
	// We read state and err without holding the task's mutex so that
	// String is safe to call while the lock is held.
	var b bytes.Buffer
	fmt.Fprintf(&b, "task %s %s", t.Key, t.state)
	if t.err != nil {
		fmt.Fprintf(&b, ": %v", t.err)
	}
	return b.String()
}

// Set sets the task's state to the provided state and notifies
// any waiters.
func (t *Task) Set(state TaskState) {
	t.mu.Lock()
	t.state = state
	t.printf("%s", state)
	t.broadcast()
	t.mu.Unlock()
}

// Error sets the task's state to TaskErr and its error to the
// provided error. Waiters are notified.
func (t *Task) Error(err error) {
	t.mu.Lock()
	t.state = TaskErr
	t.err = err
	t.printf("%v", err)
	t.broadcast()
	t.mu.Unlock()
}

// Err returns an error if the task's state is >= TaskErr.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case TaskErr:
		if t.err == nil {
			panic("TaskErr without an err")
		}
		return t.err
	case TaskLost:
		return ErrTaskLost
	}
	return nil
}

// State returns the task's current state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	return state
}

// WaitState returns when the task's state is at least the provided
// state, or else when the context is done.
func (t *Task) WaitState(ctx context.Context, state TaskState) (TaskState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	for t.state < state && err == nil {
		if t.waitc == nil {
			t.waitc = make(chan struct{})
		}
		waitc := t.waitc
		t.mu.Unlock()
		select {
		case <-waitc:
		case <-ctx.Done():
			err = ctx.Err()
		}
		t.mu.Lock()
	}
	return t.state, err
}

// attempt records a dispatch of the task and returns the number of
// dispatches so far.
func (t *Task) attempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	return t.attempts
}

// numAttempts returns the number of times the task has been
// dispatched.
func (t *Task) numAttempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// broadcast notifies waiters of a state change. It must be called
// with the task's lock held.
func (t *Task) broadcast() {
	if t.waitc != nil {
		close(t.waitc)
		t.waitc = nil
	}
}

func (t *Task) printf(format string, args ...interface{}) {
	if t.Status != nil {
		t.Status.Printf(format, args...)
	}
}

// Do computes the task's unit: it reads the unit's genotype block and
// applies the job's test to it. The returned rows cover exactly the
// unit's SNPs, in unit order. Do is a pure function of the task's
// unit and job. Failures are marked errors.Fatal: retrying them
// elsewhere would fail in the same way.
func (t *Task) Do(ctx context.Context) ([]assoc.Row, error) {
	rows, err := t.do(ctx)
	if err != nil && ctx.Err() == nil {
		err = errors.E(errors.Fatal, fmt.Sprintf("unit %s", t.Key), err)
	}
	return rows, err
}

func (t *Task) do(ctx context.Context) ([]assoc.Row, error) {
	test, err := assoc.Lookup(t.Job.Test)
	if err != nil {
		return nil, err
	}
	snps := make([]snpset.SNP, len(t.SIDs))
	for i, sid := range t.SIDs {
		snps[i] = t.Job.Snps.SNP(sid)
	}
	g, err := t.Job.Snps.Read(ctx, t.Job.Context.Rows, t.SIDs)
	if err != nil {
		return nil, err
	}
	rows, err := test.Test(ctx, g, snps, t.Job.Context)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(snps) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("test %s returned %d rows for %d SNPs", t.Job.Test, len(rows), len(snps)))
	}
	for i := range rows {
		if rows[i].SNP != snps[i].ID {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("test %s returned SNP %s at row %d, expected %s", t.Job.Test, rows[i].SNP, i, snps[i].ID))
		}
	}
	return rows, nil
}
