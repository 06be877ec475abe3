// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/gob"
	"fmt"
	"path"
	"runtime/debug"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/base/sync/once"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigsnp/assoc"
	"github.com/grailbio/bigsnp/cache"
	"github.com/grailbio/bigsnp/partition"
	"github.com/grailbio/bigsnp/resultio"
)

func init() {
	gob.Register(&worker{})
}

// retryPolicy is the policy used to resubmit lost tasks.
var retryPolicy = retry.Backoff(time.Second, 5*time.Second, 1.5)

// pingTimeout bounds the health check of a machine that lost a task.
const pingTimeout = 10 * time.Second

// fatalErr is used to match fatal errors.
var fatalErr = errors.E(errors.Fatal)

// Bigmachine is a runner that dispatches tasks to worker processes
// managed by bigmachine. With bigmachine.Local, workers are processes
// on the current machine; with a cluster system such as ec2system,
// they are spread over a pool of machines.
//
// Machines pull tasks from a single shared queue, so any machine may
// run any pending task. Each job is loaded once on each machine. Tasks
// lost to machine failures or RPC errors are resubmitted, with
// backoff, up to MaxAttempts times; failures of the computation itself
// are not retried. A machine that stops, or that fails an RPC, is
// retired and replaced, so that the pool is kept at Machines(n).
type Bigmachine struct {
	b    *bigmachine.B
	opts options

	mu       sync.Mutex
	machines []*machine
}

// machine is a started bigmachine machine running a worker.
type machine struct {
	*bigmachine.Machine
	// loads ensures that each job is loaded once on the machine.
	loads once.Map
	// procs is the number of tasks run concurrently on the machine.
	procs int

	mu      sync.Mutex
	retired bool
}

// retire takes m out of service and stops it. It returns true
// for the caller that retired m.
func (m *machine) retire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retired {
		return false
	}
	m.retired = true
	m.Cancel()
	return true
}

// live tells whether m may be given tasks.
func (m *machine) live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.retired && m.State() != bigmachine.Stopped
}

// NewBigmachine returns a runner that runs tasks on the provided
// bigmachine system. NewBigmachine starts bigmachine: in worker
// processes, it does not return, so it must be called
// unconditionally, early in a program's main function. Machines are
// started by the first call to Run.
func NewBigmachine(system bigmachine.System, opts ...Option) *Bigmachine {
	return &Bigmachine{
		b:    bigmachine.Start(system),
		opts: applyOptions(opts),
	}
}

// Shutdown shuts down the runner's machines.
func (b *Bigmachine) Shutdown() {
	b.b.Shutdown()
}

// startMachines starts n machines and waits for them to become
// ready. It returns the machines that started.
func (b *Bigmachine) startMachines(ctx context.Context, n int) ([]*machine, error) {
	ms, err := b.b.Start(ctx, n, bigmachine.Services{
		"Worker": &worker{Handoff: b.opts.handoff},
	})
	if err != nil {
		return nil, errors.E(errors.Unavailable, "error starting machines", err)
	}
	started := make([]*machine, len(ms))
	var wg sync.WaitGroup
	for i := range ms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := ms[i]
			select {
			case <-m.Wait(bigmachine.Running):
			case <-ctx.Done():
				m.Cancel()
				return
			}
			if m.State() != bigmachine.Running {
				log.Printf("machine %s failed to start: %v", m.Addr, m.Err())
				return
			}
			procs := b.opts.procs
			if procs == 0 {
				procs = m.Maxprocs
			}
			if procs <= 0 {
				procs = 1
			}
			log.Printf("machine %v is ready (%d procs)", m.Addr, procs)
			started[i] = &machine{Machine: m, procs: procs}
		}(i)
	}
	wg.Wait()
	var machines []*machine
	for _, m := range started {
		if m != nil {
			machines = append(machines, m)
		}
	}
	if len(machines) == 0 {
		return nil, errors.E(errors.Unavailable, "no machines started")
	}
	return machines, nil
}

// pool drops machines that are no longer live and starts new ones
// until the pool has the configured number of machines. It returns
// a snapshot of the pool.
func (b *Bigmachine) pool(ctx context.Context) ([]*machine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var live []*machine
	for _, m := range b.machines {
		if m.live() {
			live = append(live, m)
		} else {
			log.Printf("machine %s dropped from the pool", m.Addr)
		}
	}
	b.machines = live
	if n := b.opts.machines - len(live); n > 0 {
		started, err := b.startMachines(ctx, n)
		if err != nil && len(live) == 0 {
			return nil, err
		}
		if err != nil {
			log.Error.Printf("continuing with %d machines: %v", len(live), err)
		}
		b.machines = append(b.machines, started...)
	}
	return append([]*machine(nil), b.machines...), nil
}

// replace retires m and starts a machine in its place.
func (b *Bigmachine) replace(ctx context.Context, m *machine) (*machine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.machines {
		if b.machines[i] == m {
			b.machines = append(b.machines[:i:i], b.machines[i+1:]...)
			break
		}
	}
	started, err := b.startMachines(ctx, 1)
	if err != nil {
		return nil, err
	}
	b.machines = append(b.machines, started...)
	return started[0], nil
}

// Run implements Runner.
func (b *Bigmachine) Run(ctx context.Context, tasks []*Task) []Outcome {
	outcomes := make([]Outcome, len(tasks))
	if len(tasks) == 0 {
		return outcomes
	}
	machines, err := b.pool(ctx)
	if err != nil {
		for i, task := range tasks {
			task.Error(err)
			outcomes[i] = Outcome{Key: task.Key, Err: err}
		}
		return outcomes
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu        sync.Mutex
		done      = make([]bool, len(tasks))
		remaining = len(tasks)
		finished  = make(chan struct{})
		queue     = make(chan int, len(tasks))
	)
	complete := func(i int, o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		if done[i] {
			return
		}
		done[i] = true
		outcomes[i] = o
		remaining--
		if o.Err != nil && b.opts.failFast {
			cancel()
		}
		if remaining == 0 {
			close(finished)
		}
	}
	for i, task := range tasks {
		task.Set(TaskWaiting)
		queue <- i
	}
	// Replacement machines are started with startCtx, which is
	// canceled once no more tasks need to run.
	startCtx, cancelStart := context.WithCancel(ctx)
	go func() {
		select {
		case <-finished:
		case <-ctx.Done():
		}
		cancelStart()
	}()

	var (
		wg    sync.WaitGroup
		serve func(m *machine)
	)
	// lose retires m and starts its replacement. It is called by one
	// of m's procs, before that proc returns.
	lose := func(m *machine) {
		if !m.retire() {
			return
		}
		log.Error.Printf("machine %s retired", m.Addr)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if startCtx.Err() != nil {
				return
			}
			r, err := b.replace(startCtx, m)
			if err != nil {
				log.Error.Printf("failed to replace machine %s: %v", m.Addr, err)
				return
			}
			log.Printf("machine %s replaces machine %s", r.Addr, m.Addr)
			serve(r)
		}()
	}
	serve = func(m *machine) {
		for p := 0; p < m.procs; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					if !m.live() {
						lose(m)
						return
					}
					var i int
					select {
					case <-ctx.Done():
						return
					case <-finished:
						return
					case <-m.Wait(bigmachine.Stopped):
						lose(m)
						return
					case i = <-queue:
					}
					task := tasks[i]
					rows, err := b.dispatch(ctx, m, task)
					switch {
					case err == nil:
						task.Set(TaskOk)
						complete(i, Outcome{Key: task.Key, Rows: rows})
					case ctx.Err() != nil:
						err = errors.E(errors.Canceled, fmt.Sprintf("unit %s", task.Key), err)
						task.Error(err)
						complete(i, Outcome{Key: task.Key, Err: err})
					case errors.Match(fatalErr, err):
						// Fatal errors aren't retryable.
						task.Error(err)
						complete(i, Outcome{Key: task.Key, Err: err})
					default:
						// Everything else we consider as the task being
						// lost. It is resubmitted to any machine.
						task.printf("lost task on %s: %v", m.Addr, err)
						task.Set(TaskLost)
						n := task.numAttempts()
						if n >= b.opts.maxAttempts {
							err = errors.E(errors.Unavailable, fmt.Sprintf("unit %s: lost after %d attempts", task.Key, n), err)
							task.Error(err)
							complete(i, Outcome{Key: task.Key, Err: err})
						} else {
							go func(i, n int) {
								if retry.Wait(ctx, retryPolicy, n-1) == nil {
									queue <- i
								}
							}(i, n)
						}
						if !m.healthy(ctx) {
							lose(m)
							return
						}
					}
				}
			}()
		}
	}
	for _, m := range machines {
		serve(m)
	}
	wg.Wait()

	// Tasks without an outcome were abandoned, or were left without
	// live machines to run them.
	mu.Lock()
	defer mu.Unlock()
	for i, task := range tasks {
		if done[i] {
			continue
		}
		if ctx.Err() != nil {
			outcomes[i] = abandoned(task)
			continue
		}
		err := errors.E(errors.Unavailable, fmt.Sprintf("unit %s: no machines available", task.Key))
		task.Error(err)
		outcomes[i] = Outcome{Key: task.Key, Err: err}
	}
	return outcomes
}

// healthy tells whether m is still reachable. It is used to decide
// whether a lost task was lost because of its machine.
func (m *machine) healthy(ctx context.Context) bool {
	if m.State() == bigmachine.Stopped {
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	var seq int
	err := m.Call(pctx, "Supervisor.Ping", 1, &seq)
	return err == nil || ctx.Err() != nil
}

// dispatch runs task on machine m, first loading the task's job on
// the machine if needed.
func (b *Bigmachine) dispatch(ctx context.Context, m *machine, task *Task) ([]assoc.Row, error) {
	task.attempt()
	task.Set(TaskRunning)
	task.printf("running on %s", m.Addr)
	job := task.Job
	err := m.loads.Do(job.FP, func() error {
		return m.RetryCall(ctx, "Worker.Load", job, nil)
	})
	if err != nil {
		m.loads.Forget(job.FP)
		return nil, err
	}
	var reply runReply
	err = m.Call(ctx, "Worker.Run", runRequest{Job: job.FP, Unit: task.Unit}, &reply)
	if err != nil {
		if errors.Is(errors.NotExist, err) && !errors.Match(fatalErr, err) {
			// The worker no longer has the job; load it again.
			m.loads.Forget(job.FP)
		}
		return nil, err
	}
	if !reply.HandedOff {
		return reply.Rows, nil
	}
	key := handoffKey(task.Key)
	p, err := b.opts.handoff.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := b.opts.handoff.Remove(ctx, key); err != nil {
		log.Error.Printf("%s: removing handed off results: %v", key, err)
	}
	return resultio.Unmarshal(task.Key, p)
}

// handoffKey returns the key under which the results of the unit with
// the given key are handed off. Handed off results are kept apart
// from cached results, so that a store may serve as both.
func handoffKey(key string) string {
	return path.Join("handoff", key)
}

// runRequest names the unit to run, and the job it belongs to.
type runRequest struct {
	Job  string
	Unit partition.Unit
}

type runReply struct {
	Rows []assoc.Row
	// HandedOff indicates that the rows were deposited in the handoff
	// store instead of being returned.
	HandedOff bool
}

// worker is the bigmachine service that runs tasks.
type worker struct {
	// Handoff, if set, is the store in which results are deposited.
	Handoff cache.Store

	b    *bigmachine.B
	mu   sync.Mutex
	jobs map[string]*Job
}

func (w *worker) Init(b *bigmachine.B) error {
	w.b = b
	w.jobs = make(map[string]*Job)
	return nil
}

// Load loads a job on the worker. Load is idempotent.
func (w *worker) Load(ctx context.Context, job *Job, _ *struct{}) error {
	if _, err := assoc.Lookup(job.Test); err != nil {
		return errors.E(errors.Fatal, err)
	}
	w.mu.Lock()
	w.jobs[job.FP] = job
	w.mu.Unlock()
	log.Printf("loaded job %s: %d SNPs, %d individuals, test %s", job.FP, job.Snps.NumSNP(), job.Context.NumIID(), job.Test)
	return nil
}

// Run runs the requested unit of a previously loaded job.
func (w *worker) Run(ctx context.Context, req runRequest, reply *runReply) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = errors.E(errors.Fatal, fmt.Sprintf("panic while computing unit %s: %v\n%s", req.Unit.Key, e, debug.Stack()))
		}
	}()
	w.mu.Lock()
	job := w.jobs[req.Job]
	w.mu.Unlock()
	if job == nil {
		return errors.E(errors.NotExist, fmt.Sprintf("job %s not loaded", req.Job))
	}
	task := &Task{Unit: req.Unit, Job: job}
	rows, err := task.Do(ctx)
	if err != nil {
		return err
	}
	if w.Handoff == nil {
		reply.Rows = rows
		return nil
	}
	p, err := resultio.Marshal(task.Key, rows)
	if err != nil {
		return errors.E(errors.Fatal, err)
	}
	if err := w.Handoff.Put(ctx, handoffKey(task.Key), p); err != nil {
		return errors.E(errors.Unavailable, "handoff", err)
	}
	reply.HandedOff = true
	return nil
}
