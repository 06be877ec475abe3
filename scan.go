// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigsnp

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigsnp/assoc"
	"github.com/grailbio/bigsnp/exec"
	"github.com/grailbio/bigsnp/partition"
	"github.com/grailbio/bigsnp/resultio"
	"github.com/grailbio/bigsnp/snpset"
)

// Result is the result of a scan.
type Result struct {
	// Rows holds one row for each tested SNP, ordered by chromosome
	// and position, or by p-value for ranked scans.
	Rows []assoc.Row
	// Units are the units of the scan, in partition order, and States
	// their final states.
	Units  []partition.Unit
	States []UnitState
	// NumCached and NumComputed count the units read from the cache
	// and computed by the runner.
	NumCached, NumComputed int
	// Failed lists the errors of failed units, in unit order. It is
	// nonempty only for scans run with AllowPartial.
	Failed []*Error
}

// Run runs an association scan of the SNPs in snps against the first
// phenotype of pheno, configured by the provided options. Results of
// units present in the configured cache are reused; the remaining
// units are computed by the configured runner and written back to the
// cache. Run returns the merged result, which is also written to the
// configured output, if any.
//
// Unless AllowPartial is given, Run fails if any unit fails. Errors
// are of type *Error.
func Run(ctx context.Context, snps snpset.Collection, pheno *assoc.Table, opts ...Option) (*Result, error) {
	o := applyOptions(opts)
	job, err := prepare(ctx, snps, pheno, o)
	if err != nil {
		return nil, &Error{Stage: StagePartition, Err: err}
	}
	units, err := partition.Partition(snps, partition.Granularity{PiecesPerChrom: o.piecesPerChrom}, job.Fingerprint())
	if err != nil {
		return nil, &Error{Stage: StagePartition, Err: err}
	}
	if o.namespace != "" {
		for i := range units {
			units[i].Key = path.Join(o.namespace, units[i].Key)
		}
	}
	s := &scan{
		opts:   o,
		job:    job,
		units:  units,
		states: make([]UnitState, len(units)),
		parts:  make([][]assoc.Row, len(units)),
		errs:   make([]*Error, len(units)),
	}
	log.Printf("bigsnp: scan %s: %d SNPs, %d individuals, %d units, test %s",
		job.Fingerprint(), snps.NumSNP(), job.Context.NumIID(), len(units), o.test)

	misses := s.probe(ctx)
	log.Printf("bigsnp: scan %s: %d units cached, %d to compute", job.Fingerprint(), s.count(CacheHit), len(misses))
	if err := s.err(); err != nil && !o.allowPartial {
		return nil, err
	}
	s.compute(ctx, misses)
	if err := s.err(); err != nil && !o.allowPartial {
		return nil, err
	}
	res := &Result{
		Units:       units,
		NumCached:   s.count(CacheHit),
		NumComputed: s.count(Completed),
	}
	if res.Rows, err = s.merge(); err != nil {
		return nil, err
	}
	res.States = s.states
	for _, err := range s.errs {
		if err != nil {
			res.Failed = append(res.Failed, err)
		}
	}
	if len(res.Failed) > 0 {
		log.Error.Printf("bigsnp: scan %s: %d of %d units failed; returning a partial result", job.Fingerprint(), len(res.Failed), len(units))
	}
	if o.output != "" {
		if err := resultio.WriteTSV(ctx, o.output, res.Rows); err != nil {
			return nil, errors.E(fmt.Sprintf("writing results to %s", o.output), err)
		}
		log.Printf("bigsnp: wrote %d rows to %s", len(res.Rows), o.output)
	}
	return res, nil
}

// prepare validates the inputs of a scan and constructs its job.
func prepare(ctx context.Context, snps snpset.Collection, pheno *assoc.Table, o options) (*exec.Job, error) {
	if snps == nil {
		return nil, errors.E(errors.Invalid, "no test SNPs")
	}
	if o.cache == nil {
		return nil, errors.E(errors.Invalid, "nil cache")
	}
	k0 := o.k0
	if k0 == nil && o.g0 != nil {
		if o.numPC == 0 {
			log.Printf("bigsnp: no principal components requested; G0 only restricts the tested individuals")
		}
		var err error
		if k0, err = assoc.Kinship(ctx, o.g0); err != nil {
			return nil, errors.E("computing kinship", err)
		}
	}
	c, err := assoc.NewContext(snps.IIDs(), pheno, o.covar, k0, assoc.Config{NumPC: o.numPC})
	if err != nil {
		return nil, err
	}
	return exec.NewJob(snps, c, o.test)
}

// scan holds the state of a running scan.
type scan struct {
	opts  options
	job   *exec.Job
	units []partition.Unit

	mu     sync.Mutex
	states []UnitState
	parts  [][]assoc.Row
	errs   []*Error
}

func (s *scan) set(i int, state UnitState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.states[i].next(state) {
		log.Panicf("bigsnp: unit %s: invalid transition %s -> %s", s.units[i].Key, s.states[i], state)
	}
	s.states[i] = state
}

func (s *scan) fail(i int, stage Stage, err error) {
	s.set(i, Failed)
	u := s.units[i]
	s.mu.Lock()
	s.errs[i] = &Error{Stage: stage, Unit: u.Key, Chrom: u.Chrom, Err: err}
	s.mu.Unlock()
	log.Error.Printf("bigsnp: unit %s failed (%s): %v", u.Key, stage, err)
}

func (s *scan) count(state UnitState) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, t := range s.states {
		if t == state {
			n++
		}
	}
	return n
}

// err returns the error that fails the scan, if any: the first unit
// error that is not a consequence of another unit's failure.
func (s *scan) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first *Error
	for _, err := range s.errs {
		if err == nil {
			continue
		}
		if !errors.Is(errors.Canceled, err.Err) {
			return err
		}
		if first == nil {
			first = err
		}
	}
	if first == nil {
		return nil
	}
	return first
}

// compute computes the units with the provided indices on the scan's
// runner, and writes their results back to the cache.
func (s *scan) compute(ctx context.Context, misses []int) {
	if len(misses) == 0 {
		return
	}
	var (
		units = make([]partition.Unit, len(misses))
		index = make(map[string]int, len(misses))
	)
	for j, i := range misses {
		units[j] = s.units[i]
		index[s.units[i].Key] = i
		s.set(i, Dispatched)
	}
	tasks := exec.NewTasks(s.job, units)
	if s.opts.status != nil {
		group := s.opts.status.Groupf("scan %s", s.job.Fingerprint())
		mctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			exec.Monitor(mctx, group, tasks)
			close(done)
		}()
		defer func() {
			cancel()
			<-done
		}()
	}
	outcomes := s.opts.runner.Run(ctx, tasks)
	seen := make(map[int]bool, len(outcomes))
	w := s.writer(ctx)
	for _, o := range outcomes {
		i, ok := index[o.Key]
		if !ok || seen[i] {
			log.Error.Printf("bigsnp: runner returned an unexpected outcome for unit %s", o.Key)
			continue
		}
		seen[i] = true
		if o.Err != nil {
			s.fail(i, outcomeStage(o.Err), o.Err)
			continue
		}
		if err := checkRows(s.job.Snps, s.units[i], o.Rows); err != nil {
			s.fail(i, StageCompute, errors.E(errors.Fatal, err))
			continue
		}
		s.parts[i] = o.Rows
		s.set(i, Completed)
		w.put(s.units[i].Key, o.Rows)
	}
	w.wait()
	for _, i := range misses {
		if !seen[i] {
			s.fail(i, StageDispatch, errors.E(errors.Unavailable, "runner returned no outcome"))
		}
	}
}

// checkRows checks that rows are results for exactly the SNPs of unit
// u, in order.
func checkRows(snps snpset.Collection, u partition.Unit, rows []assoc.Row) error {
	if len(rows) != len(u.SIDs) {
		return errors.E(errors.Integrity, fmt.Sprintf("unit %s: %d rows for %d SNPs", u.Key, len(rows), len(u.SIDs)))
	}
	for i, sid := range u.SIDs {
		if id := snps.SNP(sid).ID; rows[i].SNP != id {
			return errors.E(errors.Integrity, fmt.Sprintf("unit %s: row %d is for SNP %s, expected %s", u.Key, i, rows[i].SNP, id))
		}
	}
	return nil
}
