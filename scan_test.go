// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigsnp

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine/testsystem"
	"github.com/grailbio/bigsnp/assoc"
	"github.com/grailbio/bigsnp/cache"
	"github.com/grailbio/bigsnp/exec"
	"github.com/grailbio/bigsnp/snpset"
	"github.com/grailbio/testutil"
	"gonum.org/v1/gonum/mat"
)

// failChrom3 fails every unit of chromosome 3.
type failChrom3 struct{}

func (failChrom3) Name() string { return "bigsnp.failchrom3" }

func (failChrom3) Test(ctx context.Context, g *mat.Dense, snps []snpset.SNP, c *assoc.Context) ([]assoc.Row, error) {
	if snps[0].Chrom == 3 {
		return nil, errors.E(errors.Invalid, "singular covariates")
	}
	return assoc.Linear{}.Test(ctx, g, snps, c)
}

func init() {
	assoc.Register(failChrom3{})
}

// testInputs returns a synthetic test collection of 5 chromosomes with
// a phenotype that depends on two of its SNPs, and a covariate.
func testInputs(t *testing.T) (*snpset.Gen, *assoc.Table, *assoc.Table) {
	t.Helper()
	g := snpset.NewGen(7, 200, 500)
	g.Chroms = 5
	causal, err := g.Read(context.Background(), nil, []int{10, 260})
	if err != nil {
		t.Fatal(err)
	}
	var (
		r     = rand.New(rand.NewSource(1))
		n     = g.NumIID()
		pheno = make([]float64, n)
		covar = make([]float64, n)
	)
	for i := 0; i < n; i++ {
		covar[i] = r.NormFloat64()
		pheno[i] = 0.5*covar[i] + r.NormFloat64()
		for j := 0; j < 2; j++ {
			if v := causal.At(i, j); !math.IsNaN(v) {
				pheno[i] += 3 * v
			}
		}
		if i%50 == 0 {
			pheno[i] = math.NaN()
		}
	}
	return g, assoc.NewTable("y", g.IIDs(), pheno), assoc.NewTable("age", g.IIDs(), covar)
}

func run(t *testing.T, snps snpset.Collection, pheno, covar *assoc.Table, opts ...Option) *Result {
	t.Helper()
	res, err := Run(context.Background(), snps, pheno, append([]Option{Covar(covar)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func equalRows(t *testing.T, got, want []assoc.Row) {
	t.Helper()
	if g, w := len(got), len(want); g != w {
		t.Fatalf("got %v rows, want %v", g, w)
	}
	for i := range got {
		g, w := got[i], want[i]
		if g.SNP != w.SNP || g.Chrom != w.Chrom || g.Pos != w.Pos || g.NumIID != w.NumIID {
			t.Errorf("row %d: got %v, want %v", i, g, w)
			continue
		}
		if math.Abs(g.PValue-w.PValue) > 1e-5 || math.Abs(g.Beta-w.Beta) > 1e-5 {
			t.Errorf("row %d: got %v, want %v", i, g, w)
		}
	}
}

func checkMerged(t *testing.T, res *Result, snps snpset.Collection) {
	t.Helper()
	if got, want := len(res.Rows), snps.NumSNP(); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	seen := make(map[string]bool)
	for i, row := range res.Rows {
		if seen[row.SNP] {
			t.Errorf("duplicate SNP %s", row.SNP)
		}
		seen[row.SNP] = true
		if i > 0 && !positional(res.Rows[i-1], row) {
			t.Errorf("rows %d and %d out of order", i-1, i)
		}
	}
	for i, state := range res.States {
		if got, want := state, Merged; got != want {
			t.Errorf("%s: got %v, want %v", res.Units[i].Key, got, want)
		}
	}
}

func TestScanCache(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	snps, pheno, covar := testInputs(t)
	store := cache.NewFile(dir)
	var s status.Status

	cold := run(t, snps, pheno, covar, Cache(store), PiecesPerChrom(2), Status(&s))
	checkMerged(t, cold, snps)
	if got, want := len(cold.Units), 10; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := cold.NumComputed, 10; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for _, u := range cold.Units {
		ok, err := store.Exists(ctx, u.Key)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("%s: not cached", u.Key)
		}
	}

	warm := run(t, snps, pheno, covar, Cache(store), PiecesPerChrom(2))
	if got, want := warm.NumCached, 10; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := warm.NumComputed, 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	equalRows(t, warm.Rows, cold.Rows)

	if err := ClearCache(ctx, store, ""); err != nil {
		t.Fatal(err)
	}
	for _, u := range cold.Units {
		ok, err := store.Exists(ctx, u.Key)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Errorf("%s: not cleared", u.Key)
		}
	}
	cleared := run(t, snps, pheno, covar, Cache(store), PiecesPerChrom(2))
	if got, want := cleared.NumComputed, 10; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	equalRows(t, cleared.Rows, cold.Rows)
}

func TestScanKeys(t *testing.T) {
	snps, pheno, covar := testInputs(t)
	a := run(t, snps, pheno, covar, PiecesPerChrom(3))
	b := run(t, snps, pheno, covar, PiecesPerChrom(3))
	for i := range a.Units {
		if got, want := b.Units[i].Key, a.Units[i].Key; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	// Changing the context changes every key.
	c := run(t, snps, pheno, nil, PiecesPerChrom(3))
	for i := range a.Units {
		if a.Units[i].Key == c.Units[i].Key {
			t.Errorf("%s: key does not depend on covariates", a.Units[i].Key)
		}
	}
}

func TestPartitionInvariance(t *testing.T) {
	snps, pheno, covar := testInputs(t)
	want := run(t, snps, pheno, covar, PiecesPerChrom(1))
	if got, want := len(want.Units), 5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for _, n := range []int{2, 7, 100} {
		got := run(t, snps, pheno, covar, PiecesPerChrom(n))
		checkMerged(t, got, snps)
		equalRows(t, got.Rows, want.Rows)
	}
	// A collection filtered to a chromosome yields that chromosome's
	// units only, with the same results.
	chr2 := run(t, snpset.FilterChrom(snps, 2), pheno, covar, PiecesPerChrom(3))
	if got, want := len(chr2.Units), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	var rows []assoc.Row
	for _, row := range want.Rows {
		if row.Chrom == 2 {
			rows = append(rows, row)
		}
	}
	equalRows(t, chr2.Rows, rows)
}

func TestDistributedScan(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	snps, pheno, covar := testInputs(t)
	if _, err := snpset.WritePieces(ctx, dir, snps, 4); err != nil {
		t.Fatal(err)
	}
	d, err := snpset.Open(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	got := run(t, d, pheno, covar)
	if got, want := len(got.Units), 20; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	want := run(t, snps, pheno, covar)
	equalRows(t, got.Rows, want.Rows)
}

func TestRunnerEquivalence(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	snps, pheno, covar := testInputs(t)
	want := run(t, snps, pheno, covar, PiecesPerChrom(3))

	system := testsystem.New()
	system.Machineprocs = 2
	system.KeepalivePeriod = time.Second
	system.KeepaliveTimeout = 5 * time.Second
	system.KeepaliveRpcTimeout = time.Second
	handoff := cache.NewFile(dir)
	bm := exec.NewBigmachine(system, exec.Machines(2), exec.Handoff(handoff))
	defer bm.Shutdown()

	for _, runner := range []exec.Runner{
		exec.Local(exec.Procs(4)),
		exec.Local(exec.JustOneProcess),
		bm,
	} {
		got := run(t, snps, pheno, covar, PiecesPerChrom(3), Runner(runner), Cache(handoff))
		checkMerged(t, got, snps)
		equalRows(t, got.Rows, want.Rows)
		if err := ClearCache(context.Background(), handoff, ""); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRanked(t *testing.T) {
	snps, pheno, covar := testInputs(t)
	res := run(t, snps, pheno, covar, Ranked)
	if got, want := len(res.Rows), snps.NumSNP(); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if !sort.SliceIsSorted(res.Rows, func(i, j int) bool { return ranked(res.Rows[i], res.Rows[j]) }) {
		t.Error("rows not ranked")
	}
	// The causal SNPs are the most significant.
	top := map[string]bool{res.Rows[0].SNP: true, res.Rows[1].SNP: true}
	for _, i := range []int{10, 260} {
		if id := snps.SNP(i).ID; !top[id] {
			t.Errorf("%s not among the top SNPs", id)
		}
	}
}

func TestOutput(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	snps, pheno, covar := testInputs(t)
	path := filepath.Join(dir, "results.tsv")
	run(t, snps, pheno, covar, Output(path))
	p, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(p)), "\n")
	if got, want := len(lines), snps.NumSNP()+1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := lines[0], "SNP\tChr\tChrPos\tBeta\tStat\tPValue\tNobs"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCorruptCache(t *testing.T) {
	ctx := context.Background()
	snps, pheno, covar := testInputs(t)
	store, err := cache.NewMemory(100)
	if err != nil {
		t.Fatal(err)
	}
	cold := run(t, snps, pheno, covar, Cache(store))
	corrupt := cold.Units[1]
	if err := store.Put(ctx, corrupt.Key, []byte("garbage")); err != nil {
		t.Fatal(err)
	}
	_, err = Run(ctx, snps, pheno, Covar(covar), Cache(store))
	e, ok := err.(*Error)
	if !ok {
		t.Fatalf("got %v, want *Error", err)
	}
	if got, want := e.Stage, StageCache; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := e.Unit, corrupt.Key; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := e.Chrom, corrupt.Chrom; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !errors.Is(errors.Integrity, e.Err) {
		t.Errorf("got %v, want integrity error", e)
	}

	res := run(t, snps, pheno, covar, Cache(store), AllowPartial)
	if got, want := len(res.Failed), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := res.States[1], Failed; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(res.Rows), snps.NumSNP()-len(corrupt.SIDs); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestComputeError(t *testing.T) {
	ctx := context.Background()
	snps, pheno, covar := testInputs(t)
	for _, runner := range []exec.Runner{exec.Sync(exec.FailFast), exec.Local(exec.Procs(3))} {
		_, err := Run(ctx, snps, pheno, Covar(covar), Test("bigsnp.failchrom3"), PiecesPerChrom(2), Runner(runner))
		e, ok := err.(*Error)
		if !ok {
			t.Fatalf("got %v, want *Error", err)
		}
		if got, want := e.Stage, StageCompute; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := e.Chrom, 3; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if !errors.Is(errors.Invalid, e.Err) {
			t.Errorf("got %v, want invalid error", e)
		}
	}

	store, err := cache.NewMemory(100)
	if err != nil {
		t.Fatal(err)
	}
	res := run(t, snps, pheno, covar, Test("bigsnp.failchrom3"), PiecesPerChrom(2), Cache(store), AllowPartial)
	if got, want := len(res.Failed), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for _, e := range res.Failed {
		if got, want := e.Chrom, 3; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	for _, row := range res.Rows {
		if row.Chrom == 3 {
			t.Errorf("unexpected row %v", row)
		}
	}
	// Successful units are cached.
	if got, want := store.Len(), 8; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPartitionError(t *testing.T) {
	ctx := context.Background()
	snps, pheno, _ := testInputs(t)
	empty, err := snpset.NewSubset(snps, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []struct {
		snps  snpset.Collection
		pheno *assoc.Table
		opts  []Option
	}{
		{empty, pheno, nil},
		{snps, nil, nil},
		{snps, pheno, []Option{NumPC(2)}},
		{snps, pheno, []Option{Test("no such test")}},
	} {
		_, err := Run(ctx, c.snps, c.pheno, c.opts...)
		e, ok := err.(*Error)
		if !ok {
			t.Errorf("got %v, want *Error", err)
			continue
		}
		if got, want := e.Stage, StagePartition; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestDuplicateSNPs(t *testing.T) {
	ctx := context.Background()
	snps, pheno, _ := testInputs(t)
	store, err := cache.NewMemory(100)
	if err != nil {
		t.Fatal(err)
	}
	dup := &snpset.Subset{Parent: snps, SIDs: []int{0, 1, 1, 2}}
	_, err = Run(ctx, dup, pheno, Cache(store))
	e, ok := err.(*Error)
	if !ok {
		t.Fatalf("got %v, want *Error", err)
	}
	if got, want := e.Stage, StagePartition; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !errors.Is(errors.Invalid, e.Err) {
		t.Errorf("got %v, want invalid", e.Err)
	}
	if got, want := store.Len(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNamespace(t *testing.T) {
	ctx := context.Background()
	snps, pheno, covar := testInputs(t)
	store, err := cache.NewMemory(100)
	if err != nil {
		t.Fatal(err)
	}
	a := run(t, snps, pheno, covar, Cache(store), Namespace("a"))
	run(t, snps, pheno, covar, Cache(store), Namespace("b"))
	if got, want := store.Len(), 10; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for _, u := range a.Units {
		if !strings.HasPrefix(u.Key, "a/chr") {
			t.Errorf("%s: not in namespace", u.Key)
		}
	}
	if err := ClearCache(ctx, store, "a"); err != nil {
		t.Fatal(err)
	}
	if got, want := store.Len(), 5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	res := run(t, snps, pheno, covar, Cache(store), Namespace("b"))
	if got, want := res.NumCached, 5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRoutedCache(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	snps, pheno, covar := testInputs(t)
	low, err := cache.NewMemory(100)
	if err != nil {
		t.Fatal(err)
	}
	high := cache.NewFile(dir)
	// Chromosome 5 is not cached.
	store := cache.ByChrom(map[int]cache.Store{1: low, 2: low, 3: high, 4: high})
	cold := run(t, snps, pheno, covar, Cache(store), PiecesPerChrom(2))
	if got, want := low.Len(), 4; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	warm := run(t, snps, pheno, covar, Cache(store), PiecesPerChrom(2))
	if got, want := warm.NumCached, 8; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := warm.NumComputed, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	equalRows(t, warm.Rows, cold.Rows)
}

func TestUnitStates(t *testing.T) {
	for _, c := range []struct {
		from, to UnitState
		ok       bool
	}{
		{Unannounced, CacheHit, true},
		{Unannounced, Dispatched, true},
		{Unannounced, Merged, false},
		{Dispatched, Completed, true},
		{Dispatched, Failed, true},
		{Dispatched, Merged, false},
		{Completed, Merged, true},
		{CacheHit, Merged, true},
		{Failed, Merged, false},
		{Merged, Dispatched, false},
	} {
		if got, want := c.from.next(c.to), c.ok; got != want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, want)
		}
	}
}
