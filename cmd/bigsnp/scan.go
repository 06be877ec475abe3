// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigsnp"
	"github.com/grailbio/bigsnp/assoc"
	"github.com/grailbio/bigsnp/cache"
	"github.com/grailbio/bigsnp/exec"
	"github.com/grailbio/bigsnp/snpset"
)

func scanCmd(runner exec.Runner, store cache.Store, args []string) {
	var (
		flags        = flag.NewFlagSet("bigsnp scan", flag.ExitOnError)
		snpsFlag     = flags.String("snps", "", "prefix of the distributed genotype collection to test")
		gen          = flags.Bool("gen", false, "test a synthetic genotype collection instead of -snps")
		seed         = flags.Int64("seed", 0, "seed of the synthetic collection")
		niid         = flags.Int("iids", 1000, "number of individuals of the synthetic collection")
		nsnp         = flags.Int("nsnp", 5000, "number of SNPs of the synthetic collection")
		chroms       = flags.Int("chroms", 22, "number of chromosomes of the synthetic collection")
		genCache     = flags.String("gen-cache", "", "file in which the synthetic collection is materialized")
		chrom        = flags.String("chrom", "", "comma-separated list of chromosomes to test; all if empty")
		phenoFlag    = flags.String("pheno", "", "phenotype table (FID IID value)")
		covarFlag    = flags.String("covar", "", "covariate table (FID IID values...)")
		g0Flag       = flags.String("g0", "", "prefix of the distributed reference genotypes used for kinship")
		numPC        = flags.Int("numpc", 0, "number of kinship principal components used as covariates")
		pieces       = flags.Int("pieces", 0, "number of units per chromosome; 0 uses the collection's pieces")
		ranked       = flags.Bool("ranked", false, "order results by p-value")
		out          = flags.String("out", "", "path of the result table")
		allowPartial = flags.Bool("allow-partial", false, "write the results of successful units when others fail")
		ns           = flags.String("ns", "", "cache namespace of the scan")
		test         = flags.String("test", "linear", "association test")
		chromCache   = flags.String("chrom-cache", "", "per-chromosome cache directories, as chrom=dir,...; overrides the configured cache")
		parallelism  = flags.Int("cache-parallelism", 64, "number of concurrent cache operations")
		showStatus   = flags.Duration("status", 0, "interval at which scan status is printed; 0 disables")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: bigsnp scan [flags]")
		flags.PrintDefaults()
		os.Exit(2)
	}
	must.Nil(flags.Parse(args))
	if *phenoFlag == "" || (*snpsFlag == "") == !*gen {
		flags.Usage()
	}
	ctx := context.Background()

	var snps snpset.Collection
	if *gen {
		g := snpset.NewGen(*seed, *niid, *nsnp)
		g.Chroms = *chroms
		snps = g
		if *genCache != "" {
			m, err := snpset.Materialize(ctx, g, *genCache)
			must.Nil(err, "materializing synthetic collection")
			snps = m
		}
	} else {
		d, err := snpset.Open(ctx, *snpsFlag)
		must.Nil(err, "opening ", *snpsFlag)
		snps = d
	}
	if *chrom != "" {
		snps = snpset.FilterChrom(snps, parseInts(*chrom)...)
	}
	pheno, err := assoc.ReadTable(ctx, *phenoFlag)
	must.Nil(err)

	opts := []bigsnp.Option{
		bigsnp.Runner(runner),
		bigsnp.Cache(store),
		bigsnp.NumPC(*numPC),
		bigsnp.PiecesPerChrom(*pieces),
		bigsnp.Test(*test),
		bigsnp.Output(*out),
		bigsnp.Namespace(*ns),
		bigsnp.CacheParallelism(*parallelism),
	}
	if *covarFlag != "" {
		covar, err := assoc.ReadTable(ctx, *covarFlag)
		must.Nil(err)
		opts = append(opts, bigsnp.Covar(covar))
	}
	if *g0Flag != "" {
		g0, err := snpset.Open(ctx, *g0Flag)
		must.Nil(err, "opening ", *g0Flag)
		opts = append(opts, bigsnp.G0(g0))
	}
	if *chromCache != "" {
		opts = append(opts, bigsnp.Cache(parseChromCache(*chromCache)))
	}
	if *ranked {
		opts = append(opts, bigsnp.Ranked)
	}
	if *allowPartial {
		opts = append(opts, bigsnp.AllowPartial)
	}
	if *showStatus > 0 {
		var s status.Status
		opts = append(opts, bigsnp.Status(&s))
		go func() {
			for range time.Tick(*showStatus) {
				printStatus(os.Stderr, &s)
			}
		}()
	}
	start := time.Now()
	res, err := bigsnp.Run(ctx, snps, pheno, opts...)
	must.Nil(err)
	log.Printf("scanned %d SNPs in %s: %d units cached, %d computed, %d failed",
		len(res.Rows), time.Since(start), res.NumCached, res.NumComputed, len(res.Failed))
	for _, e := range res.Failed {
		log.Error.Print(e)
	}
	if *out == "" {
		for i, row := range res.Rows {
			if i == 10 {
				break
			}
			fmt.Printf("%s\t%d\t%d\t%g\n", row.SNP, row.Chrom, row.Pos, row.PValue)
		}
	}
}

// parseChromCache parses a list of chrom=dir assignments into a
// routed store of file stores.
func parseChromCache(s string) cache.Store {
	stores := make(map[int]cache.Store)
	for _, kv := range strings.Split(s, ",") {
		parts := strings.SplitN(kv, "=", 2)
		must.True(len(parts) == 2, "bad chromosome cache ", kv)
		chrom, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		must.Nil(err, "bad chromosome cache ", kv)
		stores[chrom] = cache.NewFile(strings.TrimSpace(parts[1]))
	}
	return cache.ByChrom(stores)
}

func parseInts(s string) []int {
	var ints []int
	for _, f := range strings.Split(s, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(f))
		must.Nil(err, "bad integer ", f)
		ints = append(ints, i)
	}
	return ints
}

func clearCmd(store cache.Store, args []string) {
	var (
		flags = flag.NewFlagSet("bigsnp clear", flag.ExitOnError)
		ns    = flags.String("ns", "", "namespace to clear; the whole cache if empty")
	)
	must.Nil(flags.Parse(args))
	must.Nil(bigsnp.ClearCache(context.Background(), store, *ns))
}

func testsCmd(args []string) {
	for _, name := range assoc.Tests() {
		fmt.Println(name)
	}
}

// printStatus writes a summary of each status group, and its tasks,
// to w.
func printStatus(w io.Writer, s *status.Status) {
	for _, g := range s.Groups() {
		v := g.Value()
		fmt.Fprintf(w, "%s: %s\n", v.Title, v.Status)
		for _, task := range g.Tasks() {
			v := task.Value()
			fmt.Fprintf(w, "\t%s: %s\n", v.Title, v.Status)
		}
	}
}
