// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigsnp/snpset"
)

func genCmd(args []string) {
	var (
		flags  = flag.NewFlagSet("bigsnp gen", flag.ExitOnError)
		seed   = flags.Int64("seed", 0, "seed of the synthetic collection")
		niid   = flags.Int("iids", 1000, "number of individuals")
		nsnp   = flags.Int("nsnp", 5000, "number of SNPs")
		chroms = flags.Int("chroms", 22, "number of chromosomes")
		pieces = flags.Int("pieces", 1, "number of pieces per chromosome")
		pheno  = flags.String("pheno", "", "path of a synthetic phenotype table to write")
		causal = flags.Int("causal", 10, "number of SNPs affecting the synthetic phenotype")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: bigsnp gen [flags] prefix")
		flags.PrintDefaults()
		os.Exit(2)
	}
	must.Nil(flags.Parse(args))
	if flags.NArg() != 1 {
		flags.Usage()
	}
	ctx := context.Background()
	g := snpset.NewGen(*seed, *niid, *nsnp)
	g.Chroms = *chroms
	d, err := snpset.WritePieces(ctx, flags.Arg(0), g, *pieces)
	must.Nil(err)
	log.Printf("wrote %d pieces of %d SNPs to %s", len(d.Pieces), d.NumSNP(), flags.Arg(0))
	if *pheno != "" {
		must.Nil(writePheno(ctx, *pheno, g, *causal))
		log.Printf("wrote phenotype to %s", *pheno)
	}
}

// writePheno writes a phenotype that is the sum of the allele counts
// of ncausal randomly chosen SNPs of g, plus unit normal noise.
func writePheno(ctx context.Context, path string, g *snpset.Gen, ncausal int) (err error) {
	r := rand.New(rand.NewSource(g.Seed))
	if ncausal > g.NumSNP() {
		ncausal = g.NumSNP()
	}
	vals, err := g.Read(ctx, nil, r.Perm(g.NumSNP())[:ncausal])
	if err != nil {
		return err
	}
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, f, &err)
	w := bufio.NewWriter(f.Writer(ctx))
	fmt.Fprintln(w, "FID IID y")
	for i, iid := range g.IIDs() {
		y := r.NormFloat64()
		for j := 0; j < ncausal; j++ {
			if v := vals.At(i, j); !math.IsNaN(v) {
				y += v
			}
		}
		fmt.Fprintf(w, "%s %s %g\n", iid, iid, y)
	}
	return w.Flush()
}
