// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command bigsnp runs association scans, and manages their inputs and
// caches. Runners and caches are configured by profiles; see package
// github.com/grailbio/bigsnp/snpconfig.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigsnp/snpconfig"
)

func init() {
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

func usage() {
	fmt.Fprintf(os.Stderr, `Bigsnp runs genome-wide association scans.

Usage:

	bigsnp [config flags] <command> [arguments]

The commands are:

	scan    run an association scan
	gen     write a synthetic genotype collection and phenotype
	clear   clear the configured cache
	tests   list the available association tests

Runners and caches are configured by the profile at %s,
and by config flags (see bigsnp -help).
`, snpconfig.Path)
	os.Exit(2)
}

func main() {
	log.AddFlags()
	log.SetFlags(0)
	log.SetPrefix("bigsnp: ")
	must.Func = log.Fatal
	flag.Usage = usage
	// Parse starts bigmachine; worker processes do not return.
	runner, store, shutdown := snpconfig.Parse()
	defer shutdown()
	if flag.NArg() == 0 {
		flag.Usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	default:
		fmt.Fprintln(os.Stderr, "unknown command", cmd)
		flag.Usage()
	case "scan":
		scanCmd(runner, store, args)
	case "gen":
		genCmd(args)
	case "clear":
		clearCmd(store, args)
	case "tests":
		testsCmd(args)
	}
}
