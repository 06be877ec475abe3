// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package snpconfig configures the runner and cache of association
// scans from a shared configuration. Snpconfig uses the configuration
// mechanism in package github.com/grailbio/base/config, and reads a
// default profile from $HOME/.bigsnp/config. The instances
// "bigsnp/runner" and "bigsnp/cache" are configured; for example:
//
//	param bigsnp/runner (
//		system = bigmachine/ec2system
//		machines = 8
//	)
//	param bigsnp/cache (
//		kind = "file"
//		dir = "s3://bucket/bigsnp-cache"
//	)
package snpconfig

import (
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"

	// Used to provide ec2system.System bigmachines.
	_ "github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/bigsnp/cache"
	"github.com/grailbio/bigsnp/exec"
)

// Path determines the location of the bigsnp profile read by Parse.
var Path = os.ExpandEnv("$HOME/.bigsnp/config")

// Parse registers configuration flags and calls flag.Parse. It reads
// configuration from Path defined in this package. Parse returns the
// runner and cache as configured by the configuration and any flags
// provided, and a function that shuts down the runner. Parse panics if
// the runner or the cache cannot be created.
//
// Parse must be called early in main: with bigmachine runners, worker
// processes do not return from Parse.
func Parse() (runner exec.Runner, store cache.Store, shutdown func()) {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	return Must()
}

// Must returns the runner and cache of the current configuration. It
// is Parse without flag processing.
func Must() (runner exec.Runner, store cache.Store, shutdown func()) {
	config.Must("bigsnp/runner", &runner)
	config.Must("bigsnp/cache", &store)
	shutdown = func() {}
	if b, ok := runner.(*exec.Bigmachine); ok {
		shutdown = b.Shutdown
	}
	return
}
