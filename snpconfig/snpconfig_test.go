// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package snpconfig

import (
	"strings"
	"testing"

	"github.com/grailbio/base/config"
	"github.com/grailbio/bigsnp/cache"
	"github.com/grailbio/bigsnp/exec"
)

func TestProfile(t *testing.T) {
	profile := config.New()
	err := profile.Parse(strings.NewReader(`
param bigsnp/runner (
	procs = 2
	fail-fast = false
)
param bigsnp/cache (
	kind = "memory"
	capacity = 10
)
`))
	if err != nil {
		t.Fatal(err)
	}
	var runner exec.Runner
	if err := profile.Instance("bigsnp/runner", &runner); err != nil {
		t.Fatal(err)
	}
	if runner == nil {
		t.Fatal("nil runner")
	}
	if _, ok := runner.(*exec.Bigmachine); ok {
		t.Error("unexpected bigmachine runner")
	}
	var store cache.Store
	if err := profile.Instance("bigsnp/cache", &store); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*cache.Memory); !ok {
		t.Errorf("got %T, want *cache.Memory", store)
	}
}

func TestProfileDefaults(t *testing.T) {
	profile := config.New()
	var store cache.Store
	if err := profile.Instance("bigsnp/cache", &store); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(cache.Null); !ok {
		t.Errorf("got %T, want cache.Null", store)
	}
	profile = config.New()
	if err := profile.Parse(strings.NewReader(`
param bigsnp/cache (
	kind = "tape"
)
`)); err != nil {
		t.Fatal(err)
	}
	if err := profile.Instance("bigsnp/cache", &store); err == nil {
		t.Error("expected error")
	}
}
