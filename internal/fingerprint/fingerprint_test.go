// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package fingerprint

import (
	"math"
	"testing"
)

func TestStable(t *testing.T) {
	sum := func() string {
		return New().String("pheno").Int(3).Floats([]float64{1, 2, math.NaN()}).Sum()
	}
	if got, want := sum(), sum(); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(sum()), 32; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNoConcatenationCollision(t *testing.T) {
	a := New().String("ab").String("c").Sum()
	b := New().String("a").String("bc").Sum()
	if a == b {
		t.Error("distinct sequences collide")
	}
	c := New().Strings([]string{"a"}).Strings(nil).Sum()
	d := New().Strings(nil).Strings([]string{"a"}).Sum()
	if c == d {
		t.Error("distinct vectors collide")
	}
	if New().Int(1).Sum() == New().Float(1).Sum() {
		t.Error("values of distinct types collide")
	}
}

func TestSeed(t *testing.T) {
	if Seed(0, 1) == Seed(0, 2) {
		t.Error("seeds collide across indices")
	}
	if Seed(0, 1) == Seed(1, 1) {
		t.Error("seeds collide across base seeds")
	}
	if got, want := Seed(7, 11), Seed(7, 11); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
