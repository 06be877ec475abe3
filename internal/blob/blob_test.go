// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package blob

import (
	"bytes"
	"io"
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
)

type record struct {
	Name   string
	Values []float64
	Counts map[string]int
}

func TestRoundTrip(t *testing.T) {
	fz := fuzz.NewWithSeed(1)
	fz.NilChance(0)
	fz.NumElements(1, 100)
	var in []record
	fz.Fuzz(&in)

	var b bytes.Buffer
	enc, err := NewEncoder(&b)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range in {
		if err := enc.Encode(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}

	dec, err := NewDecoder(&b)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	var out []record
	for {
		var r record
		err := dec.Decode(&r)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, r)
	}
	if got, want := len(out), len(in); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range in {
		if !reflect.DeepEqual(in[i], out[i]) {
			t.Errorf("record %d: got %v, want %v", i, out[i], in[i])
		}
	}
}

func TestMarshal(t *testing.T) {
	in := record{Name: "chr01", Values: []float64{0.5, 1e-8}, Counts: map[string]int{"a": 1}}
	p, err := Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out record
	if err := Unmarshal(p, &out); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("got %v, want %v", out, in)
	}
}

func TestCorruption(t *testing.T) {
	in := make([]float64, 1000)
	for i := range in {
		in[i] = float64(i) / 7
	}
	p, err := Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []struct {
		name string
		p    []byte
	}{
		{"empty", nil},
		{"truncated", p[:len(p)/2]},
		{"garbage", []byte("this is not a blob at all")},
	} {
		var out []float64
		err := Unmarshal(c.p, &out)
		if err == nil {
			t.Errorf("%s: expected error", c.name)
			continue
		}
		if !errors.Is(errors.Integrity, err) {
			t.Errorf("%s: got %v, want integrity error", c.name, err)
		}
	}
}

func TestBadHeader(t *testing.T) {
	var b bytes.Buffer
	enc, err := newEncoder(&b, "other.v0")
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Encode(1); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	var v int
	if err := Unmarshal(b.Bytes(), &v); !errors.Is(errors.Integrity, err) {
		t.Errorf("got %v, want integrity error", err)
	}
}
