// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package fingerprint computes stable content digests. Digests are
// used as cache keys, so the encoding of each written value is fixed:
// it must not change across processes, machines, or releases without
// also changing the blob format.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/spaolacci/murmur3"
)

// A Hasher accumulates values into a 128-bit murmur3 digest. Each
// value is written with a type tag and, where variable-length, its
// length, so that distinct sequences of values do not collide by
// concatenation.
type Hasher struct {
	h   murmur3.Hash128
	buf [9]byte
}

// New returns a new Hasher.
func New() *Hasher {
	return &Hasher{h: murmur3.New128()}
}

// String writes s.
func (h *Hasher) String(s string) *Hasher {
	h.tag('s', uint64(len(s)))
	h.h.Write([]byte(s))
	return h
}

// Int writes i.
func (h *Hasher) Int(i int64) *Hasher {
	h.tag('i', uint64(i))
	return h
}

// Float writes f. All NaN values hash alike.
func (h *Hasher) Float(f float64) *Hasher {
	if math.IsNaN(f) {
		f = math.NaN()
	}
	h.tag('f', math.Float64bits(f))
	return h
}

// Floats writes a vector of floats.
func (h *Hasher) Floats(fs []float64) *Hasher {
	h.tag('v', uint64(len(fs)))
	for _, f := range fs {
		h.Float(f)
	}
	return h
}

// Strings writes a vector of strings.
func (h *Hasher) Strings(ss []string) *Hasher {
	h.tag('w', uint64(len(ss)))
	for _, s := range ss {
		h.String(s)
	}
	return h
}

// Sum returns the hex encoding of the digest.
func (h *Hasher) Sum() string {
	hi, lo := h.h.Sum128()
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], hi)
	binary.BigEndian.PutUint64(b[8:], lo)
	return hex.EncodeToString(b[:])
}

func (h *Hasher) tag(t byte, v uint64) {
	h.buf[0] = t
	binary.LittleEndian.PutUint64(h.buf[1:], v)
	h.h.Write(h.buf[:])
}

// Seed derives a 64-bit seed from a base seed and an index. It is
// used to give every column of a synthetic dataset its own
// independent, reproducible random stream.
func Seed(seed int64, index int) int64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], uint64(seed))
	binary.LittleEndian.PutUint64(b[8:], uint64(index))
	return int64(murmur3.Sum64(b[:]))
}
