// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigsnp

// UnitState is the state of a unit within a scan. Units progress from
// Unannounced to either CacheHit or Dispatched; dispatched units then
// become Completed or Failed. Units whose results are included in the
// scan result are Merged.
type UnitState int

const (
	// Unannounced is the state of units that have not yet been probed
	// in the cache.
	Unannounced UnitState = iota
	// CacheHit is the state of units whose results were read from the
	// cache.
	CacheHit
	// Dispatched is the state of units submitted to the runner.
	Dispatched
	// Completed is the state of units computed by the runner.
	Completed
	// Failed is the state of units that could not be read or computed.
	Failed
	// Merged is the state of units whose results are part of the scan
	// result.
	Merged
)

var unitStates = [...]string{
	Unannounced: "unannounced",
	CacheHit:    "cache-hit",
	Dispatched:  "dispatched",
	Completed:   "completed",
	Failed:      "failed",
	Merged:      "merged",
}

func (s UnitState) String() string {
	return unitStates[s]
}

// next reports whether a unit may move from state s to state t.
func (s UnitState) next(t UnitState) bool {
	switch s {
	case Unannounced:
		return t == CacheHit || t == Dispatched || t == Failed
	case CacheHit, Completed:
		return t == Merged
	case Dispatched:
		return t == Completed || t == Failed
	}
	return false
}
