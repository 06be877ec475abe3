// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package snpset

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigsnp/internal/blob"
)

// Save writes the in-memory collection m to path.
func Save(ctx context.Context, m *Mem, path string) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Discard(ctx)
			return
		}
		err = f.Close(ctx)
	}()
	enc, err := blob.NewEncoder(f.Writer(ctx))
	if err != nil {
		return err
	}
	if err = enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}

// Load reads an in-memory collection previously written by Save.
func Load(ctx context.Context, path string) (*Mem, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx)
	dec, err := blob.NewDecoder(f.Reader(ctx))
	if err != nil {
		return nil, errors.E(path, err)
	}
	defer dec.Close()
	m := new(Mem)
	if err := dec.Decode(m); err != nil {
		return nil, errors.E(errors.Integrity, path, err)
	}
	if err := m.validate(); err != nil {
		return nil, errors.E(errors.Integrity, path, err)
	}
	return m, nil
}

// Materialize returns an in-memory copy of c, cached at path: the
// first call reads all of c and saves it; later calls load the saved
// copy. The copy keeps c's fingerprint, so results computed from
// either are interchangeable.
func Materialize(ctx context.Context, c Collection, path string) (*Mem, error) {
	m, err := Load(ctx, path)
	switch {
	case err == nil:
		if m.FP != c.Fingerprint() {
			return nil, errors.E(errors.Precondition, path, "materialized collection has a different source")
		}
		return m, nil
	case !errors.Is(errors.NotExist, err):
		return nil, err
	}
	vals, err := c.Read(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	m = &Mem{IIDList: c.IIDs(), SNPList: SNPs(c), Vals: vals, FP: c.Fingerprint()}
	if err := Save(ctx, m, path); err != nil {
		return nil, err
	}
	log.Printf("snpset: materialized %d x %d collection to %s", m.NumIID(), m.NumSNP(), path)
	return m, nil
}
