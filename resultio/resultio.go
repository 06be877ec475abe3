// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package resultio encodes the partial results of units for caching,
// and writes merged results as tab-separated tables.
package resultio

import (
	"context"
	"encoding/csv"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/bigsnp/assoc"
	"github.com/grailbio/bigsnp/internal/blob"
)

type partial struct {
	Key  string
	Rows []assoc.Row
}

// Marshal encodes the rows computed for the unit with the given key.
func Marshal(key string, rows []assoc.Row) ([]byte, error) {
	return blob.Marshal(partial{key, rows})
}

// Unmarshal decodes rows encoded by Marshal, verifying that they were
// stored for the unit with the given key. A blob that cannot be
// decoded, or that belongs to another key, is an errors.Integrity
// error.
func Unmarshal(key string, p []byte) ([]assoc.Row, error) {
	var part partial
	if err := blob.Unmarshal(p, &part); err != nil {
		return nil, errors.E(errors.Integrity, key, err)
	}
	if part.Key != key {
		return nil, errors.E(errors.Integrity, key, "blob stored for unit ", part.Key)
	}
	return part.Rows, nil
}

// Header is the header of tables written by WriteTSV.
var Header = []string{"SNP", "Chr", "ChrPos", "Beta", "Stat", "PValue", "Nobs"}

// WriteTSV writes rows as a tab-separated table to path, which may be
// a local path or a URL supported by package file. The table is
// published only if it is written completely.
func WriteTSV(ctx context.Context, path string, rows []assoc.Row) (err error) {
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
	w := csv.NewWriter(f.Writer(ctx))
	w.Comma = '\t'
	if err = w.Write(Header); err != nil {
		return err
	}
	for _, row := range rows {
		err = w.Write([]string{
			row.SNP,
			strconv.Itoa(row.Chrom),
			strconv.FormatInt(row.Pos, 10),
			formatFloat(row.Beta),
			formatFloat(row.Stat),
			formatFloat(row.PValue),
			strconv.Itoa(row.NumIID),
		})
		if err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
