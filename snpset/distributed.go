// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package snpset

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bigsnp/internal/blob"
	"gonum.org/v1/gonum/mat"
)

// piecePattern matches the paths of pieces, relative to the
// collection's prefix.
const piecePattern = "chr*/piece-*-of-*"

// A Piece is one stored block of a distributed collection: a
// contiguous run of SNPs on a single chromosome.
type Piece struct {
	Path string
	// Chrom is the piece's chromosome. Index is the piece's number
	// within the chromosome, of NumPiece.
	Chrom, Index, NumPiece int
	// Start is the collection index of the piece's first SNP and N the
	// number of SNPs it holds.
	Start, N int
}

type pieceHeader struct {
	FP                     string
	IIDs                   []string
	Chrom, Index, NumPiece int
	SNPs                   []SNP
}

// Distributed is a collection stored as a set of pieces under a file
// prefix (a local directory or a URL such as s3://bucket/path). Each
// piece is read independently, so that a unit of work touches only
// the pieces it needs. Distributed collections are created by
// WritePieces and reopened with Open.
type Distributed struct {
	Prefix  string
	FP      string
	IIDList []string
	SNPList []SNP
	Pieces  []Piece
}

func piecePath(prefix string, chrom, index, n int) string {
	return file.Join(prefix, fmt.Sprintf("chr%02d", chrom), fmt.Sprintf("piece-%03d-of-%03d", index, n))
}

// WritePieces stores the collection c under prefix, splitting each
// chromosome into at most piecesPerChrom contiguous pieces. The
// returned collection orders SNPs by chromosome, preserving the
// relative order of c within each chromosome, and retains c's
// fingerprint.
func WritePieces(ctx context.Context, prefix string, c Collection, piecesPerChrom int) (*Distributed, error) {
	if piecesPerChrom < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("invalid piece count %d", piecesPerChrom))
	}
	if c.NumSNP() == 0 {
		return nil, errors.E(errors.Invalid, "empty collection")
	}
	d := &Distributed{Prefix: prefix, FP: c.Fingerprint(), IIDList: c.IIDs()}
	chroms, byChrom := ByChrom(c)
	var cols [][]int
	for _, chrom := range chroms {
		sids := byChrom[chrom]
		bounds := Split(len(sids), piecesPerChrom)
		n := len(bounds) - 1
		for i := 0; i < n; i++ {
			piece := Piece{
				Path:     piecePath(prefix, chrom, i, n),
				Chrom:    chrom,
				Index:    i,
				NumPiece: n,
				Start:    len(d.SNPList),
				N:        bounds[i+1] - bounds[i],
			}
			for _, sid := range sids[bounds[i]:bounds[i+1]] {
				d.SNPList = append(d.SNPList, c.SNP(sid))
			}
			d.Pieces = append(d.Pieces, piece)
			cols = append(cols, sids[bounds[i]:bounds[i+1]])
		}
	}
	err := traverse.Limit(8).Each(len(d.Pieces), func(i int) error {
		piece := d.Pieces[i]
		vals, err := c.Read(ctx, nil, cols[i])
		if err != nil {
			return err
		}
		hdr := pieceHeader{
			FP:       d.FP,
			IIDs:     d.IIDList,
			Chrom:    piece.Chrom,
			Index:    piece.Index,
			NumPiece: piece.NumPiece,
			SNPs:     d.SNPList[piece.Start : piece.Start+piece.N],
		}
		return writePiece(ctx, piece.Path, &hdr, vals)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("snpset: wrote %d SNPs in %d pieces to %s", len(d.SNPList), len(d.Pieces), prefix)
	return d, nil
}

func writePiece(ctx context.Context, path string, hdr *pieceHeader, vals *mat.Dense) (err error) {
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
	if err = enc.Encode(hdr); err != nil {
		return err
	}
	if err = enc.Encode(vals); err != nil {
		return err
	}
	return enc.Close()
}

// readPiece reads the piece at path. If vals is false, only its
// header is read.
func readPiece(ctx context.Context, path string, vals bool) (*pieceHeader, *mat.Dense, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close(ctx)
	dec, err := blob.NewDecoder(f.Reader(ctx))
	if err != nil {
		return nil, nil, errors.E(path, err)
	}
	defer dec.Close()
	hdr := new(pieceHeader)
	if err := dec.Decode(hdr); err != nil {
		return nil, nil, errors.E(errors.Integrity, path, err)
	}
	if !vals {
		return hdr, nil, nil
	}
	m := new(mat.Dense)
	if err := dec.Decode(m); err != nil {
		return nil, nil, errors.E(errors.Integrity, path, err)
	}
	if r, c := m.Dims(); r != len(hdr.IIDs) || c != len(hdr.SNPs) {
		return nil, nil, errors.E(errors.Integrity, path, fmt.Sprintf("piece is %dx%d; want %dx%d", r, c, len(hdr.IIDs), len(hdr.SNPs)))
	}
	return hdr, m, nil
}

// Open opens the distributed collection stored under prefix. Open
// reads the header of every piece and verifies that the pieces form a
// complete, consistent collection.
func Open(ctx context.Context, prefix string) (*Distributed, error) {
	var paths []string
	lst := file.List(ctx, prefix, true)
	for lst.Scan() {
		rel := strings.TrimLeft(strings.TrimPrefix(lst.Path(), prefix), "/")
		ok, err := doublestar.Match(piecePattern, rel)
		if err != nil {
			return nil, err
		}
		if ok {
			paths = append(paths, lst.Path())
		}
	}
	if err := lst.Err(); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.E(errors.NotExist, "no pieces under ", prefix)
	}
	hdrs := make([]*pieceHeader, len(paths))
	err := traverse.Limit(8).Each(len(paths), func(i int) (err error) {
		hdrs[i], _, err = readPiece(ctx, paths[i], false)
		return
	})
	if err != nil {
		return nil, err
	}
	order := make([]int, len(paths))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		hi, hj := hdrs[order[i]], hdrs[order[j]]
		if hi.Chrom != hj.Chrom {
			return hi.Chrom < hj.Chrom
		}
		return hi.Index < hj.Index
	})
	d := &Distributed{Prefix: prefix, FP: hdrs[order[0]].FP, IIDList: hdrs[order[0]].IIDs}
	for k, i := range order {
		hdr := hdrs[i]
		if hdr.FP != d.FP || !slices.Equal(hdr.IIDs, d.IIDList) {
			return nil, errors.E(errors.Integrity, paths[i], "piece belongs to a different collection")
		}
		want := 0
		if k > 0 && hdrs[order[k-1]].Chrom == hdr.Chrom {
			prev := hdrs[order[k-1]]
			if prev.NumPiece != hdr.NumPiece {
				return nil, errors.E(errors.Integrity, paths[i], "inconsistent piece count")
			}
			want = prev.Index + 1
		}
		if hdr.Index != want {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("chromosome %d: missing piece %d of %d", hdr.Chrom, want, hdr.NumPiece))
		}
		last := k == len(order)-1 || hdrs[order[k+1]].Chrom != hdr.Chrom
		if last && hdr.Index != hdr.NumPiece-1 {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("chromosome %d: missing piece %d of %d", hdr.Chrom, hdr.Index+1, hdr.NumPiece))
		}
		d.Pieces = append(d.Pieces, Piece{
			Path:     paths[i],
			Chrom:    hdr.Chrom,
			Index:    hdr.Index,
			NumPiece: hdr.NumPiece,
			Start:    len(d.SNPList),
			N:        len(hdr.SNPs),
		})
		d.SNPList = append(d.SNPList, hdr.SNPs...)
	}
	return d, nil
}

func (d *Distributed) NumIID() int         { return len(d.IIDList) }
func (d *Distributed) IIDs() []string      { return d.IIDList }
func (d *Distributed) NumSNP() int         { return len(d.SNPList) }
func (d *Distributed) SNP(i int) SNP       { return d.SNPList[i] }
func (d *Distributed) Fingerprint() string { return d.FP }

// NumPieces implements Piecer.
func (d *Distributed) NumPieces(chrom int) int {
	for _, piece := range d.Pieces {
		if piece.Chrom == chrom {
			return piece.NumPiece
		}
	}
	return 0
}

// Read implements Collection. Only the pieces containing the requested
// columns are read.
func (d *Distributed) Read(ctx context.Context, rows, cols []int) (*mat.Dense, error) {
	if rows == nil {
		rows = identity(len(d.IIDList))
	}
	if cols == nil {
		cols = identity(len(d.SNPList))
	}
	if err := checkIndices("row", rows, len(d.IIDList)); err != nil {
		return nil, err
	}
	if err := checkIndices("column", cols, len(d.SNPList)); err != nil {
		return nil, err
	}
	if len(rows) == 0 || len(cols) == 0 {
		return nil, errors.E(errors.Invalid, "empty selection")
	}
	// Group requested columns by the piece that holds them.
	var (
		needed = make(map[int][]int)
		pieces []int
	)
	for j, col := range cols {
		p := sort.Search(len(d.Pieces), func(i int) bool {
			return d.Pieces[i].Start+d.Pieces[i].N > col
		})
		if _, ok := needed[p]; !ok {
			pieces = append(pieces, p)
		}
		needed[p] = append(needed[p], j)
	}
	dst := mat.NewDense(len(rows), len(cols), nil)
	err := traverse.Each(len(pieces), func(k int) error {
		piece := d.Pieces[pieces[k]]
		_, vals, err := readPiece(ctx, piece.Path, true)
		if err != nil {
			return err
		}
		// Each destination column is written by exactly one piece.
		for _, j := range needed[pieces[k]] {
			local := cols[j] - piece.Start
			for i, row := range rows {
				dst.Set(i, j, vals.At(row, local))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dst, nil
}
