// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package blob implements the framing used for every blob that bigsnp
// persists: cached partial results, materialized collections, and
// collection pieces. A blob is a zstd-compressed gob stream. The
// stream begins with a format header, and each value in the stream is
// followed by the CRC32 checksum of its encoding, so that truncated or
// otherwise corrupted blobs are detected on decode and reported as
// errors of kind errors.Integrity.
package blob

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/grailbio/base/compress/zstd"
	"github.com/grailbio/base/errors"
)

// Magic is the header written at the beginning of each blob. It is
// bumped whenever the encoding of persisted values changes, so that
// stale blobs are rejected instead of misread.
const Magic = "bigsnp.blob.v1"

// An Encoder writes a stream of checksummed values.
type Encoder struct {
	zw  io.WriteCloser
	enc *gob.Encoder
	crc hash.Hash32
}

// NewEncoder returns an encoder that writes a blob to w. The caller
// must call Close to flush the stream; Close does not close w.
func NewEncoder(w io.Writer) (*Encoder, error) {
	return newEncoder(w, Magic)
}

func newEncoder(w io.Writer, magic string) (*Encoder, error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, err
	}
	crc := crc32.NewIEEE()
	e := &Encoder{
		zw:  zw,
		enc: gob.NewEncoder(io.MultiWriter(zw, crc)),
		crc: crc,
	}
	if err := e.Encode(magic); err != nil {
		return nil, err
	}
	return e, nil
}

// Encode encodes the value v followed by its checksum.
func (e *Encoder) Encode(v interface{}) error {
	e.crc.Reset()
	if err := e.enc.Encode(v); err != nil {
		return err
	}
	return e.enc.Encode(e.crc.Sum32())
}

// Close flushes the underlying compressor.
func (e *Encoder) Close() error {
	return e.zw.Close()
}

// A Decoder reads a stream of values written by an Encoder.
type Decoder struct {
	zr  io.ReadCloser
	dec *gob.Decoder
	crc hash.Hash32
}

// NewDecoder returns a decoder for the blob in r. The blob's header is
// verified before NewDecoder returns.
func NewDecoder(r io.Reader) (*Decoder, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.E(errors.Integrity, "blob: open compressed stream", err)
	}
	// The checksum must see exactly the bytes consumed by gob. Gob adds
	// its own buffering unless the reader implements io.ByteReader, so
	// we buffer below the tee and pretend to implement io.ByteReader
	// above it.
	crc := crc32.NewIEEE()
	var br io.Reader = bufio.NewReader(zr)
	br = io.TeeReader(br, crc)
	d := &Decoder{
		zr:  zr,
		dec: gob.NewDecoder(readerByteReader{Reader: br}),
		crc: crc,
	}
	var magic string
	if err := d.Decode(&magic); err != nil {
		zr.Close()
		if err == io.EOF {
			err = errors.E(errors.Integrity, "blob: empty stream")
		}
		return nil, err
	}
	if magic != Magic {
		zr.Close()
		return nil, errors.E(errors.Integrity, fmt.Sprintf("blob: bad header %q, expected %q", magic, Magic))
	}
	return d, nil
}

// Decode decodes the next value into v. Decode returns io.EOF at the
// end of the stream. Any other failure is an integrity error.
func (d *Decoder) Decode(v interface{}) error {
	d.crc.Reset()
	if err := d.dec.Decode(v); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return errors.E(errors.Integrity, "blob: decode", err)
	}
	sum := d.crc.Sum32()
	var decoded uint32
	if err := d.dec.Decode(&decoded); err != nil {
		return errors.E(errors.Integrity, "blob: decode checksum", err)
	}
	if sum != decoded {
		return errors.E(errors.Integrity, fmt.Errorf("blob: computed checksum %x but expected checksum %x", sum, decoded))
	}
	return nil
}

// Close releases the decompressor. It does not close the underlying reader.
func (d *Decoder) Close() error {
	return d.zr.Close()
}

// Marshal encodes the single value v as a blob.
func Marshal(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	enc, err := NewEncoder(&b)
	if err != nil {
		return nil, err
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal decodes a blob produced by Marshal into v. A blob that is
// empty, truncated, or fails its checksum yields an errors.Integrity
// error.
func Unmarshal(p []byte, v interface{}) error {
	dec, err := NewDecoder(bytes.NewReader(p))
	if err != nil {
		return err
	}
	defer dec.Close()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			err = errors.E(errors.Integrity, "blob: missing value")
		}
		return err
	}
	return nil
}

// readerByteReader is used to provide an (invalid) implementation of
// io.ByteReader to gob.Decoder. See comment in NewDecoder for details.
type readerByteReader struct {
	io.Reader
	io.ByteReader
}
