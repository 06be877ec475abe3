// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"io/ioutil"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// File is a store of one file per entry under a directory prefix,
// which may be a local directory or a URL supported by package file
// (for example s3://bucket/prefix). A local directory serves a single
// machine; a shared file system or a URL is shared among processes and
// machines. Entries are written through file.Create, which publishes
// them on close.
type File struct {
	// Dir is the directory prefix under which entries are stored.
	Dir string
}

// NewFile returns a file store rooted at dir.
func NewFile(dir string) *File {
	return &File{Dir: strings.TrimSuffix(dir, "/")}
}

func (f *File) path(key string) string {
	return file.Join(f.Dir, key)
}

func (f *File) Exists(ctx context.Context, key string) (bool, error) {
	return exists(ctx, f.path(key))
}

func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	return readFile(ctx, f.path(key))
}

func (f *File) Put(ctx context.Context, key string, p []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return writeFile(ctx, f.path(key), p)
}

func (f *File) Remove(ctx context.Context, key string) error {
	return remove(ctx, f.path(key))
}

func (f *File) Clear(ctx context.Context, ns string) error {
	paths, err := list(ctx, f.Dir, ns)
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := remove(ctx, path); err != nil {
			return err
		}
	}
	log.Printf("cache: cleared %d entries from %s", len(paths), f.Dir)
	return nil
}

func exists(ctx context.Context, path string) (bool, error) {
	_, err := file.Stat(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(errors.NotExist, err):
		return false, nil
	default:
		return false, err
	}
}

func readFile(ctx context.Context, path string) ([]byte, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx)
	return ioutil.ReadAll(f.Reader(ctx))
}

func writeFile(ctx context.Context, path string, p []byte) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	if _, err = f.Writer(ctx).Write(p); err != nil {
		f.Discard(ctx)
		return err
	}
	return f.Close(ctx)
}

func remove(ctx context.Context, path string) error {
	err := file.Remove(ctx, path)
	if err != nil && errors.Is(errors.NotExist, err) {
		return nil
	}
	return err
}

// list returns the paths of the files under dir in namespace ns.
func list(ctx context.Context, dir, ns string) ([]string, error) {
	prefix := dir
	if ns = strings.Trim(ns, "/"); ns != "" {
		prefix = file.Join(dir, ns)
	}
	var paths []string
	lst := file.List(ctx, prefix, true)
	for lst.Scan() {
		rel := strings.TrimPrefix(strings.TrimPrefix(lst.Path(), dir), "/")
		if inNamespace(rel, ns) {
			paths = append(paths, lst.Path())
		}
	}
	if err := lst.Err(); err != nil && !errors.Is(errors.NotExist, err) {
		return nil, err
	}
	return paths, nil
}
