// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cache

import (
	"fmt"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
)

func init() {
	config.Register("bigsnp/cache", func(constr *config.Constructor) {
		var (
			kind     string
			dir      string
			common   string
			capacity int
			object   ObjectConfig
		)
		constr.StringVar(&kind, "kind", "null", "kind of cache: null, memory, file, peer, or object")
		constr.StringVar(&dir, "dir", "", "directory (local or URL) of file caches; the root of peer caches")
		constr.StringVar(&common, "common", "", "directory of the markers shared by peer caches")
		constr.IntVar(&capacity, "capacity", 4096, "number of entries held by memory caches")
		constr.StringVar(&object.Endpoint, "endpoint", "", "host:port of the S3-compatible service of object caches")
		constr.StringVar(&object.Region, "region", "", "region of object caches")
		constr.StringVar(&object.Bucket, "bucket", "", "bucket of object caches")
		constr.StringVar(&object.Prefix, "prefix", "", "key prefix of object caches")
		constr.StringVar(&object.AccessKey, "access-key", "", "access key of object caches; taken from the environment if empty")
		constr.StringVar(&object.SecretKey, "secret-key", "", "secret key of object caches")
		constr.BoolVar(&object.UseSSL, "ssl", true, "use TLS to connect to object caches")
		constr.Doc = "bigsnp/cache configures the store in which scan results are cached"
		constr.New = func() (interface{}, error) {
			var store Store
			switch kind {
			case "", "null":
				store = Null{}
			case "memory":
				m, err := NewMemory(capacity)
				if err != nil {
					return nil, err
				}
				store = m
			case "file":
				if dir == "" {
					return nil, errors.E(errors.Invalid, "bigsnp/cache: file caches require a dir")
				}
				store = NewFile(dir)
			case "peer":
				if dir == "" || common == "" {
					return nil, errors.E(errors.Invalid, "bigsnp/cache: peer caches require a dir and a common directory")
				}
				store = NewPeer(common, dir)
			case "object":
				o, err := NewObject(object)
				if err != nil {
					return nil, err
				}
				store = o
			default:
				return nil, errors.E(errors.Invalid, fmt.Sprintf("bigsnp/cache: unknown kind %q", kind))
			}
			return store, nil
		}
	})
}
