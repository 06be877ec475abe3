// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cache

import (
	"bytes"
	"context"
	"io/ioutil"
	"path"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectConfig configures an object store.
type ObjectConfig struct {
	// Endpoint is the host:port of an S3-compatible service.
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Bucket holds the entries, under Prefix.
	Bucket string
	Prefix string
}

// Object is a store in a bucket of an S3-compatible object service,
// such as MinIO. Objects are published atomically by the service.
// The client is created on first use, so that an Object may be
// serialized and used by remote workers.
type Object struct {
	Config ObjectConfig

	mu     sync.Mutex
	client *minio.Client
	// ready is set once the bucket is known to exist.
	ready bool
}

// NewObject returns an object store with the given configuration.
func NewObject(config ObjectConfig) (*Object, error) {
	config.Endpoint = strings.TrimSpace(config.Endpoint)
	config.Prefix = strings.Trim(config.Prefix, "/")
	if config.Endpoint == "" {
		return nil, errors.E(errors.Invalid, "cache: object store endpoint is required")
	}
	if config.Bucket == "" {
		return nil, errors.E(errors.Invalid, "cache: object store bucket is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}
	return &Object{Config: config}, nil
}

// init returns the store's client, creating it and the bucket if
// needed. Failures are not remembered: a later call tries again.
func (o *Object) init(ctx context.Context) (*minio.Client, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client == nil {
		var creds *credentials.Credentials
		if o.Config.AccessKey != "" {
			creds = credentials.NewStaticV4(o.Config.AccessKey, o.Config.SecretKey, "")
		} else {
			creds = credentials.NewEnvAWS()
		}
		client, err := minio.New(o.Config.Endpoint, &minio.Options{
			Creds:  creds,
			Secure: o.Config.UseSSL,
			Region: o.Config.Region,
		})
		if err != nil {
			return nil, errors.E(errors.Invalid, "cache: object store client", err)
		}
		o.client = client
	}
	if o.ready {
		return o.client, nil
	}
	exists, err := o.client.BucketExists(ctx, o.Config.Bucket)
	if err != nil {
		return nil, errors.E(errors.Net, "cache: bucket ", o.Config.Bucket, err)
	}
	if !exists {
		log.Printf("cache: creating bucket %s", o.Config.Bucket)
		err := o.client.MakeBucket(ctx, o.Config.Bucket, minio.MakeBucketOptions{Region: o.Config.Region})
		if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
			return nil, errors.E(errors.Net, "cache: creating bucket ", o.Config.Bucket, err)
		}
	}
	o.ready = true
	return o.client, nil
}

func (o *Object) object(key string) string {
	return path.Join(o.Config.Prefix, key)
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

func (o *Object) Exists(ctx context.Context, key string) (bool, error) {
	client, err := o.init(ctx)
	if err != nil {
		return false, err
	}
	_, err = client.StatObject(ctx, o.Config.Bucket, o.object(key), minio.StatObjectOptions{})
	switch {
	case err == nil:
		return true, nil
	case isNoSuchKey(err):
		return false, nil
	default:
		return false, errors.E(errors.Net, err)
	}
}

func (o *Object) Get(ctx context.Context, key string) ([]byte, error) {
	client, err := o.init(ctx)
	if err != nil {
		return nil, err
	}
	obj, err := client.GetObject(ctx, o.Config.Bucket, o.object(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.E(errors.Net, err)
	}
	defer obj.Close()
	p, err := ioutil.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, errors.E(errors.NotExist, "cache: ", key)
		}
		return nil, errors.E(errors.Net, err)
	}
	return p, nil
}

func (o *Object) Put(ctx context.Context, key string, p []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	client, err := o.init(ctx)
	if err != nil {
		return err
	}
	_, err = client.PutObject(ctx, o.Config.Bucket, o.object(key), bytes.NewReader(p), int64(len(p)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return errors.E(errors.Net, err)
	}
	return nil
}

func (o *Object) Remove(ctx context.Context, key string) error {
	client, err := o.init(ctx)
	if err != nil {
		return err
	}
	err = client.RemoveObject(ctx, o.Config.Bucket, o.object(key), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return errors.E(errors.Net, err)
	}
	return nil
}

func (o *Object) Clear(ctx context.Context, ns string) error {
	client, err := o.init(ctx)
	if err != nil {
		return err
	}
	prefix := o.object(strings.Trim(ns, "/"))
	if prefix != "" {
		prefix += "/"
	}
	// Canceling ctx stops the listing when Clear returns early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var n int
	for info := range client.ListObjects(ctx, o.Config.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return errors.E(errors.Net, info.Err)
		}
		if err := client.RemoveObject(ctx, o.Config.Bucket, info.Key, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
			return errors.E(errors.Net, err)
		}
		n++
	}
	log.Printf("cache: cleared %d objects from %s/%s", n, o.Config.Bucket, prefix)
	return nil
}
