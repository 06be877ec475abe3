// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// Peer is a store shared by a pool of peers. Each peer writes entries
// into its own directory, under Root/ID, and then publishes a marker
// in the common directory naming itself as the entry's owner. Any peer
// can then read any entry: it consults the marker and reads from the
// owner's directory. Peer is safe to use concurrently from many peers;
// when two peers put the same key, the last marker wins, and both
// copies are valid.
type Peer struct {
	// Common is the directory holding markers.
	Common string
	// Root is the directory holding each peer's directory.
	Root string
	// ID names this peer.
	ID string
}

// NewPeer returns a peer store with a fresh identity. The common and
// root directories must not overlap.
func NewPeer(common, root string) *Peer {
	return &Peer{
		Common: strings.TrimSuffix(common, "/"),
		Root:   strings.TrimSuffix(root, "/"),
		ID:     uuid.NewString(),
	}
}

func (p *Peer) marker(key string) string {
	return file.Join(p.Common, key)
}

func (p *Peer) data(owner, key string) string {
	return file.Join(p.Root, owner, key)
}

func (p *Peer) owner(ctx context.Context, key string) (string, error) {
	b, err := readFile(ctx, p.marker(key))
	if err != nil {
		return "", err
	}
	owner := string(b)
	if owner == "" || strings.Contains(owner, "/") || strings.Contains(owner, "..") {
		return "", errors.E(errors.Integrity, "cache: bad owner in marker for ", key)
	}
	return owner, nil
}

func (p *Peer) Exists(ctx context.Context, key string) (bool, error) {
	return exists(ctx, p.marker(key))
}

func (p *Peer) Get(ctx context.Context, key string) ([]byte, error) {
	owner, err := p.owner(ctx, key)
	if err != nil {
		return nil, err
	}
	return readFile(ctx, p.data(owner, key))
}

func (p *Peer) Put(ctx context.Context, key string, b []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := writeFile(ctx, p.data(p.ID, key), b); err != nil {
		return err
	}
	return writeFile(ctx, p.marker(key), []byte(p.ID))
}

func (p *Peer) Remove(ctx context.Context, key string) error {
	owner, err := p.owner(ctx, key)
	if errors.Is(errors.NotExist, err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := remove(ctx, p.marker(key)); err != nil {
		return err
	}
	return remove(ctx, p.data(owner, key))
}

// Clear removes the markers in namespace ns, and the entries they name.
// Entries written by peers whose markers were since replaced remain in
// those peers' directories until they are overwritten.
func (p *Peer) Clear(ctx context.Context, ns string) error {
	markers, err := list(ctx, p.Common, ns)
	if err != nil {
		return err
	}
	for _, marker := range markers {
		key := strings.TrimPrefix(strings.TrimPrefix(marker, p.Common), "/")
		if err := p.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
