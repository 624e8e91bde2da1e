// Package storage defines the blob store abstraction result files are
// written through. Implementations live in the subpackages (local, memory,
// gcs, minio).
package storage

import (
	"context"
	"io"
	"path"
	"strings"
)

// BlobStore persists one object and returns a URI describing where it went.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Prefixed namespaces every object under prefix.
type Prefixed struct {
	Store  BlobStore
	Prefix string
}

// WithPrefix wraps store so objects land under prefix. An empty prefix
// returns store unchanged.
func WithPrefix(store BlobStore, prefix string) BlobStore {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return store
	}
	return &Prefixed{Store: store, Prefix: prefix}
}

// PutObject implements BlobStore.
func (p *Prefixed) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	return p.Store.PutObject(ctx, path.Join(p.Prefix, name), contentType, r)
}
