// Package storage defines the object store contract the layout writer
// targets. Put overwrites any existing object at the key, which is what
// makes partition rewrites idempotent.
package storage

import (
	"context"
	"io"
)

// ObjectStore is the narrow object storage surface the engine needs
type ObjectStore interface {
	// Put writes an object, replacing any existing object at key
	Put(ctx context.Context, key string, body io.Reader) error

	// List returns the keys under a prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// BaseURI returns the store's root location (e.g. s3://bucket),
	// used to compose catalog table and partition locations
	BaseURI() string

	// Ping verifies the store is reachable and writable metadata-wise
	Ping(ctx context.Context) error
}
