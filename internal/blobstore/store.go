// Package blobstore reads and writes the image files a quantization job
// consumes and produces, on the local file system or in S3-compatible object
// storage.
package blobstore

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error that satisfies errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// Store is a flat namespace of immutable blobs.
type Store interface {
	// Get reads a whole blob.
	Get(ctx context.Context, name string) ([]byte, error)

	// Put writes a whole blob, replacing any previous content.
	Put(ctx context.Context, name string, data []byte) error
}

// Location names a blob: a local path, or a bucket and key for "s3://" URLs.
type Location struct {
	Bucket string // empty for local paths
	Key    string
}

// Remote reports whether the location is in object storage.
func (l Location) Remote() bool { return l.Bucket != "" }

func (l Location) String() string {
	if l.Remote() {
		return "s3://" + l.Bucket + "/" + l.Key
	}
	return l.Key
}

// ParseLocation parses "s3://bucket/key" or a local path.
func ParseLocation(s string) (Location, error) {
	rest, ok := strings.CutPrefix(s, "s3://")
	if !ok {
		if s == "" {
			return Location{}, fmt.Errorf("blobstore: empty path")
		}
		return Location{Key: s}, nil
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return Location{}, fmt.Errorf("blobstore: %q: want s3://bucket/key", s)
	}
	return Location{Bucket: bucket, Key: key}, nil
}
