package blobstore

import (
	"context"
	"sync"

	"github.com/minio/minio-go/v7"
)

// Router dispatches locations to the local store or to one MinioStore per
// bucket. The object storage client is created on first use.
type Router struct {
	local *LocalStore

	mu        sync.Mutex
	newClient func() (*minio.Client, error)
	client    *minio.Client
	buckets   map[string]*MinioStore
}

// NewRouter creates a router whose local paths resolve against root.
func NewRouter(root string) *Router {
	return &Router{
		local:     NewLocalStore(root),
		newClient: NewMinioClient,
		buckets:   make(map[string]*MinioStore),
	}
}

// Store returns the store holding loc and the name of loc in it.
func (r *Router) Store(loc Location) (Store, string, error) {
	if !loc.Remote() {
		return r.local, loc.Key, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.buckets[loc.Bucket]; ok {
		return s, loc.Key, nil
	}
	if r.client == nil {
		c, err := r.newClient()
		if err != nil {
			return nil, "", err
		}
		r.client = c
	}
	s := NewMinioStore(r.client, loc.Bucket, "")
	r.buckets[loc.Bucket] = s
	return s, loc.Key, nil
}

// Get reads the blob at loc.
func (r *Router) Get(ctx context.Context, loc Location) ([]byte, error) {
	s, name, err := r.Store(loc)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, name)
}

// Put writes the blob at loc.
func (r *Router) Put(ctx context.Context, loc Location, data []byte) error {
	s, name, err := r.Store(loc)
	if err != nil {
		return err
	}
	return s.Put(ctx, name, data)
}
