package blob

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/redis/go-redis/v9"

	"github.com/syncforge/syncforge"
)

// Compile-time interface check.
var _ Store = (*Redis)(nil)

// blobKey returns the Redis key for a digest: syncforge:blob:{digest}
func blobKey(digest string) string { return "syncforge:blob:" + digest }

// Redis is a blob store backed by Redis string values. Suited to small and
// medium artifacts (metadata files, package indexes); large payloads belong
// in object storage.
type Redis struct {
	client redis.Cmdable
}

// NewRedis creates a Redis-backed blob store. The caller owns the Redis
// client lifecycle.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

// Ping verifies the Redis connection is alive.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Put implements Store using SETNX so concurrent writers of the same
// digest race safely.
func (r *Redis) Put(ctx context.Context, digest string, src io.Reader) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	return r.client.SetNX(ctx, blobKey(digest), data, 0).Err()
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, digest string) (io.ReadCloser, error) {
	data, err := r.client.Get(ctx, blobKey(digest)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, syncforge.ErrBlobNotFound
		}
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists implements Store.
func (r *Redis) Exists(ctx context.Context, digest string) (bool, error) {
	n, err := r.client.Exists(ctx, blobKey(digest)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, digest string) error {
	return r.client.Del(ctx, blobKey(digest)).Err()
}
