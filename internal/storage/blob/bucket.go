// Package blob provides the object storage backends used to hold entity
// records: a local directory tree and S3-compatible buckets.
package blob

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/newthinker/stratsync/internal/core"
)

// Bucket is a flat namespace of objects addressed by slash-separated keys.
type Bucket interface {
	// Put stores data under key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object at key, or an error matching core.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Keys returns every key under prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// CleanKey normalises a key and rejects keys escaping the bucket root.
func CleanKey(key string) (string, error) {
	k := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(key, "\\", "/")), "/")
	if k == "" || k == "." || strings.Contains(key, "..") {
		return "", core.WrapError(core.ErrRejected, fmt.Errorf("invalid object key %q", key))
	}
	return k, nil
}

func notFound(key string) error {
	return core.WrapError(core.ErrNotFound, fmt.Errorf("object %s", key))
}
