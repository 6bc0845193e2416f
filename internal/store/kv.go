// ABOUTME: Key-value persistence contract used by the record stores and settings
// ABOUTME: Each bounded collection lives as one serialized value under one key

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no stored value
var ErrNotFound = errors.New("not found")

// KV is the persistent key-value collaborator.
// Values are opaque bytes; callers own serialization.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
