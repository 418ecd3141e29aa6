package provider

import (
	"context"

	"github.com/campus-live/backend/pkg/storage"
)

// ObjectStore lists and deletes objects in the harvest destination bucket.
type ObjectStore interface {
	ListObjects(ctx context.Context, prefix, token string) (storage.ObjectPage, error)
	DeleteObjects(ctx context.Context, keys []string) error
}
