package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/campus-live/backend/internal/provider"
)

// ErrPrefixNotEmpty is returned when objects remain under a prefix after purging.
var ErrPrefixNotEmpty = errors.New("objects remain under prefix after purge")

// Reclaimer deletes every stored object of a live.
type Reclaimer struct {
	objects provider.ObjectStore
	logger  *zap.Logger
}

// NewReclaimer creates a reclaimer over the harvest destination bucket.
func NewReclaimer(objects provider.ObjectStore, logger *zap.Logger) *Reclaimer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reclaimer{objects: objects, logger: logger}
}

// PurgePrefix deletes each listed page until the listing is no longer
// truncated, then re-lists to check that nothing is left.
func (r *Reclaimer) PurgePrefix(ctx context.Context, prefix string) (int, error) {
	pager := provider.NewPager(r.listPage(prefix), "")
	deleted := 0
	for !pager.Done() {
		keys, err := pager.Next(ctx)
		if err != nil {
			return deleted, err
		}
		if len(keys) == 0 {
			continue
		}
		if err := r.objects.DeleteObjects(ctx, keys); err != nil {
			return deleted, fmt.Errorf("delete objects under %s: %w", prefix, err)
		}
		deleted += len(keys)
	}

	left, err := r.objects.ListObjects(ctx, prefix, "")
	if err != nil {
		return deleted, fmt.Errorf("verify purge of %s: %w", prefix, err)
	}
	if len(left.Keys) > 0 {
		return deleted, fmt.Errorf("%s: %d keys: %w", prefix, len(left.Keys), ErrPrefixNotEmpty)
	}
	r.logger.Debug("prefix purged", zap.String("prefix", prefix), zap.Int("deleted", deleted))
	return deleted, nil
}

func (r *Reclaimer) listPage(prefix string) provider.PageFunc[string] {
	return func(ctx context.Context, token string) ([]string, string, error) {
		page, err := r.objects.ListObjects(ctx, prefix, token)
		if err != nil {
			return nil, "", fmt.Errorf("list objects under %s: %w", prefix, err)
		}
		if !page.Truncated {
			return page.Keys, "", nil
		}
		return page.Keys, page.NextToken, nil
	}
}
