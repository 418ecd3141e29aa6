package lives

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/campus-live/backend/internal/models"
)

// ErrNotFound is returned when no live resource has the requested id.
var ErrNotFound = errors.New("live not found")

// UpdateFunc mutates a live resource under an exclusive lock. Returning an
// error aborts the update and nothing is persisted.
type UpdateFunc func(live *models.LiveResource) error

// Store persists live resources.
type Store interface {
	Create(ctx context.Context, live *models.LiveResource) error
	Get(ctx context.Context, id uuid.UUID) (*models.LiveResource, error)
	// Update locks the row for the duration of fn and returns the stored result.
	Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*models.LiveResource, error)
	ListByStates(ctx context.Context, states ...models.LiveState) ([]*models.LiveResource, error)
}
