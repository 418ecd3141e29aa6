package lives

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campus-live/backend/internal/models"
)

// MemoryStore keeps live resources in process. A single mutex serialises
// updates the way a row lock does in Postgres.
type MemoryStore struct {
	mu    sync.Mutex
	lives map[uuid.UUID]*models.LiveResource
	now   func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lives: make(map[uuid.UUID]*models.LiveResource), now: time.Now}
}

// SetClock replaces the time source used for created_at and updated_at.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Create(_ context.Context, live *models.LiveResource) error {
	if err := models.ValidateSlices(live.RecordingSlices); err != nil {
		return fmt.Errorf("create live: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if live.ID == uuid.Nil {
		live.ID = uuid.New()
	}
	if _, ok := s.lives[live.ID]; ok {
		return fmt.Errorf("create live %s: already exists", live.ID)
	}
	now := s.now()
	live.CreatedAt, live.UpdatedAt = now, now
	s.lives[live.ID] = live.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.LiveResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live, ok := s.lives[id]
	if !ok {
		return nil, ErrNotFound
	}
	return live.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id uuid.UUID, fn UpdateFunc) (*models.LiveResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.lives[id]
	if !ok {
		return nil, ErrNotFound
	}
	live := stored.Clone()
	if err := fn(live); err != nil {
		return nil, err
	}
	if err := models.ValidateSlices(live.RecordingSlices); err != nil {
		return nil, fmt.Errorf("update live %s: %w", id, err)
	}
	live.ID = id
	live.UpdatedAt = s.now()
	s.lives[id] = live.Clone()
	return live, nil
}

func (s *MemoryStore) ListByStates(_ context.Context, states ...models.LiveState) ([]*models.LiveResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LiveResource
	for _, live := range s.lives {
		if slices.Contains(states, live.LiveState) {
			out = append(out, live.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.LiveResource) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
