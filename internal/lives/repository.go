package lives

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-live/backend/internal/models"
)

const liveColumns = `id, title, live_state, live_type, allow_recording, live_info, recording_slices,
	recording_time, upload_state, transcode_pipeline, side_channel, starting_at, uploaded_on, created_at, updated_at`

// Repository handles live resource persistence in PostgreSQL. Update takes
// a row lock (SELECT ... FOR UPDATE) for the duration of the callback.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a lives repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new live resource and fills in its id and timestamps.
func (r *Repository) Create(ctx context.Context, live *models.LiveResource) error {
	info, slices, err := encodeJSON(live)
	if err != nil {
		return err
	}
	if live.ID == uuid.Nil {
		live.ID = uuid.New()
	}
	const q = `INSERT INTO live_resources (id, title, live_state, live_type, allow_recording, live_info, recording_slices,
		recording_time, upload_state, transcode_pipeline, side_channel, starting_at, uploaded_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`
	err = r.pool.QueryRow(ctx, q,
		live.ID, live.Title, string(live.LiveState), string(live.LiveType), live.AllowRecording, info, slices,
		live.RecordingTime, live.UploadState, live.TranscodePipeline, live.SideChannel, live.StartingAt, live.UploadedOn,
	).Scan(&live.CreatedAt, &live.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert live: %w", err)
	}
	return nil
}

// Get returns a live resource by id, or ErrNotFound.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.LiveResource, error) {
	live, err := scanLive(r.pool.QueryRow(ctx, `SELECT `+liveColumns+` FROM live_resources WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get live %s: %w", id, err)
	}
	return live, nil
}

// Update locks the row, applies fn and writes the result in one transaction.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*models.LiveResource, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	live, err := scanLive(tx.QueryRow(ctx, `SELECT `+liveColumns+` FROM live_resources WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock live %s: %w", id, err)
	}

	if err := fn(live); err != nil {
		return nil, err
	}
	live.ID = id

	info, slices, err := encodeJSON(live)
	if err != nil {
		return nil, err
	}
	const q = `UPDATE live_resources SET title = $1, live_state = $2, live_type = $3, allow_recording = $4,
		live_info = $5, recording_slices = $6, recording_time = $7, upload_state = $8, transcode_pipeline = $9,
		side_channel = $10, starting_at = $11, uploaded_on = $12, updated_at = NOW()
		WHERE id = $13 RETURNING updated_at`
	err = tx.QueryRow(ctx, q,
		live.Title, string(live.LiveState), string(live.LiveType), live.AllowRecording,
		info, slices, live.RecordingTime, live.UploadState, live.TranscodePipeline,
		live.SideChannel, live.StartingAt, live.UploadedOn, id,
	).Scan(&live.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update live %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return live, nil
}

// ListByStates returns live resources in any of the given states, oldest first.
func (r *Repository) ListByStates(ctx context.Context, states ...models.LiveState) ([]*models.LiveResource, error) {
	names := make([]string, 0, len(states))
	for _, s := range states {
		names = append(names, string(s))
	}
	rows, err := r.pool.Query(ctx, `SELECT `+liveColumns+` FROM live_resources WHERE live_state = ANY($1) ORDER BY created_at, id`, names)
	if err != nil {
		return nil, fmt.Errorf("list lives: %w", err)
	}
	defer rows.Close()
	var list []*models.LiveResource
	for rows.Next() {
		live, err := scanLive(rows)
		if err != nil {
			return nil, fmt.Errorf("scan live: %w", err)
		}
		list = append(list, live)
	}
	return list, rows.Err()
}

func scanLive(row pgx.Row) (*models.LiveResource, error) {
	var (
		live         models.LiveResource
		state, typ   string
		info, slices []byte
	)
	err := row.Scan(&live.ID, &live.Title, &state, &typ, &live.AllowRecording, &info, &slices,
		&live.RecordingTime, &live.UploadState, &live.TranscodePipeline, &live.SideChannel,
		&live.StartingAt, &live.UploadedOn, &live.CreatedAt, &live.UpdatedAt)
	if err != nil {
		return nil, err
	}
	live.LiveState = models.LiveState(state)
	live.LiveType = models.LiveType(typ)
	if len(info) > 0 && string(info) != "null" {
		live.LiveInfo = &models.LiveInfo{}
		if err := json.Unmarshal(info, live.LiveInfo); err != nil {
			return nil, fmt.Errorf("decode live_info: %w", err)
		}
	}
	if len(slices) > 0 {
		if err := json.Unmarshal(slices, &live.RecordingSlices); err != nil {
			return nil, fmt.Errorf("decode recording_slices: %w", err)
		}
	}
	if err := models.ValidateSlices(live.RecordingSlices); err != nil {
		return nil, fmt.Errorf("live %s: %w", live.ID, err)
	}
	return &live, nil
}

// encodeJSON validates slices and serialises the jsonb columns.
func encodeJSON(live *models.LiveResource) (info, slices []byte, err error) {
	if err := models.ValidateSlices(live.RecordingSlices); err != nil {
		return nil, nil, fmt.Errorf("live %s: %w", live.ID, err)
	}
	if live.LiveInfo != nil {
		if info, err = json.Marshal(live.LiveInfo); err != nil {
			return nil, nil, fmt.Errorf("encode live_info: %w", err)
		}
	}
	recorded := live.RecordingSlices
	if recorded == nil {
		recorded = []models.RecordingSlice{}
	}
	if slices, err = json.Marshal(recorded); err != nil {
		return nil, nil, fmt.Errorf("encode recording_slices: %w", err)
	}
	return info, slices, nil
}

var _ Store = (*Repository)(nil)
