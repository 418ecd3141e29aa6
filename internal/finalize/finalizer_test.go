package finalize

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-live/backend/internal/lives"
	"github.com/campus-live/backend/internal/models"
	"github.com/campus-live/backend/internal/notify"
)

type sent struct {
	audience notify.Audience
	live     *models.LiveResource
}

type recorder struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recorder) Notify(_ context.Context, live *models.LiveResource, audience notify.Audience) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{audience: audience, live: live})
}

func harvestedLive() *models.LiveResource {
	return &models.LiveResource{
		LiveState:   models.LiveStateHarvested,
		UploadState: models.UploadStatePending,
		SideChannel: models.SideChannelLive,
		LiveInfo:    &models.LiveInfo{ChannelID: "ch-1", InputEndpoints: []string{"rtmp://x"}},
		RecordingSlices: []models.RecordingSlice{
			{Start: 1000, Stop: models.Int64(1600), Status: models.SliceStatusReady},
			{Start: 2000, Stop: models.Int64(2300), Status: models.SliceStatusError},
		},
	}
}

func TestConvert(t *testing.T) {
	store := lives.NewMemoryStore()
	live := harvestedLive()
	require.NoError(t, store.Create(context.Background(), live))
	rec := &recorder{}
	f := New(store, rec, "harvest", nil, nil)
	f.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	got, err := f.Convert(context.Background(), live.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LiveStateEnded, got.LiveState)
	assert.Equal(t, int64(900), got.RecordingTime)
	assert.Equal(t, models.UploadStateProcessing, got.UploadState)
	assert.Equal(t, "harvest", got.TranscodePipeline)
	assert.Equal(t, models.SideChannelVOD, got.SideChannel)
	assert.Nil(t, got.LiveInfo)
	require.NotNil(t, got.UploadedOn)

	require.Len(t, rec.sent, 2)
	assert.Equal(t, notify.AudienceParticipant, rec.sent[0].audience)
	assert.Equal(t, notify.AudienceAdmin, rec.sent[1].audience)
}

func TestConvertWithoutSideChannel(t *testing.T) {
	store := lives.NewMemoryStore()
	live := harvestedLive()
	live.SideChannel = models.SideChannelNone
	require.NoError(t, store.Create(context.Background(), live))

	got, err := New(store, nil, "harvest", nil, nil).Convert(context.Background(), live.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SideChannelNone, got.SideChannel)
}

func TestConvertRequiresHarvested(t *testing.T) {
	for _, state := range []models.LiveState{models.LiveStateStopped, models.LiveStateHarvesting, models.LiveStateEnded} {
		t.Run(string(state), func(t *testing.T) {
			store := lives.NewMemoryStore()
			live := harvestedLive()
			live.LiveState = state
			require.NoError(t, store.Create(context.Background(), live))
			rec := &recorder{}

			_, err := New(store, rec, "harvest", nil, nil).Convert(context.Background(), live.ID)
			require.ErrorIs(t, err, ErrNotHarvested)
			assert.Equal(t, "Live is not harvested.", err.Error())
			assert.Empty(t, rec.sent)

			got, _ := store.Get(context.Background(), live.ID)
			assert.Equal(t, state, got.LiveState)
			assert.NotNil(t, got.LiveInfo)
		})
	}
}
