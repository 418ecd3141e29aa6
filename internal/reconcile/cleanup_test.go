package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-live/backend/internal/lives"
	"github.com/campus-live/backend/internal/metrics"
	"github.com/campus-live/backend/internal/models"
	"github.com/campus-live/backend/internal/provider"
	"github.com/campus-live/backend/internal/provider/fake"
	"github.com/campus-live/backend/internal/provisioner"
)

const retention = 24 * time.Hour

type cleanupFixture struct {
	store   *lives.MemoryStore
	enc     *fake.Encoder
	pkg     *fake.Packager
	objects *fake.Objects
	prov    *provisioner.Provisioner
	m       *metrics.Metrics
	cleanup *Cleanup
}

func newCleanupFixture(t *testing.T) *cleanupFixture {
	t.Helper()
	f := &cleanupFixture{
		store:   lives.NewMemoryStore(),
		enc:     fake.NewEncoder(),
		pkg:     fake.NewPackager(),
		objects: fake.NewObjects(),
		m:       metrics.New(),
	}
	f.enc.PageSize = 2
	f.objects.PageSize = 3
	f.prov = provisioner.New(f.enc, f.pkg, provisioner.Config{
		Env:               "test",
		SecurityGroupTag:  "liveops-sg",
		WaiterMaxAttempts: 2,
		WaiterDelay:       time.Millisecond,
	}, f.m, nil)
	f.cleanup = NewCleanup(CleanupConfig{Env: "test", Retention: retention}, f.enc, f.prov, f.store, NewReclaimer(f.objects, nil), f.m, nil)
	f.cleanup.SetClock(func() time.Time { return sweepNow })
	return f
}

// provisioned stores a live in state with a fully provisioned stack and
// some harvested objects, stopped at stoppedAt.
func (f *cleanupFixture) provisioned(t *testing.T, state models.LiveState, stoppedAt time.Time) *models.LiveResource {
	t.Helper()
	ctx := context.Background()
	live := &models.LiveResource{LiveState: state}
	require.NoError(t, f.store.Create(ctx, live))
	info, err := f.prov.CreateLiveStream(ctx, live.ID)
	require.NoError(t, err)
	info.StoppedAt = models.Int64(stoppedAt.Unix())
	stored, err := f.store.Update(ctx, live.ID, func(l *models.LiveResource) error {
		l.LiveInfo = &info
		return nil
	})
	require.NoError(t, err)
	for i := range 7 {
		f.objects.Put(fmt.Sprintf("%s/cmaf/slice_1/segment_%d.mp4", live.ID, i))
	}
	return stored
}

func TestCleanupReclaimsExpiredLive(t *testing.T) {
	f := newCleanupFixture(t)
	old := f.provisioned(t, models.LiveStateStopped, sweepNow.Add(-retention-time.Hour))
	fresh := f.provisioned(t, models.LiveStateStopped, sweepNow.Add(-time.Hour))

	report, err := f.cleanup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.Zero(t, report.Failed)

	got, _ := f.store.Get(context.Background(), old.ID)
	assert.Equal(t, models.LiveStateDeleted, got.LiveState)
	assert.Equal(t, models.UploadStateDeleted, got.UploadState)
	assert.Nil(t, got.LiveInfo)
	assert.Empty(t, f.objects.Keys(provider.ObjectPrefix(old.ID)))
	_, ok := f.enc.Channel(old.Info().ChannelID)
	assert.False(t, ok)
	_, ok = f.enc.Input(old.Info().InputID)
	assert.False(t, ok)
	assert.False(t, f.pkg.HasChannel(old.Info().PackagingChannelID))

	got, _ = f.store.Get(context.Background(), fresh.ID)
	assert.Equal(t, models.LiveStateStopped, got.LiveState)
	assert.Len(t, f.objects.Keys(provider.ObjectPrefix(fresh.ID)), 7)
	_, ok = f.enc.Channel(fresh.Info().ChannelID)
	assert.True(t, ok)
}

func TestCleanupKeepsLivesOnAir(t *testing.T) {
	f := newCleanupFixture(t)
	live := f.provisioned(t, models.LiveStateRunning, sweepNow.Add(-72*time.Hour))
	stopped := f.provisioned(t, models.LiveStateStopped, sweepNow.Add(-72*time.Hour))
	f.enc.SetChannelState(stopped.Info().ChannelID, provider.ChannelRunning)

	report, err := f.cleanup.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Deleted)
	assert.Equal(t, 2, report.Skipped)

	got, _ := f.store.Get(context.Background(), live.ID)
	assert.Equal(t, models.LiveStateRunning, got.LiveState)
	got, _ = f.store.Get(context.Background(), stopped.ID)
	assert.Equal(t, models.LiveStateStopped, got.LiveState)
}

func TestCleanupDeletesOrphans(t *testing.T) {
	f := newCleanupFixture(t)
	ctx := context.Background()

	// No live at all.
	ghost := uuid.New()
	ghostName := provider.Name("test", ghost, "1")
	_, err := f.pkg.CreateChannel(ctx, ghostName, nil)
	require.NoError(t, err)
	f.enc.AddChannel(provider.Channel{ID: "ch-ghost", Name: ghostName, State: provider.ChannelIdle, InputIDs: []string{"in-ghost"}})

	// Live already ended.
	ended := f.provisioned(t, models.LiveStateStopped, sweepNow)
	_, err = f.store.Update(ctx, ended.ID, func(l *models.LiveResource) error {
		l.LiveState = models.LiveStateEnded
		return nil
	})
	require.NoError(t, err)

	// Stale duplicate: the live moved on to another channel.
	current := f.provisioned(t, models.LiveStateStopped, sweepNow)
	f.enc.AddChannel(provider.Channel{ID: "ch-stale", Name: provider.Name("test", current.ID, "1"), State: provider.ChannelIdle})

	// Another deployment's channel.
	f.enc.AddChannel(provider.Channel{ID: "ch-prod", Name: provider.Name("production", uuid.New(), "1"), State: provider.ChannelIdle})

	report, err := f.cleanup.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Deleted)
	assert.Zero(t, report.Failed)

	_, ok := f.enc.Channel("ch-ghost")
	assert.False(t, ok)
	_, ok = f.enc.Input("in-ghost")
	assert.False(t, ok)
	assert.False(t, f.pkg.HasChannel(ghostName))

	_, ok = f.enc.Channel(ended.Info().ChannelID)
	assert.False(t, ok)
	_, ok = f.enc.Channel("ch-stale")
	assert.False(t, ok)

	_, ok = f.enc.Channel(current.Info().ChannelID)
	assert.True(t, ok)
	_, ok = f.enc.Channel("ch-prod")
	assert.True(t, ok)
	got, _ := f.store.Get(ctx, current.ID)
	assert.Equal(t, models.LiveStateStopped, got.LiveState)
}

func TestCleanupReclaimsExpiredLiveWithoutChannel(t *testing.T) {
	f := newCleanupFixture(t)
	ctx := context.Background()
	starting := sweepNow.Add(-48 * time.Hour)
	live := &models.LiveResource{LiveState: models.LiveStateIdle, StartingAt: &starting}
	require.NoError(t, f.store.Create(ctx, live))
	f.objects.Put(live.ID.String() + "/thumbnail.jpg")

	never := &models.LiveResource{LiveState: models.LiveStateIdle}
	require.NoError(t, f.store.Create(ctx, never))

	report, err := f.cleanup.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)

	got, _ := f.store.Get(ctx, live.ID)
	assert.Equal(t, models.LiveStateDeleted, got.LiveState)
	assert.Empty(t, f.objects.Keys(provider.ObjectPrefix(live.ID)))
	got, _ = f.store.Get(ctx, never.ID)
	assert.Equal(t, models.LiveStateIdle, got.LiveState)
}

func TestCleanupIsolatesFailures(t *testing.T) {
	f := newCleanupFixture(t)
	a := f.provisioned(t, models.LiveStateStopped, sweepNow.Add(-72*time.Hour))
	b := f.provisioned(t, models.LiveStateHarvesting, sweepNow.Add(-72*time.Hour))
	f.objects.FailOn("DeleteObjects", errors.New("access denied"))

	report, err := f.cleanup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		got, _ := f.store.Get(context.Background(), id)
		assert.NotEqual(t, models.LiveStateDeleted, got.LiveState)
	}

	f.objects.FailOn("DeleteObjects", nil)
	report, err = f.cleanup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Deleted)
	for _, id := range []uuid.UUID{a.ID, b.ID} {
		got, _ := f.store.Get(context.Background(), id)
		assert.Equal(t, models.LiveStateDeleted, got.LiveState)
		assert.Empty(t, f.objects.Keys(provider.ObjectPrefix(id)))
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	f := newCleanupFixture(t)
	f.provisioned(t, models.LiveStateStopped, sweepNow.Add(-72*time.Hour))

	_, err := f.cleanup.Run(context.Background())
	require.NoError(t, err)
	report, err := f.cleanup.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Deleted)
	assert.Zero(t, report.Failed)
}

func TestCleanupReclaimsNeverStartedLive(t *testing.T) {
	f := newCleanupFixture(t)
	ctx := context.Background()
	created := sweepNow.Add(-30 * retention)
	f.store.SetClock(func() time.Time { return created })

	live := &models.LiveResource{LiveState: models.LiveStateIdle}
	require.NoError(t, f.store.Create(ctx, live))
	info, err := f.prov.CreateLiveStream(ctx, live.ID)
	require.NoError(t, err)
	_, err = f.store.Update(ctx, live.ID, func(l *models.LiveResource) error {
		l.LiveInfo = &info
		return nil
	})
	require.NoError(t, err)

	f.store.SetClock(func() time.Time { return sweepNow })
	recent := &models.LiveResource{LiveState: models.LiveStateIdle}
	require.NoError(t, f.store.Create(ctx, recent))

	report, err := f.cleanup.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)

	got, _ := f.store.Get(ctx, live.ID)
	assert.Equal(t, models.LiveStateDeleted, got.LiveState)
	assert.Zero(t, f.enc.ChannelCount())
	assert.Zero(t, f.enc.InputCount())
	assert.Zero(t, f.pkg.ChannelCount())

	got, _ = f.store.Get(ctx, recent.ID)
	assert.Equal(t, models.LiveStateIdle, got.LiveState)
}
