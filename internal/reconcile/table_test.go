package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/campus-live/backend/internal/models"
	"github.com/campus-live/backend/internal/provider"
)

func TestNextState(t *testing.T) {
	type key struct {
		external provider.ChannelState
		local    models.LiveState
	}
	moves := map[key]models.LiveState{
		{provider.ChannelRunning, models.LiveStateStarting}: models.LiveStateRunning,
		{provider.ChannelRunning, models.LiveStateIdle}:     models.LiveStateRunning,
		{provider.ChannelIdle, models.LiveStateRunning}:     models.LiveStateStopped,
		{provider.ChannelIdle, models.LiveStateStarting}:    models.LiveStateStopped,
		{provider.ChannelIdle, models.LiveStateStopping}:    models.LiveStateStopped,
		{provider.ChannelStarting, models.LiveStateIdle}:    models.LiveStateStarting,
		{provider.ChannelStarting, models.LiveStateStopped}: models.LiveStateStarting,
		{provider.ChannelStopping, models.LiveStateRunning}: models.LiveStateStopping,
	}
	external := []provider.ChannelState{
		provider.ChannelCreating, provider.ChannelCreateFailed, provider.ChannelIdle, provider.ChannelStarting,
		provider.ChannelRunning, provider.ChannelRecovering, provider.ChannelStopping, provider.ChannelDeleting,
		provider.ChannelDeleted, provider.ChannelUpdating, provider.ChannelUpdateFailed,
	}

	for _, ext := range external {
		for _, local := range models.AllLiveStates {
			got, ok := NextState(ext, local)
			want, moved := moves[key{ext, local}]
			assert.Equal(t, moved, ok, "%s/%s", ext, local)
			if moved {
				assert.Equal(t, want, got, "%s/%s", ext, local)
				assert.True(t, models.CanTransition(local, got), "%s -> %s must be a valid transition", local, got)
			} else {
				assert.Equal(t, local, got)
			}
		}
	}
}

func TestNextStateIgnoresTransientStates(t *testing.T) {
	for _, ext := range []provider.ChannelState{provider.ChannelCreating, provider.ChannelDeleting, provider.ChannelUpdating, provider.ChannelRecovering} {
		for _, local := range models.AllLiveStates {
			_, ok := NextState(ext, local)
			assert.False(t, ok)
		}
	}
}
