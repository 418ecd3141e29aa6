// Package reconcile holds the batch sweeps that converge local live state
// with what the provider reports and reclaim what nobody owns anymore.
package reconcile

import (
	"github.com/campus-live/backend/internal/models"
	"github.com/campus-live/backend/internal/provider"
)

// NextState returns the state a live should move to given the provider's
// channel state, and false when nothing should change. Transient provider
// states never move a live.
func NextState(external provider.ChannelState, local models.LiveState) (models.LiveState, bool) {
	if external.IsTransient() {
		return local, false
	}
	switch external {
	case provider.ChannelRunning:
		if local == models.LiveStateStarting || local == models.LiveStateIdle {
			return models.LiveStateRunning, true
		}
	case provider.ChannelIdle:
		if local == models.LiveStateRunning || local == models.LiveStateStarting || local == models.LiveStateStopping {
			return models.LiveStateStopped, true
		}
	case provider.ChannelStarting:
		if local == models.LiveStateIdle || local == models.LiveStateStopped {
			return models.LiveStateStarting, true
		}
	case provider.ChannelStopping:
		if local == models.LiveStateRunning {
			return models.LiveStateStopping, true
		}
	}
	return local, false
}
