package notify

import (
	"github.com/google/uuid"

	"github.com/campus-live/backend/internal/models"
)

// ParticipantView is what viewers of a live are allowed to see.
type ParticipantView struct {
	ID             uuid.UUID        `json:"id"`
	Title          string           `json:"title"`
	LiveState      models.LiveState `json:"live_state"`
	LiveType       models.LiveType  `json:"live_type"`
	AllowRecording bool             `json:"allow_recording"`
	IsRecording    bool             `json:"is_recording"`
	RecordingTime  int64            `json:"recording_time"`
	UploadState    string           `json:"upload_state"`
	SideChannel    string           `json:"side_channel"`
	StartingAt     *int64           `json:"starting_at,omitempty"`
}

// AdminView adds the provider details instructors need to broadcast.
type AdminView struct {
	ParticipantView
	InputEndpoints      []string                `json:"input_endpoints"`
	ChannelID           string                  `json:"channel_id,omitempty"`
	InputID             string                  `json:"input_id,omitempty"`
	PackagingChannelID  string                  `json:"packaging_channel_id,omitempty"`
	PackagingEndpointID string                  `json:"packaging_endpoint_id,omitempty"`
	RecordingSlices     []models.RecordingSlice `json:"recording_slices"`
	TranscodePipeline   string                  `json:"transcode_pipeline,omitempty"`
}

// NewParticipantView builds the viewer projection of a live.
func NewParticipantView(l *models.LiveResource) ParticipantView {
	v := ParticipantView{
		ID:             l.ID,
		Title:          l.Title,
		LiveState:      l.LiveState,
		LiveType:       l.LiveType,
		AllowRecording: l.AllowRecording,
		IsRecording:    l.IsRecording(),
		RecordingTime:  l.RecordingTime,
		UploadState:    l.UploadState,
		SideChannel:    l.SideChannel,
	}
	if l.StartingAt != nil {
		v.StartingAt = models.Int64(l.StartingAt.Unix())
	}
	return v
}

// NewAdminView builds the administrator projection of a live.
func NewAdminView(l *models.LiveResource) AdminView {
	info := l.Info()
	endpoints := info.InputEndpoints
	if endpoints == nil {
		endpoints = []string{}
	}
	slices := l.RecordingSlices
	if slices == nil {
		slices = []models.RecordingSlice{}
	}
	return AdminView{
		ParticipantView:     NewParticipantView(l),
		InputEndpoints:      endpoints,
		ChannelID:           info.ChannelID,
		InputID:             info.InputID,
		PackagingChannelID:  info.PackagingChannelID,
		PackagingEndpointID: info.PackagingEndpointID,
		RecordingSlices:     slices,
		TranscodePipeline:   l.TranscodePipeline,
	}
}

// ViewFor returns the projection of l for an audience.
func ViewFor(l *models.LiveResource, audience Audience) any {
	if audience == AudienceAdmin {
		return NewAdminView(l)
	}
	return NewParticipantView(l)
}
