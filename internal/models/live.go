package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LiveType is how the broadcast reaches the encoder.
type LiveType string

const (
	LiveTypeRaw   LiveType = "raw"   // RTMP push straight from the broadcaster's software
	LiveTypeJitsi LiveType = "jitsi" // conferencing room re-streamed to the encoder
)

// Upload states govern the asset produced after harvesting.
const (
	UploadStatePending    = "pending"
	UploadStateProcessing = "processing"
	UploadStateReady      = "ready"
	UploadStateError      = "error"
	UploadStateDeleted    = "deleted"
)

// Side channel (interactive chat room) modes.
const (
	SideChannelNone = "none"
	SideChannelLive = "live"
	SideChannelVOD  = "vod"
)

// SliceStatus is the harvest progress of one recording slice.
type SliceStatus string

const (
	SliceStatusNone       SliceStatus = ""
	SliceStatusPending    SliceStatus = "pending"
	SliceStatusProcessing SliceStatus = "processing"
	SliceStatusReady      SliceStatus = "ready"
	SliceStatusError      SliceStatus = "error"
)

// IsTerminal reports whether the harvest of a slice has finished either way.
func (s SliceStatus) IsTerminal() bool {
	return s == SliceStatusReady || s == SliceStatusError
}

// LiveInfo holds the external ids backing a live resource.
type LiveInfo struct {
	ChannelID            string   `json:"channel_id,omitempty"`
	InputID              string   `json:"input_id,omitempty"`
	InputEndpoints       []string `json:"input_endpoints,omitempty"`
	PackagingChannelID   string   `json:"packaging_channel_id,omitempty"`
	PackagingEndpointID  string   `json:"packaging_endpoint_id,omitempty"`
	PackagingEndpointURL string   `json:"packaging_endpoint_url,omitempty"`
	Stamp                string   `json:"stamp,omitempty"`
	Provider             string   `json:"provider,omitempty"`
	StartedAt            *int64   `json:"started_at,omitempty"`
	StoppedAt            *int64   `json:"stopped_at,omitempty"`
}

// RecordingSlice is one recorded window. Stop is nil while the window is open.
type RecordingSlice struct {
	Start              int64       `json:"start"`
	Stop               *int64      `json:"stop,omitempty"`
	Status             SliceStatus `json:"status,omitempty"`
	HarvestJobID       string      `json:"harvest_job_id,omitempty"`
	ManifestKey        string      `json:"manifest_key,omitempty"`
	HarvestedDirectory string      `json:"harvested_directory,omitempty"`
}

// IsOpen reports whether recording is still running for this slice.
func (s RecordingSlice) IsOpen() bool { return s.Stop == nil }

// Duration is zero for an open slice.
func (s RecordingSlice) Duration() int64 {
	if s.Stop == nil {
		return 0
	}
	return *s.Stop - s.Start
}

// LiveResource is a scheduled or running broadcast.
type LiveResource struct {
	ID                uuid.UUID        `json:"id"`
	Title             string           `json:"title"`
	LiveState         LiveState        `json:"live_state"`
	LiveType          LiveType         `json:"live_type"`
	AllowRecording    bool             `json:"allow_recording"`
	LiveInfo          *LiveInfo        `json:"live_info,omitempty"`
	RecordingSlices   []RecordingSlice `json:"recording_slices"`
	RecordingTime     int64            `json:"recording_time"`
	UploadState       string           `json:"upload_state"`
	TranscodePipeline string           `json:"transcode_pipeline,omitempty"`
	SideChannel       string           `json:"side_channel"`
	StartingAt        *time.Time       `json:"starting_at,omitempty"`
	UploadedOn        *time.Time       `json:"uploaded_on,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Info returns live_info, or a zero value when it was never set or was cleared.
func (l *LiveResource) Info() LiveInfo {
	if l.LiveInfo == nil {
		return LiveInfo{}
	}
	return *l.LiveInfo
}

// EnsureInfo returns a mutable live_info, allocating it if needed.
func (l *LiveResource) EnsureInfo() *LiveInfo {
	if l.LiveInfo == nil {
		l.LiveInfo = &LiveInfo{}
	}
	return l.LiveInfo
}

// OpenSlice returns the index of the open slice, or -1.
func (l *LiveResource) OpenSlice() int {
	for i := len(l.RecordingSlices) - 1; i >= 0; i-- {
		if l.RecordingSlices[i].IsOpen() {
			return i
		}
	}
	return -1
}

// IsRecording reports whether a recording window is open.
func (l *LiveResource) IsRecording() bool { return l.OpenSlice() >= 0 }

// RecordedSeconds sums the duration of every closed slice.
func (l *LiveResource) RecordedSeconds() int64 {
	var total int64
	for _, s := range l.RecordingSlices {
		total += s.Duration()
	}
	return total
}

// CountSlices returns how many slices are in the given status.
func (l *LiveResource) CountSlices(status SliceStatus) int {
	n := 0
	for _, s := range l.RecordingSlices {
		if !s.IsOpen() && s.Status == status {
			n++
		}
	}
	return n
}

// Slice validation errors.
var (
	ErrMultipleOpenSlices   = errors.New("more than one open recording slice")
	ErrOpenSliceNotLast     = errors.New("open recording slice is not the last one")
	ErrSliceStopBeforeStart = errors.New("recording slice does not stop after it starts")
	ErrOpenSliceHarvested   = errors.New("open recording slice carries harvest data")
)

// ValidateSlices checks that a slice list is well formed.
// It runs whenever slices cross the persistence boundary.
func ValidateSlices(slices []RecordingSlice) error {
	open := 0
	for i, s := range slices {
		if s.IsOpen() {
			open++
			if open > 1 {
				return ErrMultipleOpenSlices
			}
			if i != len(slices)-1 {
				return ErrOpenSliceNotLast
			}
			if s.Status != SliceStatusNone || s.HarvestJobID != "" || s.ManifestKey != "" {
				return fmt.Errorf("slice %d: %w", i+1, ErrOpenSliceHarvested)
			}
			continue
		}
		if *s.Stop <= s.Start {
			return fmt.Errorf("slice %d: %w", i+1, ErrSliceStopBeforeStart)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (l *LiveResource) Clone() *LiveResource {
	out := *l
	if l.LiveInfo != nil {
		info := *l.LiveInfo
		info.InputEndpoints = append([]string(nil), l.LiveInfo.InputEndpoints...)
		info.StartedAt = cloneInt64(l.LiveInfo.StartedAt)
		info.StoppedAt = cloneInt64(l.LiveInfo.StoppedAt)
		out.LiveInfo = &info
	}
	if l.RecordingSlices != nil {
		out.RecordingSlices = make([]RecordingSlice, len(l.RecordingSlices))
		for i, s := range l.RecordingSlices {
			s.Stop = cloneInt64(s.Stop)
			out.RecordingSlices[i] = s
		}
	}
	if l.StartingAt != nil {
		t := *l.StartingAt
		out.StartingAt = &t
	}
	if l.UploadedOn != nil {
		t := *l.UploadedOn
		out.UploadedOn = &t
	}
	return &out
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
