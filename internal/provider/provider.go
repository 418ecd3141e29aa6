// Package provider describes the live encoding, packaging and object storage
// capabilities the live lifecycle depends on. Implementations live in
// subpackages; the lifecycle code only sees these interfaces.
package provider

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an external resource does not exist (anymore).
var ErrNotFound = errors.New("provider: resource not found")

// ChannelState is the operational state reported by the encoder.
type ChannelState string

const (
	ChannelCreating     ChannelState = "creating"
	ChannelCreateFailed ChannelState = "create_failed"
	ChannelIdle         ChannelState = "idle"
	ChannelStarting     ChannelState = "starting"
	ChannelRunning      ChannelState = "running"
	ChannelRecovering   ChannelState = "recovering"
	ChannelStopping     ChannelState = "stopping"
	ChannelDeleting     ChannelState = "deleting"
	ChannelDeleted      ChannelState = "deleted"
	ChannelUpdating     ChannelState = "updating"
	ChannelUpdateFailed ChannelState = "update_failed"
)

// IsTransient reports whether the channel is between stable states.
func (s ChannelState) IsTransient() bool {
	switch s {
	case ChannelCreating, ChannelDeleting, ChannelUpdating, ChannelRecovering:
		return true
	}
	return false
}

// InputState is the attachment state of an encoder input.
type InputState string

const (
	InputCreating InputState = "creating"
	InputDetached InputState = "detached"
	InputAttached InputState = "attached"
	InputDeleting InputState = "deleting"
	InputDeleted  InputState = "deleted"
)

// Channel is an encoding channel as listed by the encoder.
type Channel struct {
	ID       string
	Name     string
	State    ChannelState
	InputIDs []string
}

// ChannelPage is one page of a channel listing.
type ChannelPage struct {
	Channels  []Channel
	NextToken string
}

// SecurityGroup restricts which addresses may push to an input.
type SecurityGroup struct {
	ID   string
	Tags map[string]string
}

// SecurityGroupPage is one page of a security group listing.
type SecurityGroupPage struct {
	Groups    []SecurityGroup
	NextToken string
}

// Input receives the broadcaster's stream.
type Input struct {
	ID               string
	Name             string
	Endpoints        []string
	State            InputState
	AttachedChannels []string
}

// CreateInputRequest describes an RTMP push input.
type CreateInputRequest struct {
	Name            string
	SecurityGroupID string
	Tags            map[string]string
}

// IngestEndpoint is where the encoder pushes to the packager.
type IngestEndpoint struct {
	ID       string
	URL      string
	Username string
	Password string
}

// CreateChannelRequest wires an input to packaging ingest endpoints.
type CreateChannelRequest struct {
	Name    string
	InputID string
	Ingest  []IngestEndpoint
	Tags    map[string]string
}

// PackagingChannel receives the encoded stream.
type PackagingChannel struct {
	ID     string
	Ingest []IngestEndpoint
}

// PackagingEndpoint serves the packaged stream for playback and harvesting.
type PackagingEndpoint struct {
	ID  string
	URL string
}

// HarvestJobStatus is the progress of a harvest job.
type HarvestJobStatus string

const (
	HarvestInProgress HarvestJobStatus = "in_progress"
	HarvestSucceeded  HarvestJobStatus = "succeeded"
	HarvestFailed     HarvestJobStatus = "failed"
)

// HarvestRequest extracts [Start, End] (epoch seconds) of a packaging
// endpoint into ManifestKey.
type HarvestRequest struct {
	ID          string
	EndpointID  string
	Start       int64
	End         int64
	ManifestKey string
}

// HarvestJob is a submitted harvest request.
type HarvestJob struct {
	ID          string
	EndpointID  string
	ManifestKey string
	Status      HarvestJobStatus
}

// Encoder provisions and drives encoding channels and their inputs.
type Encoder interface {
	ListSecurityGroups(ctx context.Context, token string) (SecurityGroupPage, error)
	CreateSecurityGroup(ctx context.Context, tags map[string]string) (SecurityGroup, error)

	CreateInput(ctx context.Context, req CreateInputRequest) (Input, error)
	DescribeInput(ctx context.Context, id string) (Input, error)
	DeleteInput(ctx context.Context, id string) error

	CreateChannel(ctx context.Context, req CreateChannelRequest) (Channel, error)
	StartChannel(ctx context.Context, id string) error
	StopChannel(ctx context.Context, id string) error
	DeleteChannel(ctx context.Context, id string) error
	ListChannels(ctx context.Context, token string) (ChannelPage, error)
}

// Packager packages the encoded stream and harvests recorded windows.
type Packager interface {
	CreateChannel(ctx context.Context, id string, tags map[string]string) (PackagingChannel, error)
	CreateEndpoint(ctx context.Context, channelID string, tags map[string]string) (PackagingEndpoint, error)
	// DeleteChannel removes the channel and every endpoint attached to it.
	DeleteChannel(ctx context.Context, id string) error

	CreateHarvestJob(ctx context.Context, req HarvestRequest) (HarvestJob, error)
	DescribeHarvestJob(ctx context.Context, id string) (HarvestJob, error)
}
