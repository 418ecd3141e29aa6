// Package awslive implements the provider interfaces on AWS Elemental
// MediaLive and MediaPackage. Ingest passwords are kept in SSM Parameter
// Store and referenced by the channel destinations.
package awslive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/medialive"
	"github.com/aws/aws-sdk-go-v2/service/medialive/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/campus-live/backend/internal/provider"
)

// MediaLiveAPI is the subset of the MediaLive client used here.
type MediaLiveAPI interface {
	ListInputSecurityGroups(ctx context.Context, params *medialive.ListInputSecurityGroupsInput, optFns ...func(*medialive.Options)) (*medialive.ListInputSecurityGroupsOutput, error)
	CreateInputSecurityGroup(ctx context.Context, params *medialive.CreateInputSecurityGroupInput, optFns ...func(*medialive.Options)) (*medialive.CreateInputSecurityGroupOutput, error)
	CreateInput(ctx context.Context, params *medialive.CreateInputInput, optFns ...func(*medialive.Options)) (*medialive.CreateInputOutput, error)
	DescribeInput(ctx context.Context, params *medialive.DescribeInputInput, optFns ...func(*medialive.Options)) (*medialive.DescribeInputOutput, error)
	DeleteInput(ctx context.Context, params *medialive.DeleteInputInput, optFns ...func(*medialive.Options)) (*medialive.DeleteInputOutput, error)
	CreateChannel(ctx context.Context, params *medialive.CreateChannelInput, optFns ...func(*medialive.Options)) (*medialive.CreateChannelOutput, error)
	DescribeChannel(ctx context.Context, params *medialive.DescribeChannelInput, optFns ...func(*medialive.Options)) (*medialive.DescribeChannelOutput, error)
	StartChannel(ctx context.Context, params *medialive.StartChannelInput, optFns ...func(*medialive.Options)) (*medialive.StartChannelOutput, error)
	StopChannel(ctx context.Context, params *medialive.StopChannelInput, optFns ...func(*medialive.Options)) (*medialive.StopChannelOutput, error)
	DeleteChannel(ctx context.Context, params *medialive.DeleteChannelInput, optFns ...func(*medialive.Options)) (*medialive.DeleteChannelOutput, error)
	ListChannels(ctx context.Context, params *medialive.ListChannelsInput, optFns ...func(*medialive.Options)) (*medialive.ListChannelsOutput, error)
}

// SSMAPI is the subset of the SSM client used here.
type SSMAPI interface {
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error)
}

// EncoderConfig holds the MediaLive channel settings.
type EncoderConfig struct {
	RoleARN         string
	Settings        *types.EncoderSettings
	ParameterPrefix string // SSM path under which ingest passwords are stored
	DestinationID   string // output destination referenced by Settings; defaults to "destination1"
	AllowedCIDR     string // push source allow list; defaults to 0.0.0.0/0
	PageSize        int32
}

// Encoder is a provider.Encoder on MediaLive.
type Encoder struct {
	client MediaLiveAPI
	params SSMAPI
	cfg    EncoderConfig
	logger *zap.Logger
}

// NewEncoder creates the MediaLive encoder.
func NewEncoder(client MediaLiveAPI, params SSMAPI, cfg EncoderConfig, logger *zap.Logger) *Encoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DestinationID == "" {
		cfg.DestinationID = "destination1"
	}
	if cfg.AllowedCIDR == "" {
		cfg.AllowedCIDR = "0.0.0.0/0"
	}
	cfg.ParameterPrefix = strings.TrimSuffix(cfg.ParameterPrefix, "/")
	return &Encoder{client: client, params: params, cfg: cfg, logger: logger}
}

// LoadEncoderSettings reads the channel encoder settings from a JSON file
// whose keys follow the MediaLive API shape.
func LoadEncoderSettings(path string) (*types.EncoderSettings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read encoder settings: %w", err)
	}
	var settings types.EncoderSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("parse encoder settings %s: %w", path, err)
	}
	if len(settings.OutputGroups) == 0 {
		return nil, fmt.Errorf("encoder settings %s: no output groups", path)
	}
	return &settings, nil
}

func (e *Encoder) pageSize() *int32 {
	if e.cfg.PageSize <= 0 {
		return nil
	}
	return aws.Int32(e.cfg.PageSize)
}

func (e *Encoder) ListSecurityGroups(ctx context.Context, token string) (provider.SecurityGroupPage, error) {
	out, err := e.client.ListInputSecurityGroups(ctx, &medialive.ListInputSecurityGroupsInput{
		NextToken:  optional(token),
		MaxResults: e.pageSize(),
	})
	if err != nil {
		return provider.SecurityGroupPage{}, wrap("list input security groups", err)
	}
	page := provider.SecurityGroupPage{NextToken: aws.ToString(out.NextToken)}
	for _, g := range out.InputSecurityGroups {
		page.Groups = append(page.Groups, provider.SecurityGroup{ID: aws.ToString(g.Id), Tags: g.Tags})
	}
	return page, nil
}

func (e *Encoder) CreateSecurityGroup(ctx context.Context, tags map[string]string) (provider.SecurityGroup, error) {
	out, err := e.client.CreateInputSecurityGroup(ctx, &medialive.CreateInputSecurityGroupInput{
		Tags:           tags,
		WhitelistRules: []types.InputWhitelistRuleCidr{{Cidr: aws.String(e.cfg.AllowedCIDR)}},
	})
	if err != nil {
		return provider.SecurityGroup{}, wrap("create input security group", err)
	}
	if out.SecurityGroup == nil {
		return provider.SecurityGroup{}, errors.New("create input security group: empty response")
	}
	return provider.SecurityGroup{ID: aws.ToString(out.SecurityGroup.Id), Tags: out.SecurityGroup.Tags}, nil
}

func (e *Encoder) CreateInput(ctx context.Context, req provider.CreateInputRequest) (provider.Input, error) {
	out, err := e.client.CreateInput(ctx, &medialive.CreateInputInput{
		Name:                aws.String(req.Name),
		Type:                types.InputTypeRtmpPush,
		InputSecurityGroups: []string{req.SecurityGroupID},
		Destinations: []types.InputDestinationRequest{
			{StreamName: aws.String(req.Name + "/primary")},
		},
		Tags: req.Tags,
	})
	if err != nil {
		return provider.Input{}, wrap("create input", err)
	}
	if out.Input == nil {
		return provider.Input{}, errors.New("create input: empty response")
	}
	return toInput(out.Input.Id, out.Input.Name, out.Input.Destinations, out.Input.State, out.Input.AttachedChannels), nil
}

func (e *Encoder) DescribeInput(ctx context.Context, id string) (provider.Input, error) {
	out, err := e.client.DescribeInput(ctx, &medialive.DescribeInputInput{InputId: aws.String(id)})
	if err != nil {
		return provider.Input{}, wrap("describe input "+id, err)
	}
	return toInput(out.Id, out.Name, out.Destinations, out.State, out.AttachedChannels), nil
}

func (e *Encoder) DeleteInput(ctx context.Context, id string) error {
	_, err := e.client.DeleteInput(ctx, &medialive.DeleteInputInput{InputId: aws.String(id)})
	return wrap("delete input "+id, err)
}

// CreateChannel stores each ingest password as a SecureString parameter and
// creates a single-pipeline channel pushing to the packaging ingest URLs.
func (e *Encoder) CreateChannel(ctx context.Context, req provider.CreateChannelRequest) (provider.Channel, error) {
	settings := make([]types.OutputDestinationSettings, 0, len(req.Ingest))
	for i, ingest := range req.Ingest {
		param := e.parameterName(req.Name, i)
		if _, err := e.params.PutParameter(ctx, &ssm.PutParameterInput{
			Name:      aws.String(param),
			Value:     aws.String(ingest.Password),
			Type:      ssmtypes.ParameterTypeSecureString,
			Overwrite: aws.Bool(true),
		}); err != nil {
			return provider.Channel{}, fmt.Errorf("store ingest password: %w", err)
		}
		settings = append(settings, types.OutputDestinationSettings{
			Url:           aws.String(ingest.URL),
			Username:      aws.String(ingest.Username),
			PasswordParam: aws.String(param),
		})
	}

	out, err := e.client.CreateChannel(ctx, &medialive.CreateChannelInput{
		Name:         aws.String(req.Name),
		RoleArn:      aws.String(e.cfg.RoleARN),
		ChannelClass: types.ChannelClassSinglePipeline,
		InputAttachments: []types.InputAttachment{
			{InputId: aws.String(req.InputID), InputAttachmentName: aws.String(req.Name)},
		},
		InputSpecification: &types.InputSpecification{
			Codec:          types.InputCodecAvc,
			Resolution:     types.InputResolutionHd,
			MaximumBitrate: types.InputMaximumBitrateMax10Mbps,
		},
		Destinations:    []types.OutputDestination{{Id: aws.String(e.cfg.DestinationID), Settings: settings}},
		EncoderSettings: e.cfg.Settings,
		Tags:            req.Tags,
	})
	if err != nil {
		return provider.Channel{}, wrap("create channel", err)
	}
	if out.Channel == nil {
		return provider.Channel{}, errors.New("create channel: empty response")
	}
	return provider.Channel{
		ID:       aws.ToString(out.Channel.Id),
		Name:     aws.ToString(out.Channel.Name),
		State:    channelState(out.Channel.State),
		InputIDs: inputIDs(out.Channel.InputAttachments),
	}, nil
}

func (e *Encoder) StartChannel(ctx context.Context, id string) error {
	_, err := e.client.StartChannel(ctx, &medialive.StartChannelInput{ChannelId: aws.String(id)})
	return wrap("start channel "+id, err)
}

func (e *Encoder) StopChannel(ctx context.Context, id string) error {
	_, err := e.client.StopChannel(ctx, &medialive.StopChannelInput{ChannelId: aws.String(id)})
	return wrap("stop channel "+id, err)
}

// DeleteChannel deletes the channel and the password parameters its
// destinations reference.
func (e *Encoder) DeleteChannel(ctx context.Context, id string) error {
	desc, err := e.client.DescribeChannel(ctx, &medialive.DescribeChannelInput{ChannelId: aws.String(id)})
	if err != nil {
		return wrap("describe channel "+id, err)
	}
	if _, err := e.client.DeleteChannel(ctx, &medialive.DeleteChannelInput{ChannelId: aws.String(id)}); err != nil {
		return wrap("delete channel "+id, err)
	}
	for _, dest := range desc.Destinations {
		for _, s := range dest.Settings {
			param := aws.ToString(s.PasswordParam)
			if param == "" {
				continue
			}
			_, err := e.params.DeleteParameter(ctx, &ssm.DeleteParameterInput{Name: aws.String(param)})
			if err != nil && !isCode(err, "ParameterNotFound") {
				e.logger.Warn("ingest password parameter not deleted", zap.String("parameter", param), zap.Error(err))
			}
		}
	}
	return nil
}

func (e *Encoder) ListChannels(ctx context.Context, token string) (provider.ChannelPage, error) {
	out, err := e.client.ListChannels(ctx, &medialive.ListChannelsInput{
		NextToken:  optional(token),
		MaxResults: e.pageSize(),
	})
	if err != nil {
		return provider.ChannelPage{}, wrap("list channels", err)
	}
	page := provider.ChannelPage{NextToken: aws.ToString(out.NextToken)}
	for _, ch := range out.Channels {
		page.Channels = append(page.Channels, provider.Channel{
			ID:       aws.ToString(ch.Id),
			Name:     aws.ToString(ch.Name),
			State:    channelState(ch.State),
			InputIDs: inputIDs(ch.InputAttachments),
		})
	}
	return page, nil
}

func (e *Encoder) parameterName(channelName string, index int) string {
	return fmt.Sprintf("%s/%s/ingest_%d", e.cfg.ParameterPrefix, channelName, index+1)
}

func toInput(id, name *string, dests []types.InputDestination, state types.InputState, attached []string) provider.Input {
	in := provider.Input{
		ID:               aws.ToString(id),
		Name:             aws.ToString(name),
		State:            provider.InputState(strings.ToLower(string(state))),
		AttachedChannels: attached,
	}
	for _, d := range dests {
		if url := aws.ToString(d.Url); url != "" {
			in.Endpoints = append(in.Endpoints, url)
		}
	}
	return in
}

func channelState(s types.ChannelState) provider.ChannelState {
	return provider.ChannelState(strings.ToLower(string(s)))
}

func inputIDs(attachments []types.InputAttachment) []string {
	var ids []string
	for _, a := range attachments {
		if id := aws.ToString(a.InputId); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

// wrap annotates err and maps the service's not-found errors to provider.ErrNotFound.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if isCode(err, "NotFoundException") {
		return fmt.Errorf("%s: %w", op, errors.Join(provider.ErrNotFound, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}

var _ provider.Encoder = (*Encoder)(nil)
