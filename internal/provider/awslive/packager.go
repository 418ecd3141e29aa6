package awslive

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/mediapackage"
	"github.com/aws/aws-sdk-go-v2/service/mediapackage/types"
	"go.uber.org/zap"

	"github.com/campus-live/backend/internal/provider"
)

// MediaPackageAPI is the subset of the MediaPackage client used here.
type MediaPackageAPI interface {
	CreateChannel(ctx context.Context, params *mediapackage.CreateChannelInput, optFns ...func(*mediapackage.Options)) (*mediapackage.CreateChannelOutput, error)
	DeleteChannel(ctx context.Context, params *mediapackage.DeleteChannelInput, optFns ...func(*mediapackage.Options)) (*mediapackage.DeleteChannelOutput, error)
	CreateOriginEndpoint(ctx context.Context, params *mediapackage.CreateOriginEndpointInput, optFns ...func(*mediapackage.Options)) (*mediapackage.CreateOriginEndpointOutput, error)
	ListOriginEndpoints(ctx context.Context, params *mediapackage.ListOriginEndpointsInput, optFns ...func(*mediapackage.Options)) (*mediapackage.ListOriginEndpointsOutput, error)
	DeleteOriginEndpoint(ctx context.Context, params *mediapackage.DeleteOriginEndpointInput, optFns ...func(*mediapackage.Options)) (*mediapackage.DeleteOriginEndpointOutput, error)
	CreateHarvestJob(ctx context.Context, params *mediapackage.CreateHarvestJobInput, optFns ...func(*mediapackage.Options)) (*mediapackage.CreateHarvestJobOutput, error)
	DescribeHarvestJob(ctx context.Context, params *mediapackage.DescribeHarvestJobInput, optFns ...func(*mediapackage.Options)) (*mediapackage.DescribeHarvestJobOutput, error)
}

// PackagerConfig holds the MediaPackage endpoint and harvest settings.
type PackagerConfig struct {
	Bucket          string // harvest destination
	HarvestRoleARN  string
	SegmentSeconds  int32
	StartoverWindow time.Duration // how far back a harvest may reach
}

// Packager is a provider.Packager on MediaPackage.
type Packager struct {
	client MediaPackageAPI
	cfg    PackagerConfig
	logger *zap.Logger
}

// NewPackager creates the MediaPackage packager.
func NewPackager(client MediaPackageAPI, cfg PackagerConfig, logger *zap.Logger) *Packager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SegmentSeconds <= 0 {
		cfg.SegmentSeconds = 6
	}
	if cfg.StartoverWindow <= 0 {
		cfg.StartoverWindow = 24 * time.Hour
	}
	return &Packager{client: client, cfg: cfg, logger: logger}
}

// EndpointID is the CMAF origin endpoint id of a packaging channel.
func EndpointID(channelID string) string { return channelID + "_cmaf" }

func (p *Packager) CreateChannel(ctx context.Context, id string, tags map[string]string) (provider.PackagingChannel, error) {
	out, err := p.client.CreateChannel(ctx, &mediapackage.CreateChannelInput{
		Id:   aws.String(id),
		Tags: tags,
	})
	if err != nil {
		return provider.PackagingChannel{}, wrap("create packaging channel", err)
	}
	ch := provider.PackagingChannel{ID: aws.ToString(out.Id)}
	if out.HlsIngest != nil {
		for _, in := range out.HlsIngest.IngestEndpoints {
			ch.Ingest = append(ch.Ingest, provider.IngestEndpoint{
				ID:       aws.ToString(in.Id),
				URL:      aws.ToString(in.Url),
				Username: aws.ToString(in.Username),
				Password: aws.ToString(in.Password),
			})
		}
	}
	return ch, nil
}

// CreateEndpoint creates a CMAF endpoint with an HLS manifest and a startover
// window long enough to harvest the recorded windows afterwards.
func (p *Packager) CreateEndpoint(ctx context.Context, channelID string, tags map[string]string) (provider.PackagingEndpoint, error) {
	id := EndpointID(channelID)
	out, err := p.client.CreateOriginEndpoint(ctx, &mediapackage.CreateOriginEndpointInput{
		ChannelId:              aws.String(channelID),
		Id:                     aws.String(id),
		StartoverWindowSeconds: aws.Int32(int32(p.cfg.StartoverWindow / time.Second)),
		CmafPackage: &types.CmafPackageCreateOrUpdateParameters{
			SegmentDurationSeconds: aws.Int32(p.cfg.SegmentSeconds),
			HlsManifests: []types.HlsManifestCreateOrUpdateParameters{
				{Id: aws.String(id + "_hls")},
			},
		},
		Tags: tags,
	})
	if err != nil {
		return provider.PackagingEndpoint{}, wrap("create origin endpoint", err)
	}
	url := aws.ToString(out.Url)
	if out.CmafPackage != nil && len(out.CmafPackage.HlsManifests) > 0 {
		url = aws.ToString(out.CmafPackage.HlsManifests[0].Url)
	}
	return provider.PackagingEndpoint{ID: aws.ToString(out.Id), URL: url}, nil
}

// DeleteChannel deletes every origin endpoint of the channel, then the channel.
func (p *Packager) DeleteChannel(ctx context.Context, id string) error {
	var endpoints []string
	for ep, err := range provider.All(ctx, func(ctx context.Context, token string) ([]string, string, error) {
		out, err := p.client.ListOriginEndpoints(ctx, &mediapackage.ListOriginEndpointsInput{
			ChannelId: aws.String(id),
			NextToken: optional(token),
		})
		if err != nil {
			return nil, "", wrap("list origin endpoints "+id, err)
		}
		ids := make([]string, 0, len(out.OriginEndpoints))
		for _, e := range out.OriginEndpoints {
			ids = append(ids, aws.ToString(e.Id))
		}
		return ids, aws.ToString(out.NextToken), nil
	}) {
		if err != nil {
			return err
		}
		endpoints = append(endpoints, ep)
	}
	for _, ep := range endpoints {
		_, err := p.client.DeleteOriginEndpoint(ctx, &mediapackage.DeleteOriginEndpointInput{Id: aws.String(ep)})
		if err = wrap("delete origin endpoint "+ep, err); err != nil && !errors.Is(err, provider.ErrNotFound) {
			return err
		}
	}
	_, err := p.client.DeleteChannel(ctx, &mediapackage.DeleteChannelInput{Id: aws.String(id)})
	return wrap("delete packaging channel "+id, err)
}

func (p *Packager) CreateHarvestJob(ctx context.Context, req provider.HarvestRequest) (provider.HarvestJob, error) {
	out, err := p.client.CreateHarvestJob(ctx, &mediapackage.CreateHarvestJobInput{
		Id:               aws.String(req.ID),
		OriginEndpointId: aws.String(req.EndpointID),
		StartTime:        aws.String(harvestTime(req.Start)),
		EndTime:          aws.String(harvestTime(req.End)),
		S3Destination: &types.S3Destination{
			BucketName:  aws.String(p.cfg.Bucket),
			ManifestKey: aws.String(req.ManifestKey),
			RoleArn:     aws.String(p.cfg.HarvestRoleARN),
		},
	})
	if err != nil {
		return provider.HarvestJob{}, wrap("create harvest job "+req.ID, err)
	}
	p.logger.Debug("harvest job created", zap.String("job_id", req.ID), zap.String("manifest_key", req.ManifestKey))
	return toHarvestJob(out.Id, out.OriginEndpointId, out.S3Destination, out.Status), nil
}

func (p *Packager) DescribeHarvestJob(ctx context.Context, id string) (provider.HarvestJob, error) {
	out, err := p.client.DescribeHarvestJob(ctx, &mediapackage.DescribeHarvestJobInput{Id: aws.String(id)})
	if err != nil {
		return provider.HarvestJob{}, wrap("describe harvest job "+id, err)
	}
	return toHarvestJob(out.Id, out.OriginEndpointId, out.S3Destination, out.Status), nil
}

func harvestTime(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(time.RFC3339)
}

func toHarvestJob(id, endpointID *string, dest *types.S3Destination, status types.Status) provider.HarvestJob {
	job := provider.HarvestJob{
		ID:         aws.ToString(id),
		EndpointID: aws.ToString(endpointID),
		Status:     provider.HarvestJobStatus(strings.ToLower(string(status))),
	}
	if dest != nil {
		job.ManifestKey = aws.ToString(dest.ManifestKey)
	}
	return job
}

var _ provider.Packager = (*Packager)(nil)
