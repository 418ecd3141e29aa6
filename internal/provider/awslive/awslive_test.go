package awslive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/medialive"
	mltypes "github.com/aws/aws-sdk-go-v2/service/medialive/types"
	"github.com/aws/aws-sdk-go-v2/service/mediapackage"
	mptypes "github.com/aws/aws-sdk-go-v2/service/mediapackage/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-live/backend/internal/provider"
)

var errNotFound = &smithy.GenericAPIError{Code: "NotFoundException", Message: "gone"}

type stubMediaLive struct {
	MediaLiveAPI
	created  *medialive.CreateChannelInput
	describe *medialive.DescribeChannelOutput
	deleted  []string
	pages    map[string]*medialive.ListChannelsOutput
	startErr error
}

func (s *stubMediaLive) CreateChannel(_ context.Context, in *medialive.CreateChannelInput, _ ...func(*medialive.Options)) (*medialive.CreateChannelOutput, error) {
	s.created = in
	return &medialive.CreateChannelOutput{Channel: &mltypes.Channel{
		Id:               aws.String("1234"),
		Name:             in.Name,
		State:            mltypes.ChannelStateCreating,
		InputAttachments: in.InputAttachments,
	}}, nil
}

func (s *stubMediaLive) DescribeChannel(_ context.Context, in *medialive.DescribeChannelInput, _ ...func(*medialive.Options)) (*medialive.DescribeChannelOutput, error) {
	if s.describe == nil {
		return nil, errNotFound
	}
	return s.describe, nil
}

func (s *stubMediaLive) DeleteChannel(_ context.Context, in *medialive.DeleteChannelInput, _ ...func(*medialive.Options)) (*medialive.DeleteChannelOutput, error) {
	s.deleted = append(s.deleted, aws.ToString(in.ChannelId))
	return &medialive.DeleteChannelOutput{}, nil
}

func (s *stubMediaLive) StartChannel(_ context.Context, _ *medialive.StartChannelInput, _ ...func(*medialive.Options)) (*medialive.StartChannelOutput, error) {
	return &medialive.StartChannelOutput{}, s.startErr
}

func (s *stubMediaLive) ListChannels(_ context.Context, in *medialive.ListChannelsInput, _ ...func(*medialive.Options)) (*medialive.ListChannelsOutput, error) {
	return s.pages[aws.ToString(in.NextToken)], nil
}

type stubSSM struct {
	SSMAPI
	put       map[string]string
	deleted   []string
	deleteErr error
}

func (s *stubSSM) PutParameter(_ context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	if s.put == nil {
		s.put = map[string]string{}
	}
	s.put[aws.ToString(in.Name)] = aws.ToString(in.Value)
	return &ssm.PutParameterOutput{}, nil
}

func (s *stubSSM) DeleteParameter(_ context.Context, in *ssm.DeleteParameterInput, _ ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error) {
	s.deleted = append(s.deleted, aws.ToString(in.Name))
	return &ssm.DeleteParameterOutput{}, s.deleteErr
}

func TestEncoderCreateChannelStoresPasswords(t *testing.T) {
	ml, params := &stubMediaLive{}, &stubSSM{}
	enc := NewEncoder(ml, params, EncoderConfig{RoleARN: "arn:role", ParameterPrefix: "/campus-live/"}, nil)

	ch, err := enc.CreateChannel(context.Background(), provider.CreateChannelRequest{
		Name:    "test_abc_1700000000",
		InputID: "in-1",
		Ingest: []provider.IngestEndpoint{
			{URL: "https://ingest/a", Username: "u1", Password: "p1"},
			{URL: "https://ingest/b", Username: "u2", Password: "p2"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "1234", ch.ID)
	assert.Equal(t, provider.ChannelCreating, ch.State)
	assert.Equal(t, []string{"in-1"}, ch.InputIDs)

	assert.Equal(t, map[string]string{
		"/campus-live/test_abc_1700000000/ingest_1": "p1",
		"/campus-live/test_abc_1700000000/ingest_2": "p2",
	}, params.put)

	require.Len(t, ml.created.Destinations, 1)
	dest := ml.created.Destinations[0]
	assert.Equal(t, "destination1", aws.ToString(dest.Id))
	require.Len(t, dest.Settings, 2)
	assert.Equal(t, "/campus-live/test_abc_1700000000/ingest_2", aws.ToString(dest.Settings[1].PasswordParam))
	assert.Equal(t, mltypes.ChannelClassSinglePipeline, ml.created.ChannelClass)
}

func TestEncoderDeleteChannelRemovesParameters(t *testing.T) {
	ml := &stubMediaLive{describe: &medialive.DescribeChannelOutput{
		Destinations: []mltypes.OutputDestination{{Settings: []mltypes.OutputDestinationSettings{
			{PasswordParam: aws.String("/p/1")},
			{PasswordParam: aws.String("/p/2")},
			{},
		}}},
	}}
	params := &stubSSM{deleteErr: &smithy.GenericAPIError{Code: "ParameterNotFound"}}
	enc := NewEncoder(ml, params, EncoderConfig{}, nil)

	require.NoError(t, enc.DeleteChannel(context.Background(), "1234"))
	assert.Equal(t, []string{"1234"}, ml.deleted)
	assert.Equal(t, []string{"/p/1", "/p/2"}, params.deleted)
}

func TestEncoderMapsNotFound(t *testing.T) {
	enc := NewEncoder(&stubMediaLive{}, &stubSSM{}, EncoderConfig{}, nil)

	err := enc.DeleteChannel(context.Background(), "missing")
	assert.ErrorIs(t, err, provider.ErrNotFound)

	var apiErr smithy.APIError
	assert.True(t, errors.As(err, &apiErr))

	other := NewEncoder(&stubMediaLive{startErr: &smithy.GenericAPIError{Code: "ConflictException"}}, &stubSSM{}, EncoderConfig{}, nil)
	err = other.StartChannel(context.Background(), "1234")
	require.Error(t, err)
	assert.NotErrorIs(t, err, provider.ErrNotFound)
}

func TestEncoderListChannelsPages(t *testing.T) {
	ml := &stubMediaLive{pages: map[string]*medialive.ListChannelsOutput{
		"": {
			Channels:  []mltypes.ChannelSummary{{Id: aws.String("1"), Name: aws.String("a"), State: mltypes.ChannelStateRunning}},
			NextToken: aws.String("t2"),
		},
		"t2": {
			Channels: []mltypes.ChannelSummary{{Id: aws.String("2"), Name: aws.String("b"), State: mltypes.ChannelStateIdle}},
		},
	}}
	enc := NewEncoder(ml, &stubSSM{}, EncoderConfig{PageSize: 1}, nil)

	var got []provider.Channel
	for ch, err := range provider.Channels(context.Background(), enc) {
		require.NoError(t, err)
		got = append(got, ch)
	}
	require.Len(t, got, 2)
	assert.Equal(t, provider.ChannelRunning, got[0].State)
	assert.Equal(t, provider.ChannelIdle, got[1].State)
}

func TestLoadEncoderSettings(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"OutputGroups":[{"Name":"hls"}],"TimecodeConfig":{"Source":"SYSTEMCLOCK"}}`), 0o600))
	settings, err := LoadEncoderSettings(good)
	require.NoError(t, err)
	assert.Equal(t, "hls", aws.ToString(settings.OutputGroups[0].Name))

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{}`), 0o600))
	_, err = LoadEncoderSettings(empty)
	assert.Error(t, err)

	_, err = LoadEncoderSettings(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

type stubMediaPackage struct {
	MediaPackageAPI
	endpoint    *mediapackage.CreateOriginEndpointInput
	endpoints   []string
	deleted     []string
	harvest     *mediapackage.CreateHarvestJobInput
	channelGone bool
}

func (s *stubMediaPackage) CreateChannel(_ context.Context, in *mediapackage.CreateChannelInput, _ ...func(*mediapackage.Options)) (*mediapackage.CreateChannelOutput, error) {
	return &mediapackage.CreateChannelOutput{
		Id: in.Id,
		HlsIngest: &mptypes.HlsIngest{IngestEndpoints: []mptypes.IngestEndpoint{
			{Id: aws.String("e1"), Url: aws.String("https://ingest/1"), Username: aws.String("u"), Password: aws.String("p")},
		}},
	}, nil
}

func (s *stubMediaPackage) CreateOriginEndpoint(_ context.Context, in *mediapackage.CreateOriginEndpointInput, _ ...func(*mediapackage.Options)) (*mediapackage.CreateOriginEndpointOutput, error) {
	s.endpoint = in
	return &mediapackage.CreateOriginEndpointOutput{
		Id:  in.Id,
		Url: aws.String("https://origin/cmaf"),
		CmafPackage: &mptypes.CmafPackage{HlsManifests: []mptypes.HlsManifest{
			{Id: aws.String("hls"), Url: aws.String("https://origin/index.m3u8")},
		}},
	}, nil
}

func (s *stubMediaPackage) ListOriginEndpoints(_ context.Context, _ *mediapackage.ListOriginEndpointsInput, _ ...func(*mediapackage.Options)) (*mediapackage.ListOriginEndpointsOutput, error) {
	out := &mediapackage.ListOriginEndpointsOutput{}
	for _, id := range s.endpoints {
		out.OriginEndpoints = append(out.OriginEndpoints, mptypes.OriginEndpoint{Id: aws.String(id)})
	}
	return out, nil
}

func (s *stubMediaPackage) DeleteOriginEndpoint(_ context.Context, in *mediapackage.DeleteOriginEndpointInput, _ ...func(*mediapackage.Options)) (*mediapackage.DeleteOriginEndpointOutput, error) {
	s.deleted = append(s.deleted, aws.ToString(in.Id))
	return nil, errNotFound
}

func (s *stubMediaPackage) DeleteChannel(_ context.Context, in *mediapackage.DeleteChannelInput, _ ...func(*mediapackage.Options)) (*mediapackage.DeleteChannelOutput, error) {
	if s.channelGone {
		return nil, errNotFound
	}
	s.deleted = append(s.deleted, aws.ToString(in.Id))
	return &mediapackage.DeleteChannelOutput{}, nil
}

func (s *stubMediaPackage) CreateHarvestJob(_ context.Context, in *mediapackage.CreateHarvestJobInput, _ ...func(*mediapackage.Options)) (*mediapackage.CreateHarvestJobOutput, error) {
	s.harvest = in
	return &mediapackage.CreateHarvestJobOutput{
		Id:               in.Id,
		OriginEndpointId: in.OriginEndpointId,
		S3Destination:    in.S3Destination,
		Status:           mptypes.StatusInProgress,
	}, nil
}

func (s *stubMediaPackage) DescribeHarvestJob(_ context.Context, in *mediapackage.DescribeHarvestJobInput, _ ...func(*mediapackage.Options)) (*mediapackage.DescribeHarvestJobOutput, error) {
	return &mediapackage.DescribeHarvestJobOutput{Id: in.Id, Status: mptypes.StatusSucceeded}, nil
}

func TestPackagerChannelAndEndpoint(t *testing.T) {
	mp := &stubMediaPackage{}
	pkg := NewPackager(mp, PackagerConfig{}, nil)
	ctx := context.Background()

	ch, err := pkg.CreateChannel(ctx, "test_abc_1", nil)
	require.NoError(t, err)
	require.Len(t, ch.Ingest, 1)
	assert.Equal(t, "https://ingest/1", ch.Ingest[0].URL)

	ep, err := pkg.CreateEndpoint(ctx, ch.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "test_abc_1_cmaf", ep.ID)
	assert.Equal(t, "https://origin/index.m3u8", ep.URL)
	assert.Equal(t, int32(86400), aws.ToInt32(mp.endpoint.StartoverWindowSeconds))
	assert.Equal(t, int32(6), aws.ToInt32(mp.endpoint.CmafPackage.SegmentDurationSeconds))
}

func TestPackagerDeleteChannel(t *testing.T) {
	mp := &stubMediaPackage{endpoints: []string{"a_cmaf", "a_dash"}}
	pkg := NewPackager(mp, PackagerConfig{}, nil)

	require.NoError(t, pkg.DeleteChannel(context.Background(), "a"))
	assert.Equal(t, []string{"a_cmaf", "a_dash", "a"}, mp.deleted)

	gone := NewPackager(&stubMediaPackage{channelGone: true}, PackagerConfig{}, nil)
	assert.ErrorIs(t, gone.DeleteChannel(context.Background(), "a"), provider.ErrNotFound)
}

func TestPackagerHarvestJob(t *testing.T) {
	mp := &stubMediaPackage{}
	pkg := NewPackager(mp, PackagerConfig{Bucket: "vod", HarvestRoleARN: "arn:harvest"}, nil)
	ctx := context.Background()

	job, err := pkg.CreateHarvestJob(ctx, provider.HarvestRequest{
		ID:          "job_1",
		EndpointID:  "a_cmaf",
		Start:       1700000000,
		End:         1700000060,
		ManifestKey: "id/cmaf/slice_1/1_1.manifest",
	})
	require.NoError(t, err)
	assert.Equal(t, provider.HarvestInProgress, job.Status)
	assert.Equal(t, "id/cmaf/slice_1/1_1.manifest", job.ManifestKey)
	assert.Equal(t, "2023-11-14T22:13:20Z", aws.ToString(mp.harvest.StartTime))
	assert.Equal(t, "2023-11-14T22:14:20Z", aws.ToString(mp.harvest.EndTime))
	assert.Equal(t, "vod", aws.ToString(mp.harvest.S3Destination.BucketName))

	job, err = pkg.DescribeHarvestJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, provider.HarvestSucceeded, job.Status)
}
