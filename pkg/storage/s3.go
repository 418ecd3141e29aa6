package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// MaxDeleteBatch is the largest key batch a single DeleteObjects call accepts.
const MaxDeleteBatch = 1000

// ObjectPage is one page of a prefix listing.
type ObjectPage struct {
	Keys      []string
	NextToken string
	Truncated bool
}

// S3Config holds the destination bucket settings.
type S3Config struct {
	Bucket               string
	PresignExpireMinutes int
	PageSize             int32 // 0 lets S3 pick (1000)
}

// S3API is the subset of the S3 client used here.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3 lists and deletes harvested objects and signs playback URLs.
type S3 struct {
	client  S3API
	presign *s3.PresignClient
	cfg     S3Config
	logger  *zap.Logger
}

// NewS3 creates the destination bucket client from a shared AWS config.
func NewS3(awsCfg aws.Config, cfg S3Config, logger *zap.Logger) *S3 {
	client := s3.NewFromConfig(awsCfg)
	s := newS3(client, cfg, logger)
	s.presign = s3.NewPresignClient(client)
	return s
}

func newS3(client S3API, cfg S3Config, logger *zap.Logger) *S3 {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3{client: client, cfg: cfg, logger: logger}
}

// Bucket returns the destination bucket name.
func (s *S3) Bucket() string { return s.cfg.Bucket }

// ListObjects returns the page of keys under prefix starting at token.
func (s *S3) ListObjects(ctx context.Context, prefix, token string) (ObjectPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(prefix),
	}
	if token != "" {
		input.ContinuationToken = aws.String(token)
	}
	if s.cfg.PageSize > 0 {
		input.MaxKeys = aws.Int32(s.cfg.PageSize)
	}
	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return ObjectPage{}, fmt.Errorf("list objects %s: %w", prefix, err)
	}
	page := ObjectPage{
		Keys:      make([]string, 0, len(out.Contents)),
		Truncated: aws.ToBool(out.IsTruncated),
		NextToken: aws.ToString(out.NextContinuationToken),
	}
	for _, obj := range out.Contents {
		page.Keys = append(page.Keys, aws.ToString(obj.Key))
	}
	return page, nil
}

// DeleteObjects removes keys in batches of MaxDeleteBatch. Per-key failures
// reported by S3 are joined into the returned error.
func (s *S3) DeleteObjects(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += MaxDeleteBatch {
		end := min(start+MaxDeleteBatch, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.cfg.Bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			errs := make([]error, 0, len(out.Errors))
			for _, e := range out.Errors {
				errs = append(errs, fmt.Errorf("%s: %s %s", aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message)))
			}
			return fmt.Errorf("delete objects: %w", errors.Join(errs...))
		}
		s.logger.Debug("deleted objects", zap.Int("count", len(ids)))
	}
	return nil
}

// GeneratePresignedDownloadURL returns a pre-signed GET URL for a harvested object.
func (s *S3) GeneratePresignedDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if s.presign == nil {
		return "", errors.New("presign client not configured")
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(strings.TrimPrefix(key, "/")),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// PresignExpire returns the configured presign duration.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}
