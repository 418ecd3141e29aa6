package awslive

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/medialive"
	"github.com/aws/aws-sdk-go-v2/service/mediapackage"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"
)

// NewFromConfig builds the encoder and packager from a shared AWS config.
func NewFromConfig(awsCfg aws.Config, enc EncoderConfig, pkg PackagerConfig, logger *zap.Logger) (*Encoder, *Packager) {
	return NewEncoder(medialive.NewFromConfig(awsCfg), ssm.NewFromConfig(awsCfg), enc, logger),
		NewPackager(mediapackage.NewFromConfig(awsCfg), pkg, logger)
}
