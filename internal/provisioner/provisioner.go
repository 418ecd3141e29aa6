package provisioner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-live/backend/internal/metrics"
	"github.com/campus-live/backend/internal/models"
	"github.com/campus-live/backend/internal/provider"
)

// Config holds provisioning settings.
type Config struct {
	Env               string
	SecurityGroupTag  string
	WaiterMaxAttempts int
	WaiterDelay       time.Duration
	ProviderName      string
}

// Provisioner creates and tears down the encoder input + channel and the
// packaging channel + endpoint behind a live resource.
type Provisioner struct {
	encoder  provider.Encoder
	packager provider.Packager
	cfg      Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a provisioner.
func New(enc provider.Encoder, pkg provider.Packager, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WaiterMaxAttempts <= 0 {
		cfg.WaiterMaxAttempts = 1
	}
	return &Provisioner{
		encoder:  enc,
		packager: pkg,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// SetClock replaces the clock used for session stamps.
func (p *Provisioner) SetClock(now func() time.Time) { p.now = now }

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Provisioner) tags(id uuid.UUID) map[string]string {
	return map[string]string{"environment": p.cfg.Env, "live_id": id.String()}
}

// CreateLiveStream provisions the full stack for a live resource. Resources
// created before a failure are left in place for the cleanup sweep.
func (p *Provisioner) CreateLiveStream(ctx context.Context, id uuid.UUID) (models.LiveInfo, error) {
	stamp := strconv.FormatInt(p.now().Unix(), 10)
	name := provider.Name(p.cfg.Env, id, stamp)
	tags := p.tags(id)
	log := p.logger.With(zap.String("video_id", id.String()), zap.String("name", name))

	info, err := p.create(ctx, name, tags, log)
	if err != nil {
		p.metrics.IncProvisioningError()
		return models.LiveInfo{}, err
	}
	info.Stamp = stamp
	info.Provider = p.cfg.ProviderName
	p.metrics.IncProvisioned()
	log.Info("live stack created", zap.String("channel_id", info.ChannelID), zap.String("input_id", info.InputID))
	return info, nil
}

func (p *Provisioner) create(ctx context.Context, name string, tags map[string]string, log *zap.Logger) (models.LiveInfo, error) {
	group, err := p.securityGroup(ctx)
	if err != nil {
		return models.LiveInfo{}, err
	}
	input, err := p.encoder.CreateInput(ctx, provider.CreateInputRequest{Name: name, SecurityGroupID: group.ID, Tags: tags})
	if err != nil {
		return models.LiveInfo{}, fmt.Errorf("create input: %w", err)
	}
	log.Debug("input created", zap.String("input_id", input.ID))

	packaging, err := p.packager.CreateChannel(ctx, name, tags)
	if err != nil {
		return models.LiveInfo{}, fmt.Errorf("create packaging channel: %w", err)
	}
	endpoint, err := p.packager.CreateEndpoint(ctx, packaging.ID, tags)
	if err != nil {
		return models.LiveInfo{}, fmt.Errorf("create packaging endpoint: %w", err)
	}
	log.Debug("packaging created", zap.String("packaging_channel_id", packaging.ID), zap.String("packaging_endpoint_id", endpoint.ID))

	channel, err := p.encoder.CreateChannel(ctx, provider.CreateChannelRequest{
		Name:    name,
		InputID: input.ID,
		Ingest:  packaging.Ingest,
		Tags:    tags,
	})
	if err != nil {
		return models.LiveInfo{}, fmt.Errorf("create channel: %w", err)
	}

	return models.LiveInfo{
		ChannelID:            channel.ID,
		InputID:              input.ID,
		InputEndpoints:       input.Endpoints,
		PackagingChannelID:   packaging.ID,
		PackagingEndpointID:  endpoint.ID,
		PackagingEndpointURL: endpoint.URL,
	}, nil
}

// securityGroup returns the group tagged for this environment, creating it on first use.
func (p *Provisioner) securityGroup(ctx context.Context) (provider.SecurityGroup, error) {
	for g, err := range provider.SecurityGroups(ctx, p.encoder) {
		if err != nil {
			return provider.SecurityGroup{}, fmt.Errorf("list security groups: %w", err)
		}
		if g.Tags[p.cfg.SecurityGroupTag] == p.cfg.Env {
			return g, nil
		}
	}
	g, err := p.encoder.CreateSecurityGroup(ctx, map[string]string{p.cfg.SecurityGroupTag: p.cfg.Env})
	if err != nil {
		return provider.SecurityGroup{}, fmt.Errorf("create security group: %w", err)
	}
	p.logger.Info("input security group created", zap.String("security_group_id", g.ID), zap.String("environment", p.cfg.Env))
	return g, nil
}

// StartChannel starts the encoder channel.
func (p *Provisioner) StartChannel(ctx context.Context, channelID string) error {
	if err := p.encoder.StartChannel(ctx, channelID); err != nil {
		return fmt.Errorf("start channel %s: %w", channelID, err)
	}
	return nil
}

// StopChannel stops the encoder channel.
func (p *Provisioner) StopChannel(ctx context.Context, channelID string) error {
	if err := p.encoder.StopChannel(ctx, channelID); err != nil {
		return fmt.Errorf("stop channel %s: %w", channelID, err)
	}
	return nil
}

// DeleteLiveStack tears down the encoder channel and input referenced by info.
func (p *Provisioner) DeleteLiveStack(ctx context.Context, info models.LiveInfo) error {
	var inputs []string
	if info.InputID != "" {
		inputs = append(inputs, info.InputID)
	}
	return p.DeleteStack(ctx, info.ChannelID, inputs...)
}

// DeleteStack deletes the channel, waits for each input to detach and
// deletes it. Missing resources count as deleted. When an input never
// detaches the wait is reported and the input is left for the cleanup sweep.
func (p *Provisioner) DeleteStack(ctx context.Context, channelID string, inputIDs ...string) error {
	log := p.logger.With(zap.String("channel_id", channelID))
	if channelID != "" {
		if err := p.encoder.DeleteChannel(ctx, channelID); err != nil && !errors.Is(err, provider.ErrNotFound) {
			return fmt.Errorf("delete channel %s: %w", channelID, err)
		}
		log.Debug("channel deleted")
	}

	for _, inputID := range inputIDs {
		detached, err := p.waitDetached(ctx, inputID)
		if err != nil {
			return err
		}
		if !detached {
			p.metrics.IncWaiterExhausted()
			log.Warn("input did not detach, leaving it to the cleanup sweep",
				zap.String("input_id", inputID),
				zap.Int("attempts", p.cfg.WaiterMaxAttempts),
				zap.Duration("delay", p.cfg.WaiterDelay),
			)
			continue
		}
		if err := p.encoder.DeleteInput(ctx, inputID); err != nil && !errors.Is(err, provider.ErrNotFound) {
			return fmt.Errorf("delete input %s: %w", inputID, err)
		}
		log.Debug("input deleted", zap.String("input_id", inputID))
	}
	return nil
}

// waitDetached polls the input a bounded number of times. A missing input
// counts as detached.
func (p *Provisioner) waitDetached(ctx context.Context, inputID string) (bool, error) {
	for attempt := 1; attempt <= p.cfg.WaiterMaxAttempts; attempt++ {
		input, err := p.encoder.DescribeInput(ctx, inputID)
		if errors.Is(err, provider.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("describe input %s: %w", inputID, err)
		}
		if input.State == provider.InputDetached {
			return true, nil
		}
		if attempt == p.cfg.WaiterMaxAttempts {
			break
		}
		if err := p.sleep(ctx, p.cfg.WaiterDelay); err != nil {
			return false, err
		}
	}
	return false, nil
}

// DeletePackaging deletes the packaging channel and its endpoints.
func (p *Provisioner) DeletePackaging(ctx context.Context, packagingChannelID string) error {
	if packagingChannelID == "" {
		return nil
	}
	if err := p.packager.DeleteChannel(ctx, packagingChannelID); err != nil && !errors.Is(err, provider.ErrNotFound) {
		return fmt.Errorf("delete packaging channel %s: %w", packagingChannelID, err)
	}
	return nil
}

// Teardown removes everything info references: encoder stack then packaging.
func (p *Provisioner) Teardown(ctx context.Context, info models.LiveInfo) error {
	if err := p.DeleteLiveStack(ctx, info); err != nil {
		return err
	}
	return p.DeletePackaging(ctx, info.PackagingChannelID)
}
