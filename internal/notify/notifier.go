// Package notify publishes live updates to viewers and administrators.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campus-live/backend/internal/models"
)

// Audience selects which projection of a live a subscriber receives.
type Audience string

const (
	AudienceParticipant Audience = "participant"
	AudienceAdmin       Audience = "admin"
)

const (
	// EventLiveUpdated is published whenever a live changes in a way clients render.
	EventLiveUpdated = "live_updated"

	channelPrefix = "live:"
	eventTTL      = 5 * time.Second
)

// Notifier delivers a live update to one audience. Delivery is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, live *models.LiveResource, audience Audience)
}

// Message is the envelope published on a live channel.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// Channel is the pub/sub channel of a live for an audience.
func Channel(id uuid.UUID, audience Audience) string {
	return channelPrefix + id.String() + ":" + string(audience)
}

// RedisNotifier publishes updates over Redis pub/sub for the websocket tier.
type RedisNotifier struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisNotifier creates a Redis-backed notifier.
func NewRedisNotifier(client redis.UniversalClient, logger *zap.Logger) *RedisNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNotifier{client: client, logger: logger}
}

// Notify publishes the audience's view of live. Failures are logged only.
func (n *RedisNotifier) Notify(ctx context.Context, live *models.LiveResource, audience Audience) {
	if err := n.publish(ctx, live, audience); err != nil {
		n.logger.Warn("live notification failed",
			zap.String("video_id", live.ID.String()),
			zap.String("audience", string(audience)),
			zap.Error(err),
		)
	}
}

func (n *RedisNotifier) publish(ctx context.Context, live *models.LiveResource, audience Audience) error {
	data, err := json.Marshal(ViewFor(live, audience))
	if err != nil {
		return fmt.Errorf("marshal view: %w", err)
	}
	body, err := json.Marshal(Message{Event: EventLiveUpdated, Data: data, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTTL)
	defer cancel()
	return n.client.Publish(ctx, Channel(live.ID, audience), body).Err()
}

// Subscribe calls handler for every message published for a live and
// audience until the returned cancel function is called.
func (n *RedisNotifier) Subscribe(ctx context.Context, id uuid.UUID, audience Audience, handler func(Message)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(ctx)
	pubsub := n.client.Subscribe(ctx, Channel(id, audience))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m Message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					continue
				}
				handler(m)
			}
		}
	}()
	return cancelCtx, nil
}

// NotifyAll sends the update to participants and administrators.
func NotifyAll(ctx context.Context, n Notifier, live *models.LiveResource) {
	if n == nil {
		return
	}
	n.Notify(ctx, live, AudienceParticipant)
	n.Notify(ctx, live, AudienceAdmin)
}
