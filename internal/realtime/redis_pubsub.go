package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aura-webinar/screenrec/internal/models"
)

const (
	channelPrefix = "screenrec:session:"
	eventTTL      = 5 * time.Second
)

// redisPayload is the message published to Redis for out-of-process watchers.
type redisPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// RedisPubSub mirrors session events onto Redis pub/sub, one channel per session run.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for session events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// SessionChannel returns the Redis channel for a session run.
func SessionChannel(sessionID uuid.UUID) string {
	return channelPrefix + sessionID.String()
}

func encodePayload(ev models.SessionEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(redisPayload{Event: ev.Type, Data: data, At: ev.At.Unix()})
}

func decodePayload(raw []byte) (models.SessionEvent, error) {
	var p redisPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.SessionEvent{}, err
	}
	var ev models.SessionEvent
	if err := json.Unmarshal(p.Data, &ev); err != nil {
		return models.SessionEvent{}, err
	}
	if ev.Type == "" {
		ev.Type = p.Event
	}
	return ev, nil
}

// PublishSessionEvent publishes an event to its session's Redis channel.
func (r *RedisPubSub) PublishSessionEvent(ev models.SessionEvent) error {
	body, err := encodePayload(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTTL)
	defer cancel()
	return r.client.Publish(ctx, SessionChannel(ev.SessionID), body).Err()
}

// SubscribeSessions subscribes to every session channel and calls handler for each event.
// Returns a cancel function to stop the subscription.
func (r *RedisPubSub) SubscribeSessions(ctx context.Context, handler func(ev models.SessionEvent)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(ctx)
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	if _, err = pubsub.Receive(ctx); err != nil {
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
				if !strings.HasPrefix(msg.Channel, channelPrefix) {
					continue
				}
				ev, err := decodePayload([]byte(msg.Payload))
				if err != nil {
					r.logger.Debug("skipping malformed event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				handler(ev)
			}
		}
	}()
	return cancelCtx, nil
}
