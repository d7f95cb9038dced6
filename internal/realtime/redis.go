package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"nudgebot/internal/redis"
)

const channelPrefix = "nudgebot:"

// RedisBroadcaster publishes envelopes over redis pub/sub so every node's
// subscribers see them.
type RedisBroadcaster struct {
	client *redis.Client
}

func NewRedisBroadcaster(client *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

func (r *RedisBroadcaster) Publish(ctx context.Context, group, eventType string, payload any) error {
	if r == nil || r.client == nil {
		return errors.New("redis broadcaster not initialized")
	}
	env, err := newEnvelope(group, eventType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channelPrefix+group, data)
}

// Listen subscribes to every group channel; blocks until ctx is done.
func (r *RedisBroadcaster) Listen(ctx context.Context, handler func(Envelope)) error {
	if r == nil || r.client == nil || handler == nil {
		return errors.New("redis broadcaster not initialized")
	}
	pubsub, err := r.client.PSubscribe(ctx, channelPrefix+"*")
	if err != nil {
		return err
	}
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.Warn("realtime decode failed", "channel", msg.Channel, "err", err)
				continue
			}
			if env.Group == "" {
				env.Group = strings.TrimPrefix(msg.Channel, channelPrefix)
			}
			handler(env)
		}
	}
}
