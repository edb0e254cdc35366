package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Redis relays room events through Redis pub/sub, one channel per
// session token. Required once more than one process instance serves
// websocket connections for the same session.
type Redis struct {
	client     *redis.Client
	instanceID string
}

func NewRedis(ctx context.Context, redisURL, instanceID string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, instanceID: instanceID}, nil
}

func channelFor(token string) string {
	return "room:" + token
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	ev.Origin = r.instanceID
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal backplane event: %w", err)
	}
	if err := r.client.Publish(ctx, channelFor(ev.Token), data).Err(); err != nil {
		return fmt.Errorf("publish backplane event: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, token string, fn func(Event)) (func(), error) {
	pubsub := r.client.Subscribe(ctx, channelFor(token))
	// Force the subscription to be established before returning so a
	// room never misses events published right after Subscribe.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channelFor(token), err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("backplane: bad payload on %s: %v", msg.Channel, err)
				continue
			}
			if ev.Origin == r.instanceID {
				continue
			}
			fn(ev)
		}
	}()

	return func() { _ = pubsub.Close() }, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
