package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "bid_events:"

// RedisPublisher publishes bid events on Redis Pub/Sub so every server
// instance can relay them to its own websocket watchers.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps an existing client
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends ev on the item's channel
func (p *RedisPublisher) Publish(ctx context.Context, ev BidEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(ev.ItemID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Relay subscribes to every item channel and forwards payloads to hub
// until ctx ends.
func Relay(ctx context.Context, client *redis.Client, hub *Hub) error {
	pubsub := client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reporting ready
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to bid events: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			itemID, err := itemIDFromChannel(msg.Channel)
			if err != nil {
				log.Printf("Ignoring message on %s: %v", msg.Channel, err)
				continue
			}
			hub.Broadcast(itemID, []byte(msg.Payload))
		}
	}
}

// itemIDFromChannel extracts the item id: "bid_events:42" -> 42
func itemIDFromChannel(channel string) (int64, error) {
	raw, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok {
		return 0, fmt.Errorf("unexpected channel")
	}
	return strconv.ParseInt(raw, 10, 64)
}
