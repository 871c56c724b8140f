package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisChannelPrefix = "board:thread:"

// RedisBus fans events out across API nodes with Redis pub/sub. Each
// subscription holds its own PubSub connection.
type RedisBus struct {
	client     *redis.Client
	bufferSize int
}

func NewRedisBus(redisURL string) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisBusWithClient(client), nil
}

func NewRedisBusWithClient(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, bufferSize: defaultBufferSize}
}

func channelFor(threadID string) string {
	return redisChannelPrefix + threadID
}

func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channelFor(event.ThreadID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, threadID string) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, channelFor(threadID))
	// Wait for the subscription confirmation so no event published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", threadID, err)
	}

	out := make(chan Event, b.bufferSize)
	done := make(chan struct{})
	go b.forward(ps, threadID, out, done)

	return newSubscription(out, func() {
		close(done)
		_ = ps.Close()
	}), nil
}

func (b *RedisBus) forward(ps *redis.PubSub, threadID string, out chan<- Event, done <-chan struct{}) {
	defer close(out)
	messages := ps.Channel()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			event, err := Decode([]byte(msg.Payload))
			if err != nil {
				log.WithFields(log.Fields{
					"channel": msg.Channel,
					"error":   err,
				}).Warn("dropping malformed feed message")
				continue
			}
			if event.ThreadID != threadID {
				continue
			}
			select {
			case out <- event:
			case <-done:
				return
			default:
				droppedEvents.WithLabelValues("redis").Inc()
				log.WithFields(log.Fields{
					"thread": threadID,
					"op":     event.Op,
				}).Warn("subscriber channel full, dropping event")
			}
		}
	}
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
