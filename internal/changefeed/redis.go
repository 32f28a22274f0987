package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Broker publishes and subscribes to change events over Redis pub/sub.
type Broker struct {
	client *redis.Client
}

// NewBroker connects to Redis and verifies the connection.
func NewBroker(redisURL string) (*Broker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Broker{client: client}, nil
}

// NewBrokerWithClient creates a broker from an existing Redis client.
func NewBrokerWithClient(client *redis.Client) *Broker {
	return &Broker{client: client}
}

// Publish sends one event to a topic. Writers call this after commit so
// subscribers only ever see persisted rows.
func (b *Broker) Publish(ctx context.Context, topic string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscription is a live push channel for one topic. Close tears it down and
// closes C; exactly one Subscription per live scope at a time is the caller's
// contract.
type Subscription struct {
	C <-chan Event

	pubsub    *redis.PubSub
	closeOnce sync.Once
}

// Close unsubscribes and releases the underlying pub/sub connection. Safe to
// call more than once.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.pubsub != nil {
			err = s.pubsub.Close()
		}
	})
	return err
}

// Subscribe opens a push channel for one topic. The returned channel closes
// when the subscription is closed or the connection is lost for good.
func (b *Broker) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, topic)

	// Block until the server confirms the subscription, so no event published
	// after this call returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("changefeed: drop malformed event on %s: %v", topic, err)
				continue
			}
			out <- ev
		}
	}()

	return &Subscription{C: out, pubsub: pubsub}, nil
}

func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Broker) Close() error {
	return b.client.Close()
}
