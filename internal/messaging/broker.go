// internal/messaging/broker.go
// Fan-out between gateway instances

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// Delivery addresses an envelope. Recipients are the connections of UserIDs
// plus every subscriber of Room, or every connection when Broadcast is set.
// Connections owned by ExceptUser are skipped.
//
// An Evict delivery carries no envelope: it removes the connections of
// UserIDs from Room on every instance.
type Delivery struct {
	UserIDs    []string `json:"user_ids,omitempty"`
	Room       string   `json:"room,omitempty"`
	ExceptUser string   `json:"except_user,omitempty"`
	Broadcast  bool     `json:"broadcast,omitempty"`
	Evict      bool     `json:"evict,omitempty"`
	Envelope   Envelope `json:"envelope"`
}

// Broker carries deliveries to every hub, including the publishing one.
type Broker interface {
	Publish(ctx context.Context, d Delivery) error
	// Subscribe registers handle and returns once it will see every later
	// Publish. handle is called until ctx is done.
	Subscribe(ctx context.Context, handle func(Delivery)) error
}

type localBroker struct {
	mu       sync.RWMutex
	handlers map[int]func(Delivery)
	next     int
}

// NewLocalBroker returns a Broker for a single gateway process.
func NewLocalBroker() Broker {
	return &localBroker{handlers: make(map[int]func(Delivery))}
}

func (b *localBroker) Publish(ctx context.Context, d Delivery) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, handle := range b.handlers {
		handle(d)
	}
	return nil
}

func (b *localBroker) Subscribe(ctx context.Context, handle func(Delivery)) error {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = handle
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

type redisBroker struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisBroker publishes deliveries on a redis pub/sub channel shared by all
// gateway instances.
func NewRedisBroker(client *redis.Client, channel string, logger zerolog.Logger) Broker {
	if channel == "" {
		channel = "chat:deliveries"
	}
	return &redisBroker{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "broker").Logger(),
	}
}

func (b *redisBroker) Publish(ctx context.Context, d Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

func (b *redisBroker) Subscribe(ctx context.Context, handle func(Delivery)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var d Delivery
				if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
					b.logger.Warn().Err(err).Msg("dropping malformed delivery")
					continue
				}
				handle(d)
			}
		}
	}()
	return nil
}
