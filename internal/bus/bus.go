// Package bus is the publish/subscribe layer shared by every service. It
// exposes a small Bus interface with an MQTT implementation for production
// and an in-process broker used by tests and single-process setups.
package bus

import (
	"context"
	"fmt"
	"log"
	"time"
)

// QoS levels understood by the MQTT implementation.
const (
	AtMostOnce  byte = 0
	AtLeastOnce byte = 1
	ExactlyOnce byte = 2
)

// Message is a single delivery from the bus.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler receives messages for a subscription. Handlers must not block for
// long; slow work belongs on a separate goroutine.
type Handler func(Message)

// Bus is a shared connection to a publish/subscribe broker. All methods are
// safe for concurrent use.
type Bus interface {
	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers h for a topic filter. Once it returns nil the
	// subscription is active.
	Subscribe(ctx context.Context, filter string, h Handler) error
	// Unsubscribe removes subscriptions by filter.
	Unsubscribe(ctx context.Context, filters ...string) error
	// OnConnectionLost registers fn to be called when the connection drops.
	OnConnectionLost(fn func(error))
	// Disconnect closes the connection, waiting up to quiesce for in-flight work.
	Disconnect(quiesce time.Duration)
}

// SubscribeWithRetry subscribes with a fixed backoff between attempts.
func SubscribeWithRetry(ctx context.Context, b Bus, filter string, h Handler, attempts int, backoff time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if err = b.Subscribe(ctx, filter, h); err == nil {
			return nil
		}
		log.Printf("[bus] subscribe %s failed (attempt %d/%d): %v", filter, i, attempts, err)
		if i == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("subscribe %s after %d attempts: %w", filter, attempts, err)
}
