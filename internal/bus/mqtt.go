package bus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds connection parameters for an MQTT broker.
type MQTTConfig struct {
	Host           string
	Port           int
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	CleanSession   bool
	QoS            byte
	// ResubscribeBackoff is the delay between attempts to restore
	// subscriptions after a reconnect.
	ResubscribeBackoff time.Duration
}

// MQTTBus is a Bus backed by a single shared paho client.
type MQTTBus struct {
	client mqtt.Client
	cfg    MQTTConfig

	mu     sync.Mutex
	subs   map[string]Handler
	lost   []func(error)
	closed bool
	done   chan struct{}
}

// DialMQTT connects to the broker described by cfg.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTTBus, error) {
	if cfg.ResubscribeBackoff <= 0 {
		cfg.ResubscribeBackoff = time.Second
	}

	b := &MQTTBus{
		cfg:  cfg,
		subs: make(map[string]Handler),
		done: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[bus] connection to %s:%d lost: %v", cfg.Host, cfg.Port, err)
		b.notifyLost(fmt.Errorf("%w: %w", ErrConnectionLost, err))
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		go b.resubscribe()
	})

	b.client = mqtt.NewClient(opts)
	if err := waitToken(ctx, b.client.Connect()); err != nil {
		return nil, fmt.Errorf("%w: connect %s:%d: %w", ErrTransport, cfg.Host, cfg.Port, err)
	}
	log.Printf("[bus] connected to %s:%d as %s", cfg.Host, cfg.Port, cfg.ClientID)
	return b, nil
}

// Publish sends payload to topic with the configured QoS.
func (b *MQTTBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.isClosed() {
		return fmt.Errorf("%w: publish %q: %w", ErrTransport, topic, ErrClosed)
	}
	if err := waitToken(ctx, b.client.Publish(topic, b.cfg.QoS, false, payload)); err != nil {
		return fmt.Errorf("%w: publish %q: %w", ErrTransport, topic, err)
	}
	return nil
}

// Subscribe registers h for filter and waits for the broker's acknowledgement.
func (b *MQTTBus) Subscribe(ctx context.Context, filter string, h Handler) error {
	if b.isClosed() {
		return fmt.Errorf("%w: subscribe %q: %w", ErrTransport, filter, ErrClosed)
	}
	if err := waitToken(ctx, b.client.Subscribe(filter, b.cfg.QoS, wrapHandler(h))); err != nil {
		return fmt.Errorf("%w: subscribe %q: %w", ErrTransport, filter, err)
	}

	b.mu.Lock()
	b.subs[filter] = h
	b.mu.Unlock()
	return nil
}

// Unsubscribe removes filters from the broker and from the resubscribe set.
func (b *MQTTBus) Unsubscribe(ctx context.Context, filters ...string) error {
	if len(filters) == 0 {
		return nil
	}

	b.mu.Lock()
	for _, f := range filters {
		delete(b.subs, f)
	}
	b.mu.Unlock()

	if b.isClosed() {
		return fmt.Errorf("%w: unsubscribe: %w", ErrTransport, ErrClosed)
	}
	if err := waitToken(ctx, b.client.Unsubscribe(filters...)); err != nil {
		return fmt.Errorf("%w: unsubscribe: %w", ErrTransport, err)
	}
	return nil
}

// OnConnectionLost registers fn to be called whenever the client loses its connection.
func (b *MQTTBus) OnConnectionLost(fn func(error)) {
	b.mu.Lock()
	b.lost = append(b.lost, fn)
	b.mu.Unlock()
}

// Disconnect closes the client, allowing quiesce for in-flight work.
func (b *MQTTBus) Disconnect(quiesce time.Duration) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.client.Disconnect(uint(quiesce.Milliseconds()))
	log.Printf("[bus] disconnected %s", b.cfg.ClientID)
}

func (b *MQTTBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *MQTTBus) notifyLost(err error) {
	b.mu.Lock()
	listeners := append(([]func(error))(nil), b.lost...)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(err)
	}
}

// resubscribe restores tracked subscriptions after a (re)connect. A clean
// session drops them on the broker side.
func (b *MQTTBus) resubscribe() {
	b.mu.Lock()
	pending := make(map[string]Handler, len(b.subs))
	for f, h := range b.subs {
		pending[f] = h
	}
	b.mu.Unlock()

	for len(pending) > 0 {
		for f, h := range pending {
			b.mu.Lock()
			_, tracked := b.subs[f]
			b.mu.Unlock()
			if !tracked {
				delete(pending, f)
				continue
			}

			tok := b.client.Subscribe(f, b.cfg.QoS, wrapHandler(h))
			tok.Wait()
			if err := tok.Error(); err != nil {
				log.Printf("[bus] resubscribe %s failed: %v", f, err)
				continue
			}
			delete(pending, f)
		}
		if len(pending) == 0 {
			return
		}

		select {
		case <-b.done:
			return
		case <-time.After(b.cfg.ResubscribeBackoff):
		}
	}
}

func wrapHandler(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		h(Message{Topic: m.Topic(), Payload: m.Payload()})
	}
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
