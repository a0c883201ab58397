package bus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryBroker is an in-process Bus. Every subscription gets its own
// delivery goroutine and an unbounded queue, so a slow handler only delays
// its own subscription. Delivery order is preserved per subscription.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]*memorySub
	lost   []func(error)
	closed bool

	failSubscribes int
	publishErr     error
}

type memorySub struct {
	filter  string
	handler Handler

	mu      sync.Mutex
	queue   []Message
	busy    bool
	wake    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]*memorySub)}
}

// Publish delivers payload to every matching subscription.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("%w: publish %q: %w", ErrTransport, topic, ErrClosed)
	}
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return fmt.Errorf("%w: publish %q: %w", ErrTransport, topic, err)
	}
	var targets []*memorySub
	for _, s := range b.subs {
		if Matches(s.filter, topic) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		data := make([]byte, len(payload))
		copy(data, payload)
		s.enqueue(Message{Topic: topic, Payload: data})
	}
	return nil
}

// Subscribe registers h for filter, replacing any existing handler for the
// same filter.
func (b *MemoryBroker) Subscribe(ctx context.Context, filter string, h Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("%w: subscribe %q: %w", ErrTransport, filter, ErrClosed)
	}
	if b.failSubscribes > 0 {
		b.failSubscribes--
		return fmt.Errorf("%w: subscribe %q: broker refused", ErrTransport, filter)
	}

	if old, ok := b.subs[filter]; ok {
		old.stop()
	}
	s := &memorySub{
		filter:  filter,
		handler: h,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	b.subs[filter] = s
	go s.run()
	return nil
}

// Unsubscribe removes the subscriptions for the given filters.
func (b *MemoryBroker) Unsubscribe(ctx context.Context, filters ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("%w: unsubscribe: %w", ErrTransport, ErrClosed)
	}
	for _, f := range filters {
		if s, ok := b.subs[f]; ok {
			s.stop()
			delete(b.subs, f)
		}
	}
	return nil
}

// OnConnectionLost registers a listener for DropConnection.
func (b *MemoryBroker) OnConnectionLost(fn func(error)) {
	b.mu.Lock()
	b.lost = append(b.lost, fn)
	b.mu.Unlock()
}

// Disconnect rejects new publishes, lets queued deliveries finish for up to
// quiesce, then stops all subscriptions.
func (b *MemoryBroker) Disconnect(quiesce time.Duration) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*memorySub, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	deadline := time.Now().Add(quiesce)
	for _, s := range subs {
		for !s.idle() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for f, s := range b.subs {
		s.stop()
		delete(b.subs, f)
	}
}

// DropConnection simulates a broker connection loss: subscriptions are
// discarded and connection-lost listeners are notified with err.
func (b *MemoryBroker) DropConnection(err error) {
	b.mu.Lock()
	for f, s := range b.subs {
		s.stop()
		delete(b.subs, f)
	}
	listeners := append(([]func(error))(nil), b.lost...)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(err)
	}
}

// FailNextSubscribes makes the next n Subscribe calls fail.
func (b *MemoryBroker) FailNextSubscribes(n int) {
	b.mu.Lock()
	b.failSubscribes = n
	b.mu.Unlock()
}

// SetPublishError makes every Publish fail with err until cleared with nil.
func (b *MemoryBroker) SetPublishError(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

// Subscriptions returns the currently active filters.
func (b *MemoryBroker) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	filters := make([]string, 0, len(b.subs))
	for f := range b.subs {
		filters = append(filters, f)
	}
	return filters
}

func (s *memorySub) enqueue(m Message) {
	s.mu.Lock()
	s.queue = append(s.queue, m)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySub) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) == 0 && !s.busy
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.stopped) })
}

func (s *memorySub) run() {
	for {
		select {
		case <-s.stopped:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			m := s.queue[0]
			s.queue = s.queue[1:]
			s.busy = true
			s.mu.Unlock()

			select {
			case <-s.stopped:
				return
			default:
			}
			s.handler(m)

			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
		}
	}
}
