// Package rpc turns one-way publish/subscribe messaging into a
// request/response call. Each call gets a fresh request id; its response is
// expected on a topic keyed by that id, or on a shared fallback topic whose
// body carries the id.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentz26/taskrelay/internal/bus"
	"github.com/google/uuid"
)

// Config describes the response topics a Tracker listens on.
type Config struct {
	// ResponsePrefix is joined with the request id to form the keyed topic.
	ResponsePrefix string
	// FallbackTopic is the shared, unkeyed response topic. Empty disables it.
	FallbackTopic string
	// ErrorTopic carries remote failures keyed by request_id in the body.
	// Empty disables it.
	ErrorTopic string

	SubscribeAttempts int
	SubscribeBackoff  time.Duration
}

// Reply is the raw message that resolved a call.
type Reply struct {
	RequestID string
	Topic     string
	Payload   []byte
}

type result struct {
	reply *Reply
	err   error
}

// entry is the pending record for one in-flight call.
type entry struct {
	done    chan result
	created time.Time
}

// Tracker correlates requests with responses over a shared bus connection.
type Tracker struct {
	bus bus.Bus
	cfg Config

	mu      sync.Mutex
	pending map[string]*entry
	started bool

	late      atomic.Uint64
	unmatched atomic.Uint64
}

// New creates a tracker on b. Start must be called before Call.
func New(b bus.Bus, cfg Config) *Tracker {
	if cfg.SubscribeAttempts < 1 {
		cfg.SubscribeAttempts = 3
	}
	if cfg.SubscribeBackoff <= 0 {
		cfg.SubscribeBackoff = time.Second
	}
	return &Tracker{
		bus:     b,
		cfg:     cfg,
		pending: make(map[string]*entry),
	}
}

// Start subscribes to the shared fallback and error topics and begins
// watching the connection.
func (t *Tracker) Start(ctx context.Context) error {
	if t.cfg.FallbackTopic != "" {
		if err := bus.SubscribeWithRetry(ctx, t.bus, t.cfg.FallbackTopic, t.handleFallback,
			t.cfg.SubscribeAttempts, t.cfg.SubscribeBackoff); err != nil {
			return fmt.Errorf("subscribe fallback topic: %w", err)
		}
	}
	if t.cfg.ErrorTopic != "" {
		if err := bus.SubscribeWithRetry(ctx, t.bus, t.cfg.ErrorTopic, t.handleError,
			t.cfg.SubscribeAttempts, t.cfg.SubscribeBackoff); err != nil {
			return fmt.Errorf("subscribe error topic: %w", err)
		}
	}
	t.bus.OnConnectionLost(t.failAll)

	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	return nil
}

// Call publishes the payload produced by build to target and waits for the
// correlated response. Exactly one of a reply, ErrTimeout, a transport error,
// a remote error or ctx's error is returned.
func (t *Tracker) Call(ctx context.Context, target string, build func(requestID string) ([]byte, error), timeout time.Duration) (*Reply, error) {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}

	id := uuid.New().String()
	payload, err := build(id)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	e := &entry{done: make(chan result, 1), created: time.Now()}
	t.mu.Lock()
	t.pending[id] = e
	t.mu.Unlock()
	defer t.remove(id)

	// The keyed subscription must be live before the request goes out.
	// A failed subscribe may still have left a route behind, so the
	// unsubscribe is registered either way.
	keyed := t.cfg.ResponsePrefix + "/" + id
	err = t.bus.Subscribe(ctx, keyed, func(m bus.Message) {
		t.resolve(id, result{reply: &Reply{RequestID: id, Topic: m.Topic, Payload: m.Payload}})
	})
	defer t.unsubscribe(keyed)
	if err != nil {
		return nil, fmt.Errorf("subscribe response topic: %w", err)
	}

	if err := t.bus.Publish(ctx, target, payload); err != nil {
		return nil, fmt.Errorf("publish request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-e.done:
		return r.reply, r.err
	case <-timer.C:
		if r, ok := t.settle(id, e); ok {
			return r.reply, r.err
		}
		return nil, fmt.Errorf("%w: request %s after %s", ErrTimeout, id, timeout)
	case <-ctx.Done():
		if r, ok := t.settle(id, e); ok {
			return r.reply, r.err
		}
		return nil, ctx.Err()
	}
}

// settle claims the entry for the caller. If a resolution won the race the
// delivered result is returned instead.
func (t *Tracker) settle(id string, e *entry) (result, bool) {
	if t.remove(id) {
		return result{}, false
	}
	return <-e.done, true
}

// remove deletes a pending entry and reports whether it was still present.
func (t *Tracker) remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; !ok {
		return false
	}
	delete(t.pending, id)
	return true
}

// resolve delivers r to the waiter for id. Only the first resolution for an
// id is delivered; anything later is counted and dropped.
func (t *Tracker) resolve(id string, r result) bool {
	t.mu.Lock()
	e, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		t.late.Add(1)
		return false
	}
	e.done <- r
	return true
}

func (t *Tracker) unsubscribe(topic string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.bus.Unsubscribe(ctx, topic); err != nil {
		log.Printf("[rpc] unsubscribe %s: %v", topic, err)
	}
}

type envelope struct {
	RequestID       string `json:"request_id"`
	Error           string `json:"error"`
	FallbackProject string `json:"fallback_project"`
}

// handleFallback matches shared-topic responses by their request_id field,
// or by scanning the body for a pending id when the field is absent.
func (t *Tracker) handleFallback(m bus.Message) {
	var env envelope
	if err := json.Unmarshal(m.Payload, &env); err == nil && env.RequestID != "" {
		t.resolve(env.RequestID, result{reply: &Reply{RequestID: env.RequestID, Topic: m.Topic, Payload: m.Payload}})
		return
	}

	id := t.findInBody(m.Payload)
	if id == "" {
		t.unmatched.Add(1)
		return
	}
	t.resolve(id, result{reply: &Reply{RequestID: id, Topic: m.Topic, Payload: m.Payload}})
}

func (t *Tracker) findInBody(payload []byte) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.pending {
		if bytes.Contains(payload, []byte(id)) {
			return id
		}
	}
	return ""
}

func (t *Tracker) handleError(m bus.Message) {
	var env envelope
	if err := json.Unmarshal(m.Payload, &env); err != nil || env.RequestID == "" {
		t.unmatched.Add(1)
		return
	}
	t.resolve(env.RequestID, result{err: &RemoteError{Message: env.Error, Fallback: env.FallbackProject}})
}

// failAll resolves every pending call with a transport error.
func (t *Tracker) failAll(cause error) {
	t.mu.Lock()
	entries := t.pending
	t.pending = make(map[string]*entry)
	t.mu.Unlock()

	if len(entries) > 0 {
		log.Printf("[rpc] connection lost, failing %d pending calls", len(entries))
	}
	for _, e := range entries {
		e.done <- result{err: fmt.Errorf("%w: %w", bus.ErrTransport, cause)}
	}
}

// Pending returns the number of in-flight calls.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Stats returns tracker counters.
func (t *Tracker) Stats() map[string]interface{} {
	return map[string]interface{}{
		"pending":   t.Pending(),
		"late":      t.late.Load(),
		"unmatched": t.unmatched.Load(),
	}
}
