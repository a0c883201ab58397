package metrics

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// DefaultInterval is how often snapshots are published.
const DefaultInterval = 300 * time.Second

// Publisher is the subset of the bus the reporter needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Reporter publishes collector snapshots to a topic on a fixed interval.
type Reporter struct {
	collector *Collector
	pub       Publisher
	topic     string
	interval  time.Duration
}

// NewReporter creates a reporter. A non-positive interval uses DefaultInterval.
func NewReporter(c *Collector, pub Publisher, topic string, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{collector: c, pub: pub, topic: topic, interval: interval}
}

// Run publishes a snapshot every interval until ctx ends, then emits one
// final snapshot and returns.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			r.Emit(flushCtx)
			cancel()
			return
		case <-ticker.C:
			r.Emit(ctx)
		}
	}
}

// Emit publishes one snapshot. Failures are logged, never fatal.
func (r *Reporter) Emit(ctx context.Context) {
	snap := r.collector.Snapshot()
	payload, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[metrics] encode snapshot: %v", err)
		return
	}
	if err := r.pub.Publish(ctx, r.topic, payload); err != nil {
		log.Printf("[metrics] publish to %s failed: %v", r.topic, err)
		return
	}
	log.Printf("[metrics] received=%d processed=%d failed=%d success_rate=%.1f%%",
		snap.Received, snap.Processed, snap.Failed, snap.SuccessRate)
}
