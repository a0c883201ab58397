// Package metrics keeps process-wide counters and publishes periodic
// snapshots of them.
package metrics

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// Kind selects the counter vocabulary used in published snapshots.
type Kind int

const (
	// Tasks is used by the intake service (tasks_received, ...).
	Tasks Kind = iota
	// Requests is used by the classification worker (requests_received, ...).
	Requests
)

// Collector holds five monotonic counters. Increments are lock-free and
// snapshots never block writers.
type Collector struct {
	kind      Kind
	startedAt time.Time
	now       func() time.Time

	received                 atomic.Uint64
	processed                atomic.Uint64
	failed                   atomic.Uint64
	classificationsRequested atomic.Uint64
	classificationsSucceeded atomic.Uint64
}

// NewCollector creates a collector whose uptime starts now.
func NewCollector(kind Kind) *Collector {
	return &Collector{kind: kind, startedAt: time.Now(), now: time.Now}
}

// IncReceived counts an inbound message and returns the new total.
func (c *Collector) IncReceived() uint64 { return c.received.Add(1) }

// IncProcessed counts a message handled to success.
func (c *Collector) IncProcessed() uint64 { return c.processed.Add(1) }

// IncFailed counts a message that reached a failure outcome.
func (c *Collector) IncFailed() uint64 { return c.failed.Add(1) }

// IncClassificationRequested counts a classification round-trip started.
func (c *Collector) IncClassificationRequested() uint64 {
	return c.classificationsRequested.Add(1)
}

// IncClassificationSuccessful counts a classification answered with a project.
func (c *Collector) IncClassificationSuccessful() uint64 {
	return c.classificationsSucceeded.Add(1)
}

// Snapshot is a consistent-enough view of the counters plus derived rates.
type Snapshot struct {
	Kind                      Kind
	Received                  uint64
	Processed                 uint64
	Failed                    uint64
	ClassificationsRequested  uint64
	ClassificationsSuccessful uint64
	// Rates are percentages.
	SuccessRate               float64
	ClassificationSuccessRate float64
	UptimeSeconds             float64
	PerMinute                 float64
	Timestamp                 time.Time
}

// Snapshot reads the counters and computes derived rates.
func (c *Collector) Snapshot() Snapshot {
	now := c.now()
	s := Snapshot{
		Kind:                      c.kind,
		Received:                  c.received.Load(),
		Processed:                 c.processed.Load(),
		Failed:                    c.failed.Load(),
		ClassificationsRequested:  c.classificationsRequested.Load(),
		ClassificationsSuccessful: c.classificationsSucceeded.Load(),
		UptimeSeconds:             now.Sub(c.startedAt).Seconds(),
		Timestamp:                 now.UTC(),
	}
	if s.Received > 0 {
		s.SuccessRate = float64(s.Processed) / float64(s.Received) * 100
	}
	if s.ClassificationsRequested > 0 {
		s.ClassificationSuccessRate = float64(s.ClassificationsSuccessful) / float64(s.ClassificationsRequested) * 100
	}
	if s.UptimeSeconds > 0 {
		s.PerMinute = float64(s.Received) / s.UptimeSeconds * 60
	}
	return s
}

// Fields returns the snapshot keyed the way it is published on the bus.
func (s Snapshot) Fields() map[string]interface{} {
	if s.Kind == Requests {
		return map[string]interface{}{
			"requests_received":   s.Received,
			"requests_processed":  s.Processed,
			"requests_failed":     s.Failed,
			"success_rate":        s.SuccessRate,
			"uptime_seconds":      s.UptimeSeconds,
			"requests_per_minute": s.PerMinute,
			"timestamp":           s.Timestamp,
		}
	}
	return map[string]interface{}{
		"tasks_received":                     s.Received,
		"tasks_processed":                    s.Processed,
		"tasks_failed":                       s.Failed,
		"project_classifications_requested":  s.ClassificationsRequested,
		"project_classifications_successful": s.ClassificationsSuccessful,
		"classification_success_rate":        s.ClassificationSuccessRate,
		"success_rate":                       s.SuccessRate,
		"uptime_seconds":                     s.UptimeSeconds,
		"tasks_per_minute":                   s.PerMinute,
		"timestamp":                          s.Timestamp,
	}
}

// MarshalJSON encodes the published field set.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Fields())
}
