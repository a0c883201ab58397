// Package shutdown coordinates a single, process-wide stop signal fired by
// an OS signal or a control-topic command.
package shutdown

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fentz26/taskrelay/internal/bus"
	"github.com/fentz26/taskrelay/internal/metrics"
	"github.com/fentz26/taskrelay/internal/models"
	"github.com/fentz26/taskrelay/internal/topics"
)

// DefaultGrace bounds how long in-flight work may run after the trigger.
const DefaultGrace = time.Second

// Options configures a Coordinator.
type Options struct {
	// Service names the process on the control and status topics.
	Service string
	Bus     bus.Bus
	Metrics *metrics.Collector
	Grace   time.Duration
	// Extra, if set, supplies the Details of "running" status reports.
	Extra func() interface{}
}

// Coordinator owns the shutdown signal for one service.
type Coordinator struct {
	opts Options

	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	reason string
}

// New creates a coordinator that has not fired yet.
func New(opts Options) *Coordinator {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	return &Coordinator{opts: opts, done: make(chan struct{})}
}

// Trigger fires the shutdown signal. Only the first call has an effect; it
// reports whether this call fired it.
func (c *Coordinator) Trigger(reason string) bool {
	fired := false
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
		fired = true
		log.Printf("[shutdown] %s: shutdown requested (%s)", c.opts.Service, reason)
	})
	return fired
}

// Done is closed once shutdown has been triggered.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Reason returns what triggered the shutdown, or "" if it has not fired.
func (c *Coordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Grace returns the configured grace period.
func (c *Coordinator) Grace() time.Duration {
	return c.opts.Grace
}

// Context returns a context cancelled when shutdown fires or parent ends.
func (c *Coordinator) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// WatchSignals triggers shutdown on SIGINT or SIGTERM until ctx ends.
func (c *Coordinator) WatchSignals(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer stop()
		select {
		case <-sigCtx.Done():
			if ctx.Err() == nil {
				c.Trigger("signal")
			}
		case <-c.done:
		}
	}()
}

// HandleControl is the bus handler for <service>/control.
func (c *Coordinator) HandleControl(m bus.Message) {
	var cmd models.ControlCommand
	if err := json.Unmarshal(m.Payload, &cmd); err != nil {
		cmd.Command = strings.TrimSpace(string(m.Payload))
	}

	switch strings.ToLower(cmd.Command) {
	case models.CommandShutdown:
		c.Trigger("control")
	case models.CommandStatus:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.publishStatus(ctx, "running")
	default:
		log.Printf("[shutdown] %s: ignoring unknown control command %q", c.opts.Service, cmd.Command)
	}
}

// Stages are the service-specific steps of the stop sequence. Any of them
// may be nil.
type Stages struct {
	// StopIntake ends inbound delivery.
	StopIntake func(ctx context.Context)
	// Drain waits up to the given time for in-flight work and reports
	// whether all of it finished.
	Drain func(time.Duration) bool
	// Abort cancels work still running once the grace period is over.
	Abort func()
}

// Finalize runs the stop sequence: publish the final status, stop intake,
// let in-flight work drain for the grace period, abort what is left and
// wait for it to unwind, then disconnect from the bus.
func (c *Coordinator) Finalize(ctx context.Context, st Stages) {
	pubCtx, cancel := context.WithTimeout(ctx, c.opts.Grace)
	c.publishStatus(pubCtx, "shutdown")
	cancel()

	if st.StopIntake != nil {
		stopCtx, cancel := context.WithTimeout(ctx, c.opts.Grace)
		st.StopIntake(stopCtx)
		cancel()
	}

	if st.Drain != nil && !st.Drain(c.opts.Grace) {
		log.Printf("[shutdown] %s: grace period %s elapsed with work still in flight, aborting", c.opts.Service, c.opts.Grace)
		if st.Abort != nil {
			st.Abort()
		}
		if !st.Drain(c.opts.Grace) {
			log.Printf("[shutdown] %s: aborted work did not unwind within %s", c.opts.Service, c.opts.Grace)
		}
	}

	if c.opts.Bus != nil {
		c.opts.Bus.Disconnect(c.opts.Grace)
	}
	log.Printf("[shutdown] %s: shutdown complete", c.opts.Service)
}

func (c *Coordinator) publishStatus(ctx context.Context, status string) {
	if c.opts.Bus == nil {
		return
	}

	report := models.StatusReport{
		Status:    status,
		Service:   c.opts.Service,
		Timestamp: time.Now().UTC(),
	}
	var snap interface{}
	if c.opts.Metrics != nil {
		snap = c.opts.Metrics.Snapshot()
	}
	if status == "shutdown" {
		report.Reason = c.Reason()
		report.FinalMetrics = snap
	} else {
		report.Metrics = snap
		if c.opts.Extra != nil {
			report.Details = c.opts.Extra()
		}
	}

	payload, err := json.Marshal(report)
	if err != nil {
		log.Printf("[shutdown] encode status: %v", err)
		return
	}
	topic := topics.Status(c.opts.Service)
	if err := c.opts.Bus.Publish(ctx, topic, payload); err != nil {
		log.Printf("[shutdown] publish status to %s failed: %v", topic, err)
	}
}

// Wait blocks until wg finishes or d elapses, reporting whether wg finished.
func Wait(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// Group tracks in-flight units of work and refuses new ones once closed.
type Group struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Go runs fn on a new goroutine unless the group is closed.
func (g *Group) Go(fn func()) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		fn()
	}()
	return true
}

// Close stops admitting new work.
func (g *Group) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Wait closes the group and waits up to d for running work to finish.
func (g *Group) Wait(d time.Duration) bool {
	g.Close()
	return Wait(&g.wg, d)
}
