package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/fentz26/taskrelay/internal/bus"
	"github.com/fentz26/taskrelay/internal/limiter"
	"github.com/fentz26/taskrelay/internal/metrics"
	"github.com/fentz26/taskrelay/internal/models"
	"github.com/fentz26/taskrelay/internal/shutdown"
	"github.com/fentz26/taskrelay/internal/topics"
)

// WorkerConfig defines the classification worker configuration.
type WorkerConfig struct {
	// Service names the worker on its control, metrics and status topics.
	Service string
	// Slots bounds concurrent classifications.
	Slots int
	// ComputeTimeout bounds a single classification.
	ComputeTimeout time.Duration
	// DefaultProject is suggested on the error topic when classification fails.
	DefaultProject    string
	SubscribeAttempts int
	SubscribeBackoff  time.Duration
	MetricsInterval   time.Duration
}

// DefaultWorkerConfig returns the default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Service:           "project_worker",
		Slots:             5,
		ComputeTimeout:    20 * time.Second,
		DefaultProject:    "madness_interactive",
		SubscribeAttempts: 3,
		SubscribeBackoff:  time.Second,
		MetricsInterval:   metrics.DefaultInterval,
	}
}

// WorkerDeps are the worker's collaborators.
type WorkerDeps struct {
	Bus        bus.Bus
	Classifier Classifier
	Metrics    *metrics.Collector
	Shutdown   *shutdown.Coordinator
}

// Worker serves classification requests from the bus.
type Worker struct {
	cfg     WorkerConfig
	deps    WorkerDeps
	limiter *limiter.Limiter

	inflight   shutdown.Group
	workCtx    context.Context
	cancelWork context.CancelFunc
}

// NewWorker creates a worker.
func NewWorker(cfg WorkerConfig, deps WorkerDeps) *Worker {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector(metrics.Requests)
	}
	if deps.Shutdown == nil {
		deps.Shutdown = shutdown.New(shutdown.Options{Service: cfg.Service, Bus: deps.Bus, Metrics: deps.Metrics})
	}
	return &Worker{
		cfg:     cfg,
		deps:    deps,
		limiter: limiter.New("classification_slots", cfg.Slots),
	}
}

// Run serves requests until shutdown is triggered or ctx ends, then runs
// the shutdown sequence.
func (w *Worker) Run(ctx context.Context) error {
	admitCtx, cancelAdmit := w.deps.Shutdown.Context(ctx)
	defer cancelAdmit()
	w.workCtx, w.cancelWork = context.WithCancel(context.Background())
	defer w.cancelWork()

	if err := bus.SubscribeWithRetry(ctx, w.deps.Bus, topics.Classify, w.handleRequest,
		w.cfg.SubscribeAttempts, w.cfg.SubscribeBackoff); err != nil {
		return fmt.Errorf("subscribe classify topic: %w", err)
	}
	if err := bus.SubscribeWithRetry(ctx, w.deps.Bus, topics.Control(w.cfg.Service), w.deps.Shutdown.HandleControl,
		w.cfg.SubscribeAttempts, w.cfg.SubscribeBackoff); err != nil {
		return fmt.Errorf("subscribe control topic: %w", err)
	}

	reporter := metrics.NewReporter(w.deps.Metrics, w.deps.Bus, topics.Metrics(w.cfg.Service), w.cfg.MetricsInterval)
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		reporter.Run(admitCtx)
	}()

	log.Printf("[classifier] %s listening on %s (slots=%d)", w.cfg.Service, topics.Classify, w.limiter.Capacity())

	select {
	case <-w.deps.Shutdown.Done():
	case <-ctx.Done():
		w.deps.Shutdown.Trigger("context cancelled")
	}
	w.inflight.Close()
	<-reporterDone

	w.deps.Shutdown.Finalize(context.Background(), shutdown.Stages{
		StopIntake: func(ctx context.Context) {
			if err := w.deps.Bus.Unsubscribe(ctx, topics.Classify); err != nil {
				log.Printf("[classifier] unsubscribe %s: %v", topics.Classify, err)
			}
		},
		Drain: w.inflight.Wait,
		Abort: w.cancelWork,
	})
	return nil
}

// handleRequest queues every request; only computation is bounded.
func (w *Worker) handleRequest(m bus.Message) {
	if !w.inflight.Go(func() { w.process(m) }) {
		log.Printf("[classifier] shutting down, dropping request on %s", m.Topic)
	}
}

func (w *Worker) process(m bus.Message) {
	w.deps.Metrics.IncReceived()

	release, err := w.limiter.Acquire(w.workCtx)
	if err != nil {
		log.Printf("[classifier] abandoning request: %v", err)
		return
	}
	defer release()

	req, err := models.ParseClassificationRequest(m.Payload)
	if err != nil {
		w.deps.Metrics.IncFailed()
		w.publishError(w.workCtx, "", err)
		return
	}

	classifyCtx, cancel := context.WithTimeout(w.workCtx, w.cfg.ComputeTimeout)
	resp, err := w.deps.Classifier.Classify(classifyCtx, *req)
	cancel()
	if err != nil && w.workCtx.Err() != nil {
		log.Printf("[classifier] abandoning %q at shutdown", req.RequestID)
		return
	}
	if err != nil {
		w.deps.Metrics.IncFailed()
		log.Printf("[classifier] classify %q failed: %v", req.RequestID, err)
		w.publishError(w.workCtx, req.RequestID, err)
		return
	}
	resp.RequestID = req.RequestID

	topic := topics.ClassifyResponse
	if req.RequestID != "" {
		topic = topics.ClassifyResponseFor(req.RequestID)
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		w.deps.Metrics.IncFailed()
		log.Printf("[classifier] encode response: %v", err)
		return
	}
	if err := w.deps.Bus.Publish(w.workCtx, topic, payload); err != nil {
		if w.workCtx.Err() != nil {
			log.Printf("[classifier] abandoning %q at shutdown", req.RequestID)
			return
		}
		w.deps.Metrics.IncFailed()
		log.Printf("[classifier] publish to %s failed: %v", topic, err)
		return
	}

	w.deps.Metrics.IncProcessed()
	log.Printf("[classifier] %q -> %s (%.2f)", req.RequestID, resp.ProjectName, resp.Confidence)
}

func (w *Worker) publishError(ctx context.Context, requestID string, cause error) {
	payload, err := json.Marshal(models.ClassificationFailure{
		Status:          "error",
		Error:           cause.Error(),
		RequestID:       requestID,
		FallbackProject: w.cfg.DefaultProject,
		Timestamp:       time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[classifier] encode error response: %v", err)
		return
	}
	if err := w.deps.Bus.Publish(ctx, topics.ClassifyError, payload); err != nil {
		log.Printf("[classifier] publish to %s failed: %v", topics.ClassifyError, err)
	}
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"limiter": w.limiter.Stats(),
		"metrics": w.deps.Metrics.Snapshot(),
	}
}
