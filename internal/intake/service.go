// Package intake receives task requests from the bus, enriches each one
// with a project classification obtained over a correlated round-trip, and
// hands the result to the task store.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentz26/taskrelay/internal/audit"
	"github.com/fentz26/taskrelay/internal/bus"
	"github.com/fentz26/taskrelay/internal/limiter"
	"github.com/fentz26/taskrelay/internal/metrics"
	"github.com/fentz26/taskrelay/internal/models"
	"github.com/fentz26/taskrelay/internal/rpc"
	"github.com/fentz26/taskrelay/internal/shutdown"
	"github.com/fentz26/taskrelay/internal/topics"
)

// TaskStore persists enriched tasks. *store.Store satisfies it.
type TaskStore interface {
	AddTask(ctx context.Context, req models.EnrichedTaskRequest) (*models.Task, error)
}

// Config defines the intake service configuration.
type Config struct {
	// Service names the process on control, metrics and status topics and
	// is sent as the request source.
	Service string
	// TopicPrefix selects inbound topics (<prefix>/+).
	TopicPrefix string
	// DefaultProject is used whenever classification does not succeed.
	DefaultProject string
	// DefaultAgent is used when the inbound topic names no agent.
	DefaultAgent     string
	TaskSlots        int
	EnhancementSlots int
	ClassifyTimeout  time.Duration
	// InboxSize buffers messages between bus delivery and the main loop.
	InboxSize         int
	SubscribeAttempts int
	SubscribeBackoff  time.Duration
	MetricsInterval   time.Duration
}

// DefaultConfig returns the default intake configuration.
func DefaultConfig() Config {
	return Config{
		Service:           "mqtt_intake",
		TopicPrefix:       "mcp",
		DefaultProject:    "madness_interactive",
		DefaultAgent:      "user",
		TaskSlots:         1,
		EnhancementSlots:  1,
		ClassifyTimeout:   30 * time.Second,
		InboxSize:         64,
		SubscribeAttempts: 3,
		SubscribeBackoff:  time.Second,
		MetricsInterval:   metrics.DefaultInterval,
	}
}

// Deps are the intake service's collaborators.
type Deps struct {
	Bus      bus.Bus
	Tracker  *rpc.Tracker
	Store    TaskStore
	Metrics  *metrics.Collector
	Shutdown *shutdown.Coordinator
	// Audit is optional.
	Audit *audit.PDRWriter
}

// Service is the intake dispatcher.
type Service struct {
	cfg  Config
	deps Deps

	taskSlots        *limiter.Limiter
	enhancementSlots *limiter.Limiter

	inbox      chan bus.Message
	inflight   shutdown.Group
	workCtx    context.Context
	cancelWork context.CancelFunc

	mu     sync.Mutex
	states map[State]int

	// units past admission, with high-water mark
	active     atomic.Int64
	peakActive atomic.Int64
	seq        atomic.Uint64
}

// New creates an intake service.
func New(cfg Config, deps Deps) *Service {
	if cfg.InboxSize < 1 {
		cfg.InboxSize = 1
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector(metrics.Tasks)
	}
	if deps.Shutdown == nil {
		deps.Shutdown = shutdown.New(shutdown.Options{Service: cfg.Service, Bus: deps.Bus, Metrics: deps.Metrics})
	}
	return &Service{
		cfg:              cfg,
		deps:             deps,
		taskSlots:        limiter.New("task_slots", cfg.TaskSlots),
		enhancementSlots: limiter.New("enhancement_slots", cfg.EnhancementSlots),
		inbox:            make(chan bus.Message, cfg.InboxSize),
		states:           make(map[State]int),
	}
}

// Run subscribes to the intake and control topics and dispatches messages
// until shutdown is triggered or ctx ends. Startup subscribe failures are
// returned; once running, Run always finishes the shutdown sequence and
// returns nil.
func (s *Service) Run(ctx context.Context) error {
	admitCtx, cancelAdmit := s.deps.Shutdown.Context(ctx)
	defer cancelAdmit()
	s.workCtx, s.cancelWork = context.WithCancel(context.Background())
	defer s.cancelWork()

	if err := s.deps.Tracker.Start(ctx); err != nil {
		return fmt.Errorf("start correlation tracker: %w", err)
	}

	intakeFilter := topics.IntakeFilter(s.cfg.TopicPrefix)
	enqueue := func(m bus.Message) {
		select {
		case s.inbox <- m:
		case <-admitCtx.Done():
		}
	}
	if err := bus.SubscribeWithRetry(ctx, s.deps.Bus, intakeFilter, enqueue,
		s.cfg.SubscribeAttempts, s.cfg.SubscribeBackoff); err != nil {
		return fmt.Errorf("subscribe intake topic: %w", err)
	}
	if err := bus.SubscribeWithRetry(ctx, s.deps.Bus, topics.Control(s.cfg.Service), s.deps.Shutdown.HandleControl,
		s.cfg.SubscribeAttempts, s.cfg.SubscribeBackoff); err != nil {
		return fmt.Errorf("subscribe control topic: %w", err)
	}

	reporter := metrics.NewReporter(s.deps.Metrics, s.deps.Bus, topics.Metrics(s.cfg.Service), s.cfg.MetricsInterval)
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		reporter.Run(admitCtx)
	}()

	log.Printf("[intake] %s listening on %s (task_slots=%d, enhancement_slots=%d)",
		s.cfg.Service, intakeFilter, s.taskSlots.Capacity(), s.enhancementSlots.Capacity())

	s.loop(ctx, admitCtx)
	s.inflight.Close()
	<-reporterDone

	s.deps.Shutdown.Finalize(context.Background(), shutdown.Stages{
		StopIntake: func(ctx context.Context) {
			if err := s.deps.Bus.Unsubscribe(ctx, intakeFilter); err != nil {
				log.Printf("[intake] unsubscribe %s: %v", intakeFilter, err)
			}
		},
		Drain: s.inflight.Wait,
		Abort: s.cancelWork,
	})
	return nil
}

// loop is the main dispatch loop. It blocks only on task slot admission.
func (s *Service) loop(ctx, admitCtx context.Context) {
	for {
		select {
		case <-admitCtx.Done():
			if ctx.Err() != nil {
				s.deps.Shutdown.Trigger("context cancelled")
			}
			return
		case m := <-s.inbox:
			s.dispatch(admitCtx, m)
		}
	}
}

// unit is one inbound message moving through the pipeline.
type unit struct {
	id         uint64
	topic      string
	agent      string
	msg        *models.TaskIntakeMessage
	receivedAt time.Time
	state      State
}

func (s *Service) dispatch(admitCtx context.Context, m bus.Message) {
	s.deps.Metrics.IncReceived()
	u := &unit{
		id:         s.seq.Add(1),
		topic:      m.Topic,
		agent:      topics.TargetAgent(m.Topic, s.cfg.DefaultAgent),
		receivedAt: time.Now().UTC(),
		state:      StateReceived,
	}
	s.enter(StateReceived)

	msg, err := models.ParseTaskIntake(m.Payload)
	if err != nil {
		log.Printf("[intake] #%d dropping message on %s: %v", u.id, m.Topic, err)
		s.deps.Metrics.IncFailed()
		s.transition(u, StateFailed)
		return
	}
	u.msg = msg
	log.Printf("[intake] #%d received task for %s: %q", u.id, u.agent, msg.Description)

	s.transition(u, StateAwaitingTaskSlot)
	release, err := s.taskSlots.Acquire(admitCtx)
	if err != nil {
		s.abandon(u)
		return
	}

	if !s.inflight.Go(func() {
		defer release()
		s.process(u)
	}) {
		release()
		s.abandon(u)
	}
}

// process runs one admitted unit to a terminal state. Nothing here is retried.
func (s *Service) process(u *unit) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peakActive.Load()
		if n <= p || s.peakActive.CompareAndSwap(p, n) {
			break
		}
	}

	s.transition(u, StateAwaitingClassification)
	project := s.classify(u)
	if s.workCtx.Err() != nil {
		s.abandon(u)
		return
	}

	s.transition(u, StateAwaitingEnhancementSlot)
	release, err := s.enhancementSlots.Acquire(s.workCtx)
	if err != nil {
		s.abandon(u)
		return
	}
	defer release()

	s.transition(u, StateStoring)
	priority := u.msg.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	req := models.EnrichedTaskRequest{
		Description: u.msg.Description,
		Priority:    priority,
		ProjectName: project,
		TargetAgent: u.agent,
		Source:      s.cfg.Service,
		Metadata:    map[string]string{"topic": u.topic},
		ReceivedAt:  u.receivedAt,
	}
	task, err := s.deps.Store.AddTask(s.workCtx, req)
	if err != nil && s.workCtx.Err() != nil {
		s.abandon(u)
		return
	}
	if err != nil {
		s.deps.Audit.Record(s.workCtx, audit.Decision{
			Action: audit.ActionTaskAdd, Inputs: req, Outcome: "failure", Details: err.Error(),
		})
		s.fail(u, project, fmt.Errorf("%w: %w", ErrDownstream, err))
		return
	}
	s.deps.Audit.Record(s.workCtx, audit.Decision{
		Action: audit.ActionTaskAdd, Inputs: req, Outcome: "success", TaskID: task.ID, Details: project,
	})

	s.deps.Metrics.IncProcessed()
	s.transition(u, StateSucceeded)
	log.Printf("[intake] #%d stored task %s in %s", u.id, task.ID, project)
	s.notify(topics.TodoResponse(u.agent), models.Notification{
		Status:    "success",
		Message:   "Added new todo: " + u.msg.Description,
		Project:   project,
		TaskID:    task.ID,
		Timestamp: time.Now().UTC(),
	})
}

// classify performs the correlated round-trip. Any failure resolves to a
// fallback project; classification never decides the unit's outcome.
func (s *Service) classify(u *unit) string {
	s.deps.Metrics.IncClassificationRequested()

	build := func(requestID string) ([]byte, error) {
		return json.Marshal(models.ClassificationRequest{
			Description: u.msg.Description,
			RequestID:   requestID,
			Context: map[string]string{
				"source":       s.cfg.Service,
				"target_agent": u.agent,
			},
		})
	}

	inputs := map[string]string{"description": u.msg.Description, "target_agent": u.agent}
	reply, err := s.deps.Tracker.Call(s.workCtx, topics.Classify, build, s.cfg.ClassifyTimeout)
	if err == nil {
		var resp models.ClassificationResponse
		if jerr := json.Unmarshal(reply.Payload, &resp); jerr != nil {
			err = fmt.Errorf("decode classification: %w", jerr)
		} else if resp.ProjectName == "" {
			err = ErrEmptyClassification
		} else {
			s.deps.Metrics.IncClassificationSuccessful()
			s.deps.Audit.Record(s.workCtx, audit.Decision{
				Action: audit.ActionClassifySuccess, Inputs: inputs, Outcome: "success",
				Details: fmt.Sprintf("%s (%.2f) %s", resp.ProjectName, resp.Confidence, resp.Reasoning),
			})
			log.Printf("[intake] #%d classified as %s (%.2f)", u.id, resp.ProjectName, resp.Confidence)
			return resp.ProjectName
		}
	}

	if s.workCtx.Err() != nil {
		return s.cfg.DefaultProject
	}
	project := s.cfg.DefaultProject
	var remote *rpc.RemoteError
	if errors.As(err, &remote) && remote.Fallback != "" {
		project = remote.Fallback
	}
	log.Printf("[intake] #%d classification failed (%v), using %s", u.id, err, project)
	s.deps.Audit.Record(s.workCtx, audit.Decision{
		Action: audit.ActionClassifyFallback, Inputs: inputs, Outcome: "fallback",
		Details: fmt.Sprintf("%s: %v", project, err),
	})
	return project
}

// abandon ends a unit cut short by shutdown. It reaches Failed but is not
// counted as failed and nobody is notified.
func (s *Service) abandon(u *unit) {
	log.Printf("[intake] #%d abandoned at shutdown (%s)", u.id, u.state)
	s.transition(u, StateFailed)
}

func (s *Service) fail(u *unit, project string, err error) {
	log.Printf("[intake] #%d failed: %v", u.id, err)
	s.deps.Metrics.IncFailed()
	s.transition(u, StateFailed)
	s.notify(topics.ErrorResponse(u.agent), models.Notification{
		Status:    "error",
		Error:     err.Error(),
		Project:   project,
		Timestamp: time.Now().UTC(),
	})
}

// notify publishes a result notification. Failures are logged only.
func (s *Service) notify(topic string, n models.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		log.Printf("[intake] encode notification: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Bus.Publish(ctx, topic, payload); err != nil {
		log.Printf("[intake] publish to %s failed: %v", topic, err)
	}
}

func (s *Service) enter(st State) {
	s.mu.Lock()
	s.states[st]++
	s.mu.Unlock()
}

// transition moves u to st. Terminal states are counted cumulatively,
// the rest as current occupancy.
func (s *Service) transition(u *unit, st State) {
	s.mu.Lock()
	s.states[u.state]--
	s.states[st]++
	u.state = st
	s.mu.Unlock()
}

// StateCounts returns how many units are in each non-terminal state and how
// many have reached each terminal state.
func (s *Service) StateCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int, len(s.states))
	for st, n := range s.states {
		counts[st.String()] = n
	}
	return counts
}

// GetStats returns current intake statistics.
func (s *Service) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"task_slots":        s.taskSlots.Stats(),
		"enhancement_slots": s.enhancementSlots.Stats(),
		"active_units":      s.active.Load(),
		"peak_active_units": s.peakActive.Load(),
		"inbox":             len(s.inbox),
		"states":            s.StateCounts(),
		"correlation":       s.deps.Tracker.Stats(),
	}
}

// LimiterStats reports both pools for status replies.
func (s *Service) LimiterStats() []limiter.Stats {
	return []limiter.Stats{s.taskSlots.Stats(), s.enhancementSlots.Stats()}
}
