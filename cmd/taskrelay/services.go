package main

import (
	"context"
	"log"

	"github.com/fentz26/taskrelay/internal/audit"
	"github.com/fentz26/taskrelay/internal/classifier"
	"github.com/fentz26/taskrelay/internal/intake"
	"github.com/fentz26/taskrelay/internal/metrics"
	"github.com/fentz26/taskrelay/internal/rpc"
	"github.com/fentz26/taskrelay/internal/shutdown"
	"github.com/fentz26/taskrelay/internal/store"
	"github.com/fentz26/taskrelay/internal/topics"
	"github.com/spf13/cobra"
)

var intakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Run the task intake service",
	Long: `Subscribes to <topic_prefix>/+, classifies every task through the classification worker
and stores the result. Stops on SIGINT/SIGTERM or a "shutdown" command on <service>/control.`,
	RunE: runIntake,
}

var classifierCmd = &cobra.Command{
	Use:   "classifier",
	Short: "Run the project classification worker",
	Long: `Answers classification requests on project/classify with the keyword classifier.
Stops on SIGINT/SIGTERM or a "shutdown" command on <service>/control.`,
	RunE: runClassifier,
}

var (
	dbPath     string
	rulesPath  string
	intakeSlot int
	workerSlot int
)

func init() {
	intakeCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides store.path)")
	intakeCmd.Flags().IntVar(&intakeSlot, "task-slots", 0, "Concurrent task slots (overrides intake.task_slots)")

	classifierCmd.Flags().StringVar(&rulesPath, "rules", "", "Path to classifier rules (overrides classifier.rules_path)")
	classifierCmd.Flags().IntVar(&workerSlot, "slots", 0, "Concurrent classifications (overrides classifier.slots)")
}

func runIntake(cmd *cobra.Command, args []string) error {
	log.Println("Starting intake service...")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if intakeSlot > 0 {
		cfg.Intake.TaskSlots = intakeSlot
	}

	s, err := store.New(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		log.Println("Closing database connection...")
		if err := s.Close(); err != nil {
			log.Printf("Database close error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := dialBroker(ctx, cfg, cfg.IntakeClientID())
	if err != nil {
		return err
	}

	trackerCfg := rpc.Config{
		ResponsePrefix:    topics.ClassifyResponse,
		ErrorTopic:        topics.ClassifyError,
		SubscribeAttempts: cfg.Subscribe.Attempts,
		SubscribeBackoff:  cfg.Subscribe.Backoff.D(),
	}
	if cfg.Intake.FallbackTopic {
		trackerCfg.FallbackTopic = topics.ClassifyResponse
	}

	m := metrics.NewCollector(metrics.Tasks)
	var svc *intake.Service
	stop := shutdown.New(shutdown.Options{
		Service: cfg.Intake.Service,
		Bus:     b,
		Metrics: m,
		Grace:   cfg.Shutdown.Grace.D(),
		Extra:   func() interface{} { return svc.GetStats() },
	})
	stop.WatchSignals(ctx)

	svc = intake.New(intake.Config{
		Service:           cfg.Intake.Service,
		TopicPrefix:       cfg.Intake.TopicPrefix,
		DefaultProject:    cfg.Intake.DefaultProject,
		DefaultAgent:      cfg.Intake.DefaultAgent,
		TaskSlots:         cfg.Intake.TaskSlots,
		EnhancementSlots:  cfg.Intake.EnhancementSlots,
		ClassifyTimeout:   cfg.Intake.ClassifyTimeout.D(),
		InboxSize:         cfg.Intake.InboxSize,
		SubscribeAttempts: cfg.Subscribe.Attempts,
		SubscribeBackoff:  cfg.Subscribe.Backoff.D(),
		MetricsInterval:   cfg.Metrics.Interval.D(),
	}, intake.Deps{
		Bus:      b,
		Tracker:  rpc.New(b, trackerCfg),
		Store:    s,
		Metrics:  m,
		Shutdown: stop,
		Audit:    audit.NewPDRWriter(s),
	})

	if err := svc.Run(ctx); err != nil {
		b.Disconnect(0)
		return err
	}
	log.Println("Shutdown complete")
	return nil
}

func runClassifier(cmd *cobra.Command, args []string) error {
	log.Println("Starting classification worker...")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if rulesPath != "" {
		cfg.Classifier.RulesPath = rulesPath
	}
	if workerSlot > 0 {
		cfg.Classifier.Slots = workerSlot
	}

	rules, err := classifier.LoadConfig(cfg.Classifier.RulesPath)
	if err != nil {
		return err
	}
	reg, err := rules.Registry()
	if err != nil {
		return err
	}
	log.Printf("Classifier loaded %d projects (default %s)", reg.Count(), rules.DefaultProject)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := dialBroker(ctx, cfg, cfg.ClassifierClientID())
	if err != nil {
		return err
	}

	m := metrics.NewCollector(metrics.Requests)
	var w *classifier.Worker
	stop := shutdown.New(shutdown.Options{
		Service: cfg.Classifier.Service,
		Bus:     b,
		Metrics: m,
		Grace:   cfg.Shutdown.Grace.D(),
		Extra:   func() interface{} { return w.GetStats() },
	})
	stop.WatchSignals(ctx)

	w = classifier.NewWorker(classifier.WorkerConfig{
		Service:           cfg.Classifier.Service,
		Slots:             cfg.Classifier.Slots,
		ComputeTimeout:    cfg.Classifier.ComputeTimeout.D(),
		DefaultProject:    rules.DefaultProject,
		SubscribeAttempts: cfg.Subscribe.Attempts,
		SubscribeBackoff:  cfg.Subscribe.Backoff.D(),
		MetricsInterval:   cfg.Metrics.Interval.D(),
	}, classifier.WorkerDeps{
		Bus:        b,
		Classifier: classifier.NewKeywordClassifier(rules, reg),
		Metrics:    m,
		Shutdown:   stop,
	})

	if err := w.Run(ctx); err != nil {
		b.Disconnect(0)
		return err
	}
	log.Println("Shutdown complete")
	return nil
}
