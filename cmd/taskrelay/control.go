package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fentz26/taskrelay/internal/classifier"
	"github.com/fentz26/taskrelay/internal/mcptools"
	"github.com/fentz26/taskrelay/internal/models"
	"github.com/fentz26/taskrelay/internal/store"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

var controlCmd = &cobra.Command{
	Use:   "control <service> <shutdown|status>",
	Short: "Send a control command to a running service",
	Long: `Publishes {"command": ...} on <service>/control. For "status" the reply on
response/<service>/status is printed.`,
	Args: cobra.ExactArgs(2),
	RunE: runControl,
}

var classifyCmd = &cobra.Command{
	Use:   "classify <task-description>",
	Short: "Preview which project a task would be classified into",
	Args:  cobra.ExactArgs(1),
	RunE:  runClassify,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve taskrelay tools over MCP stdio",
	Long:  `Starts an MCP server on stdin/stdout with the submit_task, list_tasks and service_control tools.`,
	RunE:  runMCP,
}

var (
	controlWait time.Duration
	showRules   bool
)

func init() {
	controlCmd.Flags().DurationVar(&controlWait, "wait", 5*time.Second, "How long to wait for a status reply")

	classifyCmd.Flags().StringVar(&rulesPath, "rules", "", "Path to classifier rules (overrides classifier.rules_path)")
	classifyCmd.Flags().BoolVar(&showRules, "projects", false, "Also list the enabled projects")

	mcpCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides store.path)")
}

func runControl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	b, err := dialBroker(ctx, cfg, cliClientID("control"))
	if err != nil {
		return err
	}
	defer b.Disconnect(250 * time.Millisecond)

	client := &mcptools.Client{Bus: b, TopicPrefix: cfg.Intake.TopicPrefix}
	report, err := client.Control(ctx, args[0], args[1], controlWait)
	if err != nil {
		return err
	}
	if report == nil {
		fmt.Printf("Sent %q to %s\n", strings.ToLower(args[1]), args[0])
		return nil
	}
	return printStatus(report)
}

func printStatus(r *models.StatusReport) error {
	fmt.Printf("Service: %s\n", r.Service)
	fmt.Printf("Status:  %s\n", r.Status)
	fmt.Printf("Time:    %s\n", r.Timestamp.Format(time.RFC3339))

	for _, section := range []struct {
		name string
		v    interface{}
	}{{"Metrics", r.Metrics}, {"Details", r.Details}} {
		if section.v == nil {
			continue
		}
		data, err := json.MarshalIndent(section.v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("\n%s:\n%s\n", section.name, data)
	}
	return nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	path := rulesPath
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Classifier.RulesPath
	}

	rules, err := classifier.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	reg, err := rules.Registry()
	if err != nil {
		return err
	}

	c := classifier.NewKeywordClassifier(rules, reg)
	resp, err := c.Classify(context.Background(), models.ClassificationRequest{Description: args[0], RequestID: "preview"})
	if err != nil {
		return err
	}

	fmt.Printf("Task: %s\n\n", args[0])
	fmt.Printf("Project:    %s\n", resp.ProjectName)
	fmt.Printf("Confidence: %.2f\n", resp.Confidence)
	fmt.Printf("Reasoning:  %s\n", resp.Reasoning)

	if showRules {
		fmt.Println("\nEnabled projects:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, p := range reg.GetEnabled() {
			fmt.Fprintf(w, "  %s\t%d\t%s\n", p.Name, p.Priority, p.Description)
		}
		w.Flush()
	}
	return nil
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}

	ctx := context.Background()
	b, err := dialBroker(ctx, cfg, cliClientID("mcp"))
	if err != nil {
		return err
	}
	defer b.Disconnect(cfg.Shutdown.Grace.D())

	client := &mcptools.Client{Bus: b, TopicPrefix: cfg.Intake.TopicPrefix, DefaultAgent: cfg.Intake.DefaultAgent}

	var lister mcptools.TaskLister
	s, err := store.New(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: task store unavailable, list_tasks disabled: %v\n", err)
	} else {
		defer s.Close()
		lister = s
	}

	return server.ServeStdio(mcptools.New(Version, client, lister))
}
