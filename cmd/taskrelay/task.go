package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fentz26/taskrelay/internal/mcptools"
	"github.com/fentz26/taskrelay/internal/models"
	"github.com/fentz26/taskrelay/internal/store"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Submit and inspect tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Publish a new task to the intake service",
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored tasks",
	RunE:  runTaskList,
}

var taskStatusCmd = &cobra.Command{
	Use:   "status [task-id] [pending|running|completed|failed]",
	Short: "Change the status of a stored task",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskStatus,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details and decision records",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var (
	taskDesc     string
	taskPriority string
	taskAgent    string
	taskWait     time.Duration
	taskStatus   string
	taskProject  string
	taskLimit    int
)

func init() {
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskStatusCmd)

	taskAddCmd.Flags().StringVar(&taskDesc, "desc", "", "Task description (required)")
	taskAddCmd.Flags().StringVar(&taskPriority, "priority", "", "Low, Medium, High or Critical")
	taskAddCmd.Flags().StringVar(&taskAgent, "agent", "", "Target agent (default intake.default_agent)")
	taskAddCmd.Flags().DurationVar(&taskWait, "wait", 0, "Wait this long for the intake notification (e.g. 45s)")
	taskAddCmd.MarkFlagRequired("desc")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status (pending, running, completed, failed)")
	taskListCmd.Flags().StringVar(&taskProject, "project", "", "Filter by project")
	taskListCmd.Flags().StringVar(&taskAgent, "agent", "", "Filter by target agent")
	taskListCmd.Flags().IntVar(&taskLimit, "limit", 50, "Maximum number of tasks")

	taskListCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides store.path)")
	taskShowCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides store.path)")
	taskStatusCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides store.path)")
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var priority models.Priority
	if taskPriority != "" {
		if priority, err = models.ParsePriority(taskPriority); err != nil {
			return err
		}
	}

	ctx := context.Background()
	b, err := dialBroker(ctx, cfg, cliClientID("task"))
	if err != nil {
		return err
	}
	defer b.Disconnect(250 * time.Millisecond)

	client := &mcptools.Client{Bus: b, TopicPrefix: cfg.Intake.TopicPrefix, DefaultAgent: cfg.Intake.DefaultAgent}
	n, err := client.SubmitTask(ctx, mcptools.Submission{
		Description: taskDesc,
		Priority:    priority,
		Agent:       taskAgent,
		Wait:        taskWait,
	})
	if err != nil {
		return err
	}

	if n == nil {
		fmt.Println("Task published")
		return nil
	}
	if n.Status != "success" {
		return fmt.Errorf("intake failed to store task: %s (project %s)", n.Error, n.Project)
	}
	fmt.Println(n.Message)
	fmt.Printf("Project: %s\n", n.Project)
	fmt.Printf("Task ID: %s\n", n.TaskID)
	return nil
}

func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	return store.New(cfg.Store.Path)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	tasks, err := s.ListTasks(context.Background(), store.TaskFilter{
		Status:      taskStatus,
		Project:     taskProject,
		TargetAgent: taskAgent,
		Limit:       taskLimit,
	})
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDESCRIPTION\tPROJECT\tPRIORITY\tAGENT\tSTATUS")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(t.ID), truncate(t.Description, 40), t.Project, t.Priority, t.TargetAgent, t.Status)
	}
	w.Flush()
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	task, err := s.GetTask(ctx, args[0])
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task not found: %s", args[0])
	}

	fmt.Printf("ID:          %s\n", task.ID)
	fmt.Printf("Description: %s\n", task.Description)
	fmt.Printf("Project:     %s\n", task.Project)
	fmt.Printf("Priority:    %s\n", task.Priority)
	fmt.Printf("Agent:       %s\n", task.TargetAgent)
	fmt.Printf("Source:      %s\n", task.Source)
	fmt.Printf("Status:      %s\n", task.Status)
	fmt.Printf("Created:     %s\n", task.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:     %s\n", task.UpdatedAt.Format(time.RFC3339))

	records, err := s.ListPDR(ctx, task.ID, 20)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		fmt.Println("\nDecisions:")
		for _, r := range records {
			fmt.Printf("  %s  %-18s %-8s %s\n", r.Timestamp.Format(time.RFC3339), r.Action, r.Outcome, r.Details)
		}
	}
	return nil
}

func runTaskStatus(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	task, err := setTaskStatus(context.Background(), s, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Task %s is now %s\n", truncateID(task.ID), task.Status)
	return nil
}

// setTaskStatus validates status, updates the task and returns it re-read.
func setTaskStatus(ctx context.Context, s *store.Store, id, status string) (*models.Task, error) {
	st, err := models.ParseTaskStatus(status)
	if err != nil {
		return nil, err
	}
	if err := s.UpdateTaskStatus(ctx, id, st); err != nil {
		return nil, err
	}
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	return task, nil
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
