package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/taskrelay/internal/models"
	"github.com/fentz26/taskrelay/internal/store"
)

func TestSetTaskStatus(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	task, err := s.AddTask(ctx, models.EnrichedTaskRequest{
		Description: "fix login bug",
		Priority:    models.PriorityHigh,
		ProjectName: "auth-service",
		TargetAgent: "user",
		Source:      "mqtt_intake",
		ReceivedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	got, err := setTaskStatus(ctx, s, task.ID, "Completed")
	if err != nil {
		t.Fatalf("setTaskStatus failed: %v", err)
	}
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}

	if _, err := setTaskStatus(ctx, s, task.ID, "archived"); err == nil {
		t.Error("Expected error for unknown status")
	}
	if _, err := setTaskStatus(ctx, s, "missing", "failed"); err == nil {
		t.Error("Expected error for unknown task")
	}

	stored, _ := s.GetTask(ctx, task.ID)
	if stored.Status != models.TaskStatusCompleted {
		t.Errorf("Rejected updates must not change the task, got %s", stored.Status)
	}
}
