// Package models defines the core domain types for taskrelay.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrPayload is returned when an inbound payload cannot be interpreted at all.
var ErrPayload = errors.New("invalid payload")

// Priority is the urgency attached to an inbound task.
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// ParsePriority accepts the four priority names case-insensitively.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// UnmarshalJSON rejects priorities outside the known set.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// TaskIntakeMessage is the payload published to an intake topic.
type TaskIntakeMessage struct {
	Description string   `json:"description"`
	Priority    Priority `json:"priority,omitempty"`
}

// ParseTaskIntake decodes a structured intake payload, falling back to
// treating the whole payload as description text.
func ParseTaskIntake(payload []byte) (*TaskIntakeMessage, error) {
	var msg TaskIntakeMessage
	if err := json.Unmarshal(payload, &msg); err == nil && strings.TrimSpace(msg.Description) != "" {
		msg.Description = strings.TrimSpace(msg.Description)
		return &msg, nil
	}

	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil, fmt.Errorf("%w: empty task description", ErrPayload)
	}
	return &TaskIntakeMessage{Description: text}, nil
}

// ClassificationRequest asks the classification worker for a project guess.
type ClassificationRequest struct {
	Description string            `json:"description"`
	RequestID   string            `json:"request_id,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
}

// ParseClassificationRequest decodes a request; anything that is not a
// request object becomes a description without a request id.
func ParseClassificationRequest(payload []byte) (*ClassificationRequest, error) {
	var req ClassificationRequest
	if err := json.Unmarshal(payload, &req); err == nil && req.Description != "" {
		return &req, nil
	}

	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil, fmt.Errorf("%w: empty classification request", ErrPayload)
	}
	return &ClassificationRequest{Description: text}, nil
}

// ClassificationResponse is the classification worker's answer.
type ClassificationResponse struct {
	ProjectName string  `json:"project_name"`
	Confidence  float64 `json:"confidence"`
	RequestID   string  `json:"request_id,omitempty"`
	Reasoning   string  `json:"reasoning,omitempty"`
}

// ClassificationFailure is published on the classification error topic.
type ClassificationFailure struct {
	Status          string    `json:"status"`
	Error           string    `json:"error"`
	RequestID       string    `json:"request_id"`
	FallbackProject string    `json:"fallback_project"`
	Timestamp       time.Time `json:"timestamp"`
}

// EnrichedTaskRequest is what the task store receives once a project is resolved.
type EnrichedTaskRequest struct {
	Description string            `json:"description"`
	Priority    Priority          `json:"priority,omitempty"`
	ProjectName string            `json:"project_name"`
	TargetAgent string            `json:"target_agent"`
	Source      string            `json:"source"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
}

// TaskStatus represents the current state of a stored task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// ParseTaskStatus accepts a task status in any case.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch st := TaskStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// Task is an enriched request after it has been persisted.
type Task struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Priority    Priority   `json:"priority"`
	Project     string     `json:"project"`
	TargetAgent string     `json:"target_agent"`
	Source      string     `json:"source"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	TaskID     string    `json:"task_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notification is published to response/<agent>/todo or response/<agent>/error.
type Notification struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Project   string    `json:"project"`
	TaskID    string    `json:"task_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Control commands accepted on <service>/control.
const (
	CommandShutdown = "shutdown"
	CommandStatus   = "status"
)

// ControlCommand is the payload of a control-topic message.
type ControlCommand struct {
	Command string `json:"command"`
}

// StatusReport is published on response/<service>/status.
type StatusReport struct {
	Status       string      `json:"status"`
	Service      string      `json:"service"`
	Reason       string      `json:"reason,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
	Metrics      interface{} `json:"metrics,omitempty"`
	FinalMetrics interface{} `json:"final_metrics,omitempty"`
	Details      interface{} `json:"details,omitempty"`
}
