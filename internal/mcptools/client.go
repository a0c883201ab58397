// Package mcptools exposes the task relay to MCP clients over stdio.
//
// Tools talk to the running services only through the bus: submitting a
// task publishes onto the intake topic and control commands go to the
// service's control topic. Task listing reads the store directly.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/taskrelay/internal/bus"
	"github.com/fentz26/taskrelay/internal/models"
	"github.com/fentz26/taskrelay/internal/topics"
)

var (
	// ErrNoReply means nothing answered within the wait period.
	ErrNoReply = errors.New("no reply received")
	// ErrUnknownCommand is returned for control commands other than shutdown and status.
	ErrUnknownCommand = errors.New("unknown control command")
)

// Client publishes tasks and control commands onto the bus.
type Client struct {
	Bus          bus.Bus
	TopicPrefix  string
	DefaultAgent string
}

// Submission is one task to publish.
type Submission struct {
	Description string
	Priority    models.Priority
	Agent       string
	// Wait, if positive, waits that long for the intake notification.
	Wait time.Duration
}

// SubmitTask publishes s to the intake topic. With a wait period it returns
// the notification the intake service sends back for the agent; otherwise
// the returned notification is nil.
func (c *Client) SubmitTask(ctx context.Context, s Submission) (*models.Notification, error) {
	desc := strings.TrimSpace(s.Description)
	if desc == "" {
		return nil, fmt.Errorf("%w: empty task description", models.ErrPayload)
	}
	agent := s.Agent
	if agent == "" {
		agent = c.DefaultAgent
	}
	if agent == "" {
		agent = "user"
	}

	payload, err := json.Marshal(models.TaskIntakeMessage{Description: desc, Priority: s.Priority})
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	topic := topics.IntakeFor(c.TopicPrefix, agent)

	if s.Wait <= 0 {
		if err := c.Bus.Publish(ctx, topic, payload); err != nil {
			return nil, fmt.Errorf("publish task: %w", err)
		}
		return nil, nil
	}

	replies := make(chan models.Notification, 1)
	deliver := func(m bus.Message) {
		var n models.Notification
		if err := json.Unmarshal(m.Payload, &n); err != nil {
			return
		}
		// success notifications carry the description; errors do not
		if n.Status == "success" && n.Message != "Added new todo: "+desc {
			return
		}
		select {
		case replies <- n:
		default:
		}
	}

	todoTopic, errTopic := topics.TodoResponse(agent), topics.ErrorResponse(agent)
	if err := c.Bus.Subscribe(ctx, todoTopic, deliver); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", todoTopic, err)
	}
	if err := c.Bus.Subscribe(ctx, errTopic, deliver); err != nil {
		c.unsubscribe(todoTopic)
		return nil, fmt.Errorf("subscribe %s: %w", errTopic, err)
	}
	defer c.unsubscribe(todoTopic, errTopic)

	if err := c.Bus.Publish(ctx, topic, payload); err != nil {
		return nil, fmt.Errorf("publish task: %w", err)
	}

	select {
	case n := <-replies:
		return &n, nil
	case <-time.After(s.Wait):
		return nil, fmt.Errorf("%w on %s within %s", ErrNoReply, todoTopic, s.Wait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Control sends command to service. For "status" with a positive wait it
// returns the service's status report.
func (c *Client) Control(ctx context.Context, service, command string, wait time.Duration) (*models.StatusReport, error) {
	command = strings.ToLower(strings.TrimSpace(command))
	if command != models.CommandShutdown && command != models.CommandStatus {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
	if service == "" {
		return nil, errors.New("service name is required")
	}

	payload, err := json.Marshal(models.ControlCommand{Command: command})
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	controlTopic := topics.Control(service)

	if command != models.CommandStatus || wait <= 0 {
		if err := c.Bus.Publish(ctx, controlTopic, payload); err != nil {
			return nil, fmt.Errorf("publish command: %w", err)
		}
		return nil, nil
	}

	reports := make(chan models.StatusReport, 1)
	statusTopic := topics.Status(service)
	if err := c.Bus.Subscribe(ctx, statusTopic, func(m bus.Message) {
		var r models.StatusReport
		if err := json.Unmarshal(m.Payload, &r); err != nil {
			return
		}
		select {
		case reports <- r:
		default:
		}
	}); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", statusTopic, err)
	}
	defer c.unsubscribe(statusTopic)

	if err := c.Bus.Publish(ctx, controlTopic, payload); err != nil {
		return nil, fmt.Errorf("publish command: %w", err)
	}

	select {
	case r := <-reports:
		return &r, nil
	case <-time.After(wait):
		return nil, fmt.Errorf("%w on %s within %s", ErrNoReply, statusTopic, wait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) unsubscribe(filters ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.Bus.Unsubscribe(ctx, filters...)
}
