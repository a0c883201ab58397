// Package classifier answers project classification requests arriving on
// the bus. The decision itself is delegated to a Classifier; the default
// implementation matches keywords from a YAML rule set.
package classifier

import (
	"context"
	"errors"

	"github.com/fentz26/taskrelay/internal/models"
)

// Sentinel errors for classification.
var (
	ErrEmptyDescription = errors.New("empty task description")
	ErrNoProjects       = errors.New("no projects configured")
)

// Classifier guesses the project a task description belongs to.
type Classifier interface {
	Classify(ctx context.Context, req models.ClassificationRequest) (*models.ClassificationResponse, error)
}

// Project is a classification target.
type Project struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Priority    int    `yaml:"priority" json:"priority"`
	Enabled     bool   `yaml:"enabled" json:"enabled"`
}
