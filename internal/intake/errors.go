package intake

import "errors"

// Sentinel errors for intake processing.
var (
	// ErrDownstream wraps task store failures.
	ErrDownstream = errors.New("downstream error")
	// ErrEmptyClassification means a response named no project.
	ErrEmptyClassification = errors.New("classification named no project")
)
