// Package audit provides PDR (Process Decision Record) writing for
// classification and storage decisions.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"

	"github.com/fentz26/taskrelay/internal/models"
)

// Sink persists decision records. *store.Store satisfies it.
type Sink interface {
	WritePDR(ctx context.Context, action, inputsHash, outcome, taskID, details string) (*models.PDREntry, error)
}

// Actions recorded by the intake service.
const (
	ActionClassifySuccess  = "classify.success"
	ActionClassifyFallback = "classify.fallback"
	ActionTaskAdd          = "task.add"
)

// Decision is one recorded decision.
type Decision struct {
	Action  string
	Inputs  interface{}
	Outcome string
	TaskID  string
	Details string
}

// PDRWriter writes Process Decision Records for audit trails. A nil
// *PDRWriter records nothing.
type PDRWriter struct {
	sink Sink
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s Sink) *PDRWriter {
	return &PDRWriter{sink: s}
}

// Record writes a PDR entry. Failures are logged; auditing never blocks the
// decision it describes.
func (w *PDRWriter) Record(ctx context.Context, d Decision) *models.PDREntry {
	if w == nil || w.sink == nil {
		return nil
	}
	entry, err := w.sink.WritePDR(ctx, d.Action, hashInputs(d.Inputs), d.Outcome, d.TaskID, d.Details)
	if err != nil {
		log.Printf("[audit] write %s: %v", d.Action, err)
		return nil
	}
	return entry
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
