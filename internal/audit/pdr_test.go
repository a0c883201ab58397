package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fentz26/taskrelay/internal/models"
	"github.com/fentz26/taskrelay/internal/store"
)

func TestRecordWritesToStore(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	w := NewPDRWriter(s)
	entry := w.Record(context.Background(), Decision{
		Action:  ActionClassifySuccess,
		Inputs:  map[string]string{"description": "fix login bug"},
		Outcome: "success",
		Details: "omnispindle",
	})
	if entry == nil {
		t.Fatal("Expected an entry")
	}
	if entry.InputsHash != hashInputs(map[string]string{"description": "fix login bug"}) {
		t.Error("inputs hash mismatch")
	}

	entries, _ := s.ListPDR(context.Background(), "", 0)
	if len(entries) != 1 {
		t.Errorf("Expected 1 stored entry, got %d", len(entries))
	}
}

type failingSink struct{}

func (failingSink) WritePDR(ctx context.Context, action, inputsHash, outcome, taskID, details string) (*models.PDREntry, error) {
	return nil, errors.New("disk full")
}

func TestRecordNilAndFailing(t *testing.T) {
	var w *PDRWriter
	if w.Record(context.Background(), Decision{Action: "x"}) != nil {
		t.Error("nil writer must record nothing")
	}

	if NewPDRWriter(failingSink{}).Record(context.Background(), Decision{Action: "x"}) != nil {
		t.Error("failing sink must return nil")
	}
}

func TestHashInputsStable(t *testing.T) {
	a := hashInputs(map[string]string{"a": "1", "b": "2"})
	b := hashInputs(map[string]string{"b": "2", "a": "1"})
	if a != b {
		t.Error("Expected identical hashes for identical inputs")
	}
	if hashInputs(make(chan int)) != "hash_error" {
		t.Error("Expected hash_error for unencodable inputs")
	}
}
