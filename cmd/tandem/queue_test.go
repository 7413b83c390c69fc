package main

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ShayCichocki/tandem/internal/policy"
	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/pkg/models"
)

func TestClearQueue(t *testing.T) {
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	err = db.SaveQueue(state.QueueState{
		Items: []models.TaskItem{
			{ID: "a", Description: "a", Status: models.TaskStatusCompleted, Priority: models.PriorityLow, CreatedAt: created},
			{ID: "b", Description: "b", Status: models.TaskStatusPending, Priority: models.PriorityLow, DependsOn: []string{"a"}, CreatedAt: created},
			{ID: "c", Description: "c", Status: models.TaskStatusFailed, Priority: models.PriorityLow, CreatedAt: created},
		},
		Plans: map[string]state.TaskPlan{"b": {Complexity: models.ComplexityComplex}},
	})
	if err != nil {
		t.Fatalf("SaveQueue failed: %v", err)
	}

	n, err := clearQueue(db, policy.QueuePolicy{MaxItems: 1})
	if err != nil {
		t.Fatalf("clearQueue failed: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared = %d, want 1", n)
	}

	qs, err := db.LoadQueue()
	if err != nil {
		t.Fatalf("LoadQueue failed: %v", err)
	}
	var ids []string
	for _, it := range qs.Items {
		ids = append(ids, it.ID)
	}
	if !reflect.DeepEqual(ids, []string{"b", "c"}) {
		t.Errorf("remaining = %v, want [b c]", ids)
	}
	if !reflect.DeepEqual(qs.Retired, []string{"a"}) {
		t.Errorf("retired = %v, want [a]", qs.Retired)
	}
	if qs.Plans["b"].Complexity != models.ComplexityComplex {
		t.Errorf("plan of b lost: %+v", qs.Plans)
	}
}
