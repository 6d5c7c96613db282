package crew

import (
	"context"
	"testing"

	"go-research-crew/internal/store"
)

func TestRunner_RunReturnsFindingID(t *testing.T) {
	c, _, _ := newTestCrew()
	r := NewRunner(c)
	id, err := r.Run(context.Background(), store.Task{
		Query:     "how does context cancellation work in go",
		Depth:     store.DepthQuick,
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Errorf("expected a non-empty finding id")
	}
}
