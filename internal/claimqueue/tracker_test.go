package claimqueue

import (
	"testing"
	"time"
)

func TestTrackerCounts(t *testing.T) {
	tr := New()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tr.Replace([]Item{
		{AssignmentID: "a1", GroupID: "G1", Deadline: now.Add(time.Hour)},
		{AssignmentID: "a2", GroupID: "G1", Deadline: now.Add(time.Minute)},
		{AssignmentID: "a3", GroupID: "G2", Deadline: now.Add(2 * time.Hour)},
	}, now)

	if tr.CountGroup("G1") != 2 || tr.Total() != 3 {
		t.Fatalf("G1=%d total=%d", tr.CountGroup("G1"), tr.Total())
	}
	if tr.Items()[0].AssignmentID != "a2" {
		t.Fatalf("items not sorted by deadline: %+v", tr.Items())
	}

	tr.Added(Item{GroupID: "G2"})
	if tr.CountGroup("G2") != 2 || tr.Total() != 4 {
		t.Fatalf("pending add not counted: G2=%d total=%d", tr.CountGroup("G2"), tr.Total())
	}

	tr.Replace(nil, now.Add(time.Minute))
	if tr.Total() != 0 || tr.CountGroup("G2") != 0 {
		t.Fatalf("replace should reset counts, total=%d", tr.Total())
	}
	if !tr.Loaded() {
		t.Fatal("expected loaded")
	}
}
