package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/codewatch/control-room/internal/model/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func storedSession(id string, status session.PlanStatus) session.Session {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	return session.Session{
		ID:           id,
		CreatedAt:    now,
		UpdatedAt:    now,
		Repo:         "acme/widgets",
		PlanStatus:   status,
		Approval:     session.ApprovalPending,
		Participants: []string{"alice"},
		Metadata:     map[string]string{"env": "prod"},
	}
}

func deltaFor(s session.Session, change session.Change) session.Delta {
	d := session.Delta{ID: s.ID, Change: change}
	if change == session.Deleted {
		d.Previous = &s
	} else {
		d.Current = &s
	}
	return d
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := storedSession("a", session.PlanPending)
	b := storedSession("b", session.PlanInProgress)
	err := s.SaveDeltas(ctx, []session.Delta{
		deltaFor(a, session.Created),
		deltaFor(b, session.Created),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	snap, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(snap))
	}
	if !session.Equal(snap["a"], a) || !session.Equal(snap["b"], b) {
		t.Error("loaded snapshot not structurally equal to what was saved")
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := storedSession("a", session.PlanPending)
	if err := s.SaveDeltas(ctx, []session.Delta{deltaFor(a, session.Created)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveDeltas(ctx, []session.Delta{deltaFor(a, session.Deleted)}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	snap, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap) != 0 {
		t.Errorf("expected empty snapshot after deletion, got %d entries", len(snap))
	}
}

func TestUpdateReplacesPayload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := storedSession("a", session.PlanPending)
	if err := s.SaveDeltas(ctx, []session.Delta{deltaFor(a, session.Created)}); err != nil {
		t.Fatalf("save: %v", err)
	}

	a2 := storedSession("a", session.PlanSucceeded)
	if err := s.SaveDeltas(ctx, []session.Delta{deltaFor(a2, session.Updated)}); err != nil {
		t.Fatalf("update: %v", err)
	}

	snap, _ := s.LoadSnapshot(ctx)
	if snap["a"].PlanStatus != session.PlanSucceeded {
		t.Errorf("plan status = %s, want succeeded", snap["a"].PlanStatus)
	}
}

func TestSaveDeltasTransactional(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := storedSession("a", session.PlanPending)
	// A created delta with no current value is malformed and must abort the
	// whole batch, including the valid write before it.
	batch := []session.Delta{
		deltaFor(a, session.Created),
		{ID: "broken", Change: session.Created},
	}
	if err := s.SaveDeltas(ctx, batch); err == nil {
		t.Fatal("expected error for malformed batch")
	}

	snap, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap) != 0 {
		t.Errorf("partial batch applied: %d rows", len(snap))
	}
}

func TestEmptyBatchIsNoOp(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveDeltas(context.Background(), nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}

func TestLoadFreshStoreEmpty(t *testing.T) {
	s := openTestStore(t)
	snap, err := s.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap) != 0 {
		t.Errorf("fresh store should be empty, got %d", len(snap))
	}
}
