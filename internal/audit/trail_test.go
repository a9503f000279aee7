package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"deskbill.org/internal/obs"
)

type staticResolver map[string]bool

func (r staticResolver) Exists(ctx context.Context, id string) (bool, error) {
	return r[id], nil
}

func TestRecordResolvesActor(t *testing.T) {
	trail := NewInMemory(staticResolver{"u1": true})
	ctx := context.Background()

	entry, err := trail.Record(ctx, "u1", "LOGIN_SUCCESS")
	if err != nil {
		t.Fatal(err)
	}
	if entry.ID == "" || entry.OccurredAt.IsZero() {
		t.Fatalf("incomplete entry: %+v", entry)
	}

	if _, err := trail.Record(ctx, "ghost", "LOGIN_SUCCESS"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown actor, got %v", err)
	}
	if _, err := trail.Record(ctx, "", "LOGIN_SUCCESS"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty actor, got %v", err)
	}
	if _, err := trail.Record(ctx, "u1", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty action, got %v", err)
	}
	if _, err := trail.Record(ctx, "u1", strings.Repeat("A", maxActionLen+1)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for oversized action, got %v", err)
	}
}

func TestAnonymousActorAlwaysResolves(t *testing.T) {
	trail := NewInMemory(staticResolver{})
	entry, err := trail.Record(context.Background(), AnonymousActor, "LOGIN_FAILURE")
	if err != nil {
		t.Fatal(err)
	}
	if entry.ActorID != AnonymousActor {
		t.Fatalf("unexpected actor: %s", entry.ActorID)
	}
}

func TestListOrdering(t *testing.T) {
	trail := NewInMemory(staticResolver{"u1": true, "u2": true})
	ctx := context.Background()

	actions := []struct{ actor, action string }{
		{"u1", "A"}, {"u2", "B"}, {"u1", "C"}, {"u1", "D"}, {"u2", "E"},
	}
	for _, a := range actions {
		if _, err := trail.Record(ctx, a.actor, a.action); err != nil {
			t.Fatal(err)
		}
	}

	all, err := trail.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(all))
	}
	for i, a := range actions {
		if all[i].Action != a.action {
			t.Fatalf("entry %d: got %s, want %s", i, all[i].Action, a.action)
		}
	}

	forU1, err := trail.ListFor(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, 0, len(forU1))
	for _, e := range forU1 {
		got = append(got, e.Action)
	}
	if strings.Join(got, "") != "ACD" {
		t.Fatalf("per-actor order violated: %v", got)
	}
}

func TestListAllReturnsCopy(t *testing.T) {
	trail := NewInMemory(staticResolver{"u1": true})
	ctx := context.Background()
	if _, err := trail.Record(ctx, "u1", "A"); err != nil {
		t.Fatal(err)
	}
	all, _ := trail.ListAll(ctx)
	all[0].Action = "TAMPERED"
	again, _ := trail.ListAll(ctx)
	if again[0].Action != "A" {
		t.Fatal("trail entries must be immutable to callers")
	}
}

func TestTimestampsMonotonic(t *testing.T) {
	trail := NewInMemory(staticResolver{"u1": true})
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	i := 0
	trail.now = func() time.Time {
		ts := ticks[i%len(ticks)]
		i++
		return ts
	}

	ctx := context.Background()
	for j := 0; j < 3; j++ {
		if _, err := trail.Record(ctx, "u1", "A"); err != nil {
			t.Fatal(err)
		}
	}
	all, _ := trail.ListAll(ctx)
	for j := 1; j < len(all); j++ {
		if all[j].OccurredAt.Before(all[j-1].OccurredAt) {
			t.Fatalf("timestamps went backwards: %v then %v", all[j-1].OccurredAt, all[j].OccurredAt)
		}
	}
}

func TestRecordEmitsJSONLine(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	trail := NewInMemory(staticResolver{"u1": true})
	if _, err := trail.Record(context.Background(), "u1", "SERVICE_CREATE"); err != nil {
		t.Fatal(err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if line["type"] != "audit" || line["actor"] != "u1" || line["action"] != "SERVICE_CREATE" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestSubscribeReceivesAppends(t *testing.T) {
	trail := NewInMemory(staticResolver{"u1": true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := trail.Subscribe(ctx)
	if _, err := trail.Record(context.Background(), "u1", "A"); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-ch:
		if e.Action != "A" {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the entry")
	}

	cancel()
	// Channel closes once the context ends.
	for range ch {
	}
}

func TestActorFromContext(t *testing.T) {
	if Actor(context.Background()) != AnonymousActor {
		t.Fatal("missing actor should default to anonymous")
	}
	ctx := ContextWithActor(context.Background(), "staff-1")
	if Actor(ctx) != "staff-1" {
		t.Fatal("actor not carried through context")
	}
}

func TestNilResolverAcceptsOnlyAnonymous(t *testing.T) {
	trail := NewInMemory(nil)
	ctx := context.Background()

	if _, err := trail.Record(ctx, AnonymousActor, "LOGIN_FAILURE"); err != nil {
		t.Fatal(err)
	}
	if _, err := trail.Record(ctx, "u1", "LOGIN_SUCCESS"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	entries, err := trail.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}
