package directory

import (
	"context"
	"errors"
	"testing"

	"deskbill.org/internal/audit"
)

func TestFullName(t *testing.T) {
	cases := []struct {
		user User
		want string
	}{
		{User{GivenName: "Jane", LastName: "Doe"}, "Jane Doe"},
		{User{GivenName: "Jane", MiddleName: "M", LastName: "Doe"}, "Jane M Doe"},
		{User{GivenName: "Jane", MiddleName: "", LastName: "Doe"}, "Jane Doe"},
	}
	for _, c := range cases {
		if got := c.user.FullName(); got != c.want {
			t.Fatalf("FullName()=%q, want %q", got, c.want)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	cases := []User{
		{GivenName: "Jane", LastName: "Doe"},
		{ID: "u1", LastName: "Doe"},
		{ID: "u1", GivenName: "Jane"},
	}
	for _, u := range cases {
		if _, err := s.Register(ctx, u); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument for %+v, got %v", u, err)
		}
	}

	u, err := s.Register(ctx, User{ID: "u1", GivenName: "Jane", LastName: "Doe", Email: "jane@lib.edu"})
	if err != nil {
		t.Fatal(err)
	}
	if u.CreatedAt.IsZero() {
		t.Fatal("creation timestamp not set")
	}
}

func TestRegisterConflicts(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.Register(ctx, User{ID: "u1", GivenName: "Jane", LastName: "Doe", Email: "jane@lib.edu"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Register(ctx, User{ID: "u1", GivenName: "Other", LastName: "User"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate id, got %v", err)
	}
	if _, err := s.Register(ctx, User{ID: "u2", GivenName: "Other", LastName: "User", Email: "jane@lib.edu"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate email, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if _, err := s.Register(ctx, User{ID: "u1", GivenName: "Jane", LastName: "Doe", Email: "jane@lib.edu"}); err != nil {
		t.Fatal(err)
	}

	role := "staff"
	dept := "Circulation"
	updated, err := s.Update(ctx, "u1", Patch{Role: &role, Department: &dept})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Role != "staff" || updated.Department != "Circulation" {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if updated.GivenName != "Jane" || updated.Email != "jane@lib.edu" {
		t.Fatalf("untouched fields changed: %+v", updated)
	}

	empty := ""
	if _, err := s.Update(ctx, "u1", Patch{GivenName: &empty}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument clearing given name, got %v", err)
	}
	if _, err := s.Update(ctx, "nope", Patch{Role: &role}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateEmailReindexes(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if _, err := s.Register(ctx, User{ID: "u1", GivenName: "Jane", LastName: "Doe", Email: "old@lib.edu"}); err != nil {
		t.Fatal(err)
	}

	newEmail := "new@lib.edu"
	if _, err := s.Update(ctx, "u1", Patch{Email: &newEmail}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindByEmail(ctx, "old@lib.edu"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old email should be unindexed, got %v", err)
	}
	u, err := s.FindByEmail(ctx, "new@lib.edu")
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != "u1" {
		t.Fatalf("unexpected user %s", u.ID)
	}
}

func TestFindByEmailExactMatch(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if _, err := s.Register(ctx, User{ID: "u1", GivenName: "Jane", LastName: "Doe", Email: "Jane@lib.edu"}); err != nil {
		t.Fatal(err)
	}
	// No case normalization: lookups match the stored string exactly.
	if _, err := s.FindByEmail(ctx, "jane@lib.edu"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected exact-match miss, got %v", err)
	}
	if _, err := s.FindByEmail(ctx, "Jane@lib.edu"); err != nil {
		t.Fatal(err)
	}
}

func TestSetPasswordHash(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if _, err := s.Register(ctx, User{ID: "u1", GivenName: "Jane", LastName: "Doe"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPasswordHash(ctx, "u1", "$2a$10$stub"); err != nil {
		t.Fatal(err)
	}
	u, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if u.PasswordHash != "$2a$10$stub" {
		t.Fatalf("hash not stored: %q", u.PasswordHash)
	}
	if err := s.SetPasswordHash(ctx, "nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListInsertionOrder(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		if _, err := s.Register(ctx, User{ID: id, GivenName: "G", LastName: "L"}); err != nil {
			t.Fatal(err)
		}
	}
	users, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 3 || users[0].ID != "c" || users[1].ID != "a" || users[2].ID != "b" {
		t.Fatalf("unexpected order: %+v", users)
	}
}

func TestMutationsEmitAuditEntries(t *testing.T) {
	s := NewInMemory()
	trail := audit.NewInMemory(s)
	s.AttachTrail(trail)
	ctx := context.Background()

	if _, err := s.Register(ctx, User{ID: "u1", GivenName: "Jane", LastName: "Doe"}); err != nil {
		t.Fatal(err)
	}
	staff := audit.ContextWithActor(ctx, "u1")
	role := "staff"
	if _, err := s.Update(staff, "u1", Patch{Role: &role}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPasswordHash(staff, "u1", "$2a$10$stub"); err != nil {
		t.Fatal(err)
	}

	entries, err := trail.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	wantActions := []string{ActionUserRegister, ActionUserUpdate, ActionCredentialSet}
	wantActors := []string{audit.AnonymousActor, "u1", "u1"}
	for i, e := range entries {
		if e.Action != wantActions[i] || e.ActorID != wantActors[i] {
			t.Fatalf("entry %d: got %s/%s, want %s/%s", i, e.ActorID, e.Action, wantActors[i], wantActions[i])
		}
	}
}

func TestRegisterWithoutTrail(t *testing.T) {
	s := NewInMemory()
	if _, err := s.Register(context.Background(), User{ID: "u1", GivenName: "Jane", LastName: "Doe"}); err != nil {
		t.Fatal(err)
	}
}

func TestRegisterRejectsReservedActorID(t *testing.T) {
	s := NewInMemory()
	_, err := s.Register(context.Background(), User{ID: audit.AnonymousActor, GivenName: "A", LastName: "B"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUnresolvableActorLeavesNoPartialState(t *testing.T) {
	s := NewInMemory()
	trail := audit.NewInMemory(s)
	s.AttachTrail(trail)
	ghost := audit.ContextWithActor(context.Background(), "ghost")

	if _, err := s.Register(ghost, User{ID: "u1", GivenName: "Jane", LastName: "Doe"}); !errors.Is(err, audit.ErrNotFound) {
		t.Fatalf("expected audit.ErrNotFound, got %v", err)
	}
	if ok, _ := s.Exists(context.Background(), "u1"); ok {
		t.Fatal("user persisted despite rejected registration")
	}

	if _, err := s.Register(context.Background(), User{ID: "u1", GivenName: "Jane", LastName: "Doe", Role: "student"}); err != nil {
		t.Fatal(err)
	}
	role := "staff"
	if _, err := s.Update(ghost, "u1", Patch{Role: &role}); !errors.Is(err, audit.ErrNotFound) {
		t.Fatalf("expected audit.ErrNotFound, got %v", err)
	}
	if err := s.SetPasswordHash(ghost, "u1", "$2a$10$stub"); !errors.Is(err, audit.ErrNotFound) {
		t.Fatalf("expected audit.ErrNotFound, got %v", err)
	}
	u, err := s.Get(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Role != "student" || u.PasswordHash != "" {
		t.Fatalf("rejected mutations persisted: %+v", u)
	}

	entries, err := trail.ListAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != ActionUserRegister {
		t.Fatalf("expected only the anonymous registration entry, got %+v", entries)
	}
}
