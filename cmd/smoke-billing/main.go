// smoke-billing wires the in-memory services together and walks the
// whole billing surface end to end: registration, login, catalog,
// transaction with entries, totals and the audit trail.
package main

import (
	"context"
	"fmt"
	"log"

	"deskbill.org/internal/audit"
	"deskbill.org/internal/auth"
	"deskbill.org/internal/billing"
	"deskbill.org/internal/directory"
	"deskbill.org/internal/money"
	"deskbill.org/internal/obs"
)

func main() {
	obs.Init()
	ctx := context.Background()

	users := directory.NewInMemory()
	trail := audit.NewInMemory(users)
	users.AttachTrail(trail)
	bills := billing.NewInMemory(users, trail)

	staff, err := users.Register(ctx, directory.User{
		ID: "staff-1", GivenName: "Alma", LastName: "Reyes",
		Email: "alma@lib.edu", Role: "staff", Department: "Circulation",
	})
	if err != nil {
		log.Fatalf("register staff: %v", err)
	}
	patron, err := users.Register(ctx, directory.User{
		ID: "patron-1", GivenName: "Jose", MiddleName: "P", LastName: "Rizal",
		Email: "jose@lib.edu", Role: "student", Program: "BSCS", Year: 3,
	})
	if err != nil {
		log.Fatalf("register patron: %v", err)
	}

	hash, err := auth.HashPassword("letmein")
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	if err := users.SetPasswordHash(ctx, staff.ID, hash); err != nil {
		log.Fatalf("set credential: %v", err)
	}

	gate := auth.NewGate(users, auth.BcryptVerifier{}, trail)
	if _, err := gate.Authenticate(ctx, "alma@lib.edu", "wrong"); err == nil {
		log.Fatal("wrong password accepted")
	}
	actor, err := gate.Authenticate(ctx, "alma@lib.edu", "letmein")
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	ctx = audit.ContextWithActor(ctx, actor.ID)

	printing, err := bills.CreateService(ctx, "Printing", "B/W per page", money.MustParse("1.50"))
	if err != nil {
		log.Fatalf("create service: %v", err)
	}
	fine, err := bills.CreateService(ctx, "Overdue fine", "Per day", money.MustParse("10.00"))
	if err != nil {
		log.Fatalf("create service: %v", err)
	}

	txn, err := bills.CreateTransaction(ctx, patron.ID, actor.ID, "Term 1", "2026-2027")
	if err != nil {
		log.Fatalf("create transaction: %v", err)
	}
	if _, err := bills.AddEntry(ctx, txn.ID, printing.ID, 12); err != nil {
		log.Fatalf("add entry: %v", err)
	}
	if _, err := bills.AddEntry(ctx, txn.ID, fine.ID, 3); err != nil {
		log.Fatalf("add entry: %v", err)
	}

	txn, err = bills.GetTransaction(ctx, txn.ID)
	if err != nil {
		log.Fatalf("get transaction: %v", err)
	}
	want := money.MustParse("48.00")
	if !txn.Total().Equal(want) {
		log.Fatalf("total mismatch: got %s, want %s", txn.Total(), want)
	}

	entries, err := trail.ListAll(ctx)
	if err != nil {
		log.Fatalf("list audit: %v", err)
	}
	for _, e := range entries {
		fmt.Printf("%s  %-20s %s\n", e.OccurredAt.Format("15:04:05.000"), e.Action, e.ActorID)
	}
	fmt.Printf("billing smoke test passed: %s billed %s to %s\n", txn.ID, txn.Total(), patron.FullName())
}
