package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"deskbill.org/internal/audit"
	"deskbill.org/internal/directory"
	"deskbill.org/internal/obs"
)

// Audit action labels for authentication outcomes.
const (
	ActionLoginSuccess = "LOGIN_SUCCESS"
	ActionLoginFailure = "LOGIN_FAILURE"
)

// UserFinder is the slice of the directory the gate needs.
type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (directory.User, error)
}

// Gate authenticates users by email and password. It keeps no state
// between calls and never mutates user records; its only side effect is
// one audit entry per terminal outcome.
type Gate struct {
	users   UserFinder
	verify  Verifier
	trail   audit.Trail
	limiter *rate.Limiter
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLoginLimit throttles authentication attempts process-wide.
// Throttled calls fail fast with ErrThrottled before touching the
// directory.
func WithLoginLimit(limit rate.Limit, burst int) GateOption {
	return func(g *Gate) {
		g.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewGate wires a gate from its collaborators.
func NewGate(users UserFinder, verify Verifier, trail audit.Trail, opts ...GateOption) *Gate {
	g := &Gate{users: users, verify: verify, trail: trail}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate looks the user up by email (exact match as stored) and
// delegates the credential check to the verify capability. Failures are
// classified, never conflated; unknown emails are still recorded in the
// trail against the anonymous actor.
func (g *Gate) Authenticate(ctx context.Context, email, password string) (directory.User, error) {
	if g.limiter != nil && !g.limiter.Allow() {
		obs.IncAuthAttempt("throttled")
		return directory.User{}, ErrThrottled
	}

	user, err := g.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return directory.User{}, g.reject(ctx, audit.AnonymousActor, "user_not_found",
				fmt.Errorf("%w: email %s", ErrUserNotFound, email))
		}
		return directory.User{}, err
	}

	if user.PasswordHash == "" {
		return directory.User{}, g.reject(ctx, user.ID, "no_credential",
			fmt.Errorf("%w: user %s", ErrNoCredential, user.ID))
	}
	if !g.verify.Verify(password, user.PasswordHash) {
		return directory.User{}, g.reject(ctx, user.ID, "invalid_credential",
			fmt.Errorf("%w: user %s", ErrInvalidCredential, user.ID))
	}

	if _, err := g.trail.Record(ctx, user.ID, ActionLoginSuccess); err != nil {
		return directory.User{}, err
	}
	obs.IncAuthAttempt("success")
	return user, nil
}

// reject records the failure and returns the classified error. An audit
// append failure wins over the rejection: the contract is one durable
// entry per terminal outcome.
func (g *Gate) reject(ctx context.Context, actorID, outcome string, cause error) error {
	if _, err := g.trail.Record(ctx, actorID, ActionLoginFailure); err != nil {
		return err
	}
	obs.IncAuthAttempt(outcome)
	return cause
}
