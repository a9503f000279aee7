// Package audit keeps the append-only record of who did what. Entries are
// immutable once written; no update or delete exists.
package audit

import (
	"context"
	"errors"
	"time"
)

// AnonymousActor is the reserved actor id used when an action cannot be
// attributed to a resolvable user, e.g. a login attempt with an unknown
// email. The trail always accepts it without a directory lookup.
const AnonymousActor = "anonymous"

// maxActionLen bounds action labels (matches the 50-char column in the
// persisted schema).
const maxActionLen = 50

// Entry is one immutable audit record.
type Entry struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	OccurredAt time.Time `json:"occurred_at"`
}

var (
	ErrInvalidArgument = errors.New("audit: invalid argument")
	ErrNotFound        = errors.New("audit: not found")
	ErrStorage         = errors.New("audit: storage failure")
)

// Trail defines the audit surface. Record is the only mutation.
type Trail interface {
	Record(ctx context.Context, actorID, action string) (Entry, error)
	ListFor(ctx context.Context, actorID string) ([]Entry, error)
	ListAll(ctx context.Context) ([]Entry, error)
}

// ActorResolver answers whether an actor id refers to an existing user.
// The user directory satisfies it.
type ActorResolver interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type ctxKey string

const actorKey ctxKey = "audit_actor_id"

// ContextWithActor stamps the acting user onto the context so mutations
// deeper in the call tree can attribute their audit entries.
func ContextWithActor(ctx context.Context, actorID string) context.Context {
	if actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, actorID)
}

// Actor returns the acting user from the context, or AnonymousActor when
// none was attached.
func Actor(ctx context.Context) string {
	if ctx == nil {
		return AnonymousActor
	}
	if v, ok := ctx.Value(actorKey).(string); ok && v != "" {
		return v
	}
	return AnonymousActor
}
