package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"deskbill.org/internal/obs"
)

// InMemory implements Trail with in-process concurrency safety and fans
// appended entries out to live subscribers.
type InMemory struct {
	mu       sync.RWMutex
	entries  []Entry
	byActor  map[string][]int // actor id -> indexes into entries
	lastTS   time.Time
	resolver ActorResolver
	now      func() time.Time

	subMu   sync.RWMutex
	subs    map[int]chan Entry
	nextSub int
}

// NewInMemory creates an empty trail. Actors other than AnonymousActor
// are checked against the resolver on every Record; with a nil resolver
// only the anonymous actor is accepted.
func NewInMemory(resolver ActorResolver) *InMemory {
	return &InMemory{
		byActor:  make(map[string][]int),
		resolver: resolver,
		now:      time.Now,
		subs:     make(map[int]chan Entry),
	}
}

func (t *InMemory) Record(ctx context.Context, actorID, action string) (Entry, error) {
	if action == "" {
		return Entry{}, fmt.Errorf("%w: action is required", ErrInvalidArgument)
	}
	if len(action) > maxActionLen {
		return Entry{}, fmt.Errorf("%w: action exceeds %d chars", ErrInvalidArgument, maxActionLen)
	}
	if actorID == "" {
		return Entry{}, fmt.Errorf("%w: actor is required", ErrInvalidArgument)
	}
	if actorID != AnonymousActor {
		if t.resolver == nil {
			return Entry{}, fmt.Errorf("%w: actor %s", ErrNotFound, actorID)
		}
		ok, err := t.resolver.Exists(ctx, actorID)
		if err != nil {
			return Entry{}, err
		}
		if !ok {
			return Entry{}, fmt.Errorf("%w: actor %s", ErrNotFound, actorID)
		}
	}

	t.mu.Lock()
	ts := t.now().UTC()
	// Timestamps never go backwards within this process.
	if ts.Before(t.lastTS) {
		ts = t.lastTS
	}
	t.lastTS = ts

	entry := Entry{
		ID:         uuid.NewString(),
		ActorID:    actorID,
		Action:     action,
		OccurredAt: ts,
	}
	t.entries = append(t.entries, entry)
	t.byActor[actorID] = append(t.byActor[actorID], len(t.entries)-1)
	t.mu.Unlock()

	obs.IncAuditAppend()
	obs.LogEvent(map[string]any{
		"ts":     entry.OccurredAt.Format(time.RFC3339Nano),
		"type":   "audit",
		"actor":  entry.ActorID,
		"action": entry.Action,
		"id":     entry.ID,
	})
	t.publish(entry)
	return entry, nil
}

func (t *InMemory) ListFor(ctx context.Context, actorID string) ([]Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idxs := t.byActor[actorID]
	res := make([]Entry, 0, len(idxs))
	for _, i := range idxs {
		res = append(res, t.entries[i])
	}
	return res, nil
}

func (t *InMemory) ListAll(ctx context.Context) ([]Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	res := make([]Entry, len(t.entries))
	copy(res, t.entries)
	return res, nil
}

// Subscribe registers a live feed of appended entries. The channel is
// closed when the provided context ends.
func (t *InMemory) Subscribe(ctx context.Context) <-chan Entry {
	ch := make(chan Entry, 16)

	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.subMu.Unlock()

	go func() {
		<-ctx.Done()
		t.subMu.Lock()
		delete(t.subs, id)
		close(ch)
		t.subMu.Unlock()
	}()

	return ch
}

func (t *InMemory) publish(entry Entry) {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	for _, ch := range t.subs {
		select {
		case ch <- entry:
		default:
			// Drop when subscriber is slow to avoid blocking Record.
		}
	}
}
