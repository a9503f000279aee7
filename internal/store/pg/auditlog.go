package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"deskbill.org/internal/audit"
	"deskbill.org/internal/obs"
)

const maxActionLen = 50

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Record appends one immutable audit entry in its own transaction.
func (s *Store) Record(ctx context.Context, actorID, action string) (audit.Entry, error) {
	entry, err := s.appendAudit(ctx, s.db, actorID, action)
	if err != nil {
		return audit.Entry{}, err
	}
	return entry, nil
}

// appendAudit writes an audit row through the given executor so billing
// mutations can include their entry in the same database transaction.
// The anonymous actor is a seeded row, so the foreign key holds for it
// as well.
func (s *Store) appendAudit(ctx context.Context, ex execer, actorID, action string) (audit.Entry, error) {
	if action == "" {
		return audit.Entry{}, fmt.Errorf("%w: action is required", audit.ErrInvalidArgument)
	}
	if len(action) > maxActionLen {
		return audit.Entry{}, fmt.Errorf("%w: action exceeds %d chars", audit.ErrInvalidArgument, maxActionLen)
	}
	if actorID == "" {
		return audit.Entry{}, fmt.Errorf("%w: actor is required", audit.ErrInvalidArgument)
	}

	s.auditMu.Lock()
	ts := s.now().UTC()
	if ts.Before(s.lastAudit) {
		ts = s.lastAudit
	}
	s.lastAudit = ts
	s.auditMu.Unlock()

	entry := audit.Entry{
		ID:         uuid.NewString(),
		ActorID:    actorID,
		Action:     action,
		OccurredAt: ts,
	}

	_, err := ex.ExecContext(ctx, `
		insert into audit_log(id, actor_id, action, occurred_at)
		values ($1,$2,$3,$4)
	`, entry.ID, entry.ActorID, entry.Action, entry.OccurredAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return audit.Entry{}, fmt.Errorf("%w: actor %s", audit.ErrNotFound, actorID)
		}
		return audit.Entry{}, storageErr(audit.ErrStorage, err)
	}

	obs.IncAuditAppend()
	obs.LogEvent(map[string]any{
		"ts":     entry.OccurredAt.Format(time.RFC3339Nano),
		"type":   "audit",
		"actor":  entry.ActorID,
		"action": entry.Action,
		"id":     entry.ID,
	})
	return entry, nil
}

func (s *Store) ListFor(ctx context.Context, actorID string) ([]audit.Entry, error) {
	return s.listAudit(ctx, `
		select id, actor_id, action, occurred_at
		from audit_log where actor_id=$1 order by seq asc
	`, actorID)
}

func (s *Store) ListAll(ctx context.Context) ([]audit.Entry, error) {
	return s.listAudit(ctx, `
		select id, actor_id, action, occurred_at
		from audit_log order by seq asc
	`)
}

func (s *Store) listAudit(ctx context.Context, query string, args ...any) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(audit.ErrStorage, err)
	}
	defer rows.Close()

	var res []audit.Entry
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.OccurredAt); err != nil {
			return nil, storageErr(audit.ErrStorage, err)
		}
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(audit.ErrStorage, err)
	}
	return res, nil
}
