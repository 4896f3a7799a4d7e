package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

const sessionsTable = "sessions"

// SessionRecord is a persisted quiz session. Payload is the session's JSON
// encoding; the store does not interpret it.
type SessionRecord struct {
	ID        string
	Topic     string
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionRepo manages persisted quiz sessions.
type SessionRepo interface {
	// Save inserts the record or replaces the stored one with the same ID.
	Save(ctx context.Context, rec *SessionRecord) error

	// Load returns the record with the given ID, or nil if none exists.
	Load(ctx context.Context, id string) (*SessionRecord, error)

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error

	// Prune deletes records not updated since before and returns how many
	// were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// sessionRepo implements SessionRepo with the ent SQL builder.
type sessionRepo struct {
	drv *entsql.Driver
}

func builder() *entsql.DialectBuilder {
	return entsql.Dialect(dialect.SQLite)
}

func (r *sessionRepo) Save(ctx context.Context, rec *SessionRecord) error {
	query, args := builder().
		Insert(sessionsTable).
		Columns("id", "topic", "payload", "created_at", "updated_at").
		Values(rec.ID, rec.Topic, rec.Payload, rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli()).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("topic")
				u.SetExcluded("payload")
				u.SetExcluded("updated_at")
			}),
		).
		Query()
	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("save session %s: %w", rec.ID, err)
	}
	return nil
}

func (r *sessionRepo) Load(ctx context.Context, id string) (*SessionRecord, error) {
	query, args := builder().
		Select("id", "topic", "payload", "created_at", "updated_at").
		From(entsql.Table(sessionsTable)).
		Where(entsql.EQ("id", id)).
		Query()

	var rows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("query session %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var (
		rec              SessionRecord
		created, updated int64
	)
	if err := rows.Scan(&rec.ID, &rec.Topic, &rec.Payload, &created, &updated); err != nil {
		return nil, fmt.Errorf("scan session %s: %w", id, err)
	}
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return &rec, nil
}

func (r *sessionRepo) Delete(ctx context.Context, id string) error {
	query, args := builder().
		Delete(sessionsTable).
		Where(entsql.EQ("id", id)).
		Query()
	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (r *sessionRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	query, args := builder().
		Delete(sessionsTable).
		Where(entsql.LT("updated_at", before.UnixMilli())).
		Query()
	var res sql.Result
	if err := r.drv.Exec(ctx, query, args, &res); err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}

func (r *sessionRepo) Count(ctx context.Context) (int, error) {
	query, args := builder().
		Select(entsql.Count("*")).
		From(entsql.Table(sessionsTable)).
		Query()

	var rows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	defer rows.Close()

	n, err := entsql.ScanInt(rows)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}
