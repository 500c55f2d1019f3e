package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Query is the repository-level form of TimelineFilters.
type Query struct {
	PeriodID *uuid.UUID
	From     time.Time
	To       time.Time
	Actor    string
	Action   string
	Offset   int
	Limit    int
}

// Repository persists audit entries.
type Repository interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, q Query) ([]Entry, error)
}

// PgRepository stores entries in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs the repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Append implements Repository.
func (r *PgRepository) Append(ctx context.Context, e Entry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("audit: encode metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO payroll_audit_entries
(id, period_id, company_id, action, actor, justification, affected_employees, trigger, metadata, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.PeriodID, e.CompanyID, string(e.Action), e.Actor, e.Justification,
		e.AffectedEmployees, e.Trigger, meta, e.OccurredAt)
	return err
}

// List implements Repository, newest first.
func (r *PgRepository) List(ctx context.Context, q Query) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, period_id, company_id, action, actor, justification,
	affected_employees, trigger, metadata, occurred_at
FROM payroll_audit_entries
WHERE ($1::uuid IS NULL OR period_id = $1)
	AND ($2::timestamptz IS NULL OR occurred_at >= $2)
	AND ($3::timestamptz IS NULL OR occurred_at <= $3)
	AND ($4::text IS NULL OR actor = $4)
	AND ($5::text IS NULL OR action = $5)
ORDER BY occurred_at DESC, id
OFFSET $6 LIMIT $7`,
		q.PeriodID, toPgTime(q.From), toPgTime(q.To), optionalText(q.Actor), optionalText(q.Action), q.Offset, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			action string
			meta   []byte
			just   *string
			trig   *string
		)
		if err := rows.Scan(&e.ID, &e.PeriodID, &e.CompanyID, &action, &e.Actor, &just,
			&e.AffectedEmployees, &trig, &meta, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		if just != nil {
			e.Justification = *just
		}
		if trig != nil {
			e.Trigger = *trig
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
