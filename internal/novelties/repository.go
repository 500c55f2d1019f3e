package novelties

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/payroll/internal/shared"
)

// ErrNotFound is returned when a novelty does not exist.
var ErrNotFound = fmt.Errorf("novelties: %w", shared.ErrNotFound)

// editablePeriod holds a share lock on the owning period row so a concurrent
// status change waits for the ledger write, or the write sees the new status.
const editablePeriod = `EXISTS (SELECT 1 FROM payroll_periods p
	WHERE p.id = %s AND p.status IN ('draft', 'reopened') FOR SHARE)`

func periodNotEditable(periodID uuid.UUID) error {
	return shared.NewStateConflictError(periodID, "period_not_editable", "period no longer admits changes")
}

// Repository is the persistence port for novelties.
type Repository interface {
	Insert(ctx context.Context, n Novelty) error
	Update(ctx context.Context, n Novelty) error
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (Novelty, error)
	ListByEmployeePeriod(ctx context.Context, employeeID, periodID uuid.UUID) ([]Novelty, error)
	ListByPeriod(ctx context.Context, periodID uuid.UUID) ([]Novelty, error)
}

// PgRepository stores novelties in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs the repository using the provided pool.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const noveltyColumns = `id, company_id, employee_id, period_id, type, start_date, end_date,
	hours, days, value, constitutive, note, created_at, updated_at`

// Insert implements Repository. The row is written only while the period is editable.
func (r *PgRepository) Insert(ctx context.Context, n Novelty) error {
	tag, err := r.pool.Exec(ctx, `INSERT INTO payroll_novelties (`+noveltyColumns+`)
SELECT $1::uuid, $2::uuid, $3::uuid, $4::uuid, $5::text, $6::date, $7::date,
	$8::numeric, $9::numeric, $10::numeric, $11::boolean, $12::text, $13::timestamptz, $14::timestamptz
WHERE `+fmt.Sprintf(editablePeriod, "$4"),
		n.ID, n.CompanyID, n.EmployeeID, n.PeriodID, string(n.Type), n.StartDate, n.EndDate,
		n.Hours, n.Days, n.Value, n.Constitutive, n.Note, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return periodNotEditable(n.PeriodID)
	}
	return nil
}

// Update implements Repository.
func (r *PgRepository) Update(ctx context.Context, n Novelty) error {
	tag, err := r.pool.Exec(ctx, `UPDATE payroll_novelties
SET type = $2, start_date = $3, end_date = $4, hours = $5, days = $6, value = $7,
	constitutive = $8, note = $9, updated_at = $10
WHERE id = $1 AND `+fmt.Sprintf(editablePeriod, "payroll_novelties.period_id"),
		n.ID, string(n.Type), n.StartDate, n.EndDate, n.Hours, n.Days, n.Value, n.Constitutive, n.Note, n.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrLocked(ctx, n.ID, n.PeriodID)
	}
	return nil
}

// Delete implements Repository.
func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM payroll_novelties
WHERE id = $1 AND `+fmt.Sprintf(editablePeriod, "payroll_novelties.period_id"), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrLocked(ctx, id, uuid.Nil)
	}
	return nil
}

// missOrLocked tells an absent novelty apart from one whose period closed.
func (r *PgRepository) missOrLocked(ctx context.Context, id, periodID uuid.UUID) error {
	var owner uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT period_id FROM payroll_novelties WHERE id = $1`, id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if periodID == uuid.Nil {
		periodID = owner
	}
	return periodNotEditable(periodID)
}

// Get implements Repository.
func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (Novelty, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+noveltyColumns+` FROM payroll_novelties WHERE id = $1`, id)
	n, err := scanNovelty(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Novelty{}, ErrNotFound
	}
	return n, err
}

// ListByEmployeePeriod implements Repository.
func (r *PgRepository) ListByEmployeePeriod(ctx context.Context, employeeID, periodID uuid.UUID) ([]Novelty, error) {
	return r.list(ctx, `SELECT `+noveltyColumns+` FROM payroll_novelties
WHERE employee_id = $1 AND period_id = $2 ORDER BY created_at, id`, employeeID, periodID)
}

// ListByPeriod implements Repository.
func (r *PgRepository) ListByPeriod(ctx context.Context, periodID uuid.UUID) ([]Novelty, error) {
	return r.list(ctx, `SELECT `+noveltyColumns+` FROM payroll_novelties
WHERE period_id = $1 ORDER BY employee_id, created_at, id`, periodID)
}

func (r *PgRepository) list(ctx context.Context, sql string, args ...any) ([]Novelty, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Novelty
	for rows.Next() {
		n, err := scanNovelty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNovelty(row pgx.Row) (Novelty, error) {
	var (
		n    Novelty
		kind string
		note *string
	)
	if err := row.Scan(&n.ID, &n.CompanyID, &n.EmployeeID, &n.PeriodID, &kind, &n.StartDate, &n.EndDate,
		&n.Hours, &n.Days, &n.Value, &n.Constitutive, &note, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return Novelty{}, err
	}
	n.Type = Type(kind)
	if note != nil {
		n.Note = *note
	}
	return n, nil
}
