package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/payroll/internal/proration"
	"github.com/odyssey-erp/payroll/internal/shared"
)

// ErrEditableConflict is returned by repositories when a write would leave a
// company with two editable periods.
var ErrEditableConflict = errors.New("periods: company already has an editable period")

// Repository persists periods.
type Repository interface {
	Insert(ctx context.Context, p Period) error
	Save(ctx context.Context, p Period) error
	Get(ctx context.Context, id uuid.UUID) (Period, error)
	List(ctx context.Context, companyID uuid.UUID) ([]Period, error)
	// FindEditable returns the editable period of a company, if any.
	FindEditable(ctx context.Context, companyID uuid.UUID) (Period, bool, error)
	// ListEditable returns the editable periods of every company.
	ListEditable(ctx context.Context) ([]Period, error)
	// Overlapping reports a non-cancelled period intersecting [start, end].
	Overlapping(ctx context.Context, companyID uuid.UUID, start, end time.Time) (bool, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time, employeeCount int) error
}

// PgRepository stores periods in PostgreSQL. The partial unique index
// payroll_periods_one_editable enforces a single editable period per company.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs the repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const periodColumns = `id, company_id, name, periodicity, start_date, end_date, status, employee_count,
	closed_at, closed_by, reopened_at, reopened_by, reopen_justification, reopen_count,
	cancelled_at, last_activity_at, created_at, updated_at`

// Insert implements Repository.
func (r *PgRepository) Insert(ctx context.Context, p Period) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO payroll_periods (`+periodColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		p.ID, p.CompanyID, p.Name, string(p.Periodicity), p.StartDate, p.EndDate, p.Status, p.EmployeeCount,
		p.ClosedAt, p.ClosedBy, p.ReopenedAt, p.ReopenedBy, p.ReopenJustification, p.ReopenCount,
		p.CancelledAt, p.LastActivityAt, p.CreatedAt, p.UpdatedAt)
	return mapWriteErr(err)
}

// Save implements Repository.
func (r *PgRepository) Save(ctx context.Context, p Period) error {
	tag, err := r.pool.Exec(ctx, `UPDATE payroll_periods SET status = $2, employee_count = $3,
	closed_at = $4, closed_by = $5, reopened_at = $6, reopened_by = $7, reopen_justification = $8,
	reopen_count = $9, cancelled_at = $10, last_activity_at = $11, updated_at = $12
WHERE id = $1`,
		p.ID, p.Status, p.EmployeeCount, p.ClosedAt, p.ClosedBy, p.ReopenedAt, p.ReopenedBy,
		p.ReopenJustification, p.ReopenCount, p.CancelledAt, p.LastActivityAt, p.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get implements Repository.
func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (Period, error) {
	p, err := scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM payroll_periods WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, ErrNotFound
	}
	return p, err
}

// List implements Repository.
func (r *PgRepository) List(ctx context.Context, companyID uuid.UUID) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM payroll_periods
WHERE company_id = $1 ORDER BY start_date DESC, created_at DESC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindEditable implements Repository.
func (r *PgRepository) FindEditable(ctx context.Context, companyID uuid.UUID) (Period, bool, error) {
	p, err := scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM payroll_periods
WHERE company_id = $1 AND status IN ('draft', 'reopened') LIMIT 1`, companyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, false, nil
	}
	if err != nil {
		return Period{}, false, err
	}
	return p, true, nil
}

// ListEditable implements Repository.
func (r *PgRepository) ListEditable(ctx context.Context) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM payroll_periods
WHERE status IN ('draft', 'reopened') ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Overlapping implements Repository.
func (r *PgRepository) Overlapping(ctx context.Context, companyID uuid.UUID, start, end time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM payroll_periods
	WHERE company_id = $1 AND status <> 'cancelled' AND start_date <= $3 AND end_date >= $2
)`, companyID, start, end).Scan(&exists)
	return exists, err
}

// Touch implements Repository. A negative employeeCount keeps the stored value.
func (r *PgRepository) Touch(ctx context.Context, id uuid.UUID, at time.Time, employeeCount int) error {
	_, err := r.pool.Exec(ctx, `UPDATE payroll_periods
SET last_activity_at = $2, employee_count = CASE WHEN $3 < 0 THEN employee_count ELSE $3 END
WHERE id = $1`, id, at, employeeCount)
	return err
}

func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if shared.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrEditableConflict, err)
	}
	return err
}

func scanPeriod(row pgx.Row) (Period, error) {
	var (
		p           Period
		periodicity string
		closedBy    *string
		reopenedBy  *string
		reason      *string
	)
	if err := row.Scan(&p.ID, &p.CompanyID, &p.Name, &periodicity, &p.StartDate, &p.EndDate, &p.Status,
		&p.EmployeeCount, &p.ClosedAt, &closedBy, &p.ReopenedAt, &reopenedBy, &reason, &p.ReopenCount,
		&p.CancelledAt, &p.LastActivityAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Period{}, err
	}
	p.Periodicity = proration.Periodicity(periodicity)
	if closedBy != nil {
		p.ClosedBy = *closedBy
	}
	if reopenedBy != nil {
		p.ReopenedBy = *reopenedBy
	}
	if reason != nil {
		p.ReopenJustification = *reason
	}
	return p, nil
}
