// Package employees exposes the read-only view of employee master data that
// payroll computation consumes.
package employees

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/payroll/internal/shared"
)

// Affiliations holds opaque references to social-security entities.
type Affiliations struct {
	Health    string `json:"health,omitempty"`
	Pension   string `json:"pension,omitempty"`
	Risk      string `json:"risk,omitempty"`
	Severance string `json:"severance,omitempty"`
}

// Snapshot is the computation input for one employee.
type Snapshot struct {
	ID           uuid.UUID       `json:"id"`
	CompanyID    uuid.UUID       `json:"company_id"`
	Name         string          `json:"name"`
	BaseSalary   decimal.Decimal `json:"base_salary"`
	ContractType string          `json:"contract_type"`
	Affiliations Affiliations    `json:"affiliations"`
	HiredAt      time.Time       `json:"hired_at"`
	TerminatedAt *time.Time      `json:"terminated_at,omitempty"`
}

// ActiveDuring reports whether the employee was employed at any point between start and end.
func (s Snapshot) ActiveDuring(start, end time.Time) bool {
	if !s.HiredAt.IsZero() && s.HiredAt.After(end) {
		return false
	}
	if s.TerminatedAt != nil && s.TerminatedAt.Before(start) {
		return false
	}
	return true
}

// Directory is the master-data collaborator.
type Directory interface {
	GetSnapshot(ctx context.Context, employeeID uuid.UUID) (Snapshot, error)
	ListActive(ctx context.Context, companyID uuid.UUID, start, end time.Time) ([]Snapshot, error)
}

// Repository reads employees from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const snapshotColumns = `id, company_id, name, base_salary::text, contract_type,
	health_entity, pension_entity, risk_entity, severance_entity, hired_at, terminated_at`

// GetSnapshot loads a single employee.
func (r *Repository) GetSnapshot(ctx context.Context, employeeID uuid.UUID) (Snapshot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM employees WHERE id = $1`, employeeID)
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, fmt.Errorf("employees: %s: %w", employeeID, shared.ErrNotFound)
		}
		return Snapshot{}, err
	}
	return snap, nil
}

// ListActive returns employees of a company employed during the range.
func (r *Repository) ListActive(ctx context.Context, companyID uuid.UUID, start, end time.Time) ([]Snapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM employees
WHERE company_id = $1 AND (hired_at IS NULL OR hired_at <= $3) AND (terminated_at IS NULL OR terminated_at >= $2)
ORDER BY id`, companyID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var (
		snap      Snapshot
		salary    *string
		hiredAt   *time.Time
		health    *string
		pension   *string
		risk      *string
		severance *string
	)
	if err := row.Scan(&snap.ID, &snap.CompanyID, &snap.Name, &salary, &snap.ContractType,
		&health, &pension, &risk, &severance, &hiredAt, &snap.TerminatedAt); err != nil {
		return Snapshot{}, err
	}
	if salary != nil {
		d, err := decimal.NewFromString(*salary)
		if err != nil {
			return Snapshot{}, fmt.Errorf("employees: %s: invalid base salary %q", snap.ID, *salary)
		}
		snap.BaseSalary = d
	}
	if hiredAt != nil {
		snap.HiredAt = *hiredAt
	}
	snap.Affiliations = Affiliations{
		Health:    deref(health),
		Pension:   deref(pension),
		Risk:      deref(risk),
		Severance: deref(severance),
	}
	return snap, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
