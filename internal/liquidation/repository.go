package liquidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/payroll/internal/ibc"
	"github.com/odyssey-erp/payroll/internal/platform/db"
	"github.com/odyssey-erp/payroll/internal/shared"
)

var (
	// ErrNotFound is returned when no record exists for an employee and period.
	ErrNotFound = fmt.Errorf("liquidation: record %w", shared.ErrNotFound)
	// ErrVersionConflict is returned when another writer appended the same version.
	ErrVersionConflict = errors.New("liquidation: record version already exists")
)

// StaleFilter narrows ListStale.
type StaleFilter struct {
	PeriodID *uuid.UUID
	// StaleBefore keeps only records stale since at or before this instant.
	StaleBefore time.Time
}

// Repository is the persistence port for payroll records.
type Repository interface {
	// Append stores rec as the next version for its employee and period.
	Append(ctx context.Context, rec Record) (Record, error)
	Current(ctx context.Context, periodID, employeeID uuid.UUID) (Record, error)
	ListCurrent(ctx context.Context, periodID uuid.UUID) ([]Record, error)
	History(ctx context.Context, periodID, employeeID uuid.UUID) ([]Record, error)
	CountByPeriod(ctx context.Context, periodID uuid.UUID) (int, error)
	// MarkStale flags the current record when it was computed before changedAt.
	// It reports whether the flag flipped.
	MarkStale(ctx context.Context, periodID, employeeID uuid.UUID, changedAt time.Time) (bool, error)
	// FlagStale flags the current record unconditionally, keeping a failed
	// reconciliation eligible for retry.
	FlagStale(ctx context.Context, periodID, employeeID uuid.UUID, since time.Time) error
	ListStale(ctx context.Context, filter StaleFilter) ([]Record, error)
	ListMissingSnapshot(ctx context.Context, periodID *uuid.UUID) ([]Record, error)
	AttachSnapshot(ctx context.Context, recordID uuid.UUID, snap ibc.Snapshot) error
}

// PgRepository stores records in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs the repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const recordColumns = `id, period_id, employee_id, company_id, version, status, failure_reason, trigger,
	worked_days, base_salary, prorated_salary, transport_allowance, novelty_earnings, gross_pay,
	health, pension, solidarity, novelty_deductions, total_deductions, net_pay, ibc, ibc_snapshot,
	inputs_hash, novelty_fingerprint, is_stale, stale_since, computed_at`

// Append implements Repository. The version is assigned under a row lock on
// the previous current record.
func (r *PgRepository) Append(ctx context.Context, rec Record) (Record, error) {
	if r == nil || r.pool == nil {
		return Record{}, fmt.Errorf("liquidation: repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var prev int
		err := tx.QueryRow(ctx, `SELECT version FROM payroll_records
WHERE period_id = $1 AND employee_id = $2 AND is_current FOR UPDATE`, rec.PeriodID, rec.EmployeeID).Scan(&prev)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if prev > 0 {
			if _, err := tx.Exec(ctx, `UPDATE payroll_records SET is_current = FALSE
WHERE period_id = $1 AND employee_id = $2 AND is_current`, rec.PeriodID, rec.EmployeeID); err != nil {
				return err
			}
		}
		rec.Version = prev + 1
		var snapshot []byte
		if rec.Snapshot != nil {
			if snapshot, err = json.Marshal(rec.Snapshot); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx, `INSERT INTO payroll_records (`+recordColumns+`, is_current)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,TRUE)`,
			rec.ID, rec.PeriodID, rec.EmployeeID, rec.CompanyID, rec.Version, string(rec.Status), rec.Failure, string(rec.Trigger),
			rec.WorkedDays, rec.BaseSalary, rec.ProratedSalary, rec.TransportAllowance, rec.NoveltyEarnings, rec.GrossPay,
			rec.Deductions.Health, rec.Deductions.Pension, rec.Deductions.Solidarity, rec.Deductions.Novelties, rec.Deductions.Total,
			rec.NetPay, rec.IBC, snapshot, rec.InputsHash, rec.NoveltyFingerprint, rec.IsStale, rec.StaleSince, rec.ComputedAt)
		if shared.IsUniqueViolation(err) {
			return ErrVersionConflict
		}
		return err
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Current implements Repository.
func (r *PgRepository) Current(ctx context.Context, periodID, employeeID uuid.UUID) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM payroll_records
WHERE period_id = $1 AND employee_id = $2 AND is_current`, periodID, employeeID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// ListCurrent implements Repository.
func (r *PgRepository) ListCurrent(ctx context.Context, periodID uuid.UUID) ([]Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM payroll_records
WHERE period_id = $1 AND is_current ORDER BY employee_id`, periodID)
}

// History implements Repository.
func (r *PgRepository) History(ctx context.Context, periodID, employeeID uuid.UUID) ([]Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM payroll_records
WHERE period_id = $1 AND employee_id = $2 ORDER BY version`, periodID, employeeID)
}

// CountByPeriod implements Repository.
func (r *PgRepository) CountByPeriod(ctx context.Context, periodID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payroll_records WHERE period_id = $1`, periodID).Scan(&n)
	return n, err
}

// MarkStale implements Repository.
func (r *PgRepository) MarkStale(ctx context.Context, periodID, employeeID uuid.UUID, changedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE payroll_records SET is_stale = TRUE, stale_since = $3
WHERE period_id = $1 AND employee_id = $2 AND is_current AND NOT is_stale AND computed_at < $3`,
		periodID, employeeID, changedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FlagStale implements Repository.
func (r *PgRepository) FlagStale(ctx context.Context, periodID, employeeID uuid.UUID, since time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE payroll_records SET is_stale = TRUE, stale_since = $3
WHERE period_id = $1 AND employee_id = $2 AND is_current`, periodID, employeeID, since)
	return err
}

// ListStale implements Repository.
func (r *PgRepository) ListStale(ctx context.Context, filter StaleFilter) ([]Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM payroll_records
WHERE is_current AND is_stale AND stale_since <= $1 AND ($2::uuid IS NULL OR period_id = $2)
ORDER BY period_id, employee_id`, filter.StaleBefore, filter.PeriodID)
}

// ListMissingSnapshot implements Repository.
func (r *PgRepository) ListMissingSnapshot(ctx context.Context, periodID *uuid.UUID) ([]Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM payroll_records
WHERE is_current AND status = 'ok' AND ibc_snapshot IS NULL AND ($1::uuid IS NULL OR period_id = $1)
ORDER BY period_id, employee_id`, periodID)
}

// AttachSnapshot implements Repository. Existing snapshots are never replaced.
func (r *PgRepository) AttachSnapshot(ctx context.Context, recordID uuid.UUID, snap ibc.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE payroll_records SET ibc_snapshot = $2 WHERE id = $1 AND ibc_snapshot IS NULL`, recordID, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("liquidation: record %s already has a snapshot or does not exist", recordID)
	}
	return nil
}

func (r *PgRepository) list(ctx context.Context, sql string, args ...any) ([]Record, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec      Record
		status   string
		trigger  string
		failure  *string
		snapshot []byte
	)
	err := row.Scan(&rec.ID, &rec.PeriodID, &rec.EmployeeID, &rec.CompanyID, &rec.Version, &status, &failure, &trigger,
		&rec.WorkedDays, &rec.BaseSalary, &rec.ProratedSalary, &rec.TransportAllowance, &rec.NoveltyEarnings, &rec.GrossPay,
		&rec.Deductions.Health, &rec.Deductions.Pension, &rec.Deductions.Solidarity, &rec.Deductions.Novelties, &rec.Deductions.Total,
		&rec.NetPay, &rec.IBC, &snapshot, &rec.InputsHash, &rec.NoveltyFingerprint, &rec.IsStale, &rec.StaleSince, &rec.ComputedAt)
	if err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	rec.Trigger = Trigger(trigger)
	if failure != nil {
		rec.Failure = *failure
	}
	if len(snapshot) > 0 {
		var snap ibc.Snapshot
		if err := json.Unmarshal(snapshot, &snap); err != nil {
			return Record{}, fmt.Errorf("liquidation: decode snapshot for record %s: %w", rec.ID, err)
		}
		rec.Snapshot = &snap
	}
	return rec, nil
}
