package companyconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Provider resolves the payroll configuration of a company.
type Provider interface {
	PayrollConfig(ctx context.Context, companyID uuid.UUID) (PayrollConfig, error)
}

// Repository reads payroll_configs rows. Columns absent from the stored
// document keep their statutory defaults.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: time.Now}
}

// PayrollConfig implements Provider.
func (r *Repository) PayrollConfig(ctx context.Context, companyID uuid.UUID) (PayrollConfig, error) {
	if r == nil || r.pool == nil {
		return PayrollConfig{}, fmt.Errorf("companyconfig: repository not initialised")
	}
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT config FROM payroll_configs WHERE company_id = $1`, companyID).Scan(&raw)
	cfg := Default(companyID, r.now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cfg, nil
		}
		return PayrollConfig{}, fmt.Errorf("companyconfig: load company %s: %w", companyID, err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return PayrollConfig{}, fmt.Errorf("companyconfig: decode company %s: %w", companyID, err)
	}
	cfg.CompanyID = companyID
	if err := cfg.Validate(); err != nil {
		return PayrollConfig{}, err
	}
	return cfg, nil
}

// StaticProvider serves a fixed configuration per company, falling back to defaults.
type StaticProvider struct {
	Configs map[uuid.UUID]PayrollConfig
	Now     func() time.Time
}

// PayrollConfig implements Provider.
func (p StaticProvider) PayrollConfig(_ context.Context, companyID uuid.UUID) (PayrollConfig, error) {
	if cfg, ok := p.Configs[companyID]; ok {
		return cfg, nil
	}
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}
	return Default(companyID, now), nil
}
