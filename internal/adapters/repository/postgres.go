package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/okian/merit/internal/domain/budget"
	"github.com/okian/merit/internal/domain/model"
)

const defaultHistoryLimit = 50

// calculationRecord is the relational shape of a reward calculation.
// Tier and breakdown are stored as JSON documents; they are read back
// whole and never queried field by field.
type calculationRecord struct {
	ID            string    `gorm:"primaryKey;size:64"`
	Project       string    `gorm:"index;size:255;not null"`
	PeriodKey     string    `gorm:"index;size:16;not null"`
	OffchainScore float64   `gorm:"not null"`
	OnchainScore  float64   `gorm:"not null"`
	TotalScore    float64   `gorm:"not null"`
	Tier          string    `gorm:"type:jsonb;not null"`
	Breakdown     string    `gorm:"type:jsonb;not null"`
	NominalUSD    float64   `gorm:"not null"`
	GrantedUSD    float64   `gorm:"not null"`
	TokenAmount   float64   `gorm:"not null"`
	Warnings      string    `gorm:"type:jsonb"`
	Signature     string    `gorm:"size:128;not null"`
	CalculatedAt  time.Time `gorm:"index;not null"`
}

func (calculationRecord) TableName() string { return "reward_calculations" }

// poolRecord is the relational shape of a monthly pool. One row per
// period; allocations lock the row for the whole decision.
type poolRecord struct {
	PeriodKey    string    `gorm:"primaryKey;size:16"`
	CeilingUSD   float64   `gorm:"not null"`
	CommittedUSD float64   `gorm:"not null"`
	PeriodStart  time.Time `gorm:"not null"`
	PeriodEnd    time.Time `gorm:"not null"`
}

func (poolRecord) TableName() string { return "reward_pools" }

// PostgresStore implements Store on top of a Postgres database.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects to the database and migrates the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := db.AutoMigrate(&calculationRecord{}, &poolRecord{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing gorm connection. Used by tests
// that drive the store through a mocked driver.
func NewPostgresStoreWithDB(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SaveCalculation persists a signed calculation.
func (s *PostgresStore) SaveCalculation(ctx context.Context, calc *model.RewardCalculation) error {
	rec, err := toCalculationRecord(calc)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// LatestCalculation returns the most recent calculation for a project.
func (s *PostgresStore) LatestCalculation(ctx context.Context, project string) (model.RewardCalculation, error) {
	var rec calculationRecord
	err := s.db.WithContext(ctx).
		Where("project = ?", project).
		Order("calculated_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.RewardCalculation{}, fmt.Errorf("%w: %s", ErrNotFound, project)
	}
	if err != nil {
		return model.RewardCalculation{}, err
	}
	return fromCalculationRecord(&rec)
}

// History returns up to limit calculations for a project, newest first.
func (s *PostgresStore) History(ctx context.Context, project string, limit int) ([]model.RewardCalculation, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	if limit == 0 {
		limit = defaultHistoryLimit
	}

	var recs []calculationRecord
	err := s.db.WithContext(ctx).
		Where("project = ?", project).
		Order("calculated_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	out := make([]model.RewardCalculation, 0, len(recs))
	for i := range recs {
		calc, err := fromCalculationRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, calc)
	}
	return out, nil
}

// Count returns the number of stored calculations.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&calculationRecord{}).Count(&count).Error
	return count, err
}

// UpdatePool applies fn to the pool for periodKey inside one transaction
// holding a row lock, so concurrent allocations for the same period
// serialize at the database. A lock wait that outlives ctx fails closed.
//
// Two concurrent first allocations for a brand-new period both see
// not-found (there is no row to lock yet) and race on the insert; the
// loser retries once and locks the winner's row.
func (s *PostgresStore) UpdatePool(ctx context.Context, periodKey string, fn func(pool *model.MonthlyPoolState) error) (model.MonthlyPoolState, error) {
	for attempt := 0; ; attempt++ {
		var out model.MonthlyPoolState

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var rec poolRecord
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("period_key = ?", periodKey).
				First(&rec).Error

			exists := err == nil
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			pool := rec.toModel()
			if err := fn(&pool); err != nil {
				return err
			}
			out = pool

			if pool.PeriodKey == "" {
				// Callback declined to open the pool; nothing to write.
				return nil
			}

			rec = toPoolRecord(&pool)
			if exists {
				return tx.Save(&rec).Error
			}
			return tx.Create(&rec).Error
		})
		if err == nil {
			return out, nil
		}
		if isDuplicateKey(err) && attempt == 0 {
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return model.MonthlyPoolState{}, fmt.Errorf("%w: %v", budget.ErrLockTimeout, err)
		}
		return model.MonthlyPoolState{}, err
	}
}

// isDuplicateKey matches a primary-key collision regardless of whether
// gorm error translation is enabled.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// LoadPool reads the pool for periodKey without locking it.
func (s *PostgresStore) LoadPool(ctx context.Context, periodKey string) (model.MonthlyPoolState, error) {
	var rec poolRecord
	err := s.db.WithContext(ctx).Where("period_key = ?", periodKey).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.MonthlyPoolState{}, fmt.Errorf("%w: %s", budget.ErrPoolNotFound, periodKey)
	}
	if err != nil {
		return model.MonthlyPoolState{}, err
	}
	return rec.toModel(), nil
}

func toCalculationRecord(calc *model.RewardCalculation) (calculationRecord, error) {
	tier, err := json.Marshal(calc.Tier)
	if err != nil {
		return calculationRecord{}, fmt.Errorf("encoding tier: %w", err)
	}
	breakdown, err := json.Marshal(calc.Breakdown)
	if err != nil {
		return calculationRecord{}, fmt.Errorf("encoding breakdown: %w", err)
	}
	warnings, err := json.Marshal(calc.Warnings)
	if err != nil {
		return calculationRecord{}, fmt.Errorf("encoding warnings: %w", err)
	}

	return calculationRecord{
		ID:            calc.ID,
		Project:       calc.Project,
		PeriodKey:     calc.PeriodKey,
		OffchainScore: calc.OffchainScore,
		OnchainScore:  calc.OnchainScore,
		TotalScore:    calc.TotalScore,
		Tier:          string(tier),
		Breakdown:     string(breakdown),
		NominalUSD:    calc.NominalUSD,
		GrantedUSD:    calc.GrantedUSD,
		TokenAmount:   calc.TokenAmount,
		Warnings:      string(warnings),
		Signature:     calc.Signature,
		CalculatedAt:  calc.CalculatedAt,
	}, nil
}

func fromCalculationRecord(rec *calculationRecord) (model.RewardCalculation, error) {
	var tier model.RewardTier
	if err := json.Unmarshal([]byte(rec.Tier), &tier); err != nil {
		return model.RewardCalculation{}, fmt.Errorf("decoding tier: %w", err)
	}
	var breakdown map[model.Category]float64
	if err := json.Unmarshal([]byte(rec.Breakdown), &breakdown); err != nil {
		return model.RewardCalculation{}, fmt.Errorf("decoding breakdown: %w", err)
	}
	var warnings []model.ValidationWarning
	if rec.Warnings != "" {
		if err := json.Unmarshal([]byte(rec.Warnings), &warnings); err != nil {
			return model.RewardCalculation{}, fmt.Errorf("decoding warnings: %w", err)
		}
	}

	return model.RewardCalculation{
		ID:            rec.ID,
		Project:       rec.Project,
		PeriodKey:     rec.PeriodKey,
		OffchainScore: rec.OffchainScore,
		OnchainScore:  rec.OnchainScore,
		TotalScore:    rec.TotalScore,
		Tier:          tier,
		Breakdown:     breakdown,
		NominalUSD:    rec.NominalUSD,
		GrantedUSD:    rec.GrantedUSD,
		TokenAmount:   rec.TokenAmount,
		Warnings:      warnings,
		Signature:     rec.Signature,
		CalculatedAt:  rec.CalculatedAt,
	}, nil
}

func toPoolRecord(pool *model.MonthlyPoolState) poolRecord {
	return poolRecord{
		PeriodKey:    pool.PeriodKey,
		CeilingUSD:   pool.CeilingUSD,
		CommittedUSD: pool.CommittedUSD,
		PeriodStart:  pool.PeriodStart,
		PeriodEnd:    pool.PeriodEnd,
	}
}

func (r *poolRecord) toModel() model.MonthlyPoolState {
	return model.MonthlyPoolState{
		PeriodKey:    r.PeriodKey,
		CeilingUSD:   r.CeilingUSD,
		CommittedUSD: r.CommittedUSD,
		PeriodStart:  r.PeriodStart,
		PeriodEnd:    r.PeriodEnd,
	}
}
