package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/okian/merit/internal/domain/budget"
	"github.com/okian/merit/internal/domain/model"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open gorm db: %v", err)
	}

	cleanup := func() {
		db.Close()
	}

	return gormDB, mock, cleanup
}

func sampleCalculation(now time.Time) model.RewardCalculation {
	return model.RewardCalculation{
		ID:            "calc-1",
		Project:       "acme/widgets",
		PeriodKey:     "2026-08",
		OffchainScore: 60.0,
		OnchainScore:  15.0,
		TotalScore:    75.0,
		Tier: model.RewardTier{
			Name:      "gold",
			Label:     "Gold",
			MinScore:  70,
			MaxScore:  84,
			RewardUSD: 6000,
			Color:     "#FFD700",
		},
		Breakdown: map[model.Category]float64{
			model.CategoryCommits:  28,
			model.CategoryTxVolume: 8,
		},
		NominalUSD:  6000,
		GrantedUSD:  3897.11,
		TokenAmount: 1299.04,
		Warnings: []model.ValidationWarning{
			{Code: model.CodeUserDiscrepancy, Message: "participant counts diverge: 4 github vs 100 chain"},
		},
		Signature:    "deadbeef",
		CalculatedAt: now,
	}
}

func TestPostgresStore_SaveCalculation(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "saves a signed calculation",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "reward_calculations"`)).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
			expectError: false,
		},
		{
			name: "database error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "reward_calculations"`)).
					WillReturnError(gorm.ErrInvalidDB)
				mock.ExpectRollback()
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock, cleanup := setupMockDB(t)
			defer cleanup()

			tt.setupMock(mock)

			store := NewPostgresStoreWithDB(gormDB)
			calc := sampleCalculation(now)

			err := store.SaveCalculation(context.Background(), &calc)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_LatestCalculation(t *testing.T) {
	now := time.Now()

	calcColumns := []string{
		"id", "project", "period_key", "offchain_score", "onchain_score",
		"total_score", "tier", "breakdown", "nominal_usd", "granted_usd",
		"token_amount", "warnings", "signature", "calculated_at",
	}

	t.Run("returns the newest calculation", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		rows := sqlmock.NewRows(calcColumns).AddRow(
			"calc-1", "acme/widgets", "2026-08", 60.0, 15.0,
			75.0,
			`{"name":"gold","label":"Gold","min_score":70,"max_score":84,"reward_usd":6000,"color":"#FFD700"}`,
			`{"commits":28,"tx_volume":8}`,
			6000.0, 3897.11,
			1299.04,
			`[{"code":"LOW_ACTIVITY_CORRELATION","message":"activity ratio 0.120 below threshold 0.300"}]`,
			"deadbeef", now,
		)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "reward_calculations"`)).
			WillReturnRows(rows)

		store := NewPostgresStoreWithDB(gormDB)
		calc, err := store.LatestCalculation(context.Background(), "acme/widgets")

		assert.NoError(t, err)
		assert.Equal(t, "calc-1", calc.ID)
		assert.Equal(t, "gold", calc.Tier.Name)
		assert.Equal(t, 28.0, calc.Breakdown[model.CategoryCommits])
		assert.Len(t, calc.Warnings, 1)
		assert.Equal(t, model.CodeLowCorrelation, calc.Warnings[0].Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown project maps to ErrNotFound", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "reward_calculations"`)).
			WillReturnRows(sqlmock.NewRows(calcColumns))

		store := NewPostgresStoreWithDB(gormDB)
		_, err := store.LatestCalculation(context.Background(), "acme/ghost")

		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_History(t *testing.T) {
	now := time.Now()

	calcColumns := []string{
		"id", "project", "period_key", "offchain_score", "onchain_score",
		"total_score", "tier", "breakdown", "nominal_usd", "granted_usd",
		"token_amount", "signature", "calculated_at",
	}

	t.Run("returns calculations newest first", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		rows := sqlmock.NewRows(calcColumns).
			AddRow("calc-2", "acme/widgets", "2026-08", 55.0, 12.0, 67.0,
				`{"name":"silver"}`, `{"commits":25}`, 3000.0, 2200.0, 733.33, "cafe", now).
			AddRow("calc-1", "acme/widgets", "2026-07", 60.0, 15.0, 75.0,
				`{"name":"gold"}`, `{"commits":28}`, 6000.0, 3897.11, 1299.04, "beef", now.AddDate(0, -1, 0))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "reward_calculations"`)).
			WillReturnRows(rows)

		store := NewPostgresStoreWithDB(gormDB)
		history, err := store.History(context.Background(), "acme/widgets", 10)

		assert.NoError(t, err)
		assert.Len(t, history, 2)
		assert.Equal(t, "calc-2", history[0].ID)
		assert.Equal(t, "calc-1", history[1].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("negative limit is rejected", func(t *testing.T) {
		gormDB, _, cleanup := setupMockDB(t)
		defer cleanup()

		store := NewPostgresStoreWithDB(gormDB)
		_, err := store.History(context.Background(), "acme/widgets", -1)

		assert.ErrorIs(t, err, ErrInvalidLimit)
	})
}

func TestPostgresStore_UpdatePool(t *testing.T) {
	now := time.Now()
	poolColumns := []string{"period_key", "ceiling_usd", "committed_usd", "period_start", "period_end"}

	t.Run("locks and updates an existing pool", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "reward_pools"`)).
			WillReturnRows(sqlmock.NewRows(poolColumns).
				AddRow("2026-08", 50000.0, 10000.0, now, now.AddDate(0, 1, 0)))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "reward_pools"`)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		store := NewPostgresStoreWithDB(gormDB)
		pool, err := store.UpdatePool(context.Background(), "2026-08", func(pool *model.MonthlyPoolState) error {
			pool.CommittedUSD += 500
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 10500.0, pool.CommittedUSD)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("creates the pool when the callback opens it", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "reward_pools"`)).
			WillReturnRows(sqlmock.NewRows(poolColumns))
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "reward_pools"`)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		store := NewPostgresStoreWithDB(gormDB)
		pool, err := store.UpdatePool(context.Background(), "2026-09", func(pool *model.MonthlyPoolState) error {
			pool.PeriodKey = "2026-09"
			pool.CeilingUSD = 50000
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, "2026-09", pool.PeriodKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("retries when a concurrent allocation creates the period row", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		// First attempt: no row yet, the insert loses the race.
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "reward_pools"`)).
			WillReturnRows(sqlmock.NewRows(poolColumns))
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "reward_pools"`)).
			WillReturnError(&pgconn.PgError{Code: "23505"})
		mock.ExpectRollback()

		// Second attempt locks the winner's row and updates it.
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "reward_pools"`)).
			WillReturnRows(sqlmock.NewRows(poolColumns).
				AddRow("2026-09", 50000.0, 0.0, now, now.AddDate(0, 1, 0)))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "reward_pools"`)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		store := NewPostgresStoreWithDB(gormDB)
		pool, err := store.UpdatePool(context.Background(), "2026-09", func(pool *model.MonthlyPoolState) error {
			if pool.PeriodKey == "" {
				pool.PeriodKey = "2026-09"
				pool.CeilingUSD = 50000
			}
			pool.CommittedUSD += 500
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 500.0, pool.CommittedUSD)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("callback error rolls back", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "reward_pools"`)).
			WillReturnRows(sqlmock.NewRows(poolColumns).
				AddRow("2026-08", 50000.0, 10000.0, now, now.AddDate(0, 1, 0)))
		mock.ExpectRollback()

		store := NewPostgresStoreWithDB(gormDB)
		boom := errors.New("boom")
		_, err := store.UpdatePool(context.Background(), "2026-08", func(pool *model.MonthlyPoolState) error {
			return boom
		})

		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock wait past the deadline fails closed", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "reward_pools"`)).
			WillReturnError(context.DeadlineExceeded)
		mock.ExpectRollback()

		store := NewPostgresStoreWithDB(gormDB)
		_, err := store.UpdatePool(context.Background(), "2026-08", func(pool *model.MonthlyPoolState) error {
			return nil
		})

		assert.ErrorIs(t, err, budget.ErrLockTimeout)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_LoadPool(t *testing.T) {
	now := time.Now()
	poolColumns := []string{"period_key", "ceiling_usd", "committed_usd", "period_start", "period_end"}

	t.Run("returns the pool state", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "reward_pools"`)).
			WillReturnRows(sqlmock.NewRows(poolColumns).
				AddRow("2026-08", 50000.0, 12345.67, now, now.AddDate(0, 1, 0)))

		store := NewPostgresStoreWithDB(gormDB)
		pool, err := store.LoadPool(context.Background(), "2026-08")

		assert.NoError(t, err)
		assert.Equal(t, 50000.0-12345.67, pool.RemainingUSD())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing period maps to the pool-not-found kind", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "reward_pools"`)).
			WillReturnRows(sqlmock.NewRows(poolColumns))

		store := NewPostgresStoreWithDB(gormDB)
		_, err := store.LoadPool(context.Background(), "1999-01")

		assert.True(t, budget.IsPoolNotFound(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNewPostgresStore_ConnectionError(t *testing.T) {
	store, err := NewPostgresStore("invalid-connection-string")

	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	// Empty store behaves like an unknown project.
	_, err := store.LatestCalculation(ctx, "acme/widgets")
	assert.ErrorIs(t, err, ErrNotFound)

	first := sampleCalculation(now.Add(-time.Hour))
	second := sampleCalculation(now)
	second.ID = "calc-2"

	assert.NoError(t, store.SaveCalculation(ctx, &first))
	assert.NoError(t, store.SaveCalculation(ctx, &second))

	latest, err := store.LatestCalculation(ctx, "acme/widgets")
	assert.NoError(t, err)
	assert.Equal(t, "calc-2", latest.ID)
	assert.Equal(t, second.Warnings, latest.Warnings)

	history, err := store.History(ctx, "acme/widgets", 1)
	assert.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, "calc-2", history[0].ID)

	count, err := store.Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Pool contract is shared with the in-memory pool store.
	pool, err := store.UpdatePool(ctx, "2026-08", func(pool *model.MonthlyPoolState) error {
		pool.PeriodKey = "2026-08"
		pool.CeilingUSD = 50000
		pool.CommittedUSD = 100
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 49900.0, pool.RemainingUSD())

	loaded, err := store.LoadPool(ctx, "2026-08")
	assert.NoError(t, err)
	assert.Equal(t, pool, loaded)
}
