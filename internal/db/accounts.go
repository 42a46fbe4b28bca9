package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/reelremix/reelremix/internal/models"
	"github.com/reelremix/reelremix/internal/store"
)

func (db *DB) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (
			id, email, active, plan, credit_balance,
			max_renders_per_period, max_source_minutes_per_period,
			minutes_this_period, renders_this_period
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		account.ID, account.Email, account.Active, account.Plan, account.CreditBalance,
		account.Limits.MaxRendersPerPeriod, account.Limits.MaxSourceMinutesPerPeriod,
		account.MinutesThisPeriod, account.RendersThisPeriod,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
}

func (db *DB) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `
		SELECT
			id, email, active, plan, credit_balance,
			max_renders_per_period, max_source_minutes_per_period,
			minutes_this_period, renders_this_period, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`

	account := &models.Account{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&account.ID, &account.Email, &account.Active, &account.Plan, &account.CreditBalance,
		&account.Limits.MaxRendersPerPeriod, &account.Limits.MaxSourceMinutesPerPeriod,
		&account.MinutesThisPeriod, &account.RendersThisPeriod,
		&account.CreatedAt, &account.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

// DebitForUpload subtracts credits and bumps period minute usage in one
// conditional update. The balance check is part of the WHERE clause, so the
// balance can never go negative even without caller-side locking.
func (db *DB) DebitForUpload(ctx context.Context, accountID uuid.UUID, credits int, minutes float64) error {
	query := `
		UPDATE accounts
		SET credit_balance = credit_balance - $2,
		    minutes_this_period = minutes_this_period + $3,
		    updated_at = NOW()
		WHERE id = $1 AND credit_balance >= $2
	`

	result, err := db.ExecContext(ctx, query, accountID, credits, minutes)
	if err != nil {
		return fmt.Errorf("failed to debit account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check account: %w", err)
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrInsufficientCredits
	}

	return nil
}

func (db *DB) ResetAccountUsage(ctx context.Context, accountID uuid.UUID) error {
	query := `
		UPDATE accounts
		SET minutes_this_period = 0, renders_this_period = 0, updated_at = NOW()
		WHERE id = $1
	`

	result, err := db.ExecContext(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("failed to reset account usage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}

	return nil
}

func (db *DB) IncrementRenderUsage(ctx context.Context, accountID uuid.UUID, n int) error {
	query := `
		UPDATE accounts
		SET renders_this_period = renders_this_period + $2, updated_at = NOW()
		WHERE id = $1
	`

	_, err := db.ExecContext(ctx, query, accountID, n)
	if err != nil {
		return fmt.Errorf("failed to increment render usage: %w", err)
	}
	return nil
}
