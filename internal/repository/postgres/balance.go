package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/arraniry/storepay/internal/apperrors"
	"github.com/arraniry/storepay/internal/models"
)

type BalanceRepo struct {
	DB DBTX
}

// The CHECK (balance >= 0) constraint backs this up, but the condition in
// the statement lets us tell insufficient balance apart from a missing user
const updateBalance = `-- name: UpdateBalance
UPDATE users
SET balance = balance + $2
WHERE id = $1 AND balance + $2 >= 0
RETURNING balance
`

const insertTransaction = `-- name: InsertTransaction
INSERT INTO balance_transactions (id, user_id, type, amount, description, payment_ref)
VALUES ($1, $2, $3, $4, $5, $6)
`

func (r *BalanceRepo) UpdateBalance(ctx context.Context, tr models.Transaction) (decimal.Decimal, error) {
	var newBalance decimal.Decimal

	if !tr.Amount.IsPositive() {
		return newBalance, apperrors.ErrAmountNotPositive
	}

	delta := tr.Amount
	if tr.Type == models.TransactionTypeWithdrawal {
		delta = tr.Amount.Neg()
	}

	err := r.DB.QueryRow(ctx, updateBalance, tr.UserID, delta).Scan(&newBalance)

	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		// Either the user does not exist or the balance is too low
		_, err := (&UserRepo{DB: r.DB}).GetUserByID(ctx, tr.UserID)
		if err != nil {
			return newBalance, err
		}
		return newBalance, apperrors.ErrBalanceInsufficient
	default:
		return newBalance, fmt.Errorf("db error: %w", err)
	}

	_, err = r.DB.Exec(ctx, insertTransaction, uuid.New(), tr.UserID, tr.Type, tr.Amount, tr.Description, tr.PaymentRef)
	if err != nil {
		return newBalance, fmt.Errorf("db error: %w", err)
	}

	return newBalance, nil
}

const listTransactions = `-- name: ListTransactions
SELECT id, created_at, user_id, type, amount, description, payment_ref FROM balance_transactions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`

func (r *BalanceRepo) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, listTransactions, userID, limit)
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return transactions, nil
}

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.CreatedAt, &t.UserID, &t.Type, &t.Amount, &t.Description, &t.PaymentRef)
	return t, err
}
