package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/arraniry/storepay/internal/apperrors"
	"github.com/arraniry/storepay/internal/models"
)

type RedeemCodeRepo struct {
	DB DBTX
}

const createCode = `-- name: CreateCode
INSERT INTO redeem_codes (id, code, amount)
VALUES ($1, $2, $3)
RETURNING id, created_at, code, amount, is_used, used_by_user_id, used_at
`

func (r *RedeemCodeRepo) CreateCode(ctx context.Context, code string, amount decimal.Decimal) (models.RedeemCode, error) {
	rows, _ := r.DB.Query(ctx, createCode, uuid.New(), code, amount)
	rc, err := pgx.CollectOneRow(rows, rowToRedeemCode)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return rc, fmt.Errorf("redeem code exists already: %w", err)
		}
		return rc, fmt.Errorf("db error: %w", err)
	}

	return rc, nil
}

const getCode = `-- name: GetCode
SELECT id, created_at, code, amount, is_used, used_by_user_id, used_at FROM redeem_codes
WHERE code = $1
`

func (r *RedeemCodeRepo) GetCode(ctx context.Context, code string) (models.RedeemCode, error) {
	rows, _ := r.DB.Query(ctx, getCode, code)
	rc, err := pgx.CollectOneRow(rows, rowToRedeemCode)

	switch {
	case err == nil:
		return rc, nil
	case errors.Is(err, pgx.ErrNoRows):
		return rc, apperrors.ErrRedeemCodeNotFound
	default:
		return rc, fmt.Errorf("db error: %w", err)
	}
}

// Same claim idiom as payments: the is_used condition guarantees a code
// credits a balance at most once even under concurrent redeems
const claimCode = `-- name: ClaimCode
UPDATE redeem_codes
SET is_used = TRUE, used_by_user_id = $2, used_at = now()
WHERE code = $1 AND is_used = FALSE
RETURNING id, created_at, code, amount, is_used, used_by_user_id, used_at
`

func (r *RedeemCodeRepo) ClaimCode(ctx context.Context, code string, userID uuid.UUID) (models.RedeemCode, error) {
	rows, _ := r.DB.Query(ctx, claimCode, code, userID)
	rc, err := pgx.CollectOneRow(rows, rowToRedeemCode)

	switch {
	case err == nil:
		return rc, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Tell a used code apart from an unknown one
		if _, getErr := r.GetCode(ctx, code); getErr != nil {
			return rc, getErr
		}
		return rc, apperrors.ErrRedeemCodeUsed
	default:
		return rc, fmt.Errorf("db error: %w", err)
	}
}

func rowToRedeemCode(row pgx.CollectableRow) (models.RedeemCode, error) {
	var rc models.RedeemCode
	err := row.Scan(&rc.ID, &rc.CreatedAt, &rc.Code, &rc.Amount, &rc.IsUsed, &rc.UsedByUserID, &rc.UsedAt)
	return rc, err
}
