package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arraniry/storepay/internal/apperrors"
	"github.com/arraniry/storepay/internal/models"
)

type PaymentRepo struct {
	DB DBTX
}

const createPayment = `-- name: CreatePayment
INSERT INTO balance_payments (id, user_id, merchant_ref, gateway_ref, amount, status, payment_url, qr_url, method, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
RETURNING id, user_id, merchant_ref, gateway_ref, amount, status, payment_url, qr_url, method, created_at, updated_at
`

func (r *PaymentRepo) CreatePayment(ctx context.Context, p models.Payment) (models.Payment, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	now := time.Now()

	rows, _ := r.DB.Query(ctx, createPayment,
		p.ID, p.UserID, p.MerchantRef, p.GatewayRef, p.Amount, p.Status, p.PaymentURL, p.QRURL, p.Method, now)
	payment, err := pgx.CollectOneRow(rows, rowToPayment)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return payment, apperrors.ErrPaymentRefTaken
		}
		return payment, fmt.Errorf("db error: %w", err)
	}

	return payment, nil
}

// Callbacks may carry the gateway reference, the merchant reference or both,
// so the lookup accepts either
const getPaymentByRef = `-- name: GetPaymentByRef
SELECT id, user_id, merchant_ref, gateway_ref, amount, status, payment_url, qr_url, method, created_at, updated_at FROM balance_payments
WHERE gateway_ref = $1 OR merchant_ref = $1
`

func (r *PaymentRepo) GetPaymentByRef(ctx context.Context, ref string) (models.Payment, error) {
	rows, _ := r.DB.Query(ctx, getPaymentByRef, ref)
	payment, err := pgx.CollectOneRow(rows, rowToPayment)

	switch {
	case err == nil:
		return payment, nil
	case errors.Is(err, pgx.ErrNoRows):
		return payment, apperrors.ErrPaymentNotFound
	default:
		return payment, fmt.Errorf("db error: %w", err)
	}
}

const listPendingPayments = `-- name: ListPendingPayments
SELECT id, user_id, merchant_ref, gateway_ref, amount, status, payment_url, qr_url, method, created_at, updated_at FROM balance_payments
WHERE status = 'PENDING' AND created_at > $1
ORDER BY created_at
LIMIT $2
`

func (r *PaymentRepo) ListPendingPayments(ctx context.Context, createdAfter time.Time, limit int) ([]models.Payment, error) {
	rows, _ := r.DB.Query(ctx, listPendingPayments, createdAfter, limit)
	payments, err := pgx.CollectRows(rows, rowToPayment)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return payments, nil
}

const listUserPayments = `-- name: ListUserPayments
SELECT id, user_id, merchant_ref, gateway_ref, amount, status, payment_url, qr_url, method, created_at, updated_at FROM balance_payments
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`

func (r *PaymentRepo) ListUserPayments(ctx context.Context, userID uuid.UUID, limit int) ([]models.Payment, error) {
	rows, _ := r.DB.Query(ctx, listUserPayments, userID, limit)
	payments, err := pgx.CollectRows(rows, rowToPayment)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return payments, nil
}

// The status condition makes the claim exclusive: of two racing callers only
// one sees a row updated, and only that one may apply the side effects
const claimStatus = `-- name: ClaimStatus
UPDATE balance_payments
SET status = $2, updated_at = now()
WHERE id = $1 AND status = 'PENDING'
`

func (r *PaymentRepo) ClaimStatus(ctx context.Context, paymentID uuid.UUID, newStatus string) (bool, error) {
	if !models.TerminalStatus(newStatus) {
		return false, fmt.Errorf("refusing to claim non terminal status %q", newStatus)
	}

	tag, err := r.DB.Exec(ctx, claimStatus, paymentID, newStatus)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func rowToPayment(row pgx.CollectableRow) (models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.UserID, &p.MerchantRef, &p.GatewayRef, &p.Amount, &p.Status, &p.PaymentURL, &p.QRURL, &p.Method, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
