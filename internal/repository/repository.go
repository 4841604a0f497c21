package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arraniry/storepay/internal/models"
)

// Storage aggregates all repositories and owns the transaction boundary.
// Repositories obtained from the Storage passed to InTx run inside one
// database transaction; everything in fn commits or rolls back together.
type Storage interface {
	User() UserRepo
	Balance() BalanceRepo
	Payment() PaymentRepo
	RedeemCode() RedeemCodeRepo

	InTx(ctx context.Context, fn func(Storage) error) error
}

// User repository interface
type UserRepo interface {
	// Create user or update display fields if user with the telegram id exists
	UpsertUser(ctx context.Context, telegramID int64, username string, firstName string, lastName string) (models.User, error)

	// Get user by id or telegram id
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (models.User, error)
}

// Balance repository interface
// The balance value itself lives on the user row; it is never written
// outside UpdateBalance
type BalanceRepo interface {
	// Apply one balance mutation and append its audit record in the
	// same statement batch. Caller decides the transaction scope via
	// Storage.InTx.
	// Deposit adds tr.Amount, withdrawal subtracts it.
	// A withdrawal that would make the balance negative must fail with
	// apperrors.ErrBalanceInsufficient and change nothing.
	UpdateBalance(ctx context.Context, tr models.Transaction) (newBalance decimal.Decimal, err error)

	// List audit records for user, newest first
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error)
}

// Payment repository interface
type PaymentRepo interface {
	// Create payment record
	// Must return apperrors.ErrPaymentRefTaken if merchant_ref exists already
	CreatePayment(ctx context.Context, p models.Payment) (models.Payment, error)

	// Get payment matching the reference against gateway_ref or merchant_ref
	// If nothing matches must return apperrors.ErrPaymentNotFound
	GetPaymentByRef(ctx context.Context, ref string) (models.Payment, error)

	// List payments still PENDING created after the given time, oldest first
	ListPendingPayments(ctx context.Context, createdAfter time.Time, limit int) ([]models.Payment, error)

	// List payments of the user, newest first
	ListUserPayments(ctx context.Context, userID uuid.UUID, limit int) ([]models.Payment, error)

	// Move payment to newStatus only if it is still PENDING.
	// Returns claimed=false without error when the payment is already in
	// a terminal state: the caller that gets claimed=true is the single
	// one allowed to apply the status' side effects.
	ClaimStatus(ctx context.Context, paymentID uuid.UUID, newStatus string) (claimed bool, err error)
}

// RedeemCode repository interface
type RedeemCodeRepo interface {
	// Create code worth amount
	CreateCode(ctx context.Context, code string, amount decimal.Decimal) (models.RedeemCode, error)

	// Get code by its value
	// If not found must return apperrors.ErrRedeemCodeNotFound
	GetCode(ctx context.Context, code string) (models.RedeemCode, error)

	// Mark code used by the user only if it is not used yet.
	// If already used must return apperrors.ErrRedeemCodeUsed
	ClaimCode(ctx context.Context, code string, userID uuid.UUID) (models.RedeemCode, error)
}
