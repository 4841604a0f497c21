package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TransactionTypeDeposit    = "deposit"
	TransactionTypeWithdrawal = "withdrawal"
)

// Transaction is an append-only audit record of one balance mutation.
// Amount is always positive; the type decides the sign applied to the balance.
type Transaction struct {
	ID          uuid.UUID
	CreatedAt   time.Time
	UserID      uuid.UUID
	Type        string
	Amount      decimal.Decimal
	Description string

	// Gateway reference of the payment that caused the mutation, if any
	PaymentRef string
}
