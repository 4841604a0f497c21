package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending = "PENDING"
	PaymentStatusPaid    = "PAID"
	PaymentStatusExpired = "EXPIRED"
	PaymentStatusFailed  = "FAILED"
)

// Payment is a single balance top-up attempt.
// MerchantRef is generated locally before the gateway is contacted and never
// changes. GatewayRef is assigned by the gateway once the transaction exists.
type Payment struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	MerchantRef string
	GatewayRef  string
	Amount      decimal.Decimal
	Status      string
	PaymentURL  string
	QRURL       string
	Method      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Terminal reports whether no further status transition is permitted.
func (p Payment) Terminal() bool {
	return TerminalStatus(p.Status)
}

func TerminalStatus(status string) bool {
	switch status {
	case PaymentStatusPaid, PaymentStatusExpired, PaymentStatusFailed:
		return true
	}
	return false
}
