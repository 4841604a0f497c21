package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RedeemCode struct {
	ID           uuid.UUID
	CreatedAt    time.Time
	Code         string
	Amount       decimal.Decimal
	IsUsed       bool
	UsedByUserID *uuid.UUID
	UsedAt       *time.Time
}
