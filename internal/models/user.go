package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID         uuid.UUID
	CreatedAt  time.Time
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	Balance    decimal.Decimal
	IsAdmin    bool
}
