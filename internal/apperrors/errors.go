package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	ErrPaymentNotFound     = errors.New("payment not found")
	ErrPaymentRefTaken     = errors.New("merchant reference already exists")
	ErrInvalidSignature    = errors.New("invalid callback signature")
	ErrCallbackIncomplete  = errors.New("callback payload incomplete")
	ErrAmountNotPositive   = errors.New("amount must be positive")
	ErrSchedulerRunning    = errors.New("scheduler already running")
	ErrSchedulerNotRunning = errors.New("scheduler not running")

	ErrBalanceInsufficient = errors.New("insufficient balance")

	ErrRedeemCodeNotFound = errors.New("redeem code not found")
	ErrRedeemCodeUsed     = errors.New("redeem code already used")

	ErrAdminPasswordWrong = errors.New("admin password does not match")
)
