package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arraniry/storepay/internal/apperrors"
	"github.com/arraniry/storepay/internal/logger"
	"github.com/arraniry/storepay/internal/models"
	"github.com/arraniry/storepay/internal/repository"
)

// Service owns the user-facing ledger operations: balance reads, deposits,
// withdrawals and redeem codes. Every mutation goes through
// BalanceRepo.UpdateBalance inside a storage transaction, so the balance and
// its audit log can never drift apart.
type Service struct {
	storage repository.Storage
	logger  logger.Logger
}

func NewService(storage repository.Storage, l logger.Logger) *Service {
	return &Service{
		storage: storage,
		logger:  l,
	}
}

// RegisterUser creates the user on first contact or refreshes display fields
func (s *Service) RegisterUser(ctx context.Context, telegramID int64, username string, firstName string, lastName string) (models.User, error) {
	return s.storage.User().UpsertUser(ctx, telegramID, username, firstName, lastName)
}

func (s *Service) GetUserByTelegramID(ctx context.Context, telegramID int64) (models.User, error) {
	return s.storage.User().GetUserByTelegramID(ctx, telegramID)
}

func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return decimal.Decimal{}, err
	}

	return user.Balance, nil
}

// Withdraw debits the balance, e.g. for a checkout.
// Fails with apperrors.ErrBalanceInsufficient when the balance is lower than
// the amount; the balance never goes negative.
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description string) (decimal.Decimal, error) {
	return s.updateBalance(ctx, models.Transaction{
		UserID:      userID,
		Type:        models.TransactionTypeWithdrawal,
		Amount:      amount,
		Description: description,
	})
}

// Deposit credits the balance outside the payment flow, e.g. an admin grant
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description string) (decimal.Decimal, error) {
	return s.updateBalance(ctx, models.Transaction{
		UserID:      userID,
		Type:        models.TransactionTypeDeposit,
		Amount:      amount,
		Description: description,
	})
}

func (s *Service) Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error) {
	return s.storage.Balance().ListTransactions(ctx, userID, limit)
}

// CreateRedeemCode generates and stores a code worth the amount
func (s *Service) CreateRedeemCode(ctx context.Context, amount decimal.Decimal) (models.RedeemCode, error) {
	var rc models.RedeemCode

	if !amount.IsPositive() {
		return rc, apperrors.ErrAmountNotPositive
	}

	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return rc, fmt.Errorf("failed to generate code: %w", err)
	}
	code := "RC" + strings.ToUpper(hex.EncodeToString(b))

	return s.storage.RedeemCode().CreateCode(ctx, code, amount)
}

// Redeem claims the code for the user and credits its amount.
// Claim and credit share one transaction; a code credits at most once even
// when redeemed concurrently.
func (s *Service) Redeem(ctx context.Context, userID uuid.UUID, code string) (amount decimal.Decimal, newBalance decimal.Decimal, err error) {
	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		rc, err := st.RedeemCode().ClaimCode(ctx, code, userID)
		if err != nil {
			return err
		}

		newBalance, err = st.Balance().UpdateBalance(ctx, models.Transaction{
			UserID:      userID,
			Type:        models.TransactionTypeDeposit,
			Amount:      rc.Amount,
			Description: fmt.Sprintf("Redeem code %s", rc.Code),
		})
		if err != nil {
			return err
		}

		amount = rc.Amount
		return nil
	})
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	s.logger.Info("Redeem code used", "code", code, "user_id", userID, "amount", amount)

	return amount, newBalance, nil
}

func (s *Service) updateBalance(ctx context.Context, tr models.Transaction) (decimal.Decimal, error) {
	if !tr.Amount.IsPositive() {
		return decimal.Decimal{}, apperrors.ErrAmountNotPositive
	}

	var newBalance decimal.Decimal
	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error
		newBalance, err = st.Balance().UpdateBalance(ctx, tr)
		return err
	})
	if err != nil {
		return decimal.Decimal{}, err
	}

	return newBalance, nil
}
