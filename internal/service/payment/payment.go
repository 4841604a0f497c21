package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arraniry/storepay/internal/apperrors"
	"github.com/arraniry/storepay/internal/logger"
	"github.com/arraniry/storepay/internal/models"
	"github.com/arraniry/storepay/internal/repository"
	"github.com/arraniry/storepay/internal/service/tripay"
)

const (
	defaultMethod           = "QRIS"
	defaultExpireIn         = 24 * time.Hour
	defaultPendingWindow    = 24 * time.Hour
	defaultPollDelay        = time.Second
	defaultPendingBatchSize = 100
)

type gatewayClient interface {
	CreateTransaction(ctx context.Context, req tripay.CreateTransactionRequest) (tripay.Transaction, error)
	GetTransaction(ctx context.Context, reference string) (tripay.Transaction, error)
	ListChannels(ctx context.Context) ([]tripay.Channel, error)
}

type callbackVerifier interface {
	VerifyCallback(rawBody []byte, provided string) bool
}

type Config struct {
	// Payment method passed to the gateway on create
	Method string

	// Gateway redirect target after payment
	ReturnURL string

	// How long a created transaction stays payable
	ExpireIn time.Duration

	// Pending payments older than this are left to the gateway's own
	// expiry and not polled anymore
	PendingWindow time.Duration

	// Pause between two polls within one cycle
	PollDelay time.Duration

	// Max pending payments handled per cycle
	PendingBatchSize int
}

// Service reconciles local payment records against the gateway.
// Callbacks and polls both end up in applyStatus, the single place that moves
// a payment out of PENDING and the single place that credits a balance.
type Service struct {
	cfg      Config
	storage  repository.Storage
	gateway  gatewayClient
	verifier callbackVerifier
	logger   logger.Logger
}

func NewService(cfg Config, storage repository.Storage, gateway gatewayClient, verifier callbackVerifier, l logger.Logger) *Service {
	if cfg.Method == "" {
		cfg.Method = defaultMethod
	}
	if cfg.ExpireIn == 0 {
		cfg.ExpireIn = defaultExpireIn
	}
	if cfg.PendingWindow == 0 {
		cfg.PendingWindow = defaultPendingWindow
	}
	if cfg.PollDelay == 0 {
		cfg.PollDelay = defaultPollDelay
	}
	if cfg.PendingBatchSize == 0 {
		cfg.PendingBatchSize = defaultPendingBatchSize
	}

	return &Service{
		cfg:      cfg,
		storage:  storage,
		gateway:  gateway,
		verifier: verifier,
		logger:   l,
	}
}

type CustomerInfo struct {
	Name  string
	Email string
	Phone string
}

// Result reports what one callback or poll did to a payment
type Result struct {
	Reference   string
	MerchantRef string
	Status      string

	// Credited is true only for the single invocation that moved the
	// payment to PAID and applied the balance credit
	Credited bool

	// AlreadyDone marks the idempotent no-op: the payment was terminal
	// before this invocation touched it
	AlreadyDone bool
}

// CreateBalancePayment registers a top-up transaction at the gateway and
// persists the local PENDING record. The record is written only after the
// gateway call succeeded, so no record ever lacks a gateway reference.
func (s *Service) CreateBalancePayment(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, customer CustomerInfo) (models.Payment, error) {
	var payment models.Payment

	if !amount.IsPositive() {
		return payment, apperrors.ErrAmountNotPositive
	}

	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return payment, err
	}

	merchantRef, err := NewMerchantRef("BAL")
	if err != nil {
		return payment, fmt.Errorf("failed to generate merchant ref: %w", err)
	}

	// The gateway speaks integer rupiah; the stored decimal amount is
	// what gets credited later, not this value
	amountUnits := amount.Round(0).IntPart()

	tr, err := s.gateway.CreateTransaction(ctx, tripay.CreateTransactionRequest{
		Method:       s.cfg.Method,
		MerchantRef:  merchantRef,
		Amount:       amountUnits,
		CustomerName: customer.Name,
		OrderItems: []tripay.OrderItem{
			{Name: "Balance top up", Price: amountUnits, Quantity: 1},
		},
		CustomerEmail: customer.Email,
		CustomerPhone: customer.Phone,
		ReturnURL:     s.cfg.ReturnURL,
		ExpiredTime:   time.Now().Add(s.cfg.ExpireIn).Unix(),
	})
	if err != nil {
		return payment, fmt.Errorf("gateway create failed: %w", err)
	}

	payment, err = s.storage.Payment().CreatePayment(ctx, models.Payment{
		UserID:      user.ID,
		MerchantRef: merchantRef,
		GatewayRef:  tr.Reference,
		Amount:      amount,
		Status:      models.PaymentStatusPending,
		PaymentURL:  tr.PaymentURL,
		QRURL:       tr.QRURL,
		Method:      s.cfg.Method,
	})
	if err != nil {
		// A merchant ref collision here means the transaction exists at
		// the gateway without a local record; that must surface loudly
		return payment, fmt.Errorf("failed to persist payment %s: %w", merchantRef, err)
	}

	s.logger.Info("Balance payment created",
		"merchant_ref", merchantRef, "reference", tr.Reference, "user_id", user.ID, "amount", amount)

	return payment, nil
}

// callbackPayload is the callback body shape shared by real gateway
// callbacks and the payloads the poll path synthesizes
type callbackPayload struct {
	Reference   string          `json:"reference"`
	MerchantRef string          `json:"merchant_ref"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
}

// ProcessCallback verifies and applies one inbound gateway callback.
// rawBody must be the body bytes exactly as received; the signature is
// computed over them by the gateway.
func (s *Service) ProcessCallback(ctx context.Context, rawBody []byte, signature string) (Result, error) {
	var res Result

	if !s.verifier.VerifyCallback(rawBody, signature) {
		s.logger.Warn("Callback rejected, signature mismatch")
		return res, apperrors.ErrInvalidSignature
	}

	var cb callbackPayload
	if err := json.Unmarshal(rawBody, &cb); err != nil {
		return res, fmt.Errorf("%w: %v", apperrors.ErrCallbackIncomplete, err)
	}

	if cb.Status == "" || (cb.Reference == "" && cb.MerchantRef == "") {
		return res, apperrors.ErrCallbackIncomplete
	}

	return s.applyStatus(ctx, cb)
}

// PollPayment fetches the gateway's view of one payment and applies any
// status change through the same transition logic callbacks use.
// Terminal payments return immediately without a gateway call.
func (s *Service) PollPayment(ctx context.Context, reference string) (Result, error) {
	var res Result

	p, err := s.storage.Payment().GetPaymentByRef(ctx, reference)
	if err != nil {
		return res, err
	}

	if p.Terminal() {
		return Result{
			Reference:   p.GatewayRef,
			MerchantRef: p.MerchantRef,
			Status:      p.Status,
			AlreadyDone: true,
		}, nil
	}

	tr, err := s.gateway.GetTransaction(ctx, p.GatewayRef)
	if err != nil {
		return res, fmt.Errorf("gateway status fetch failed: %w", err)
	}

	s.logger.Debug("Polled payment status",
		"reference", p.GatewayRef, "local_status", p.Status, "gateway_status", tr.Status)

	return s.applyStatus(ctx, callbackPayload{
		Reference:   p.GatewayRef,
		MerchantRef: p.MerchantRef,
		Status:      tr.Status,
		Amount:      decimal.NewFromInt(tr.Amount),
	})
}

// PollOutcome is the per-payment result of one bulk poll cycle
type PollOutcome struct {
	Reference string
	Status    string
	Credited  bool
	Err       error
}

// PollPending polls every PENDING payment inside the recency window,
// sequentially with a small delay between requests. One payment's failure
// never aborts the batch; it is recorded in its outcome instead.
func (s *Service) PollPending(ctx context.Context) ([]PollOutcome, error) {
	pending, err := s.storage.Payment().ListPendingPayments(ctx, time.Now().Add(-s.cfg.PendingWindow), s.cfg.PendingBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}

	outcomes := make([]PollOutcome, 0, len(pending))
	for i, p := range pending {
		if i > 0 {
			select {
			case <-ctx.Done():
				return outcomes, ctx.Err()
			case <-time.After(s.cfg.PollDelay):
			}
		}

		res, err := s.PollPayment(ctx, p.GatewayRef)
		if err != nil {
			s.logger.Error("Failed to poll payment", "reference", p.GatewayRef, "error", err)
			outcomes = append(outcomes, PollOutcome{Reference: p.GatewayRef, Err: err})
			continue
		}

		outcomes = append(outcomes, PollOutcome{
			Reference: p.GatewayRef,
			Status:    res.Status,
			Credited:  res.Credited,
		})
	}

	return outcomes, nil
}

// PaymentHistory returns the user's payments, newest first
func (s *Service) PaymentHistory(ctx context.Context, userID uuid.UUID, limit int) ([]models.Payment, error) {
	return s.storage.Payment().ListUserPayments(ctx, userID, limit)
}

// Channels lists the payment channels the gateway offers
func (s *Service) Channels(ctx context.Context) ([]tripay.Channel, error) {
	return s.gateway.ListChannels(ctx)
}

// applyStatus is the one transition path for both callbacks and polls.
// Whoever claims the PENDING row first applies the effects; everyone else
// observes a terminal record and no-ops. The claim and the credit share one
// database transaction, so a payment can never be PAID without its credit
// or credited without being PAID.
func (s *Service) applyStatus(ctx context.Context, cb callbackPayload) (Result, error) {
	var res Result

	ref := cb.Reference
	if ref == "" {
		ref = cb.MerchantRef
	}

	p, err := s.storage.Payment().GetPaymentByRef(ctx, ref)
	if err != nil {
		if errors.Is(err, apperrors.ErrPaymentNotFound) {
			s.logger.Warn("Callback for unknown payment", "reference", cb.Reference, "merchant_ref", cb.MerchantRef)
		}
		return res, err
	}

	res = Result{Reference: p.GatewayRef, MerchantRef: p.MerchantRef, Status: p.Status}

	if p.Terminal() {
		s.logger.Info("Payment already processed", "reference", p.GatewayRef, "status", p.Status)
		res.AlreadyDone = true
		return res, nil
	}

	newStatus, recognized := mapGatewayStatus(cb.Status)
	if !recognized {
		// Statuses the gateway may add later must not wedge the record;
		// leave it PENDING for a later callback or poll
		s.logger.Warn("Unrecognized gateway status, leaving payment pending",
			"reference", p.GatewayRef, "gateway_status", cb.Status)
		return res, nil
	}
	if newStatus == "" {
		// Gateway still reports the payment unpaid
		return res, nil
	}

	// The gateway-reported amount is informational only; a mismatch is
	// audited but the stored amount stays authoritative for the credit
	if !cb.Amount.IsZero() && !cb.Amount.Equal(p.Amount) {
		s.logger.Warn("Gateway amount differs from stored amount",
			"reference", p.GatewayRef, "stored", p.Amount, "reported", cb.Amount)
	}

	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		claimed, err := st.Payment().ClaimStatus(ctx, p.ID, newStatus)
		if err != nil {
			return err
		}

		if !claimed {
			// Lost the race against the other trigger path
			res.AlreadyDone = true
			if current, err := st.Payment().GetPaymentByRef(ctx, ref); err == nil {
				res.Status = current.Status
			}
			return nil
		}

		res.Status = newStatus

		if newStatus == models.PaymentStatusPaid {
			_, err := st.Balance().UpdateBalance(ctx, models.Transaction{
				UserID:      p.UserID,
				Type:        models.TransactionTypeDeposit,
				Amount:      p.Amount,
				Description: fmt.Sprintf("Balance top up via payment gateway (%s)", p.GatewayRef),
				PaymentRef:  p.GatewayRef,
			})
			if err != nil {
				return fmt.Errorf("failed to credit balance: %w", err)
			}
			res.Credited = true
		}

		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to apply status %s to payment %s: %w", newStatus, p.MerchantRef, err)
	}

	s.logger.Info("Payment status applied",
		"reference", p.GatewayRef, "merchant_ref", p.MerchantRef,
		"status", res.Status, "credited", res.Credited, "already_done", res.AlreadyDone)

	return res, nil
}

// mapGatewayStatus translates a gateway status string into the local status.
// An empty result with recognized=true means the payment is still unpaid;
// recognized=false flags a status value this code does not know.
func mapGatewayStatus(status string) (local string, recognized bool) {
	switch strings.ToUpper(status) {
	case "PAID":
		return models.PaymentStatusPaid, true
	case "EXPIRED":
		return models.PaymentStatusExpired, true
	case "FAILED":
		return models.PaymentStatusFailed, true
	case "UNPAID", "PENDING":
		return "", true
	default:
		return "", false
	}
}

// NewMerchantRef builds a reference unique across time: millisecond
// timestamp plus random suffix. The unique index on merchant_ref turns any
// remaining collision chance into a loud create failure instead of an
// overwrite.
func NewMerchantRef(prefix string) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), strings.ToUpper(hex.EncodeToString(b))), nil
}
