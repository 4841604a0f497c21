package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arraniry/storepay/internal/handlers/middleware"
	"github.com/arraniry/storepay/internal/logger"
	"github.com/arraniry/storepay/internal/models"
	"github.com/arraniry/storepay/internal/service/payment"
	"github.com/arraniry/storepay/internal/service/tripay"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	paymentService paymentService,
	walletService walletService,
	scheduler schedulerService,
	authService authService,
	logger logger.Logger,
) http.Handler {
	authMiddleware := middleware.AuthMiddleware(authService)
	withAuth := func(h http.Handler) http.Handler {
		return authMiddleware(h)
	}

	api := http.NewServeMux()

	// The gateway pushes callbacks here; it authenticates by signature,
	// not by bearer token
	api.Handle("POST /payment/callback", handleCallback(paymentService, logger))

	api.Handle("POST /payments", withAuth(handleCreatePayment(paymentService, walletService, logger)))
	api.Handle("GET /payments/channels", withAuth(handleChannels(paymentService, logger)))
	api.Handle("GET /payments/{reference}", withAuth(handleCheckPayment(paymentService, logger)))

	api.Handle("POST /users", withAuth(handleRegisterUser(walletService, logger)))
	api.Handle("GET /users/{telegramID}/balance", withAuth(handleBalance(walletService, logger)))
	api.Handle("GET /users/{telegramID}/payments", withAuth(handlePaymentHistory(paymentService, walletService, logger)))
	api.Handle("GET /users/{telegramID}/transactions", withAuth(handleTransactions(walletService, logger)))
	api.Handle("POST /users/{telegramID}/redeem", withAuth(handleRedeem(walletService, logger)))

	api.Handle("POST /admin/login", handleAdminLogin(authService, logger))
	api.Handle("POST /admin/redeem-codes", withAuth(handleCreateRedeemCode(walletService, logger)))
	api.Handle("GET /admin/scheduler", withAuth(handleSchedulerStatus(scheduler)))
	api.Handle("POST /admin/scheduler/start", withAuth(handleSchedulerStart(scheduler, logger)))
	api.Handle("POST /admin/scheduler/stop", withAuth(handleSchedulerStop(scheduler, logger)))
	api.Handle("POST /admin/scheduler/poll/{reference}", withAuth(handleManualPoll(paymentService, logger)))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type paymentService interface {
	// Create gateway transaction and PENDING record for the user
	// Has to return apperrors.ErrAmountNotPositive for amount <= 0
	CreateBalancePayment(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, customer payment.CustomerInfo) (models.Payment, error)

	// Verify and apply one callback; rawBody exactly as received
	// Has to return apperrors.ErrInvalidSignature on signature mismatch
	ProcessCallback(ctx context.Context, rawBody []byte, signature string) (payment.Result, error)

	// Reconcile one payment against the gateway
	// Has to return apperrors.ErrPaymentNotFound for unknown references
	PollPayment(ctx context.Context, reference string) (payment.Result, error)

	PaymentHistory(ctx context.Context, userID uuid.UUID, limit int) ([]models.Payment, error)
	Channels(ctx context.Context) ([]tripay.Channel, error)
}

type walletService interface {
	RegisterUser(ctx context.Context, telegramID int64, username string, firstName string, lastName string) (models.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (models.User, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error)
	CreateRedeemCode(ctx context.Context, amount decimal.Decimal) (models.RedeemCode, error)
	Redeem(ctx context.Context, userID uuid.UUID, code string) (amount decimal.Decimal, newBalance decimal.Decimal, err error)
}

type schedulerService interface {
	// Start has to return apperrors.ErrSchedulerRunning when called twice
	Start(ctx context.Context, interval time.Duration) error

	// Stop has to return apperrors.ErrSchedulerNotRunning if not started
	Stop() error

	Running() bool
}

type authService interface {
	// Login has to return apperrors.ErrAdminPasswordWrong on bad password
	Login(password string) (string, error)

	VerifyToken(tokenString string) error
}
