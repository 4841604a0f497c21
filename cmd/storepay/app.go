package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/arraniry/storepay/internal/db"
	"github.com/arraniry/storepay/internal/handlers"
	"github.com/arraniry/storepay/internal/logger"
	"github.com/arraniry/storepay/internal/repository/postgres"
	"github.com/arraniry/storepay/internal/service/auth"
	"github.com/arraniry/storepay/internal/service/payment"
	"github.com/arraniry/storepay/internal/service/tripay"
	"github.com/arraniry/storepay/internal/service/wallet"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	scheduler    *payment.Scheduler
	pollInterval time.Duration
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize gateway client and services
	gateway := tripay.NewClient(tripay.Config{
		APIKey:       c.TripayAPIKey,
		PrivateKey:   c.TripayPrivateKey,
		MerchantCode: c.TripayMerchantCode,
		BaseURL:      c.TripayBaseURL,
	}, logger)

	paymentService := payment.NewService(
		payment.Config{ReturnURL: c.ReturnURL},
		storage,
		gateway,
		gateway.Signer(),
		logger,
	)
	walletService := wallet.NewService(storage, logger)
	authService, err := auth.NewService(auth.Config{
		SecretKey:    c.SecretKey,
		PasswordHash: c.AdminPasswordHash,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	scheduler := payment.NewScheduler(paymentService, logger)

	mux := handlers.NewRouter(
		paymentService,
		walletService,
		scheduler,
		authService,
		logger,
	)

	return &ServerApp{
		ListenAddr:   c.ListenAddr,
		Handler:      mux,
		scheduler:    scheduler,
		pollInterval: time.Duration(c.PollIntervalMinutes) * time.Minute,
	}, nil
}

// Run starts the reconciliation scheduler and the http server,
// then closes both gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	if err := s.scheduler.Start(ctx, s.pollInterval); err != nil {
		return fmt.Errorf("error while starting scheduler. Err: %w", err)
	}

	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			slog.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		slog.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	slog.Info("Starting server")
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	if stopErr := s.scheduler.Stop(); stopErr != nil {
		slog.Error("Failed to stop scheduler", "error", stopErr.Error())
	}

	return err
}
