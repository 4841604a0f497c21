package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arraniry/storepay/internal/apperrors"
	"github.com/arraniry/storepay/internal/handlers/render"
	"github.com/arraniry/storepay/internal/logger"
	"github.com/arraniry/storepay/internal/service/tripay"
)

const defaultPollIntervalMinutes = 5

func handleAdminLogin(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Password string `json:"password" validate:"required"`
	}

	type response struct {
		Token string `json:"token"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		token, err := authService.Login(req.Password)

		switch {
		case err == nil:
			render.JSON(w, response{Token: token})
		case errors.Is(err, apperrors.ErrAdminPasswordWrong):
			render.ServiceError(w, "Wrong password", http.StatusUnauthorized)
		default:
			l.Error("Failed to login", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleCreateRedeemCode(walletService walletService, l logger.Logger) http.Handler {
	type request struct {
		Amount decimal.Decimal `json:"amount" validate:"required"`
	}

	type response struct {
		Code   string          `json:"code"`
		Amount decimal.Decimal `json:"amount"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		rc, err := walletService.CreateRedeemCode(r.Context(), req.Amount)

		switch {
		case err == nil:
			render.JSON(w, response{Code: rc.Code, Amount: rc.Amount})
		case errors.Is(err, apperrors.ErrAmountNotPositive):
			render.ServiceError(w, "Amount must be positive", http.StatusBadRequest)
		default:
			l.Error("Failed to create redeem code", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleSchedulerStatus(scheduler schedulerService) http.Handler {
	type response struct {
		Running bool `json:"running"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, response{Running: scheduler.Running()})
	})
}

func handleSchedulerStart(scheduler schedulerService, l logger.Logger) http.Handler {
	type request struct {
		IntervalMinutes int `json:"interval_minutes" validate:"omitempty,min=1"`
	}

	type response struct {
		Running bool `json:"running"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The body is optional; starting without one uses the default interval
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			render.DecodeError(w, err)
			return
		}

		if req.IntervalMinutes <= 0 {
			req.IntervalMinutes = defaultPollIntervalMinutes
		}

		// The polling loop must outlive this request
		err := scheduler.Start(context.WithoutCancel(r.Context()), time.Duration(req.IntervalMinutes)*time.Minute)

		switch {
		case err == nil, errors.Is(err, apperrors.ErrSchedulerRunning):
			render.JSON(w, response{Running: true})
		default:
			l.Error("Failed to start scheduler", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleSchedulerStop(scheduler schedulerService, l logger.Logger) http.Handler {
	type response struct {
		Running bool `json:"running"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := scheduler.Stop()

		switch {
		case err == nil, errors.Is(err, apperrors.ErrSchedulerNotRunning):
			render.JSON(w, response{Running: false})
		default:
			l.Error("Failed to stop scheduler", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleManualPoll(paymentService paymentService, l logger.Logger) http.Handler {
	type response struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Credited  bool   `json:"credited"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := paymentService.PollPayment(r.Context(), r.PathValue("reference"))

		var gwErr *tripay.Error
		switch {
		case err == nil:
			render.JSON(w, response{Reference: res.Reference, Status: res.Status, Credited: res.Credited})
		case errors.Is(err, apperrors.ErrPaymentNotFound):
			render.ServiceError(w, "Payment record not found", http.StatusNotFound)
		case errors.As(err, &gwErr):
			l.Error("Gateway poll failed", "error", err)
			render.ServiceError(w, "Payment gateway unavailable, try again later", http.StatusBadGateway)
		default:
			l.Error("Failed to poll payment", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
