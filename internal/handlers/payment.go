package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arraniry/storepay/internal/apperrors"
	"github.com/arraniry/storepay/internal/handlers/render"
	"github.com/arraniry/storepay/internal/logger"
	"github.com/arraniry/storepay/internal/service/payment"
	"github.com/arraniry/storepay/internal/service/tripay"
)

const callbackSignatureHeader = "X-Callback-Signature"

// Callback bodies are small; anything bigger is not a gateway callback
const maxCallbackBody = 1 << 20

type paymentResponse struct {
	Reference   string          `json:"reference"`
	MerchantRef string          `json:"merchant_ref"`
	PaymentURL  string          `json:"payment_url,omitempty"`
	QRURL       string          `json:"qr_url,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

func handleCreatePayment(paymentService paymentService, walletService walletService, l logger.Logger) http.Handler {
	type request struct {
		TelegramID    int64           `json:"telegram_id" validate:"required"`
		Amount        decimal.Decimal `json:"amount" validate:"required"`
		CustomerName  string          `json:"customer_name" validate:"required"`
		CustomerEmail string          `json:"customer_email,omitempty" validate:"omitempty,email"`
		CustomerPhone string          `json:"customer_phone,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := walletService.GetUserByTelegramID(r.Context(), req.TelegramID)
		if err != nil {
			renderWalletError(w, l, err)
			return
		}

		p, err := paymentService.CreateBalancePayment(r.Context(), user.ID, req.Amount, payment.CustomerInfo{
			Name:  req.CustomerName,
			Email: req.CustomerEmail,
			Phone: req.CustomerPhone,
		})

		var gwErr *tripay.Error
		switch {
		case err == nil:
			render.JSON(w, paymentResponse{
				Reference:   p.GatewayRef,
				MerchantRef: p.MerchantRef,
				PaymentURL:  p.PaymentURL,
				QRURL:       p.QRURL,
				Amount:      p.Amount,
				Status:      p.Status,
				CreatedAt:   p.CreatedAt,
			})
		case errors.Is(err, apperrors.ErrAmountNotPositive):
			render.ServiceError(w, "Amount must be positive", http.StatusBadRequest)
		case errors.As(err, &gwErr):
			l.Error("Gateway rejected payment creation", "error", err)
			render.ServiceError(w, "Payment gateway unavailable, try again later", http.StatusBadGateway)
		default:
			l.Error("Failed to create payment", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleCallback(paymentService paymentService, l logger.Logger) http.Handler {
	type response struct {
		Success bool   `json:"success"`
		Status  string `json:"status,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.Header.Get(callbackSignatureHeader)
		if signature == "" {
			render.ServiceError(w, "Missing callback signature", http.StatusBadRequest)
			return
		}

		// The signature covers the raw bytes, so the body must be read
		// before any decoding
		rawBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
		if err != nil {
			render.ServiceError(w, "Failed to read callback body", http.StatusBadRequest)
			return
		}

		res, err := paymentService.ProcessCallback(r.Context(), rawBody, signature)

		switch {
		case err == nil:
			render.JSON(w, response{Success: true, Status: res.Status})
		case errors.Is(err, apperrors.ErrInvalidSignature):
			render.ServiceError(w, "Invalid callback signature", http.StatusBadRequest)
		case errors.Is(err, apperrors.ErrCallbackIncomplete):
			render.ServiceError(w, "Invalid callback data", http.StatusBadRequest)
		case errors.Is(err, apperrors.ErrPaymentNotFound):
			render.ServiceError(w, "Payment record not found", http.StatusNotFound)
		default:
			l.Error("Failed to process callback", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleCheckPayment(paymentService paymentService, l logger.Logger) http.Handler {
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
			l.Error("Gateway status fetch failed", "error", err)
			render.ServiceError(w, "Payment gateway unavailable, try again later", http.StatusBadGateway)
		default:
			l.Error("Failed to check payment", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleChannels(paymentService paymentService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		channels, err := paymentService.Channels(r.Context())

		var gwErr *tripay.Error
		switch {
		case err == nil:
			render.JSON(w, channels)
		case errors.As(err, &gwErr):
			l.Error("Gateway channel list failed", "error", err)
			render.ServiceError(w, "Payment gateway unavailable, try again later", http.StatusBadGateway)
		default:
			l.Error("Failed to list channels", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handlePaymentHistory(paymentService paymentService, walletService walletService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFromPath(w, r, walletService, l)
		if !ok {
			return
		}

		payments, err := paymentService.PaymentHistory(r.Context(), user.ID, limitParam(r, 10))
		if err != nil {
			l.Error("Failed to get payment history", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		history := make([]paymentResponse, 0, len(payments))
		for _, p := range payments {
			history = append(history, paymentResponse{
				Reference:   p.GatewayRef,
				MerchantRef: p.MerchantRef,
				PaymentURL:  p.PaymentURL,
				QRURL:       p.QRURL,
				Amount:      p.Amount,
				Status:      p.Status,
				CreatedAt:   p.CreatedAt,
			})
		}
		render.JSON(w, history)
	})
}
