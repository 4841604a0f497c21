package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arraniry/storepay/internal/apperrors"
	"github.com/arraniry/storepay/internal/handlers/render"
	"github.com/arraniry/storepay/internal/logger"
	"github.com/arraniry/storepay/internal/models"
)

func handleRegisterUser(walletService walletService, l logger.Logger) http.Handler {
	type request struct {
		TelegramID int64  `json:"telegram_id" validate:"required"`
		Username   string `json:"username"`
		FirstName  string `json:"first_name"`
		LastName   string `json:"last_name"`
	}

	type response struct {
		TelegramID int64           `json:"telegram_id"`
		Username   string          `json:"username"`
		Balance    decimal.Decimal `json:"balance"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := walletService.RegisterUser(r.Context(), req.TelegramID, req.Username, req.FirstName, req.LastName)
		if err != nil {
			l.Error("Failed to register user", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{TelegramID: user.TelegramID, Username: user.Username, Balance: user.Balance})
	})
}

func handleBalance(walletService walletService, l logger.Logger) http.Handler {
	type response struct {
		Balance decimal.Decimal `json:"balance"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFromPath(w, r, walletService, l)
		if !ok {
			return
		}

		render.JSON(w, response{Balance: user.Balance})
	})
}

func handleTransactions(walletService walletService, l logger.Logger) http.Handler {
	type transaction struct {
		Type        string          `json:"type"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
		PaymentRef  string          `json:"payment_ref,omitempty"`
		CreatedAt   time.Time       `json:"created_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFromPath(w, r, walletService, l)
		if !ok {
			return
		}

		trs, err := walletService.Transactions(r.Context(), user.ID, limitParam(r, 10))
		if err != nil {
			l.Error("Failed to get transactions", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		transactions := make([]transaction, 0, len(trs))
		for _, t := range trs {
			transactions = append(transactions, transaction{
				Type:        t.Type,
				Amount:      t.Amount,
				Description: t.Description,
				PaymentRef:  t.PaymentRef,
				CreatedAt:   t.CreatedAt,
			})
		}
		render.JSON(w, transactions)
	})
}

func handleRedeem(walletService walletService, l logger.Logger) http.Handler {
	type request struct {
		Code string `json:"code" validate:"required"`
	}

	type response struct {
		Amount  decimal.Decimal `json:"amount"`
		Balance decimal.Decimal `json:"balance"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFromPath(w, r, walletService, l)
		if !ok {
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		amount, newBalance, err := walletService.Redeem(r.Context(), user.ID, req.Code)

		switch {
		case err == nil:
			render.JSON(w, response{Amount: amount, Balance: newBalance})
		case errors.Is(err, apperrors.ErrRedeemCodeNotFound):
			render.ServiceError(w, "Unknown redeem code", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrRedeemCodeUsed):
			render.ServiceError(w, "Redeem code already used", http.StatusConflict)
		default:
			l.Error("Failed to redeem code", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

// userFromPath resolves the {telegramID} path segment to a user.
// Writes the error response itself and reports ok=false when it did.
func userFromPath(w http.ResponseWriter, r *http.Request, walletService walletService, l logger.Logger) (models.User, bool) {
	var user models.User

	telegramID, err := strconv.ParseInt(r.PathValue("telegramID"), 10, 64)
	if err != nil {
		render.ServiceError(w, "Invalid telegram id", http.StatusBadRequest)
		return user, false
	}

	user, err = walletService.GetUserByTelegramID(r.Context(), telegramID)

	switch {
	case err == nil:
		return user, true
	case errors.Is(err, apperrors.ErrUserNotFound):
		render.ServiceError(w, "User not found", http.StatusNotFound)
		return user, false
	default:
		l.Error("Failed to get user", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return user, false
	}
}

func renderWalletError(w http.ResponseWriter, l logger.Logger, err error) {
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		render.ServiceError(w, "User not found", http.StatusNotFound)
	default:
		l.Error("Wallet error", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func limitParam(r *http.Request, def int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 100 {
		return def
	}
	return limit
}
