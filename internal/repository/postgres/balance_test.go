package postgres

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arraniry/storepay/internal/apperrors"
	"github.com/arraniry/storepay/internal/models"
	"github.com/arraniry/storepay/internal/testutil"
)

func Test_BalanceRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("deposit increases balance and writes audit row", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			users := UserRepo{DB: tx}
			r := BalanceRepo{DB: tx}
			user, err := users.UpsertUser(t.Context(), 10, "depositor", "", "")
			require.NoError(t, err)

			newBalance, err := r.UpdateBalance(t.Context(), models.Transaction{
				UserID:      user.ID,
				Type:        models.TransactionTypeDeposit,
				Amount:      decimal.NewFromInt(50000),
				Description: "top up",
				PaymentRef:  "T100200300",
			})

			require.NoError(t, err)
			assert.True(t, newBalance.Equal(decimal.NewFromInt(50000)), "got %s", newBalance)

			trs, err := r.ListTransactions(t.Context(), user.ID, 10)
			require.NoError(t, err)
			require.Len(t, trs, 1)
			assert.Equal(t, models.TransactionTypeDeposit, trs[0].Type)
			assert.True(t, trs[0].Amount.Equal(decimal.NewFromInt(50000)))
			assert.Equal(t, "T100200300", trs[0].PaymentRef)
		})
	})

	t.Run("withdrawal decreases balance", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			users := UserRepo{DB: tx}
			r := BalanceRepo{DB: tx}
			user, err := users.UpsertUser(t.Context(), 11, "withdrawer", "", "")
			require.NoError(t, err)

			_, err = r.UpdateBalance(t.Context(), models.Transaction{
				UserID: user.ID, Type: models.TransactionTypeDeposit, Amount: decimal.NewFromInt(1000),
			})
			require.NoError(t, err)

			newBalance, err := r.UpdateBalance(t.Context(), models.Transaction{
				UserID: user.ID, Type: models.TransactionTypeWithdrawal, Amount: decimal.NewFromInt(300),
			})

			require.NoError(t, err)
			assert.True(t, newBalance.Equal(decimal.NewFromInt(700)), "got %s", newBalance)
		})
	})

	t.Run("withdrawal over balance fails, balance untouched", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			users := UserRepo{DB: tx}
			r := BalanceRepo{DB: tx}
			user, err := users.UpsertUser(t.Context(), 12, "poor", "", "")
			require.NoError(t, err)

			_, err = r.UpdateBalance(t.Context(), models.Transaction{
				UserID: user.ID, Type: models.TransactionTypeWithdrawal, Amount: decimal.NewFromInt(1),
			})

			assert.ErrorIs(t, err, apperrors.ErrBalanceInsufficient)

			got, err := users.GetUserByID(t.Context(), user.ID)
			require.NoError(t, err)
			assert.True(t, got.Balance.IsZero())

			trs, err := r.ListTransactions(t.Context(), user.ID, 10)
			require.NoError(t, err)
			assert.Empty(t, trs, "failed withdrawal must not leave an audit row")
		})
	})

	t.Run("unknown user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := BalanceRepo{DB: tx}

			_, err := r.UpdateBalance(t.Context(), models.Transaction{
				UserID: uuid.New(), Type: models.TransactionTypeDeposit, Amount: decimal.NewFromInt(10),
			})

			assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
		})
	})

	t.Run("non positive amount rejected", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			users := UserRepo{DB: tx}
			r := BalanceRepo{DB: tx}
			user, err := users.UpsertUser(t.Context(), 13, "zero", "", "")
			require.NoError(t, err)

			_, err = r.UpdateBalance(t.Context(), models.Transaction{
				UserID: user.ID, Type: models.TransactionTypeDeposit, Amount: decimal.Zero,
			})

			assert.ErrorIs(t, err, apperrors.ErrAmountNotPositive)
		})
	})
}
