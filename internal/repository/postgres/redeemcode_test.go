package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arraniry/storepay/internal/apperrors"
	"github.com/arraniry/storepay/internal/testutil"
)

func Test_RedeemCodeRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("create and get", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := RedeemCodeRepo{DB: tx}

			created, err := r.CreateCode(t.Context(), "RC-TEST-1", decimal.NewFromInt(10000))
			require.NoError(t, err)
			assert.False(t, created.IsUsed)

			got, err := r.GetCode(t.Context(), "RC-TEST-1")
			require.NoError(t, err)
			assert.Equal(t, created.ID, got.ID)
			assert.True(t, got.Amount.Equal(decimal.NewFromInt(10000)))
		})
	})

	t.Run("get unknown code", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := RedeemCodeRepo{DB: tx}

			_, err := r.GetCode(t.Context(), "RC-NOPE")

			assert.ErrorIs(t, err, apperrors.ErrRedeemCodeNotFound)
		})
	})

	t.Run("claim works once", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := RedeemCodeRepo{DB: tx}
			users := UserRepo{DB: tx}

			user, err := users.UpsertUser(t.Context(), 601, "redeemer", "", "")
			require.NoError(t, err)
			_, err = r.CreateCode(t.Context(), "RC-TEST-2", decimal.NewFromInt(5000))
			require.NoError(t, err)

			claimed, err := r.ClaimCode(t.Context(), "RC-TEST-2", user.ID)
			require.NoError(t, err)
			assert.True(t, claimed.IsUsed)
			require.NotNil(t, claimed.UsedByUserID)
			assert.Equal(t, user.ID, *claimed.UsedByUserID)

			_, err = r.ClaimCode(t.Context(), "RC-TEST-2", user.ID)
			assert.ErrorIs(t, err, apperrors.ErrRedeemCodeUsed)
		})
	})

	t.Run("claim unknown code", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := RedeemCodeRepo{DB: tx}
			users := UserRepo{DB: tx}

			user, err := users.UpsertUser(t.Context(), 602, "redeemer2", "", "")
			require.NoError(t, err)

			_, err = r.ClaimCode(t.Context(), "RC-NOPE", user.ID)

			assert.ErrorIs(t, err, apperrors.ErrRedeemCodeNotFound)
		})
	})
}
