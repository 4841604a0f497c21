package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arraniry/storepay/internal/apperrors"
	"github.com/arraniry/storepay/internal/logger"
	"github.com/arraniry/storepay/internal/models"
	"github.com/arraniry/storepay/internal/repository"
	"github.com/arraniry/storepay/internal/repository/postgres"
	"github.com/arraniry/storepay/internal/service/tripay"
	"github.com/arraniry/storepay/internal/testutil"
)

// fakeGateway stubs the gateway client and counts its calls
type fakeGateway struct {
	mu          sync.Mutex
	createCalls int
	getCalls    int

	createFn func(req tripay.CreateTransactionRequest) (tripay.Transaction, error)
	getFn    func(reference string) (tripay.Transaction, error)
}

func (g *fakeGateway) CreateTransaction(ctx context.Context, req tripay.CreateTransactionRequest) (tripay.Transaction, error) {
	g.mu.Lock()
	g.createCalls++
	g.mu.Unlock()

	if g.createFn == nil {
		return tripay.Transaction{Reference: "T-" + req.MerchantRef, MerchantRef: req.MerchantRef, Status: "UNPAID", Amount: req.Amount}, nil
	}
	return g.createFn(req)
}

func (g *fakeGateway) GetTransaction(ctx context.Context, reference string) (tripay.Transaction, error) {
	g.mu.Lock()
	g.getCalls++
	g.mu.Unlock()

	if g.getFn == nil {
		return tripay.Transaction{Reference: reference, Status: "UNPAID"}, nil
	}
	return g.getFn(reference)
}

func (g *fakeGateway) ListChannels(ctx context.Context) ([]tripay.Channel, error) {
	return []tripay.Channel{{Code: "QRIS", Active: true}}, nil
}

func Test_PaymentService(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	signer := tripay.NewSigner("test-private-key", "T0001")

	newService := func(storage repository.Storage, gateway *fakeGateway) *Service {
		return NewService(Config{PollDelay: time.Millisecond}, storage, gateway, signer, logger.NewNoOp())
	}

	makeUser := func(t *testing.T, storage repository.Storage, telegramID int64) models.User {
		t.Helper()
		user, err := storage.User().UpsertUser(t.Context(), telegramID, "payer", "", "")
		require.NoError(t, err)
		return user
	}

	makePending := func(t *testing.T, storage repository.Storage, userID uuid.UUID, gatewayRef string, amount int64) models.Payment {
		t.Helper()
		ref, err := NewMerchantRef("BAL")
		require.NoError(t, err)
		p, err := storage.Payment().CreatePayment(t.Context(), models.Payment{
			UserID:      userID,
			MerchantRef: ref,
			GatewayRef:  gatewayRef,
			Amount:      decimal.NewFromInt(amount),
			Method:      "QRIS",
		})
		require.NoError(t, err)
		return p
	}

	// Callback body signed the way the gateway does it
	signedCallback := func(reference string, status string, amount int64) (rawBody []byte, signature string) {
		rawBody = []byte(fmt.Sprintf(`{"reference":%q,"merchant_ref":"","status":%q,"amount":%d}`, reference, status, amount))
		return rawBody, signer.Sign(rawBody)
	}

	t.Run("create balance payment", func(t *testing.T) {
		t.Run("ok", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				gateway := &fakeGateway{}
				s := newService(storage, gateway)
				user := makeUser(t, storage, 100)

				p, err := s.CreateBalancePayment(t.Context(), user.ID, decimal.NewFromInt(50000), CustomerInfo{Name: "Customer"})

				require.NoError(t, err)
				assert.Equal(t, models.PaymentStatusPending, p.Status)
				assert.NotEmpty(t, p.GatewayRef)
				assert.True(t, p.Amount.Equal(decimal.NewFromInt(50000)))
				assert.Equal(t, 1, gateway.createCalls)

				stored, err := storage.Payment().GetPaymentByRef(t.Context(), p.GatewayRef)
				require.NoError(t, err)
				assert.Equal(t, p.ID, stored.ID)
			})
		})

		t.Run("non positive amount", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				gateway := &fakeGateway{}
				s := newService(storage, gateway)
				user := makeUser(t, storage, 101)

				_, err := s.CreateBalancePayment(t.Context(), user.ID, decimal.Zero, CustomerInfo{Name: "Customer"})

				assert.ErrorIs(t, err, apperrors.ErrAmountNotPositive)
				assert.Equal(t, 0, gateway.createCalls, "gateway must not be called for invalid amounts")
			})
		})

		t.Run("unknown user", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				s := newService(storage, &fakeGateway{})

				_, err := s.CreateBalancePayment(t.Context(), uuid.New(), decimal.NewFromInt(100), CustomerInfo{Name: "Customer"})

				assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
			})
		})

		t.Run("gateway failure leaves no record", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				gateway := &fakeGateway{
					createFn: func(req tripay.CreateTransactionRequest) (tripay.Transaction, error) {
						return tripay.Transaction{}, &tripay.Error{StatusCode: 500, Err: errors.New("boom")}
					},
				}
				s := newService(storage, gateway)
				user := makeUser(t, storage, 102)

				_, err := s.CreateBalancePayment(t.Context(), user.ID, decimal.NewFromInt(100), CustomerInfo{Name: "Customer"})

				var gwErr *tripay.Error
				require.ErrorAs(t, err, &gwErr)

				payments, err := storage.Payment().ListUserPayments(t.Context(), user.ID, 10)
				require.NoError(t, err)
				assert.Empty(t, payments)
			})
		})
	})

	t.Run("process callback", func(t *testing.T) {
		t.Run("paid callback credits once", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				s := newService(storage, &fakeGateway{})
				user := makeUser(t, storage, 200)
				p := makePending(t, storage, user.ID, "T200", 25000)

				rawBody, signature := signedCallback("T200", "PAID", 25000)

				res, err := s.ProcessCallback(t.Context(), rawBody, signature)

				require.NoError(t, err)
				assert.Equal(t, models.PaymentStatusPaid, res.Status)
				assert.True(t, res.Credited)
				assert.False(t, res.AlreadyDone)

				balance, err := storage.User().GetUserByID(t.Context(), user.ID)
				require.NoError(t, err)
				assert.True(t, balance.Balance.Equal(p.Amount), "credit must equal the stored amount")

				trs, err := storage.Balance().ListTransactions(t.Context(), user.ID, 10)
				require.NoError(t, err)
				require.Len(t, trs, 1)
				assert.Equal(t, models.TransactionTypeDeposit, trs[0].Type)
				assert.Equal(t, "T200", trs[0].PaymentRef)
			})
		})

		t.Run("duplicate callback is a no-op", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				s := newService(storage, &fakeGateway{})
				user := makeUser(t, storage, 201)
				p := makePending(t, storage, user.ID, "T201", 25000)

				rawBody, signature := signedCallback("T201", "PAID", 25000)

				first, err := s.ProcessCallback(t.Context(), rawBody, signature)
				require.NoError(t, err)
				require.True(t, first.Credited)

				second, err := s.ProcessCallback(t.Context(), rawBody, signature)

				require.NoError(t, err)
				assert.True(t, second.AlreadyDone)
				assert.False(t, second.Credited)

				balance, err := storage.User().GetUserByID(t.Context(), user.ID)
				require.NoError(t, err)
				assert.True(t, balance.Balance.Equal(p.Amount), "balance must be credited exactly once")
			})
		})

		t.Run("bad signature leaves payment untouched", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				s := newService(storage, &fakeGateway{})
				user := makeUser(t, storage, 202)
				makePending(t, storage, user.ID, "T202", 25000)

				rawBody, _ := signedCallback("T202", "PAID", 25000)

				_, err := s.ProcessCallback(t.Context(), rawBody, "deadbeef")

				assert.ErrorIs(t, err, apperrors.ErrInvalidSignature)

				stored, err := storage.Payment().GetPaymentByRef(t.Context(), "T202")
				require.NoError(t, err)
				assert.Equal(t, models.PaymentStatusPending, stored.Status)
			})
		})

		t.Run("incomplete callback rejected", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				s := newService(storage, &fakeGateway{})

				rawBody := []byte(`{"reference":"T203","merchant_ref":"","status":"","amount":0}`)

				_, err := s.ProcessCallback(t.Context(), rawBody, signer.Sign(rawBody))

				assert.ErrorIs(t, err, apperrors.ErrCallbackIncomplete)
			})
		})

		t.Run("unknown payment", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				s := newService(storage, &fakeGateway{})

				rawBody, signature := signedCallback("T-UNKNOWN", "PAID", 100)

				_, err := s.ProcessCallback(t.Context(), rawBody, signature)

				assert.ErrorIs(t, err, apperrors.ErrPaymentNotFound)
			})
		})

		t.Run("expired callback does not credit", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				s := newService(storage, &fakeGateway{})
				user := makeUser(t, storage, 204)
				makePending(t, storage, user.ID, "T204", 25000)

				rawBody, signature := signedCallback("T204", "EXPIRED", 25000)

				res, err := s.ProcessCallback(t.Context(), rawBody, signature)

				require.NoError(t, err)
				assert.Equal(t, models.PaymentStatusExpired, res.Status)
				assert.False(t, res.Credited)

				balance, err := storage.User().GetUserByID(t.Context(), user.ID)
				require.NoError(t, err)
				assert.True(t, balance.Balance.IsZero())
			})
		})

		t.Run("unknown gateway status keeps payment pending", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				s := newService(storage, &fakeGateway{})
				user := makeUser(t, storage, 205)
				makePending(t, storage, user.ID, "T205", 25000)

				rawBody, signature := signedCallback("T205", "REFUND_PROCESSING", 25000)

				res, err := s.ProcessCallback(t.Context(), rawBody, signature)

				require.NoError(t, err, "unknown statuses must not fail the callback")
				assert.Equal(t, models.PaymentStatusPending, res.Status)
				assert.False(t, res.Credited)

				stored, err := storage.Payment().GetPaymentByRef(t.Context(), "T205")
				require.NoError(t, err)
				assert.Equal(t, models.PaymentStatusPending, stored.Status, "payment must stay claimable")
			})
		})

		t.Run("credit uses stored amount on mismatch", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				s := newService(storage, &fakeGateway{})
				user := makeUser(t, storage, 206)
				p := makePending(t, storage, user.ID, "T206", 25000)

				rawBody, signature := signedCallback("T206", "PAID", 99999)

				res, err := s.ProcessCallback(t.Context(), rawBody, signature)

				require.NoError(t, err)
				assert.True(t, res.Credited)

				balance, err := storage.User().GetUserByID(t.Context(), user.ID)
				require.NoError(t, err)
				assert.True(t, balance.Balance.Equal(p.Amount), "gateway-reported amount must never be credited")
			})
		})

		t.Run("callback with merchant ref only", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				s := newService(storage, &fakeGateway{})
				user := makeUser(t, storage, 207)
				p := makePending(t, storage, user.ID, "T207", 25000)

				rawBody := []byte(fmt.Sprintf(`{"reference":"","merchant_ref":%q,"status":"PAID","amount":25000}`, p.MerchantRef))

				res, err := s.ProcessCallback(t.Context(), rawBody, signer.Sign(rawBody))

				require.NoError(t, err)
				assert.True(t, res.Credited)
			})
		})
	})

	t.Run("poll payment", func(t *testing.T) {
		t.Run("gateway reports paid", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				gateway := &fakeGateway{
					getFn: func(reference string) (tripay.Transaction, error) {
						return tripay.Transaction{Reference: reference, Status: "PAID", Amount: 25000}, nil
					},
				}
				s := newService(storage, gateway)
				user := makeUser(t, storage, 300)
				p := makePending(t, storage, user.ID, "T300", 25000)

				res, err := s.PollPayment(t.Context(), "T300")

				require.NoError(t, err)
				assert.Equal(t, models.PaymentStatusPaid, res.Status)
				assert.True(t, res.Credited)

				balance, err := storage.User().GetUserByID(t.Context(), user.ID)
				require.NoError(t, err)
				assert.True(t, balance.Balance.Equal(p.Amount))
			})
		})

		t.Run("terminal payment skips the gateway", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				gateway := &fakeGateway{}
				s := newService(storage, gateway)
				user := makeUser(t, storage, 301)
				p := makePending(t, storage, user.ID, "T301", 25000)

				claimed, err := storage.Payment().ClaimStatus(t.Context(), p.ID, models.PaymentStatusPaid)
				require.NoError(t, err)
				require.True(t, claimed)

				res, err := s.PollPayment(t.Context(), "T301")

				require.NoError(t, err)
				assert.True(t, res.AlreadyDone)
				assert.Equal(t, models.PaymentStatusPaid, res.Status)
				assert.Equal(t, 0, gateway.getCalls, "terminal payments must not hit the gateway")
			})
		})

		t.Run("still unpaid stays pending", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				s := newService(storage, &fakeGateway{})
				user := makeUser(t, storage, 302)
				makePending(t, storage, user.ID, "T302", 25000)

				res, err := s.PollPayment(t.Context(), "T302")

				require.NoError(t, err)
				assert.Equal(t, models.PaymentStatusPending, res.Status)
				assert.False(t, res.Credited)
			})
		})

		t.Run("unknown reference", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				s := newService(storage, &fakeGateway{})

				_, err := s.PollPayment(t.Context(), "T-UNKNOWN")

				assert.ErrorIs(t, err, apperrors.ErrPaymentNotFound)
			})
		})
	})

	t.Run("poll pending", func(t *testing.T) {
		t.Run("one failure does not abort the batch", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				gateway := &fakeGateway{
					getFn: func(reference string) (tripay.Transaction, error) {
						if reference == "T401" {
							return tripay.Transaction{}, &tripay.Error{StatusCode: 500, Err: errors.New("boom")}
						}
						return tripay.Transaction{Reference: reference, Status: "PAID", Amount: 25000}, nil
					},
				}
				s := newService(storage, gateway)
				user := makeUser(t, storage, 400)
				makePending(t, storage, user.ID, "T400", 25000)
				makePending(t, storage, user.ID, "T401", 25000)
				makePending(t, storage, user.ID, "T402", 25000)

				outcomes, err := s.PollPending(t.Context())

				require.NoError(t, err)
				require.Len(t, outcomes, 3)

				byRef := map[string]PollOutcome{}
				for _, o := range outcomes {
					byRef[o.Reference] = o
				}
				assert.NoError(t, byRef["T400"].Err)
				assert.True(t, byRef["T400"].Credited)
				assert.Error(t, byRef["T401"].Err)
				assert.True(t, byRef["T402"].Credited)
			})
		})

		t.Run("terminal payments are not polled", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				gateway := &fakeGateway{}
				s := newService(storage, gateway)
				user := makeUser(t, storage, 401)
				p := makePending(t, storage, user.ID, "T403", 25000)

				claimed, err := storage.Payment().ClaimStatus(t.Context(), p.ID, models.PaymentStatusExpired)
				require.NoError(t, err)
				require.True(t, claimed)

				outcomes, err := s.PollPending(t.Context())

				require.NoError(t, err)
				assert.Empty(t, outcomes)
				assert.Equal(t, 0, gateway.getCalls)
			})
		})
	})

	// Runs on the pool directly: the race needs real concurrent transactions,
	// which a single rollback tx cannot provide
	t.Run("concurrent callback and poll credit exactly once", func(t *testing.T) {
		storage := postgres.NewStorage(pg.Pool)
		gateway := &fakeGateway{
			getFn: func(reference string) (tripay.Transaction, error) {
				return tripay.Transaction{Reference: reference, Status: "PAID", Amount: 25000}, nil
			},
		}
		s := newService(storage, gateway)
		user := makeUser(t, storage, 500)
		p := makePending(t, storage, user.ID, "T500", 25000)

		rawBody, signature := signedCallback("T500", "PAID", 25000)

		const workers = 8
		var wg sync.WaitGroup
		results := make(chan Result, workers)

		for i := range workers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()

				var res Result
				var err error
				if i%2 == 0 {
					res, err = s.ProcessCallback(context.Background(), rawBody, signature)
				} else {
					res, err = s.PollPayment(context.Background(), "T500")
				}
				if err == nil {
					results <- res
				}
			}(i)
		}
		wg.Wait()
		close(results)

		var credited int
		for res := range results {
			if res.Credited {
				credited++
			}
		}
		assert.Equal(t, 1, credited, "exactly one of the racing triggers may credit")

		got, err := storage.User().GetUserByID(context.Background(), user.ID)
		require.NoError(t, err)
		assert.True(t, got.Balance.Equal(p.Amount), "balance must equal a single credit")

		trs, err := storage.Balance().ListTransactions(context.Background(), user.ID, 10)
		require.NoError(t, err)
		assert.Len(t, trs, 1)
	})
}

func TestNewMerchantRef(t *testing.T) {
	t.Parallel()

	ref, err := NewMerchantRef("BAL")

	require.NoError(t, err)
	assert.Regexp(t, `^BAL-\d+-[0-9A-F]{8}$`, ref)

	other, err := NewMerchantRef("BAL")
	require.NoError(t, err)
	assert.NotEqual(t, ref, other)
}

func TestMapGatewayStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		gateway    string
		local      string
		recognized bool
	}{
		{"PAID", models.PaymentStatusPaid, true},
		{"paid", models.PaymentStatusPaid, true},
		{"EXPIRED", models.PaymentStatusExpired, true},
		{"FAILED", models.PaymentStatusFailed, true},
		{"UNPAID", "", true},
		{"PENDING", "", true},
		{"REFUND", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run("status "+tt.gateway, func(t *testing.T) {
			local, recognized := mapGatewayStatus(tt.gateway)

			assert.Equal(t, tt.local, local)
			assert.Equal(t, tt.recognized, recognized)
		})
	}
}
