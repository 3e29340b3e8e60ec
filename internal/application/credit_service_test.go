package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retail-platform/ledger-service/internal/domain"
	"github.com/retail-platform/ledger-service/internal/infrastructure/memory"
	"github.com/retail-platform/ledger-service/pkg/idempotency"
	"github.com/retail-platform/ledger-service/pkg/logging"
)

const (
	testStore = "store-1"
	testPhone = "9876543210"
)

type creditFixture struct {
	svc      *CreditLedgerService
	balances *memory.BalanceRepository
	ledger   *memory.LedgerRepository
}

func newCreditFixture(t *testing.T, configure ...func(*CreditConfig, *idempotency.Config)) *creditFixture {
	t.Helper()
	f := &creditFixture{
		balances: memory.NewBalanceRepository(),
		ledger:   memory.NewLedgerRepository(),
	}
	f.svc = f.build(f.balances, f.ledger, configure...)
	return f
}

func (f *creditFixture) build(balances domain.BalanceRepository, ledger domain.LedgerRepository, configure ...func(*CreditConfig, *idempotency.Config)) *CreditLedgerService {
	cfg := DefaultCreditConfig()
	idemCfg := idempotency.DefaultConfig("test")
	for _, fn := range configure {
		fn(&cfg, idemCfg)
	}
	cache := idempotency.NewCache(idempotency.NewMemoryRepository(), idemCfg, logging.NewNop().Logger)
	return NewCreditLedgerService(balances, ledger, cache, nil, cfg, logging.NewNop(), nil)
}

func (f *creditFixture) openAccount(t *testing.T, limit int64) {
	t.Helper()
	record, err := domain.NewBalanceRecord(testStore, testPhone, "Asha", domain.MoneyFromInt(limit))
	require.NoError(t, err)
	require.NoError(t, f.balances.Create(context.Background(), record))
}

func (f *creditFixture) balance(t *testing.T) *domain.BalanceRecord {
	t.Helper()
	record, err := f.balances.Get(context.Background(), testStore, testPhone)
	require.NoError(t, err)
	return record
}

func (f *creditFixture) history(t *testing.T) []*domain.TransactionRecord {
	t.Helper()
	page, err := f.ledger.List(context.Background(), domain.LedgerQuery{
		StoreID:       testStore,
		CustomerPhone: testPhone,
		Limit:         1000,
	})
	require.NoError(t, err)
	return page.Transactions
}

func (f *creditFixture) latest(t *testing.T, txType domain.TransactionType) *domain.TransactionRecord {
	t.Helper()
	for _, rec := range f.history(t) {
		if rec.Type == txType {
			return rec
		}
	}
	t.Fatalf("no %s transaction recorded", txType)
	return nil
}

func sale(amount int64) RecordCreditSaleCommand {
	return RecordCreditSaleCommand{
		StoreID:       testStore,
		CustomerPhone: testPhone,
		CustomerName:  "Asha",
		Amount:        domain.MoneyFromInt(amount),
		CreatedBy:     "cashier-1",
	}
}

func payment(amount int64) RecordPaymentCommand {
	return RecordPaymentCommand{
		StoreID:       testStore,
		CustomerPhone: testPhone,
		Amount:        domain.MoneyFromInt(amount),
		CreatedBy:     "cashier-1",
	}
}

func assertBalance(t *testing.T, expected string, actual domain.Money) {
	t.Helper()
	assert.Equal(t, domain.MustParseMoney(expected).String(), actual.String())
}

// assertLedgerMatchesBalance checks that replaying the ledger reproduces the stored balance
func (f *creditFixture) assertLedgerMatchesBalance(t *testing.T) {
	t.Helper()
	replayed := domain.ReplayBalance(f.history(t))
	assertBalance(t, f.balance(t).OutstandingBalance.String(), replayed)
}

func TestCreditLedger_ExampleScenario(t *testing.T) {
	ctx := context.Background()
	f := newCreditFixture(t)
	f.openAccount(t, 1000)

	saleResult, err := f.svc.RecordCreditSale(ctx, sale(600))
	require.NoError(t, err)
	assert.True(t, saleResult.Success)
	assertBalance(t, "600", *saleResult.NewBalance)

	payResult, err := f.svc.RecordPayment(ctx, payment(200))
	require.NoError(t, err)
	assertBalance(t, "400", *payResult.NewBalance)

	adjResult, err := f.svc.AdjustBalance(ctx, AdjustBalanceCommand{
		StoreID:        testStore,
		CustomerPhone:  testPhone,
		Amount:         domain.MoneyFromInt(-400),
		AdjustmentType: domain.AdjustmentWriteOff,
		Notes:          "settled in kind",
		CreatedBy:      "manager-1",
	})
	require.NoError(t, err)
	assertBalance(t, "0", *adjResult.NewBalance)

	revResult, err := f.svc.ReverseTransaction(ctx, ReverseTransactionCommand{
		StoreID:       testStore,
		TransactionID: saleResult.TransactionID,
		Reason:        "wrong customer",
		CreatedBy:     "manager-1",
	})
	require.ErrorIs(t, err, domain.ErrInvalidReversal)
	assert.False(t, revResult.Success)
	assert.Equal(t, domain.CodeInvalidReversal, revResult.ErrorCode)

	assertBalance(t, "0", f.balance(t).OutstandingBalance)
	assert.Len(t, f.history(t), 3)
	f.assertLedgerMatchesBalance(t)
}

func TestCreditLedger_FirstSaleOpensAccount(t *testing.T) {
	ctx := context.Background()
	f := newCreditFixture(t, func(cfg *CreditConfig, _ *idempotency.Config) {
		cfg.DefaultCreditLimit = domain.MoneyFromInt(750)
	})

	result, err := f.svc.RecordCreditSale(ctx, sale(100))
	require.NoError(t, err)
	assert.True(t, result.Success)

	record := f.balance(t)
	assert.Equal(t, "Asha", record.CustomerName)
	assertBalance(t, "750", record.CreditLimit)
	assertBalance(t, "100", record.OutstandingBalance)
	assert.Equal(t, int64(1), record.Version)
}

func TestCreditLedger_FirstSaleWithoutNameIsRejected(t *testing.T) {
	f := newCreditFixture(t)
	cmd := sale(100)
	cmd.CustomerName = ""

	result, err := f.svc.RecordCreditSale(context.Background(), cmd)
	require.ErrorIs(t, err, domain.ErrCustomerNameRequired)
	assert.Equal(t, domain.CodeCustomerNameRequired, result.ErrorCode)

	_, err = f.balances.Get(context.Background(), testStore, testPhone)
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
}

func TestCreditLedger_CreditLimitRejectionWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newCreditFixture(t)
	f.openAccount(t, 1000)

	_, err := f.svc.RecordCreditSale(ctx, sale(900))
	require.NoError(t, err)

	result, err := f.svc.RecordCreditSale(ctx, sale(200))
	var limitErr *domain.CreditLimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assertBalance(t, "100", limitErr.Available)
	assertBalance(t, "200", limitErr.Requested)
	assert.Equal(t, domain.CodeCreditLimitExceeded, result.ErrorCode)
	assert.False(t, result.Success)

	record := f.balance(t)
	assertBalance(t, "900", record.OutstandingBalance)
	assert.Equal(t, int64(1), record.Version)
	assert.Len(t, f.history(t), 1)
}

func TestCreditLedger_RejectsInvalidAmounts(t *testing.T) {
	ctx := context.Background()
	f := newCreditFixture(t)
	f.openAccount(t, 1000)

	for _, amount := range []int64{0, -5} {
		_, err := f.svc.RecordCreditSale(ctx, sale(amount))
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)

		_, err = f.svc.RecordPayment(ctx, payment(amount))
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	}
	assert.Equal(t, 0, f.ledger.Count())
}

func TestCreditLedger_RejectsSubCentAndOversizedAmounts(t *testing.T) {
	ctx := context.Background()
	raw := func(s string) domain.Money { return domain.NewMoney(decimal.RequireFromString(s)) }

	for _, amount := range []string{"0.004", "10.005", "1000000000000", "1234567890123456789012345678901234567890.12"} {
		t.Run(amount, func(t *testing.T) {
			f := newCreditFixture(t)
			f.openAccount(t, 1000)

			cmd := sale(0)
			cmd.Amount = raw(amount)
			cmd.IdempotencyKey = "sub-cent-1"
			result, err := f.svc.RecordCreditSale(ctx, cmd)
			require.ErrorIs(t, err, domain.ErrInvalidAmount)
			assert.Equal(t, domain.CodeInvalidAmount, result.ErrorCode)

			pay := payment(0)
			pay.Amount = raw(amount)
			_, err = f.svc.RecordPayment(ctx, pay)
			assert.ErrorIs(t, err, domain.ErrInvalidAmount)

			_, err = f.svc.AdjustBalance(ctx, AdjustBalanceCommand{
				StoreID:       testStore,
				CustomerPhone: testPhone,
				Amount:        raw(amount).Neg(),
				Notes:         "rounding",
				CreatedBy:     "manager-1",
			})
			assert.ErrorIs(t, err, domain.ErrInvalidAmount)

			assertBalance(t, "0", f.balance(t).OutstandingBalance)
			assert.Equal(t, 0, f.ledger.Count())
		})
	}

	t.Run("sub-cent credit limit on a new account", func(t *testing.T) {
		f := newCreditFixture(t)
		limit := raw("100.001")
		cmd := sale(10)
		cmd.CreditLimit = &limit

		_, err := f.svc.RecordCreditSale(ctx, cmd)
		require.ErrorIs(t, err, domain.ErrInvalidAmount)
		_, err = f.balances.Get(ctx, testStore, testPhone)
		assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
	})

	t.Run("trailing zeros are whole cents", func(t *testing.T) {
		f := newCreditFixture(t)
		f.openAccount(t, 1000)

		cmd := sale(0)
		cmd.Amount = raw("0.500")
		cmd.IdempotencyKey = "half-unit"
		first, err := f.svc.RecordCreditSale(ctx, cmd)
		require.NoError(t, err)
		replay, err := f.svc.RecordCreditSale(ctx, cmd)
		require.NoError(t, err)

		assert.True(t, replay.Replayed)
		assert.True(t, first.NewBalance.Equal(*replay.NewBalance))
		tx := f.latest(t, domain.TransactionTypeCreditSale)
		assert.True(t, tx.BalanceAfter.Sub(tx.BalanceBefore).Equal(tx.Amount))
		f.assertLedgerMatchesBalance(t)
	})
}

func TestCreditLedger_ValidationFailsBeforeAnyWrite(t *testing.T) {
	f := newCreditFixture(t)
	cmd := sale(100)
	cmd.CustomerPhone = "not-a-phone"

	result, err := f.svc.RecordCreditSale(context.Background(), cmd)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, domain.CodeValidation, result.ErrorCode)
	assert.Equal(t, 0, f.ledger.Count())
}

func TestCreditLedger_PaymentRules(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown customer", func(t *testing.T) {
		f := newCreditFixture(t)
		_, err := f.svc.RecordPayment(ctx, payment(10))
		assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
	})

	t.Run("overpayment leaves a negative balance", func(t *testing.T) {
		f := newCreditFixture(t)
		f.openAccount(t, 1000)
		_, err := f.svc.RecordCreditSale(ctx, sale(100))
		require.NoError(t, err)

		result, err := f.svc.RecordPayment(ctx, payment(150))
		require.NoError(t, err)
		assertBalance(t, "-50", *result.NewBalance)

		assert.Len(t, f.history(t), 2)
		paid := f.latest(t, domain.TransactionTypePayment)
		assert.Equal(t, string(domain.PaymentCash), paid.Metadata[domain.MetaPaymentMethod])
		f.assertLedgerMatchesBalance(t)
	})

	t.Run("unknown payment method", func(t *testing.T) {
		f := newCreditFixture(t)
		f.openAccount(t, 1000)
		cmd := payment(10)
		cmd.PaymentMethod = "barter"
		_, err := f.svc.RecordPayment(ctx, cmd)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestCreditLedger_AdjustmentRules(t *testing.T) {
	ctx := context.Background()
	adjust := func(amount int64, adjType domain.AdjustmentType, notes string) AdjustBalanceCommand {
		return AdjustBalanceCommand{
			StoreID:        testStore,
			CustomerPhone:  testPhone,
			Amount:         domain.MoneyFromInt(amount),
			AdjustmentType: adjType,
			Notes:          notes,
			CreatedBy:      "manager-1",
		}
	}

	tests := []struct {
		name     string
		cmd      AdjustBalanceCommand
		wantErr  error
		expected string
	}{
		{name: "notes required", cmd: adjust(10, "", "  "), wantErr: domain.ErrInvalidAdjustment},
		{name: "zero amount", cmd: adjust(0, "", "typo"), wantErr: domain.ErrInvalidAmount},
		{name: "unknown type", cmd: adjust(10, "gift", "typo"), wantErr: domain.ErrInvalidAdjustment},
		{name: "correction below zero", cmd: adjust(-150, domain.AdjustmentCorrection, "typo"), wantErr: domain.ErrInvalidAdjustment},
		{name: "write off below zero", cmd: adjust(-150, domain.AdjustmentWriteOff, "bad debt"), expected: "-50"},
		{name: "decrease within balance", cmd: adjust(-40, domain.AdjustmentDiscount, "festival"), expected: "60"},
		{name: "increase ignores credit limit", cmd: adjust(5000, domain.AdjustmentFee, "late fee"), expected: "5100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCreditFixture(t)
			f.openAccount(t, 1000)
			_, err := f.svc.RecordCreditSale(ctx, sale(100))
			require.NoError(t, err)

			result, err := f.svc.AdjustBalance(ctx, tt.cmd)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assertBalance(t, "100", f.balance(t).OutstandingBalance)
				assert.Len(t, f.history(t), 1)
				return
			}

			require.NoError(t, err)
			assertBalance(t, tt.expected, *result.NewBalance)
			assert.Len(t, f.history(t), 2)
			adj := f.latest(t, domain.TransactionTypeAdjustment)
			assert.True(t, adj.Amount.IsPositive())
			assert.Equal(t, string(tt.cmd.AdjustmentType), adj.Metadata[domain.MetaAdjustmentType])
			f.assertLedgerMatchesBalance(t)
		})
	}
}

func TestCreditLedger_ReversalRules(t *testing.T) {
	ctx := context.Background()
	reverse := func(id string) ReverseTransactionCommand {
		return ReverseTransactionCommand{StoreID: testStore, TransactionID: id, Reason: "entered twice", CreatedBy: "manager-1"}
	}

	t.Run("reverses a credit sale once", func(t *testing.T) {
		f := newCreditFixture(t)
		f.openAccount(t, 1000)
		original, err := f.svc.RecordCreditSale(ctx, sale(300))
		require.NoError(t, err)

		result, err := f.svc.ReverseTransaction(ctx, reverse(original.TransactionID))
		require.NoError(t, err)
		assertBalance(t, "0", *result.NewBalance)

		assert.Len(t, f.history(t), 2)
		reversal := f.latest(t, domain.TransactionTypeReversal)
		assert.Equal(t, original.TransactionID, reversal.ReferenceID)
		assert.Equal(t, domain.DirectionDecrease, reversal.Metadata[domain.MetaDirection])
		f.assertLedgerMatchesBalance(t)

		_, err = f.svc.ReverseTransaction(ctx, reverse(original.TransactionID))
		assert.ErrorIs(t, err, domain.ErrInvalidReversal)

		_, err = f.svc.ReverseTransaction(ctx, reverse(result.TransactionID))
		assert.ErrorIs(t, err, domain.ErrInvalidReversal)
	})

	t.Run("reversing a payment adds it back without a credit check", func(t *testing.T) {
		f := newCreditFixture(t)
		f.openAccount(t, 100)
		_, err := f.svc.RecordCreditSale(ctx, sale(100))
		require.NoError(t, err)
		paid, err := f.svc.RecordPayment(ctx, payment(60))
		require.NoError(t, err)
		_, err = f.svc.RecordCreditSale(ctx, sale(60))
		require.NoError(t, err)

		result, err := f.svc.ReverseTransaction(ctx, reverse(paid.TransactionID))
		require.NoError(t, err)
		assertBalance(t, "160", *result.NewBalance)
		f.assertLedgerMatchesBalance(t)
	})

	t.Run("unknown original", func(t *testing.T) {
		f := newCreditFixture(t)
		_, err := f.svc.ReverseTransaction(ctx, reverse("CS-20260101000000-deadbeef"))
		assert.ErrorIs(t, err, domain.ErrInvalidReversal)
	})
}

func TestCreditLedger_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	f := newCreditFixture(t)
	f.openAccount(t, 1000)

	cmd := sale(250)
	cmd.IdempotencyKey = "order-42-charge"

	first, err := f.svc.RecordCreditSale(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.svc.RecordCreditSale(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, "replayed", second.Message)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assertBalance(t, "250", *second.NewBalance)

	assert.Len(t, f.history(t), 1)
	assertBalance(t, "250", f.balance(t).OutstandingBalance)

	records := f.history(t)
	assert.Equal(t, "order-42-charge", records[0].IdempotencyKey)
}

func TestCreditLedger_IdempotencyKeyMismatch(t *testing.T) {
	ctx := context.Background()
	f := newCreditFixture(t)
	f.openAccount(t, 1000)

	cmd := sale(250)
	cmd.IdempotencyKey = "reused-key"
	_, err := f.svc.RecordCreditSale(ctx, cmd)
	require.NoError(t, err)

	cmd.Amount = domain.MoneyFromInt(300)
	result, err := f.svc.RecordCreditSale(ctx, cmd)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyMismatch)
	assert.Equal(t, domain.CodeIdempotencyKeyMismatch, result.ErrorCode)
	assert.Len(t, f.history(t), 1)
}

func TestCreditLedger_RequiredIdempotencyKey(t *testing.T) {
	f := newCreditFixture(t, func(_ *CreditConfig, idem *idempotency.Config) {
		idem.RequireKey = true
	})
	f.openAccount(t, 1000)

	_, err := f.svc.RecordCreditSale(context.Background(), sale(10))
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	assert.Equal(t, 0, f.ledger.Count())

	cmd := sale(10)
	cmd.IdempotencyKey = "k-1"
	_, err = f.svc.RecordCreditSale(context.Background(), cmd)
	require.NoError(t, err)
}

func TestCreditLedger_ConcurrentSalesLoseNoUpdates(t *testing.T) {
	const writers = 20
	ctx := context.Background()
	f := newCreditFixture(t, func(cfg *CreditConfig, _ *idempotency.Config) {
		cfg.PrimaryRetries = 100
	})
	f.openAccount(t, 10000)

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordCreditSale(ctx, sale(10))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	record := f.balance(t)
	assertBalance(t, "200", record.OutstandingBalance)
	assert.Equal(t, int64(writers), record.Version)
	assert.Len(t, f.history(t), writers)
	f.assertLedgerMatchesBalance(t)
}

func TestCreditLedger_ConcurrentSalesRespectCreditLimit(t *testing.T) {
	const writers = 20
	ctx := context.Background()
	f := newCreditFixture(t, func(cfg *CreditConfig, _ *idempotency.Config) {
		cfg.PrimaryRetries = 100
	})
	f.openAccount(t, 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, rejected := 0, 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordCreditSale(ctx, sale(10))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			assert.ErrorIs(t, err, domain.ErrCreditLimitExceeded)
			rejected++
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	assert.Equal(t, 10, rejected)
	assertBalance(t, "100", f.balance(t).OutstandingBalance)
	f.assertLedgerMatchesBalance(t)
}

func TestCreditLedger_ExhaustedVersionRaces(t *testing.T) {
	f := newCreditFixture(t)
	f.openAccount(t, 1000)
	svc := f.build(&conflictingBalances{BalanceRepository: f.balances}, f.ledger)

	result, err := svc.RecordCreditSale(context.Background(), sale(10))
	require.ErrorIs(t, err, domain.ErrBalanceUpdateFailed)
	assert.Equal(t, domain.CodeBalanceUpdateFailed, result.ErrorCode)
	assertBalance(t, "0", f.balance(t).OutstandingBalance)
	assert.Equal(t, 0, f.ledger.Count())
}

func TestCreditLedger_CompensatesFailedLedgerAppend(t *testing.T) {
	f := newCreditFixture(t)
	f.openAccount(t, 1000)
	svc := f.build(f.balances, &failingLedger{LedgerRepository: f.ledger, err: errors.New("write concern timeout")})

	result, err := svc.RecordCreditSale(context.Background(), sale(300))
	require.ErrorIs(t, err, domain.ErrTransactionRecordFailed)
	assert.Equal(t, domain.CodeTransactionRecordFailed, result.ErrorCode)

	record := f.balance(t)
	assertBalance(t, "0", record.OutstandingBalance)
	assert.Equal(t, int64(2), record.Version, "forward write and its compensation")
	assert.Equal(t, 0, f.ledger.Count())
}

func TestCreditLedger_TimedOutAppendThatLandedIsKept(t *testing.T) {
	f := newCreditFixture(t)
	f.openAccount(t, 1000)
	svc := f.build(f.balances, &lateAckLedger{LedgerRepository: f.ledger})

	result, err := svc.RecordCreditSale(context.Background(), sale(300))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assertBalance(t, "300", *result.NewBalance)

	record := f.balance(t)
	assertBalance(t, "300", record.OutstandingBalance)
	assert.Equal(t, int64(1), record.Version, "no compensation")
	require.Len(t, f.history(t), 1)
	assert.Equal(t, result.TransactionID, f.history(t)[0].TransactionID)
	f.assertLedgerMatchesBalance(t)
}

func TestCreditLedger_TimedOutAppendThatDidNotLandIsCompensated(t *testing.T) {
	f := newCreditFixture(t)
	f.openAccount(t, 1000)
	svc := f.build(f.balances, &failingLedger{LedgerRepository: f.ledger, err: fmt.Errorf("insert: %w", context.DeadlineExceeded)})

	_, err := svc.RecordCreditSale(context.Background(), sale(300))
	require.ErrorIs(t, err, domain.ErrTransactionRecordFailed)
	assertBalance(t, "0", f.balance(t).OutstandingBalance)
	assert.Equal(t, 0, f.ledger.Count())
}

func TestCreditLedger_KeyCommittedOnceAcrossInstances(t *testing.T) {
	ctx := context.Background()
	f := newCreditFixture(t)
	f.openAccount(t, 1000)
	// each instance has its own idempotency cache; only the ledger is shared
	other := f.build(f.balances, f.ledger)

	cmd := sale(300)
	cmd.IdempotencyKey = "till-7-0042"
	first, err := f.svc.RecordCreditSale(ctx, cmd)
	require.NoError(t, err)

	second, err := other.RecordCreditSale(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assertBalance(t, "300", *second.NewBalance)

	assertBalance(t, "300", f.balance(t).OutstandingBalance)
	assert.Len(t, f.history(t), 1)
	f.assertLedgerMatchesBalance(t)

	t.Run("different amount under the same key", func(t *testing.T) {
		third := f.build(f.balances, f.ledger)
		changed := sale(50)
		changed.IdempotencyKey = "till-7-0042"
		result, err := third.RecordCreditSale(ctx, changed)
		require.ErrorIs(t, err, domain.ErrIdempotencyKeyMismatch)
		assert.False(t, result.Success)
		assertBalance(t, "300", f.balance(t).OutstandingBalance)
		assert.Len(t, f.history(t), 1)
	})
}

func TestCreditLedger_FailedCompensationIsCritical(t *testing.T) {
	f := newCreditFixture(t)
	f.openAccount(t, 1000)

	var logs lockedBuffer
	cfg := logging.DefaultConfig("test")
	cfg.Output = &logs

	balances := &flakyBalances{BalanceRepository: f.balances, allowedUpdates: 1}
	idem := idempotency.NewCache(idempotency.NewMemoryRepository(), nil, logging.NewNop().Logger)
	svc := NewCreditLedgerService(balances, &failingLedger{LedgerRepository: f.ledger, err: errors.New("primary stepped down")},
		idem, nil, DefaultCreditConfig(), logging.New(cfg), nil)

	cmd := sale(300)
	cmd.IdempotencyKey = "diverged-1"
	_, err := svc.RecordCreditSale(context.Background(), cmd)
	require.ErrorIs(t, err, domain.ErrTransactionRecordFailed)

	assertBalance(t, "300", f.balance(t).OutstandingBalance)
	assert.Contains(t, logs.String(), `"level":"CRITICAL"`)
	assert.Contains(t, logs.String(), "manual reconciliation required")

	// failures are not cached, so the client can retry once storage recovers
	outcome, err := idem.Check(context.Background(), idempotency.Request{
		Operation: string(domain.TransactionTypeCreditSale),
		StoreID:   testStore,
		Key:       "diverged-1",
	})
	require.NoError(t, err)
	assert.Nil(t, outcome)
}

func TestCreditLedger_ConcurrentReversalLosesToUniqueIndex(t *testing.T) {
	ctx := context.Background()
	f := newCreditFixture(t)
	f.openAccount(t, 1000)
	original, err := f.svc.RecordCreditSale(ctx, sale(300))
	require.NoError(t, err)
	_, err = f.svc.RecordCreditSale(ctx, sale(300))
	require.NoError(t, err)

	// another instance reverses the same original after our duplicate check
	racing := &racingLedger{LedgerRepository: f.ledger}
	racing.before = func() {
		_, err := f.svc.ReverseTransaction(ctx, ReverseTransactionCommand{
			StoreID: testStore, TransactionID: original.TransactionID, Reason: "first", CreatedBy: "a",
		})
		require.NoError(t, err)
	}
	svc := f.build(f.balances, racing)

	_, err = svc.ReverseTransaction(ctx, ReverseTransactionCommand{
		StoreID: testStore, TransactionID: original.TransactionID, Reason: "second", CreatedBy: "b",
	})
	require.ErrorIs(t, err, domain.ErrInvalidReversal)

	assertBalance(t, "300", f.balance(t).OutstandingBalance)
	assert.Len(t, f.history(t), 3)
	f.assertLedgerMatchesBalance(t)
}

func TestCreditLedger_GetCustomerLedgerPaginates(t *testing.T) {
	ctx := context.Background()
	f := newCreditFixture(t)
	f.openAccount(t, 1000)
	for i := 0; i < 5; i++ {
		_, err := f.svc.RecordCreditSale(ctx, sale(int64(10+i)))
		require.NoError(t, err)
	}

	query := GetCustomerLedgerQuery{StoreID: testStore, CustomerPhone: testPhone, Limit: 2}
	var seen []string
	for {
		page, err := f.svc.GetCustomerLedger(ctx, query)
		require.NoError(t, err)
		assertBalance(t, "60", page.Balance.OutstandingBalance)
		for _, tx := range page.Transactions {
			seen = append(seen, tx.TransactionID)
		}
		if page.NextCursor == "" {
			break
		}
		query.Cursor = page.NextCursor
	}
	assert.Len(t, seen, 5)

	_, err := f.svc.GetCustomerLedger(ctx, GetCustomerLedgerQuery{StoreID: testStore, CustomerPhone: testPhone, Cursor: "%%%"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.GetCustomerLedger(ctx, GetCustomerLedgerQuery{StoreID: testStore, CustomerPhone: "9999999999"})
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
}

// conflictingBalances loses every conditional write
type conflictingBalances struct {
	domain.BalanceRepository
}

func (c *conflictingBalances) UpdateBalance(context.Context, string, string, domain.Money, int64) (*domain.BalanceRecord, error) {
	return nil, domain.ErrVersionConflict
}

// flakyBalances accepts allowedUpdates writes, then fails every write
type flakyBalances struct {
	domain.BalanceRepository
	mu             sync.Mutex
	allowedUpdates int
}

func (f *flakyBalances) UpdateBalance(ctx context.Context, storeID, phone string, newBalance domain.Money, expectedVersion int64) (*domain.BalanceRecord, error) {
	f.mu.Lock()
	if f.allowedUpdates == 0 {
		f.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	f.allowedUpdates--
	f.mu.Unlock()
	return f.BalanceRepository.UpdateBalance(ctx, storeID, phone, newBalance, expectedVersion)
}

type failingLedger struct {
	domain.LedgerRepository
	err error
}

func (f *failingLedger) Append(context.Context, *domain.TransactionRecord) error {
	return f.err
}

// lateAckLedger writes the record and then reports a timeout, as when the
// server commits after the client deadline.
type lateAckLedger struct {
	domain.LedgerRepository
}

func (l *lateAckLedger) Append(ctx context.Context, record *domain.TransactionRecord) error {
	if err := l.LedgerRepository.Append(ctx, record); err != nil {
		return err
	}
	return fmt.Errorf("insert transaction: %w", context.DeadlineExceeded)
}

// racingLedger runs before on the first reversal lookup and then answers
// with the stale result.
type racingLedger struct {
	domain.LedgerRepository
	before func()
}

func (r *racingLedger) FindReversalOf(ctx context.Context, storeID, originalID string) (*domain.TransactionRecord, error) {
	if r.before != nil {
		r.before()
		r.before = nil
		return nil, domain.ErrTransactionNotFound
	}
	return r.LedgerRepository.FindReversalOf(ctx, storeID, originalID)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
