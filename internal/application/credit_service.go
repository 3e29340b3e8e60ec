package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/retail-platform/ledger-service/internal/domain"
	"github.com/retail-platform/ledger-service/pkg/idempotency"
	"github.com/retail-platform/ledger-service/pkg/logging"
	"github.com/retail-platform/ledger-service/pkg/metrics"
	"github.com/retail-platform/ledger-service/pkg/mongodb"
	"github.com/retail-platform/ledger-service/pkg/resilience"
	"github.com/retail-platform/ledger-service/pkg/tracing"
)

const (
	DefaultLedgerPageSize = 50
	MaxLedgerPageSize     = 200

	replayedMessage = "replayed"

	// bounds the read that decides whether an ambiguous append was written
	appendCheckTimeout = 5 * time.Second
)

// CreditConfig tunes the credit sagas
type CreditConfig struct {
	// PrimaryRetries bounds immediate re-read/re-write attempts of a forward balance update
	PrimaryRetries int
	// CompensationRetries bounds attempts to undo a balance update; higher than PrimaryRetries
	CompensationRetries int
	// DefaultCreditLimit applies to accounts opened by a first credit sale
	DefaultCreditLimit domain.Money
}

// DefaultCreditConfig returns the standard retry budgets
func DefaultCreditConfig() CreditConfig {
	return CreditConfig{
		PrimaryRetries:      3,
		CompensationRetries: 10,
		DefaultCreditLimit:  domain.MoneyFromInt(5000),
	}
}

// CreditLedgerService runs credit sales, payments, adjustments and reversals
// as sagas over the versioned balance store and the append-only ledger.
type CreditLedgerService struct {
	balances domain.BalanceRepository
	ledger   domain.LedgerRepository
	idem     *idempotency.Cache
	events   domain.EventPublisher
	config   CreditConfig
	logger   *logging.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewCreditLedgerService creates a new CreditLedgerService
func NewCreditLedgerService(
	balances domain.BalanceRepository,
	ledger domain.LedgerRepository,
	idem *idempotency.Cache,
	events domain.EventPublisher,
	config CreditConfig,
	logger *logging.Logger,
	m *metrics.Metrics,
) *CreditLedgerService {
	if events == nil {
		events = noopPublisher{}
	}
	if config.PrimaryRetries < 1 {
		config.PrimaryRetries = 1
	}
	if config.CompensationRetries < config.PrimaryRetries {
		config.CompensationRetries = config.PrimaryRetries
	}
	return &CreditLedgerService{
		balances: balances,
		ledger:   ledger,
		idem:     idem,
		events:   events,
		config:   config,
		logger:   logger.WithComponent("credit-ledger"),
		metrics:  m,
		tracer:   otel.Tracer("ledger-service/credit"),
		now:      time.Now,
	}
}

// operation identifies one mutating call for idempotency, logging and metrics
type operation struct {
	txType      domain.TransactionType
	storeID     string
	phone       string
	key         string
	fingerprint string
	validate    func() error
}

// balanceMutation is a prepared saga: the account snapshot it was validated
// against, the signed delta, and the ledger entry to write.
type balanceMutation struct {
	loaded *domain.BalanceRecord
	delta  domain.Money
	// check is re-evaluated against every fresh read of the account
	check       func(current *domain.BalanceRecord) error
	template    domain.TransactionRecord
	onDuplicate func(err error) error
}

// RecordCreditSale charges amount to the customer's tab, opening the account
// on the first sale when a customer name is supplied.
func (s *CreditLedgerService) RecordCreditSale(ctx context.Context, cmd RecordCreditSaleCommand) (*TransactionResult, error) {
	op := &operation{
		txType:      domain.TransactionTypeCreditSale,
		storeID:     cmd.StoreID,
		phone:       cmd.CustomerPhone,
		key:         cmd.IdempotencyKey,
		fingerprint: idempotency.ComputeFingerprint(cmd.StoreID, cmd.CustomerPhone, cmd.Amount.String(), cmd.OrderID),
		validate: func() error {
			if err := validateCommand(cmd); err != nil {
				return err
			}
			if cmd.CreditLimit != nil {
				if err := cmd.CreditLimit.CheckAmount(); err != nil {
					return err
				}
				if cmd.CreditLimit.IsNegative() {
					return fmt.Errorf("%w: credit limit must not be negative", domain.ErrInvalidAmount)
				}
			}
			return requirePositive(cmd.Amount)
		},
	}

	return s.run(ctx, op, func(ctx context.Context) (*balanceMutation, error) {
		check := func(current *domain.BalanceRecord) error {
			if !current.IsActive() {
				return domain.NewFieldError("customerPhone", "account is closed")
			}
			return current.CheckCredit(cmd.Amount)
		}

		record, err := s.loadOrOpen(ctx, cmd, check)
		if err != nil {
			return nil, err
		}

		metadata := map[string]string{}
		if cmd.OrderID != "" {
			metadata[domain.MetaOrderID] = cmd.OrderID
		}

		return &balanceMutation{
			loaded: record,
			delta:  cmd.Amount,
			check:  check,
			template: domain.TransactionRecord{
				Amount:    cmd.Amount,
				Notes:     cmd.Notes,
				Items:     cmd.Items,
				Metadata:  metadata,
				CreatedBy: cmd.CreatedBy,
			},
		}, nil
	})
}

// RecordPayment reduces the customer's tab. Overpayment leaves a negative
// balance and is allowed.
func (s *CreditLedgerService) RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (*TransactionResult, error) {
	if cmd.PaymentMethod == "" {
		cmd.PaymentMethod = domain.PaymentCash
	}
	op := &operation{
		txType:  domain.TransactionTypePayment,
		storeID: cmd.StoreID,
		phone:   cmd.CustomerPhone,
		key:     cmd.IdempotencyKey,
		fingerprint: idempotency.ComputeFingerprint(cmd.StoreID, cmd.CustomerPhone, cmd.Amount.String(),
			string(cmd.PaymentMethod), cmd.PaymentReference),
		validate: func() error {
			if err := validateCommand(cmd); err != nil {
				return err
			}
			if !cmd.PaymentMethod.Valid() {
				return domain.NewFieldError("paymentMethod", fmt.Sprintf("unknown payment method %q", cmd.PaymentMethod))
			}
			return requirePositive(cmd.Amount)
		},
	}

	return s.run(ctx, op, func(ctx context.Context) (*balanceMutation, error) {
		record, err := s.balances.Get(ctx, cmd.StoreID, cmd.CustomerPhone)
		if err != nil {
			return nil, err
		}

		if cmd.Amount.GreaterThan(record.OutstandingBalance) {
			s.logger.WithContext(ctx).Warn("Overpayment recorded",
				"storeId", cmd.StoreID,
				"customerPhone", cmd.CustomerPhone,
				"outstanding", record.OutstandingBalance.String(),
				"amount", cmd.Amount.String(),
			)
		}

		metadata := map[string]string{domain.MetaPaymentMethod: string(cmd.PaymentMethod)}
		if cmd.PaymentReference != "" {
			metadata[domain.MetaPaymentReference] = cmd.PaymentReference
		}

		return &balanceMutation{
			loaded: record,
			delta:  cmd.Amount.Neg(),
			template: domain.TransactionRecord{
				Amount:    cmd.Amount,
				Notes:     cmd.Notes,
				Metadata:  metadata,
				CreatedBy: cmd.CreatedBy,
			},
		}, nil
	})
}

// AdjustBalance applies a signed manual adjustment. A decrease below zero is
// only allowed for write-offs.
func (s *CreditLedgerService) AdjustBalance(ctx context.Context, cmd AdjustBalanceCommand) (*TransactionResult, error) {
	if cmd.AdjustmentType == "" {
		cmd.AdjustmentType = domain.AdjustmentCorrection
	}
	op := &operation{
		txType:  domain.TransactionTypeAdjustment,
		storeID: cmd.StoreID,
		phone:   cmd.CustomerPhone,
		key:     cmd.IdempotencyKey,
		fingerprint: idempotency.ComputeFingerprint(cmd.StoreID, cmd.CustomerPhone, cmd.Amount.String(),
			string(cmd.AdjustmentType), cmd.Notes),
		validate: func() error {
			if err := validateCommand(cmd); err != nil {
				return err
			}
			if err := cmd.Amount.CheckAmount(); err != nil {
				return err
			}
			if cmd.Amount.IsZero() {
				return fmt.Errorf("%w: adjustment amount must not be zero", domain.ErrInvalidAmount)
			}
			if strings.TrimSpace(cmd.Notes) == "" {
				return fmt.Errorf("%w: notes are required", domain.ErrInvalidAdjustment)
			}
			if !cmd.AdjustmentType.Valid() {
				return fmt.Errorf("%w: unknown adjustment type %q", domain.ErrInvalidAdjustment, cmd.AdjustmentType)
			}
			return nil
		},
	}

	return s.run(ctx, op, func(ctx context.Context) (*balanceMutation, error) {
		record, err := s.balances.Get(ctx, cmd.StoreID, cmd.CustomerPhone)
		if err != nil {
			return nil, err
		}

		check := func(current *domain.BalanceRecord) error {
			if !cmd.Amount.IsNegative() || cmd.AdjustmentType == domain.AdjustmentWriteOff {
				return nil
			}
			if next := current.OutstandingBalance.Add(cmd.Amount); next.IsNegative() {
				return fmt.Errorf("%w: balance would become %s; use a write_off", domain.ErrInvalidAdjustment, next)
			}
			return nil
		}
		if err := check(record); err != nil {
			return nil, err
		}

		direction := domain.DirectionIncrease
		if cmd.Amount.IsNegative() {
			direction = domain.DirectionDecrease
		}

		return &balanceMutation{
			loaded: record,
			delta:  cmd.Amount,
			check:  check,
			template: domain.TransactionRecord{
				Amount: cmd.Amount.Abs(),
				Notes:  cmd.Notes,
				Metadata: map[string]string{
					domain.MetaDirection:      direction,
					domain.MetaAdjustmentType: string(cmd.AdjustmentType),
				},
				CreatedBy: cmd.CreatedBy,
			},
		}, nil
	})
}

// ReverseTransaction writes the inverse of an earlier transaction. Reversals
// cannot be reversed, an original can be reversed once, and a reversal may not
// leave the balance negative.
func (s *CreditLedgerService) ReverseTransaction(ctx context.Context, cmd ReverseTransactionCommand) (*TransactionResult, error) {
	op := &operation{
		txType:      domain.TransactionTypeReversal,
		storeID:     cmd.StoreID,
		key:         cmd.IdempotencyKey,
		fingerprint: idempotency.ComputeFingerprint(cmd.StoreID, cmd.TransactionID),
		validate:    func() error { return validateCommand(cmd) },
	}

	return s.run(ctx, op, func(ctx context.Context) (*balanceMutation, error) {
		original, err := s.ledger.FindByID(ctx, cmd.StoreID, cmd.TransactionID)
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, fmt.Errorf("%w: transaction %s not found", domain.ErrInvalidReversal, cmd.TransactionID)
		}
		if err != nil {
			return nil, err
		}
		op.phone = original.CustomerPhone

		delta, err := original.ReversalDelta()
		if err != nil {
			return nil, err
		}

		existing, err := s.ledger.FindReversalOf(ctx, cmd.StoreID, original.TransactionID)
		switch {
		case err == nil:
			return nil, fmt.Errorf("%w: %s was already reversed by %s", domain.ErrInvalidReversal, original.TransactionID, existing.TransactionID)
		case !errors.Is(err, domain.ErrTransactionNotFound):
			return nil, err
		}

		record, err := s.balances.Get(ctx, original.StoreID, original.CustomerPhone)
		if err != nil {
			return nil, err
		}

		check := func(current *domain.BalanceRecord) error {
			if next := current.OutstandingBalance.Add(delta); next.IsNegative() {
				return fmt.Errorf("%w: reversing %s would leave balance at %s", domain.ErrInvalidReversal, original.TransactionID, next)
			}
			return nil
		}
		if err := check(record); err != nil {
			return nil, err
		}

		direction := domain.DirectionIncrease
		if delta.IsNegative() {
			direction = domain.DirectionDecrease
		}

		return &balanceMutation{
			loaded: record,
			delta:  delta,
			check:  check,
			template: domain.TransactionRecord{
				Amount:      original.Amount,
				ReferenceID: original.TransactionID,
				Notes:       cmd.Reason,
				Metadata: map[string]string{
					domain.MetaDirection: direction,
					domain.MetaReason:    cmd.Reason,
				},
				CreatedBy: cmd.CreatedBy,
			},
			onDuplicate: func(err error) error {
				return fmt.Errorf("%w: %s was reversed concurrently", domain.ErrInvalidReversal, original.TransactionID)
			},
		}, nil
	})
}

// GetCustomerLedger returns the account and one page of its transactions, newest first
func (s *CreditLedgerService) GetCustomerLedger(ctx context.Context, query GetCustomerLedgerQuery) (*CustomerLedgerDTO, error) {
	ctx, span := s.tracer.Start(ctx, "CreditLedgerService.GetCustomerLedger",
		trace.WithAttributes(attribute.String("store.id", query.StoreID)))
	dto, err := s.getCustomerLedger(ctx, query)
	tracing.EndSpan(span, err)
	return dto, err
}

func (s *CreditLedgerService) getCustomerLedger(ctx context.Context, query GetCustomerLedgerQuery) (*CustomerLedgerDTO, error) {
	if err := validateCommand(query); err != nil {
		return nil, err
	}
	if query.From != nil && query.To != nil && query.To.Before(*query.From) {
		return nil, domain.NewFieldError("to", "must not be before from")
	}

	limit := query.Limit
	if limit <= 0 {
		limit = DefaultLedgerPageSize
	}
	if limit > MaxLedgerPageSize {
		limit = MaxLedgerPageSize
	}

	cursor, err := domain.DecodeLedgerCursor(query.Cursor)
	if err != nil {
		return nil, err
	}

	balance, err := s.balances.Get(ctx, query.StoreID, query.CustomerPhone)
	if err != nil {
		return nil, err
	}

	page, err := s.ledger.List(ctx, domain.LedgerQuery{
		StoreID:       query.StoreID,
		CustomerPhone: query.CustomerPhone,
		From:          query.From,
		To:            query.To,
		Cursor:        cursor,
		Limit:         limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}

	return &CustomerLedgerDTO{
		Balance:      balance,
		Transactions: page.Transactions,
		NextCursor:   page.Next.Encode(),
	}, nil
}

// run is the shared saga pipeline: validate, replay, prepare, commit,
// remember the outcome, publish.
func (s *CreditLedgerService) run(ctx context.Context, op *operation, prepare func(ctx context.Context) (*balanceMutation, error)) (result *TransactionResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "CreditLedgerService."+string(op.txType), trace.WithAttributes(
		attribute.String("store.id", op.storeID),
		attribute.String("ledger.operation", string(op.txType)),
		attribute.Bool("ledger.idempotent", op.key != ""),
	))
	defer func() {
		elapsed := time.Since(start)
		result.ProcessingTimeMs = elapsed.Milliseconds()
		s.metrics.RecordLedgerOperation(string(op.txType), result.Success, string(result.ErrorCode), elapsed)
		span.SetAttributes(attribute.Bool("ledger.replayed", result.Replayed))
		tracing.EndSpan(span, err)
	}()

	if op.validate != nil {
		if err := op.validate(); err != nil {
			return s.fail(ctx, op, err)
		}
	}

	req := idempotency.Request{
		Operation:   string(op.txType),
		StoreID:     op.storeID,
		Key:         op.key,
		Fingerprint: op.fingerprint,
	}
	cached, err := s.idem.Check(ctx, req)
	if err != nil {
		return s.fail(ctx, op, idempotencyError(err))
	}
	if cached != nil {
		return replayResult(cached), nil
	}

	m, err := prepare(ctx)
	if err != nil {
		return s.fail(ctx, op, err)
	}

	tx, err := s.commit(ctx, op, m)
	var taken *keyTakenError
	if errors.As(err, &taken) {
		return s.replayWinner(ctx, op, req, taken)
	}
	if err != nil {
		return s.fail(ctx, op, err)
	}

	message := successMessage(tx)
	outcome := idempotency.Outcome{
		TransactionID:    tx.TransactionID,
		ResultingBalance: tx.BalanceAfter.String(),
		Success:          true,
		Message:          message,
	}
	if err := s.idem.Store(ctx, req, outcome); err != nil {
		s.logger.WithContext(ctx).Warn("Failed to store idempotency outcome",
			"transactionId", tx.TransactionID,
			"error", err,
		)
	}

	if err := s.events.Publish(ctx, domain.NewTransactionRecordedEvent(tx)); err != nil {
		s.logger.WithContext(ctx).Warn("Failed to publish transaction event",
			"transactionId", tx.TransactionID,
			"error", err,
		)
	}

	s.logger.Audit(ctx, string(tx.Type), "customer_balance", tx.CustomerPhone, tx.CreatedBy, map[string]any{
		"storeId":       tx.StoreID,
		"transactionId": tx.TransactionID,
		"amount":        tx.Amount.String(),
		"balanceBefore": tx.BalanceBefore.String(),
		"balanceAfter":  tx.BalanceAfter.String(),
	})

	newBalance := tx.BalanceAfter
	return &TransactionResult{
		Success:       true,
		TransactionID: tx.TransactionID,
		NewBalance:    &newBalance,
		Message:       message,
	}, nil
}

// commit runs the two-step saga: conditional balance update, then ledger
// append. A failed append undoes the balance update.
func (s *CreditLedgerService) commit(ctx context.Context, op *operation, m *balanceMutation) (*domain.TransactionRecord, error) {
	txID := domain.NewTransactionID(op.txType)
	var (
		updated *domain.BalanceRecord
		before  domain.Money
		tx      *domain.TransactionRecord
	)

	steps := []sagaStep{
		{
			name: "update_balance",
			forward: func(ctx context.Context) error {
				var err error
				updated, before, err = s.applyDelta(ctx, op, m)
				return err
			},
			compensate: func(ctx context.Context) error {
				return s.revertDelta(ctx, op, m.delta)
			},
		},
		{
			name: "append_transaction",
			forward: func(ctx context.Context) error {
				rec := m.template
				rec.TransactionID = txID
				rec.StoreID = op.storeID
				rec.CustomerPhone = updated.CustomerPhone
				rec.Type = op.txType
				rec.BalanceBefore = before
				rec.BalanceAfter = updated.OutstandingBalance
				rec.IdempotencyKey = idempotency.NormalizeKey(op.key)
				rec.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
				tx = &rec
				err := s.ledger.Append(ctx, tx)
				if err != nil && isAmbiguousWrite(err) && s.appendLanded(ctx, op.storeID, txID) {
					s.logger.WithContext(ctx).Warn("Ledger append reported an error after the record was written",
						"transactionId", txID,
						"error", err,
					)
					return nil
				}
				return err
			},
		},
	}

	err := runSaga(ctx, steps)
	if err == nil {
		return tx, nil
	}

	sagaErr, ok := asSagaError(err)
	if !ok {
		return nil, err
	}
	if sagaErr.Step == "update_balance" {
		// nothing was written
		return nil, sagaErr.Err
	}

	log := s.logger.WithContext(ctx).WithOperation(string(op.txType)).WithStore(op.storeID)
	if sagaErr.Divergent() {
		s.metrics.RecordCompensation(string(op.txType), "failed")
		s.logger.Critical(ctx, "Balance and ledger diverged; manual reconciliation required",
			"storeId", op.storeID,
			"customerPhone", op.phone,
			"transactionId", txID,
			"delta", m.delta.String(),
			"appendError", sagaErr.Err.Error(),
			"compensationError", sagaErr.Unrecovered["update_balance"].Error(),
		)
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrTransactionRecordFailed, txID, sagaErr.Err)
	}

	s.metrics.RecordCompensation(string(op.txType), "compensated")
	log.Warn("Ledger append failed; balance update compensated",
		"transactionId", txID,
		"customerPhone", op.phone,
		"error", sagaErr.Err,
	)

	if errors.Is(sagaErr.Err, domain.ErrDuplicateTransaction) {
		if op.key != "" {
			winner, err := s.ledger.FindByIdempotencyKey(ctx, op.storeID, op.txType, idempotency.NormalizeKey(op.key))
			if err == nil {
				return nil, &keyTakenError{
					winner:      winner,
					sameRequest: winner.CustomerPhone == op.phone && winner.Amount.Equal(m.template.Amount),
				}
			}
		}
		if m.onDuplicate != nil {
			return nil, m.onDuplicate(sagaErr.Err)
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", domain.ErrTransactionRecordFailed, txID, sagaErr.Err)
}

// applyDelta is the compare-and-swap loop. The first attempt uses the
// snapshot validated in prepare; every retry re-reads and re-validates.
func (s *CreditLedgerService) applyDelta(ctx context.Context, op *operation, m *balanceMutation) (*domain.BalanceRecord, domain.Money, error) {
	current := m.loaded
	var before domain.Money

	cfg := resilience.ImmediateRetryConfig(s.config.PrimaryRetries, isVersionConflict)
	cfg.OnRetry = func(attempt int, err error) {
		s.metrics.RecordVersionConflict("balance")
		s.logger.WithContext(ctx).Debug("Balance version conflict, re-reading",
			"storeId", op.storeID,
			"customerPhone", op.phone,
			"attempt", attempt,
		)
	}

	updated, err := resilience.RetryWithResult(ctx, cfg, func() (*domain.BalanceRecord, error) {
		if current == nil {
			fresh, err := s.balances.Get(ctx, op.storeID, op.phone)
			if err != nil {
				return nil, err
			}
			current = fresh
		}
		snapshot := current
		current = nil

		if m.check != nil {
			if err := m.check(snapshot); err != nil {
				return nil, err
			}
		}
		before = snapshot.OutstandingBalance
		return s.balances.UpdateBalance(ctx, op.storeID, op.phone, before.Add(m.delta), snapshot.Version)
	})

	if errors.Is(err, resilience.ErrMaxRetriesExceeded) {
		return nil, before, fmt.Errorf("%w: lost %d consecutive version races", domain.ErrBalanceUpdateFailed, s.config.PrimaryRetries)
	}
	if err != nil {
		return nil, before, err
	}
	return updated, before, nil
}

// revertDelta subtracts delta from whatever the balance is now. It has a
// larger retry budget and also retries transient storage errors.
func (s *CreditLedgerService) revertDelta(ctx context.Context, op *operation, delta domain.Money) error {
	cfg := resilience.ImmediateRetryConfig(s.config.CompensationRetries, func(err error) bool {
		return isVersionConflict(err) || mongodb.IsTransient(err)
	})
	cfg.OnRetry = func(int, error) {
		s.metrics.RecordVersionConflict("balance")
	}

	return resilience.Retry(ctx, cfg, func() error {
		current, err := s.balances.Get(ctx, op.storeID, op.phone)
		if err != nil {
			return err
		}
		_, err = s.balances.UpdateBalance(ctx, op.storeID, op.phone, current.OutstandingBalance.Sub(delta), current.Version)
		return err
	})
}

// loadOrOpen returns the customer's account, creating it for a first credit
// sale. A new account is validated before it is written.
func (s *CreditLedgerService) loadOrOpen(ctx context.Context, cmd RecordCreditSaleCommand, check func(*domain.BalanceRecord) error) (*domain.BalanceRecord, error) {
	record, err := s.balances.Get(ctx, cmd.StoreID, cmd.CustomerPhone)
	if err == nil {
		if err := check(record); err != nil {
			return nil, err
		}
		return record, nil
	}
	if !errors.Is(err, domain.ErrCustomerNotFound) {
		return nil, err
	}

	if strings.TrimSpace(cmd.CustomerName) == "" {
		return nil, domain.ErrCustomerNameRequired
	}
	limit := s.config.DefaultCreditLimit
	if cmd.CreditLimit != nil {
		limit = *cmd.CreditLimit
	}

	record, err = domain.NewBalanceRecord(cmd.StoreID, cmd.CustomerPhone, cmd.CustomerName, limit)
	if err != nil {
		return nil, err
	}
	if err := check(record); err != nil {
		return nil, err
	}

	if err := s.balances.Create(ctx, record); err != nil {
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, err
		}
		// a concurrent first sale opened the account; continue against it
		record, err = s.balances.Get(ctx, cmd.StoreID, cmd.CustomerPhone)
		if err != nil {
			return nil, err
		}
		if err := check(record); err != nil {
			return nil, err
		}
		return record, nil
	}

	s.logger.WithContext(ctx).Info("Opened customer account",
		"storeId", cmd.StoreID,
		"customerPhone", cmd.CustomerPhone,
		"creditLimit", limit.String(),
	)
	return record, nil
}

func (s *CreditLedgerService) fail(ctx context.Context, op *operation, err error) (*TransactionResult, error) {
	code := domain.CodeOf(err)
	log := s.logger.WithContext(ctx).WithOperation(string(op.txType)).WithStore(op.storeID)
	if domain.IsClientError(err) {
		log.Warn("Credit operation rejected", "customerPhone", op.phone, "code", code, "error", err)
	} else {
		log.Error("Credit operation failed", "customerPhone", op.phone, "code", code, "error", err)
	}

	return &TransactionResult{
		Success:   false,
		Message:   failureMessage(err),
		Error:     err.Error(),
		ErrorCode: code,
	}, err
}

// appendLanded reports whether a ledger append that failed ambiguously was in
// fact written. A lookup failure counts as not written.
func (s *CreditLedgerService) appendLanded(ctx context.Context, storeID, txID string) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendCheckTimeout)
	defer cancel()
	_, err := s.ledger.FindByID(ctx, storeID, txID)
	return err == nil
}

// replayWinner answers a call that lost the race for its idempotency key to a
// concurrent call. The winner's stored outcome is preferred; it may not be
// stored yet, in which case the winner's ledger record is replayed if it
// carries the same customer and amount.
func (s *CreditLedgerService) replayWinner(ctx context.Context, op *operation, req idempotency.Request, taken *keyTakenError) (*TransactionResult, error) {
	winner := taken.winner
	s.logger.WithContext(ctx).Info("Idempotency key committed by a concurrent call; replaying",
		"storeId", op.storeID,
		"transactionId", winner.TransactionID,
	)
	cached, err := s.idem.Check(ctx, req)
	if err != nil {
		return s.fail(ctx, op, idempotencyError(err))
	}
	if cached != nil {
		return replayResult(cached), nil
	}
	if !taken.sameRequest {
		return s.fail(ctx, op, domain.ErrIdempotencyKeyMismatch)
	}

	balance := winner.BalanceAfter
	return &TransactionResult{
		Success:       true,
		TransactionID: winner.TransactionID,
		NewBalance:    &balance,
		Message:       replayedMessage,
		Replayed:      true,
	}, nil
}

func replayResult(outcome *idempotency.Outcome) *TransactionResult {
	result := &TransactionResult{
		Success:       outcome.Success,
		TransactionID: outcome.TransactionID,
		Message:       replayedMessage,
		Replayed:      true,
	}
	if balance, err := domain.ParseMoney(outcome.ResultingBalance); err == nil {
		result.NewBalance = &balance
	}
	return result
}

func idempotencyError(err error) error {
	switch {
	case errors.Is(err, idempotency.ErrKeyRequired):
		return domain.ErrIdempotencyKeyRequired
	case errors.Is(err, idempotency.ErrParameterMismatch):
		return domain.ErrIdempotencyKeyMismatch
	case errors.Is(err, idempotency.ErrKeyInvalid), errors.Is(err, idempotency.ErrKeyTooLong):
		return domain.NewFieldError("idempotencyKey", err.Error())
	default:
		return fmt.Errorf("%w: %v", domain.ErrDatabase, err)
	}
}

// keyTakenError reports that a concurrent call committed under the same
// idempotency key first. This call's balance update has been compensated.
type keyTakenError struct {
	winner      *domain.TransactionRecord
	sameRequest bool
}

func (e *keyTakenError) Error() string {
	return "idempotency key already committed by " + e.winner.TransactionID
}

// isAmbiguousWrite reports errors after which a write may or may not have been applied
func isAmbiguousWrite(err error) bool {
	return mongodb.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

func isVersionConflict(err error) bool {
	return errors.Is(err, domain.ErrVersionConflict)
}

func requirePositive(amount domain.Money) error {
	if err := amount.CheckAmount(); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", domain.ErrInvalidAmount, amount)
	}
	return nil
}

func successMessage(tx *domain.TransactionRecord) string {
	switch tx.Type {
	case domain.TransactionTypeCreditSale:
		return "credit sale recorded"
	case domain.TransactionTypePayment:
		return "payment recorded"
	case domain.TransactionTypeAdjustment:
		return "adjustment recorded"
	case domain.TransactionTypeReversal:
		return "transaction " + tx.ReferenceID + " reversed"
	default:
		return "transaction recorded"
	}
}

func failureMessage(err error) string {
	var coded *domain.Error
	if errors.As(err, &coded) {
		return coded.Error()
	}
	return "operation failed"
}
