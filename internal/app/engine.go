/**
 * @description
 * This file contains the recurring auto-transfer batch engine, the core of the
 * autotransfer-service. One Run processes a single day: it selects due ACTIVE
 * transfers, groups them by source account, serializes each group under the
 * per-account lock, performs the balance-checked debit, appends a ledger entry
 * and advances the recurrence/installment state.
 *
 * Key invariants:
 * - Money never moves twice for the same transfer in one calendar month; a
 *   transfer already marked SUCCESS this month is skipped before the lock.
 * - A failed transfer keeps its next due date so it is selected again on the
 *   next run. Failure never consumes an installment.
 * - No error from one transfer or one account group escapes the run; only a
 *   failure of the selection query aborts the batch.
 *
 * @dependencies
 * - internal/domain, internal/store, internal/schedule, internal/locks
 * - pkg/rabbitmq: Best-effort event publishing for the notification pipeline.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/autotransfer-service/internal/domain"
	"github.com/transfa/autotransfer-service/internal/locks"
	"github.com/transfa/autotransfer-service/internal/schedule"
	"github.com/transfa/autotransfer-service/internal/store"
	"github.com/transfa/autotransfer-service/pkg/rabbitmq"
)

// Engine orchestrates one day's batch of recurring transfers.
type Engine struct {
	repo     store.Repository
	locks    *locks.Registry
	producer rabbitmq.Publisher // nil disables event publishing
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates a batch engine. The producer may be nil; events are then
// not published.
func NewEngine(repo store.Repository, registry *locks.Registry, producer rabbitmq.Publisher, logger *slog.Logger) *Engine {
	return &Engine{
		repo:     repo,
		locks:    registry,
		producer: producer,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes the batch for the given processing date. It returns a report
// with one typed result per selected transfer. The only error it returns is a
// selection failure; everything downstream is contained per transfer and
// recorded in the report.
func (e *Engine) Run(ctx context.Context, today time.Time) (*domain.BatchReport, error) {
	today = domain.DateOf(today)
	started := e.now()
	e.logger.Info("auto-transfer batch starting", "run_date", today.Format(time.DateOnly))

	transfers, err := e.repo.FindDueActiveTransfers(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("failed to select due transfers: %w", err)
	}

	report := &domain.BatchReport{RunDate: today, Selected: len(transfers)}
	if len(transfers) == 0 {
		e.logger.Info("no due auto-transfers to process")
		report.Duration = e.now().Sub(started)
		return report, nil
	}

	groups := make(map[uuid.UUID][]domain.RecurringTransfer)
	for _, t := range transfers {
		groups[t.SourceAccountID] = append(groups[t.SourceAccountID], t)
	}
	e.logger.Info("processing due auto-transfers", "count", len(transfers), "accounts", len(groups))

	resultCh := make(chan domain.TransferResult, len(transfers))
	var wg sync.WaitGroup
	for accountID, group := range groups {
		wg.Add(1)
		go func(accountID uuid.UUID, group []domain.RecurringTransfer) {
			defer wg.Done()
			e.runAccountGroup(ctx, today, accountID, group, resultCh)
		}(accountID, group)
	}
	wg.Wait()
	close(resultCh)

	for res := range resultCh {
		report.Add(res)
	}
	report.Duration = e.now().Sub(started)

	e.logger.Info("auto-transfer batch finished",
		"selected", report.Selected,
		"succeeded", report.Succeeded,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"lock_timeouts", report.TimedOut,
		"canceled", report.Canceled,
		"duration", report.Duration,
	)
	return report, nil
}

// runAccountGroup serializes one account's transfers under its lock. The
// same-month idempotency guard runs before the lock is even requested, so
// already-executed transfers are reported as skipped no matter what happens to
// the lock. A lock acquisition failure abandons the rest of the group for this
// run: the rows are left untouched so the transfers stay due and are retried
// on the next firing.
func (e *Engine) runAccountGroup(ctx context.Context, today time.Time, accountID uuid.UUID, group []domain.RecurringTransfer, resultCh chan<- domain.TransferResult) {
	// Idempotency guard: a re-run within the same calendar month must not
	// move money again for a transfer that already succeeded.
	pending := make([]domain.RecurringTransfer, 0, len(group))
	for _, t := range group {
		if t.ExecutedThisMonth(today) {
			e.logger.Info("transfer already executed this month, skipping", "transfer_id", t.ID)
			resultCh <- domain.TransferResult{
				TransferID:      t.ID,
				SourceAccountID: t.SourceAccountID,
				Amount:          t.Amount,
				Outcome:         domain.OutcomeSkipped,
			}
			continue
		}
		pending = append(pending, t)
	}
	if len(pending) == 0 {
		return
	}

	err := e.locks.WithAccountLock(ctx, accountID, func() error {
		for i := range pending {
			resultCh <- e.executeOne(ctx, today, &pending[i])
		}
		return nil
	})
	if err == nil {
		return
	}

	var timeout *locks.AcquireTimeoutError
	outcome := domain.OutcomeCanceled
	if errors.As(err, &timeout) {
		outcome = domain.OutcomeLockTimeout
		e.logger.Warn("account lock wait timed out, skipping group", "account_id", accountID, "transfers", len(pending))
	} else {
		e.logger.Warn("account group canceled before lock acquisition", "account_id", accountID, "error", err)
	}
	for _, t := range pending {
		resultCh <- domain.TransferResult{
			TransferID:      t.ID,
			SourceAccountID: t.SourceAccountID,
			Amount:          t.Amount,
			Outcome:         outcome,
			Err:             err,
		}
	}
}

// executeOne processes a single due transfer under the account lock held by
// the caller. Every failure is recorded on the transfer row as FAILED with
// today's date, leaving the next due date alone.
func (e *Engine) executeOne(ctx context.Context, today time.Time, t *domain.RecurringTransfer) domain.TransferResult {
	result := domain.TransferResult{
		TransferID:      t.ID,
		SourceAccountID: t.SourceAccountID,
		Amount:          t.Amount,
	}

	if err := e.attempt(ctx, today, t); err != nil {
		e.logger.Warn("auto-transfer failed", "transfer_id", t.ID, "account_id", t.SourceAccountID, "error", err)
		e.recordFailure(ctx, today, t)
		e.publishOutcome(ctx, t, today, domain.ExecutionStatusFailed, err.Error())
		result.Outcome = domain.OutcomeFailed
		result.Err = err
		return result
	}

	e.logger.Info("auto-transfer executed",
		"transfer_id", t.ID,
		"account_id", t.SourceAccountID,
		"amount", t.Amount,
		"installment", t.CurrentInstallment,
		"next_due_date", t.NextDueDate.Format(time.DateOnly),
	)
	e.publishOutcome(ctx, t, today, domain.ExecutionStatusSuccess, "")
	result.Outcome = domain.OutcomeSuccess
	return result
}

// attempt performs the balance check, debit, ledger append and state advance.
// It mutates the transfer only after every step has succeeded, so the caller
// can record a failure against the unmodified row.
func (e *Engine) attempt(ctx context.Context, today time.Time, t *domain.RecurringTransfer) error {
	// Recurrence math first: it is pure, and a malformed expression must not
	// be discovered after money has already moved.
	nextDue, err := schedule.NextOccurrence(t.Schedule, today)
	if err != nil {
		return fmt.Errorf("failed to compute next due date: %w", err)
	}
	current := schedule.CurrentInstallment(t.ContractDate, today)
	remaining := schedule.RemainingInstallments(t.TotalInstallments, current)

	// The store re-reads the balance under a row lock and performs the check,
	// debit and ledger append in one transaction; the pre-selection balance
	// may be stale by the time this transfer's turn comes.
	if err := e.repo.ExecuteDebit(ctx, e.buildLedgerEntry(t, today)); err != nil {
		return fmt.Errorf("failed to execute debit: %w", err)
	}

	updated := *t
	executed := today
	updated.CurrentInstallment = current
	updated.RemainingInstallments = remaining
	updated.LastExecutionDate = &executed
	updated.LastExecutionStatus = domain.ExecutionStatusSuccess
	updated.NextDueDate = nextDue
	if err := e.repo.SaveTransferState(ctx, &updated); err != nil {
		return fmt.Errorf("failed to persist transfer state: %w", err)
	}

	*t = updated
	return nil
}

// recordFailure durably marks the attempt FAILED without advancing the next
// due date or the installment counters, so the instruction is picked up again
// on the next run. A persistence error here is logged and otherwise dropped;
// the row simply stays due.
func (e *Engine) recordFailure(ctx context.Context, today time.Time, t *domain.RecurringTransfer) {
	failed := *t
	executed := today
	failed.LastExecutionDate = &executed
	failed.LastExecutionStatus = domain.ExecutionStatusFailed
	if err := e.repo.SaveTransferState(ctx, &failed); err != nil {
		e.logger.Error("failed to record transfer failure", "transfer_id", t.ID, "error", err)
		return
	}
	*t = failed
}

// buildLedgerEntry prepares the ledger row for one debit. BalanceAfter is
// filled in by the store from the post-debit balance.
func (e *Engine) buildLedgerEntry(t *domain.RecurringTransfer, today time.Time) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:                uuid.New(),
		AccountID:         t.SourceAccountID,
		EntryDate:         today,
		EntryTime:         e.now().UTC().Format("150405"),
		Direction:         domain.LedgerDirectionWithdrawal,
		EntryType:         domain.LedgerTypeAutoTransfer,
		Amount:            t.Amount,
		CounterpartName:   t.DestAccountName,
		CounterpartBank:   t.DestBankCode,
		CounterpartNumber: t.DestAccountNumber,
		Memo:              t.Memo,
	}
}

// publishOutcome emits an auto_transfer event. Publishing is best effort: a
// broker problem never fails the transfer.
func (e *Engine) publishOutcome(ctx context.Context, t *domain.RecurringTransfer, today time.Time, status, reason string) {
	if e.producer == nil {
		return
	}
	routingKey := domain.EventTransferExecuted
	if status == domain.ExecutionStatusFailed {
		routingKey = domain.EventTransferFailed
	}
	event := domain.TransferExecutedEvent{
		TransferID:        t.ID,
		UserID:            t.UserID,
		SourceAccountID:   t.SourceAccountID,
		DestAccountNumber: t.DestAccountNumber,
		Amount:            t.Amount,
		ExecutedAt:        today,
		Status:            status,
		FailureReason:     reason,
	}
	if err := e.producer.Publish(ctx, rabbitmq.TransferEventsExchange, routingKey, event); err != nil {
		e.logger.Warn("failed to publish transfer event", "transfer_id", t.ID, "routing_key", routingKey, "error", err)
	}
}
