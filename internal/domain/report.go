/**
 * @description
 * Typed per-transfer results and the aggregated batch report produced by one
 * daily engine run. Failures are recorded here instead of being swallowed so
 * operators can see exactly what each run did.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransferOutcome classifies the result of processing one due transfer.
type TransferOutcome string

const (
	// OutcomeSuccess: funds moved, ledger written, recurrence state advanced.
	OutcomeSuccess TransferOutcome = "success"
	// OutcomeSkipped: idempotency guard hit, already succeeded this calendar month.
	OutcomeSkipped TransferOutcome = "skipped"
	// OutcomeFailed: insufficient funds, balance conflict, or an unexpected error;
	// FAILED recorded on the row, next due date left unchanged.
	OutcomeFailed TransferOutcome = "failed"
	// OutcomeLockTimeout: the account lock could not be acquired in time; the
	// whole account group was abandoned for this run and rows were not touched.
	OutcomeLockTimeout TransferOutcome = "lock_timeout"
	// OutcomeCanceled: the run's context was canceled before the account lock
	// was acquired; rows were not touched.
	OutcomeCanceled TransferOutcome = "canceled"
)

// TransferResult is the typed result of one transfer's processing in a batch run.
type TransferResult struct {
	TransferID      uuid.UUID       `json:"transfer_id"`
	SourceAccountID uuid.UUID       `json:"source_account_id"`
	Amount          int64           `json:"amount"`
	Outcome         TransferOutcome `json:"outcome"`
	Err             error           `json:"-"`
}

// BatchReport aggregates the results of one daily batch run.
type BatchReport struct {
	RunDate   time.Time        `json:"run_date"`
	Selected  int              `json:"selected"`
	Succeeded int              `json:"succeeded"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	TimedOut  int              `json:"timed_out"`
	Canceled  int              `json:"canceled"`
	Results   []TransferResult `json:"results"`
	Duration  time.Duration    `json:"duration"`
}

// Add records a result and bumps the matching counter.
func (r *BatchReport) Add(res TransferResult) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomeSuccess:
		r.Succeeded++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	case OutcomeLockTimeout:
		r.TimedOut++
	case OutcomeCanceled:
		r.Canceled++
	}
}
