/**
 * @description
 * This file defines the core domain models for the autotransfer-service.
 * A RecurringTransfer is a standing instruction to debit a source account on a
 * human-readable schedule and credit a destination account at another bank.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit to avoid
 *   floating-point inaccuracies with financial data.
 * - Date-valued fields (contract date, next due date, last execution date) carry
 *   calendar dates normalized to midnight UTC; see DateOf.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle status of a recurring transfer instruction.
const (
	TransferStatusActive   = "ACTIVE"
	TransferStatusInactive = "INACTIVE"
)

// Outcome of the most recent batch execution of a transfer.
const (
	ExecutionStatusSuccess = "SUCCESS"
	ExecutionStatusFailed  = "FAILED"
	ExecutionStatusPending = "PENDING"
)

// RecurringTransfer represents a standing auto-transfer instruction.
// This struct maps directly to the `recurring_transfers` table.
type RecurringTransfer struct {
	ID                    uuid.UUID  `json:"id"`
	UserID                uuid.UUID  `json:"user_id"`
	SourceAccountID       uuid.UUID  `json:"source_account_id"`
	SourceAccountNumber   string     `json:"source_account_number"`
	DestAccountNumber     string     `json:"dest_account_number"`
	DestAccountName       string     `json:"dest_account_name"`
	DestBankCode          string     `json:"dest_bank_code"`
	Amount                int64      `json:"amount"` // in minor units
	Schedule              string     `json:"schedule"`
	Memo                  string     `json:"memo,omitempty"`
	Status                string     `json:"status"` // ACTIVE, INACTIVE
	NextDueDate           time.Time  `json:"next_due_date"`
	ContractDate          time.Time  `json:"contract_date"`
	TotalInstallments     int        `json:"total_installments"`
	CurrentInstallment    int        `json:"current_installment"`
	RemainingInstallments int        `json:"remaining_installments"`
	LastExecutionDate     *time.Time `json:"last_execution_date,omitempty"`
	LastExecutionStatus   string     `json:"last_execution_status,omitempty"` // SUCCESS, FAILED, PENDING
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Account represents the slice of an account relevant to balance-checked debits.
type Account struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	AccountNumber string    `json:"account_number"`
	Balance       int64     `json:"balance"` // in minor units
}

// DateOf truncates a timestamp to its calendar date at midnight UTC.
// All recurrence math in the service operates on dates produced by this helper.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameCalendarMonth reports whether two dates fall in the same year and month.
func SameCalendarMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// ExecutedThisMonth reports whether the transfer already completed successfully
// within asOf's calendar month. The batch engine uses this as its idempotency
// guard so a re-run (e.g. after a restart) never double-moves money.
func (t *RecurringTransfer) ExecutedThisMonth(asOf time.Time) bool {
	return t.LastExecutionDate != nil &&
		t.LastExecutionStatus == ExecutionStatusSuccess &&
		SameCalendarMonth(*t.LastExecutionDate, asOf)
}
