/**
 * @description
 * Request DTOs for the recurring-transfer CRUD surface. Using distinct types
 * for API payloads and database models keeps the layers cleanly separated.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// CreateTransferRequest is the payload for registering a new recurring
// transfer. Status is not accepted from the client: new instructions always
// start ACTIVE. The contract date is fixed server-side at creation time.
type CreateTransferRequest struct {
	UserID              uuid.UUID  `json:"user_id"`
	SourceAccountID     uuid.UUID  `json:"source_account_id"`
	SourceAccountNumber string     `json:"source_account_number"`
	DestAccountNumber   string     `json:"dest_account_number"`
	DestAccountName     string     `json:"dest_account_name"`
	DestBankCode        string     `json:"dest_bank_code"`
	Amount              int64      `json:"amount"` // in minor units
	Schedule            string     `json:"schedule"`
	Memo                string     `json:"memo,omitempty"`
	TotalInstallments   int        `json:"total_installments,omitempty"` // defaults to 12
	NextDueDate         *time.Time `json:"next_due_date,omitempty"`      // computed from the schedule when absent
}

// UpdateTransferRequest carries the owner-editable terms of an existing
// transfer. Recurrence, installment and execution state are engine-owned and
// cannot be changed through this payload.
type UpdateTransferRequest struct {
	DestAccountNumber string `json:"dest_account_number"`
	DestAccountName   string `json:"dest_account_name"`
	DestBankCode      string `json:"dest_bank_code"`
	Amount            int64  `json:"amount"`
	Schedule          string `json:"schedule"`
	Memo              string `json:"memo,omitempty"`
}
