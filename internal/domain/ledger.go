/**
 * @description
 * Ledger entry model. One immutable row is appended per successful auto-transfer
 * debit; entries are never updated or deleted after creation.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry direction and type markers.
const (
	LedgerDirectionWithdrawal = "WD"
	LedgerTypeAutoTransfer    = "AUTO_TRANSFER"
)

// LedgerEntry is an immutable record of one completed debit affecting an account.
// BalanceAfter captures the account balance resulting from this movement.
type LedgerEntry struct {
	ID                uuid.UUID `json:"id"`
	AccountID         uuid.UUID `json:"account_id"`
	EntryDate         time.Time `json:"entry_date"`
	EntryTime         string    `json:"entry_time"` // HHMMSS wall-clock time
	Direction         string    `json:"direction"`  // WD
	EntryType         string    `json:"entry_type"` // AUTO_TRANSFER
	Amount            int64     `json:"amount"`     // in minor units
	BalanceAfter      int64     `json:"balance_after"`
	CounterpartName   string    `json:"counterpart_name"`
	CounterpartBank   string    `json:"counterpart_bank"`
	CounterpartNumber string    `json:"counterpart_number"`
	Memo              string    `json:"memo,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
