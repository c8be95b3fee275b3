/**
 * @description
 * Event payloads published to RabbitMQ after batch execution so the
 * notification pipeline can inform users about executed or failed transfers.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys for auto-transfer batch events.
const (
	EventTransferExecuted = "auto_transfer.executed"
	EventTransferFailed   = "auto_transfer.failed"
)

// TransferExecutedEvent is the message payload published after a batch attempt.
type TransferExecutedEvent struct {
	TransferID        uuid.UUID `json:"transfer_id"`
	UserID            uuid.UUID `json:"user_id"`
	SourceAccountID   uuid.UUID `json:"source_account_id"`
	DestAccountNumber string    `json:"dest_account_number"`
	Amount            int64     `json:"amount"`
	ExecutedAt        time.Time `json:"executed_at"`
	Status            string    `json:"status"` // SUCCESS or FAILED
	FailureReason     string    `json:"failure_reason,omitempty"`
}
