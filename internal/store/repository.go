/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the autotransfer-service needs. The batch engine and the CRUD service
 * depend on this interface rather than on PostgreSQL directly, which keeps the
 * business logic testable with stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/autotransfer-service/internal/domain"
)

var (
	ErrTransferNotFound      = errors.New("recurring transfer not found")
	ErrAccountNotFound       = errors.New("account not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrBalanceUpdateConflict = errors.New("balance update conflict")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Batch engine collaborators
	FindDueActiveTransfers(ctx context.Context, asOf time.Time) ([]domain.RecurringTransfer, error)
	// ExecuteDebit performs one auto-transfer debit as a single transaction: a
	// pessimistic read of the account balance, the sufficiency check, the
	// guarded balance update and the ledger append either all land or none do.
	// entry.BalanceAfter is filled in from the post-debit balance. Returns
	// ErrAccountNotFound, ErrInsufficientFunds or ErrBalanceUpdateConflict.
	ExecuteDebit(ctx context.Context, entry *domain.LedgerEntry) error
	SaveTransferState(ctx context.Context, transfer *domain.RecurringTransfer) error

	// Recurring transfer CRUD
	CreateTransfer(ctx context.Context, transfer *domain.RecurringTransfer) error
	FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.RecurringTransfer, error)
	FindTransfersBySourceAccount(ctx context.Context, accountID uuid.UUID) ([]domain.RecurringTransfer, error)
	FindTransfersByUser(ctx context.Context, userID uuid.UUID) ([]domain.RecurringTransfer, error)
	UpdateTransferTerms(ctx context.Context, transfer *domain.RecurringTransfer) error
	DeleteTransfer(ctx context.Context, transferID uuid.UUID) error
}
