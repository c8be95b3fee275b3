/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. Contains all SQL
 * for the `recurring_transfers`, `accounts` and `ledger_entries` tables.
 *
 * @notes
 * - ExecuteDebit runs the balance read, check, update and ledger append in one
 *   transaction so the row lock is held across the whole debit and the
 *   conditional UPDATE guards the balance even if a caller bypasses the
 *   in-process account lock.
 * - Ledger entries are append-only; there is deliberately no update or delete.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/autotransfer-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const transferColumns = `
	id, user_id, source_account_id, source_account_number,
	dest_account_number, dest_account_name, dest_bank_code,
	amount, schedule, memo, status,
	next_due_date, contract_date,
	total_installments, current_installment, remaining_installments,
	last_execution_date, last_execution_status,
	created_at, updated_at`

func scanTransfer(row pgx.Row) (*domain.RecurringTransfer, error) {
	var t domain.RecurringTransfer
	var memo, lastStatus *string
	err := row.Scan(
		&t.ID, &t.UserID, &t.SourceAccountID, &t.SourceAccountNumber,
		&t.DestAccountNumber, &t.DestAccountName, &t.DestBankCode,
		&t.Amount, &t.Schedule, &memo, &t.Status,
		&t.NextDueDate, &t.ContractDate,
		&t.TotalInstallments, &t.CurrentInstallment, &t.RemainingInstallments,
		&t.LastExecutionDate, &lastStatus,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if memo != nil {
		t.Memo = *memo
	}
	if lastStatus != nil {
		t.LastExecutionStatus = *lastStatus
	}
	return &t, nil
}

func collectTransfers(rows pgx.Rows) ([]domain.RecurringTransfer, error) {
	defer rows.Close()
	var transfers []domain.RecurringTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *t)
	}
	return transfers, rows.Err()
}

// FindDueActiveTransfers returns every ACTIVE transfer whose next due date is
// on or before asOf. This is the batch engine's selection query.
func (r *PostgresRepository) FindDueActiveTransfers(ctx context.Context, asOf time.Time) ([]domain.RecurringTransfer, error) {
	query := `SELECT ` + transferColumns + `
		FROM recurring_transfers
		WHERE status = $1 AND next_due_date <= $2`
	rows, err := r.db.Query(ctx, query, domain.TransferStatusActive, domain.DateOf(asOf))
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

// ExecuteDebit performs an atomic auto-transfer debit. The FOR UPDATE read,
// sufficiency check, guarded balance update and ledger append all run inside
// one transaction, so the row lock is held until commit and a failure at any
// step rolls the whole debit back.
func (r *PostgresRepository) ExecuteDebit(ctx context.Context, entry *domain.LedgerEntry) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var balance int64
	// Use FOR UPDATE to lock the row, preventing race conditions.
	err = tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, entry.AccountID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrAccountNotFound
		}
		return err
	}

	if balance < entry.Amount {
		return ErrInsufficientFunds
	}

	// The guard clause keeps the balance non-negative even if another writer
	// slipped past the row lock; zero affected rows signals a conflict.
	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance = balance - $1, updated_at = NOW()
		WHERE id = $2 AND balance - $1 >= 0`, entry.Amount, entry.AccountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBalanceUpdateConflict
	}

	entry.BalanceAfter = balance - entry.Amount
	query := `
		INSERT INTO ledger_entries (
			id, account_id, entry_date, entry_time, direction, entry_type,
			amount, balance_after, counterpart_name, counterpart_bank,
			counterpart_number, memo, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())`
	_, err = tx.Exec(ctx, query,
		entry.ID, entry.AccountID, entry.EntryDate, entry.EntryTime,
		entry.Direction, entry.EntryType, entry.Amount, entry.BalanceAfter,
		entry.CounterpartName, entry.CounterpartBank, entry.CounterpartNumber,
		entry.Memo,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SaveTransferState persists the recurrence, installment and execution fields
// the batch engine advances. Terms (destination, amount, schedule, memo) are
// not touched here; owner edits go through UpdateTransferTerms.
func (r *PostgresRepository) SaveTransferState(ctx context.Context, transfer *domain.RecurringTransfer) error {
	query := `
		UPDATE recurring_transfers
		SET next_due_date = $1,
		    current_installment = $2,
		    remaining_installments = $3,
		    last_execution_date = $4,
		    last_execution_status = $5,
		    updated_at = NOW()
		WHERE id = $6`
	tag, err := r.db.Exec(ctx, query,
		transfer.NextDueDate, transfer.CurrentInstallment, transfer.RemainingInstallments,
		transfer.LastExecutionDate, transfer.LastExecutionStatus, transfer.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	return nil
}

// CreateTransfer inserts a new recurring transfer instruction.
func (r *PostgresRepository) CreateTransfer(ctx context.Context, transfer *domain.RecurringTransfer) error {
	query := `
		INSERT INTO recurring_transfers (
			id, user_id, source_account_id, source_account_number,
			dest_account_number, dest_account_name, dest_bank_code,
			amount, schedule, memo, status,
			next_due_date, contract_date,
			total_installments, current_installment, remaining_installments,
			last_execution_date, last_execution_status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, NOW(), NOW()
		)`
	_, err := r.db.Exec(ctx, query,
		transfer.ID, transfer.UserID, transfer.SourceAccountID, transfer.SourceAccountNumber,
		transfer.DestAccountNumber, transfer.DestAccountName, transfer.DestBankCode,
		transfer.Amount, transfer.Schedule, transfer.Memo, transfer.Status,
		transfer.NextDueDate, transfer.ContractDate,
		transfer.TotalInstallments, transfer.CurrentInstallment, transfer.RemainingInstallments,
		transfer.LastExecutionDate, nullIfEmpty(transfer.LastExecutionStatus),
	)
	return err
}

// FindTransferByID retrieves one recurring transfer.
func (r *PostgresRepository) FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.RecurringTransfer, error) {
	query := `SELECT ` + transferColumns + ` FROM recurring_transfers WHERE id = $1`
	t, err := scanTransfer(r.db.QueryRow(ctx, query, transferID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return t, nil
}

// FindTransfersBySourceAccount lists transfers debiting one account.
func (r *PostgresRepository) FindTransfersBySourceAccount(ctx context.Context, accountID uuid.UUID) ([]domain.RecurringTransfer, error) {
	query := `SELECT ` + transferColumns + ` FROM recurring_transfers WHERE source_account_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

// FindTransfersByUser lists a user's transfer instructions.
func (r *PostgresRepository) FindTransfersByUser(ctx context.Context, userID uuid.UUID) ([]domain.RecurringTransfer, error) {
	query := `SELECT ` + transferColumns + ` FROM recurring_transfers WHERE user_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

// UpdateTransferTerms persists an owner edit of the mutable terms. Recurrence
// and execution state stay whatever the engine last wrote, except the next due
// date which the service recomputes when the schedule changes.
func (r *PostgresRepository) UpdateTransferTerms(ctx context.Context, transfer *domain.RecurringTransfer) error {
	query := `
		UPDATE recurring_transfers
		SET dest_account_number = $1,
		    dest_account_name = $2,
		    dest_bank_code = $3,
		    amount = $4,
		    schedule = $5,
		    memo = $6,
		    next_due_date = $7,
		    updated_at = NOW()
		WHERE id = $8`
	tag, err := r.db.Exec(ctx, query,
		transfer.DestAccountNumber, transfer.DestAccountName, transfer.DestBankCode,
		transfer.Amount, transfer.Schedule, transfer.Memo, transfer.NextDueDate,
		transfer.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	return nil
}

// DeleteTransfer removes a recurring transfer instruction.
func (r *PostgresRepository) DeleteTransfer(ctx context.Context, transferID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM recurring_transfers WHERE id = $1`, transferID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
