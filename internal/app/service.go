/**
 * @description
 * This file contains the business logic for the recurring-transfer CRUD
 * surface. Schedule expressions are validated here, on input, so the batch
 * engine only ever sees well-formed schedules.
 *
 * @dependencies
 * - internal/domain, internal/store, internal/schedule
 * - github.com/google/uuid: For transfer id generation.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/autotransfer-service/internal/domain"
	"github.com/transfa/autotransfer-service/internal/schedule"
	"github.com/transfa/autotransfer-service/internal/store"
)

// DefaultTotalInstallments applies when a creation request does not specify a
// contract length.
const DefaultTotalInstallments = 12

var ErrInvalidAmount = errors.New("transfer amount must be positive")

// Service provides the recurring-transfer CRUD logic.
type Service struct {
	repo   store.Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new CRUD service instance.
func NewService(repo store.Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// CreateTransfer registers a new recurring transfer instruction. The status is
// forced to ACTIVE regardless of anything the client sent, the contract date
// is today, and the next due date is computed from the schedule unless the
// request pins one explicitly.
func (s *Service) CreateTransfer(ctx context.Context, req domain.CreateTransferRequest) (*domain.RecurringTransfer, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := schedule.Validate(req.Schedule); err != nil {
		return nil, err
	}

	today := domain.DateOf(s.now())

	nextDue := time.Time{}
	if req.NextDueDate != nil {
		nextDue = domain.DateOf(*req.NextDueDate)
	} else {
		var err error
		nextDue, err = schedule.NextOccurrence(req.Schedule, today)
		if err != nil {
			return nil, err
		}
	}

	total := req.TotalInstallments
	if total <= 0 {
		total = DefaultTotalInstallments
	}

	transfer := &domain.RecurringTransfer{
		ID:                    uuid.New(),
		UserID:                req.UserID,
		SourceAccountID:       req.SourceAccountID,
		SourceAccountNumber:   req.SourceAccountNumber,
		DestAccountNumber:     req.DestAccountNumber,
		DestAccountName:       req.DestAccountName,
		DestBankCode:          req.DestBankCode,
		Amount:                req.Amount,
		Schedule:              req.Schedule,
		Memo:                  req.Memo,
		Status:                domain.TransferStatusActive,
		NextDueDate:           nextDue,
		ContractDate:          today,
		TotalInstallments:     total,
		CurrentInstallment:    1,
		RemainingInstallments: schedule.RemainingInstallments(total, 1),
	}

	if err := s.repo.CreateTransfer(ctx, transfer); err != nil {
		return nil, fmt.Errorf("failed to create recurring transfer: %w", err)
	}
	s.logger.Info("recurring transfer created", "transfer_id", transfer.ID, "user_id", transfer.UserID, "schedule", transfer.Schedule)
	return transfer, nil
}

// GetTransfer retrieves one recurring transfer by id.
func (s *Service) GetTransfer(ctx context.Context, transferID uuid.UUID) (*domain.RecurringTransfer, error) {
	return s.repo.FindTransferByID(ctx, transferID)
}

// ListBySourceAccount lists transfers debiting the given account.
func (s *Service) ListBySourceAccount(ctx context.Context, accountID uuid.UUID) ([]domain.RecurringTransfer, error) {
	return s.repo.FindTransfersBySourceAccount(ctx, accountID)
}

// ListByUser lists a user's transfer instructions.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.RecurringTransfer, error) {
	return s.repo.FindTransfersByUser(ctx, userID)
}

// UpdateTransfer applies an owner edit to the mutable terms of a transfer:
// destination, amount, schedule and memo. When the schedule changes, the next
// due date is recomputed from today; execution and installment state are
// always preserved.
func (s *Service) UpdateTransfer(ctx context.Context, transferID uuid.UUID, req domain.UpdateTransferRequest) (*domain.RecurringTransfer, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := schedule.Validate(req.Schedule); err != nil {
		return nil, err
	}

	transfer, err := s.repo.FindTransferByID(ctx, transferID)
	if err != nil {
		return nil, err
	}

	if req.Schedule != transfer.Schedule {
		nextDue, err := schedule.NextOccurrence(req.Schedule, domain.DateOf(s.now()))
		if err != nil {
			return nil, err
		}
		transfer.NextDueDate = nextDue
	}

	transfer.DestAccountNumber = req.DestAccountNumber
	transfer.DestAccountName = req.DestAccountName
	transfer.DestBankCode = req.DestBankCode
	transfer.Amount = req.Amount
	transfer.Schedule = req.Schedule
	transfer.Memo = req.Memo

	if err := s.repo.UpdateTransferTerms(ctx, transfer); err != nil {
		return nil, fmt.Errorf("failed to update recurring transfer: %w", err)
	}
	s.logger.Info("recurring transfer updated", "transfer_id", transfer.ID)
	return transfer, nil
}

// DeleteTransfer removes a recurring transfer instruction.
func (s *Service) DeleteTransfer(ctx context.Context, transferID uuid.UUID) error {
	if err := s.repo.DeleteTransfer(ctx, transferID); err != nil {
		return err
	}
	s.logger.Info("recurring transfer deleted", "transfer_id", transferID)
	return nil
}
