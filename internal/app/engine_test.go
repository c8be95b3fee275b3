package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/autotransfer-service/internal/domain"
	"github.com/transfa/autotransfer-service/internal/locks"
	"github.com/transfa/autotransfer-service/internal/store"
)

// engineRepoStub is an in-memory Repository for engine tests. ExecuteDebit
// mirrors the transactional semantics of the Postgres implementation: check,
// debit and ledger append land together or not at all.
type engineRepoStub struct {
	mu sync.Mutex

	due    []domain.RecurringTransfer
	dueErr error

	accounts map[uuid.UUID]*domain.Account
	debitErr error

	ledger []domain.LedgerEntry

	saved   []domain.RecurringTransfer
	saveErr error
}

func (s *engineRepoStub) FindDueActiveTransfers(ctx context.Context, asOf time.Time) ([]domain.RecurringTransfer, error) {
	if s.dueErr != nil {
		return nil, s.dueErr
	}
	return s.due, nil
}

func (s *engineRepoStub) ExecuteDebit(ctx context.Context, entry *domain.LedgerEntry) error {
	if s.debitErr != nil {
		return s.debitErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[entry.AccountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	if acct.Balance < entry.Amount {
		return store.ErrInsufficientFunds
	}
	acct.Balance -= entry.Amount
	entry.BalanceAfter = acct.Balance
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *engineRepoStub) SaveTransferState(ctx context.Context, transfer *domain.RecurringTransfer) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, *transfer)
	return nil
}

func (s *engineRepoStub) CreateTransfer(ctx context.Context, transfer *domain.RecurringTransfer) error {
	return nil
}

func (s *engineRepoStub) FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.RecurringTransfer, error) {
	return nil, store.ErrTransferNotFound
}

func (s *engineRepoStub) FindTransfersBySourceAccount(ctx context.Context, accountID uuid.UUID) ([]domain.RecurringTransfer, error) {
	return nil, nil
}

func (s *engineRepoStub) FindTransfersByUser(ctx context.Context, userID uuid.UUID) ([]domain.RecurringTransfer, error) {
	return nil, nil
}

func (s *engineRepoStub) UpdateTransferTerms(ctx context.Context, transfer *domain.RecurringTransfer) error {
	return nil
}

func (s *engineRepoStub) DeleteTransfer(ctx context.Context, transferID uuid.UUID) error {
	return nil
}

func (s *engineRepoStub) lastSaved(t *testing.T) domain.RecurringTransfer {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		t.Fatal("expected at least one SaveTransferState call")
	}
	return s.saved[len(s.saved)-1]
}

type publisherStub struct {
	mu        sync.Mutex
	published []string // routing keys, in order
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, routingKey)
	return nil
}

func (p *publisherStub) Close() {}

func testDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dueTransfer(accountID uuid.UUID, amount int64) domain.RecurringTransfer {
	return domain.RecurringTransfer{
		ID:                    uuid.New(),
		UserID:                uuid.New(),
		SourceAccountID:       accountID,
		SourceAccountNumber:   "0123456789",
		DestAccountNumber:     "9876543210",
		DestAccountName:       "Landlord",
		DestBankCode:          "058",
		Amount:                amount,
		Schedule:              "every month on day 25",
		Status:                domain.TransferStatusActive,
		NextDueDate:           testDate(2024, time.February, 25),
		ContractDate:          testDate(2024, time.January, 25),
		TotalInstallments:     12,
		CurrentInstallment:    1,
		RemainingInstallments: 11,
	}
}

func newTestEngine(repo store.Repository, producer *publisherStub) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := locks.NewRegistry(time.Second)
	if producer == nil {
		return NewEngine(repo, registry, nil, logger)
	}
	return NewEngine(repo, registry, producer, logger)
}

func TestEngineRun_SuccessfulTransfer(t *testing.T) {
	accountID := uuid.New()
	transfer := dueTransfer(accountID, 50000)
	repo := &engineRepoStub{
		due:      []domain.RecurringTransfer{transfer},
		accounts: map[uuid.UUID]*domain.Account{accountID: {ID: accountID, Balance: 100000}},
	}
	producer := &publisherStub{}
	engine := newTestEngine(repo, producer)

	today := testDate(2024, time.February, 25)
	report, err := engine.Run(context.Background(), today)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.Succeeded != 1 || report.Failed != 0 || report.Skipped != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := repo.accounts[accountID].Balance; got != 50000 {
		t.Fatalf("expected balance 50000 after debit, got %d", got)
	}
	if len(repo.ledger) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(repo.ledger))
	}
	entry := repo.ledger[0]
	if entry.Direction != domain.LedgerDirectionWithdrawal || entry.Amount != 50000 || entry.BalanceAfter != 50000 {
		t.Fatalf("unexpected ledger entry: %+v", entry)
	}

	saved := repo.lastSaved(t)
	if saved.CurrentInstallment != 2 {
		t.Fatalf("expected installment 2, got %d", saved.CurrentInstallment)
	}
	if saved.RemainingInstallments != 10 {
		t.Fatalf("expected 10 remaining installments, got %d", saved.RemainingInstallments)
	}
	if want := testDate(2024, time.March, 25); !saved.NextDueDate.Equal(want) {
		t.Fatalf("expected next due %s, got %s", want.Format(time.DateOnly), saved.NextDueDate.Format(time.DateOnly))
	}
	if saved.LastExecutionStatus != domain.ExecutionStatusSuccess {
		t.Fatalf("expected SUCCESS status, got %s", saved.LastExecutionStatus)
	}
	if saved.LastExecutionDate == nil || !saved.LastExecutionDate.Equal(today) {
		t.Fatalf("expected execution date %s, got %v", today.Format(time.DateOnly), saved.LastExecutionDate)
	}
	if len(producer.published) != 1 || producer.published[0] != domain.EventTransferExecuted {
		t.Fatalf("expected one executed event, got %v", producer.published)
	}
}

func TestEngineRun_InsufficientFundsRecordsFailure(t *testing.T) {
	accountID := uuid.New()
	transfer := dueTransfer(accountID, 50000)
	repo := &engineRepoStub{
		due:      []domain.RecurringTransfer{transfer},
		accounts: map[uuid.UUID]*domain.Account{accountID: {ID: accountID, Balance: 10000}},
	}
	producer := &publisherStub{}
	engine := newTestEngine(repo, producer)

	today := testDate(2024, time.February, 25)
	report, err := engine.Run(context.Background(), today)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.Failed != 1 || report.Succeeded != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !errors.Is(report.Results[0].Err, store.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds error, got %v", report.Results[0].Err)
	}
	if got := repo.accounts[accountID].Balance; got != 10000 {
		t.Fatalf("expected balance untouched, got %d", got)
	}
	if len(repo.ledger) != 0 {
		t.Fatalf("expected no ledger entry on failure, got %d", len(repo.ledger))
	}

	saved := repo.lastSaved(t)
	if saved.LastExecutionStatus != domain.ExecutionStatusFailed {
		t.Fatalf("expected FAILED status, got %s", saved.LastExecutionStatus)
	}
	if saved.LastExecutionDate == nil || !saved.LastExecutionDate.Equal(today) {
		t.Fatalf("expected failure date %s, got %v", today.Format(time.DateOnly), saved.LastExecutionDate)
	}
	// The instruction must stay due: failure never advances the schedule.
	if !saved.NextDueDate.Equal(transfer.NextDueDate) {
		t.Fatalf("expected next due date unchanged, got %s", saved.NextDueDate.Format(time.DateOnly))
	}
	if saved.CurrentInstallment != transfer.CurrentInstallment {
		t.Fatalf("expected installment unchanged, got %d", saved.CurrentInstallment)
	}
	if len(producer.published) != 1 || producer.published[0] != domain.EventTransferFailed {
		t.Fatalf("expected one failed event, got %v", producer.published)
	}
}

func TestEngineRun_SkipsTransferAlreadyExecutedThisMonth(t *testing.T) {
	accountID := uuid.New()
	transfer := dueTransfer(accountID, 50000)
	executed := testDate(2024, time.February, 10)
	transfer.LastExecutionDate = &executed
	transfer.LastExecutionStatus = domain.ExecutionStatusSuccess

	repo := &engineRepoStub{
		due:      []domain.RecurringTransfer{transfer},
		accounts: map[uuid.UUID]*domain.Account{accountID: {ID: accountID, Balance: 100000}},
	}
	engine := newTestEngine(repo, nil)

	report, err := engine.Run(context.Background(), testDate(2024, time.February, 25))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.Skipped != 1 || report.Succeeded != 0 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := repo.accounts[accountID].Balance; got != 100000 {
		t.Fatalf("expected no debit on skip, got balance %d", got)
	}
	if len(repo.saved) != 0 {
		t.Fatal("expected no state write on skip")
	}
}

func TestEngineRun_FailedLastMonthExecutesAgain(t *testing.T) {
	accountID := uuid.New()
	transfer := dueTransfer(accountID, 50000)
	// A FAILED record, even in the current month, must not trigger the skip.
	executed := testDate(2024, time.February, 20)
	transfer.LastExecutionDate = &executed
	transfer.LastExecutionStatus = domain.ExecutionStatusFailed

	repo := &engineRepoStub{
		due:      []domain.RecurringTransfer{transfer},
		accounts: map[uuid.UUID]*domain.Account{accountID: {ID: accountID, Balance: 100000}},
	}
	engine := newTestEngine(repo, nil)

	report, err := engine.Run(context.Background(), testDate(2024, time.February, 25))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("expected retry of previously failed transfer to succeed, got %+v", report)
	}
}

func TestEngineRun_BalanceUpdateConflict(t *testing.T) {
	accountID := uuid.New()
	transfer := dueTransfer(accountID, 50000)
	repo := &engineRepoStub{
		due:      []domain.RecurringTransfer{transfer},
		debitErr: store.ErrBalanceUpdateConflict,
	}
	engine := newTestEngine(repo, nil)

	report, err := engine.Run(context.Background(), testDate(2024, time.February, 25))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("expected conflict to be recorded as failure, got %+v", report)
	}
	if !errors.Is(report.Results[0].Err, store.ErrBalanceUpdateConflict) {
		t.Fatalf("expected balance update conflict, got %v", report.Results[0].Err)
	}
	if len(repo.ledger) != 0 {
		t.Fatal("expected no ledger entry after a conflicted debit")
	}
}

func TestEngineRun_SelectionFailureAbortsRun(t *testing.T) {
	repo := &engineRepoStub{dueErr: errors.New("connection refused")}
	engine := newTestEngine(repo, nil)

	_, err := engine.Run(context.Background(), testDate(2024, time.February, 25))
	if err == nil {
		t.Fatal("expected selection failure to abort the run")
	}
}

func TestEngineRun_OneFailureDoesNotStopSiblings(t *testing.T) {
	accountID := uuid.New()
	insufficient := dueTransfer(accountID, 80000)
	affordable := dueTransfer(accountID, 30000)
	repo := &engineRepoStub{
		due:      []domain.RecurringTransfer{insufficient, affordable},
		accounts: map[uuid.UUID]*domain.Account{accountID: {ID: accountID, Balance: 50000}},
	}
	engine := newTestEngine(repo, nil)

	report, err := engine.Run(context.Background(), testDate(2024, time.February, 25))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Failed != 1 || report.Succeeded != 1 {
		t.Fatalf("expected one failure and one success, got %+v", report)
	}
	if got := repo.accounts[accountID].Balance; got != 20000 {
		t.Fatalf("expected balance 20000 after the affordable debit, got %d", got)
	}
}

func TestEngineRun_SerializesDebitsOnSharedAccount(t *testing.T) {
	accountID := uuid.New()
	// Both transfers individually pass a stale-balance check, but together they
	// overdraw. Serialization plus the under-lock re-read must stop the second.
	first := dueTransfer(accountID, 60000)
	second := dueTransfer(accountID, 60000)
	repo := &engineRepoStub{
		due:      []domain.RecurringTransfer{first, second},
		accounts: map[uuid.UUID]*domain.Account{accountID: {ID: accountID, Balance: 100000}},
	}
	engine := newTestEngine(repo, nil)

	report, err := engine.Run(context.Background(), testDate(2024, time.February, 25))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 1 {
		t.Fatalf("expected exactly one debit to land, got %+v", report)
	}
	if got := repo.accounts[accountID].Balance; got != 40000 {
		t.Fatalf("expected balance 40000, got %d", got)
	}
}

func TestEngineRun_LockTimeoutAbandonsGroupUntouched(t *testing.T) {
	accountID := uuid.New()
	transfer := dueTransfer(accountID, 50000)
	repo := &engineRepoStub{
		due:      []domain.RecurringTransfer{transfer},
		accounts: map[uuid.UUID]*domain.Account{accountID: {ID: accountID, Balance: 100000}},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := locks.NewRegistry(20 * time.Millisecond)
	engine := NewEngine(repo, registry, nil, logger)

	// Hold the account lock for the duration of the run.
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = registry.WithAccountLock(context.Background(), accountID, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	report, err := engine.Run(context.Background(), testDate(2024, time.February, 25))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.TimedOut != 1 || report.Succeeded != 0 || report.Failed != 0 {
		t.Fatalf("expected one lock timeout, got %+v", report)
	}
	if got := repo.accounts[accountID].Balance; got != 100000 {
		t.Fatalf("expected balance untouched after lock timeout, got %d", got)
	}
	if len(repo.saved) != 0 {
		t.Fatal("expected no state writes after lock timeout; the row stays due")
	}
}

func TestEngineRun_SkipDoesNotWaitOnHeldLock(t *testing.T) {
	accountID := uuid.New()
	executedTransfer := dueTransfer(accountID, 50000)
	executed := testDate(2024, time.February, 10)
	executedTransfer.LastExecutionDate = &executed
	executedTransfer.LastExecutionStatus = domain.ExecutionStatusSuccess
	pendingTransfer := dueTransfer(accountID, 30000)

	repo := &engineRepoStub{
		due:      []domain.RecurringTransfer{executedTransfer, pendingTransfer},
		accounts: map[uuid.UUID]*domain.Account{accountID: {ID: accountID, Balance: 100000}},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := locks.NewRegistry(20 * time.Millisecond)
	engine := NewEngine(repo, registry, nil, logger)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = registry.WithAccountLock(context.Background(), accountID, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	report, err := engine.Run(context.Background(), testDate(2024, time.February, 25))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// The already-executed transfer is classified as skipped before the lock
	// is requested; only the pending one is charged to the lock timeout.
	if report.Skipped != 1 || report.TimedOut != 1 {
		t.Fatalf("expected one skip and one lock timeout, got %+v", report)
	}
	for _, res := range report.Results {
		if res.TransferID == executedTransfer.ID && res.Outcome != domain.OutcomeSkipped {
			t.Fatalf("expected executed transfer to be skipped, got %s", res.Outcome)
		}
	}
}

func TestEngineRun_ContextCancellationReportedDistinctly(t *testing.T) {
	accountID := uuid.New()
	transfer := dueTransfer(accountID, 50000)
	repo := &engineRepoStub{
		due:      []domain.RecurringTransfer{transfer},
		accounts: map[uuid.UUID]*domain.Account{accountID: {ID: accountID, Balance: 100000}},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := locks.NewRegistry(5 * time.Second)
	engine := NewEngine(repo, registry, nil, logger)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = registry.WithAccountLock(context.Background(), accountID, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := engine.Run(ctx, testDate(2024, time.February, 25))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.Canceled != 1 || report.TimedOut != 0 {
		t.Fatalf("expected cancellation reported distinctly from lock timeout, got %+v", report)
	}
	if !errors.Is(report.Results[0].Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", report.Results[0].Err)
	}
	if got := repo.accounts[accountID].Balance; got != 100000 {
		t.Fatalf("expected balance untouched after cancellation, got %d", got)
	}
}

func TestEngineRun_MalformedScheduleFailsBeforeDebit(t *testing.T) {
	accountID := uuid.New()
	transfer := dueTransfer(accountID, 50000)
	transfer.Schedule = "whenever I feel like it"
	repo := &engineRepoStub{
		due:      []domain.RecurringTransfer{transfer},
		accounts: map[uuid.UUID]*domain.Account{accountID: {ID: accountID, Balance: 100000}},
	}
	engine := newTestEngine(repo, nil)

	report, err := engine.Run(context.Background(), testDate(2024, time.February, 25))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("expected malformed schedule to fail the transfer, got %+v", report)
	}
	// Recurrence math runs before any money moves.
	if got := repo.accounts[accountID].Balance; got != 100000 {
		t.Fatalf("expected no debit for a malformed schedule, got balance %d", got)
	}
	if len(repo.ledger) != 0 {
		t.Fatal("expected no ledger entry for a malformed schedule")
	}
}

func TestEngineRun_EmptySelection(t *testing.T) {
	repo := &engineRepoStub{}
	engine := newTestEngine(repo, nil)

	report, err := engine.Run(context.Background(), testDate(2024, time.February, 25))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Selected != 0 || len(report.Results) != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
}
