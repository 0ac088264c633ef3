package handler

import (
	"context"
	"log/slog"

	"github.com/pixelmint/genstudio/internal/domain"
	"github.com/pixelmint/genstudio/internal/jobstore"
	"github.com/pixelmint/genstudio/internal/ledger"
	"github.com/pixelmint/genstudio/internal/notify"
)

// jobSubmitter accepts new generation jobs
type jobSubmitter interface {
	Submit(ctx context.Context, userID, jobType string, batchSize int, payload string) (*domain.Job, error)
}

// jobReader is the slice of the job store the handlers need
type jobReader interface {
	GetByID(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, filter jobstore.JobFilter) ([]domain.Job, error)
	Complete(ctx context.Context, jobID, result string) error
}

// jobCompensator issues terminal transitions with their refunds
type jobCompensator interface {
	CancelAndRefund(ctx context.Context, jobID string) (*domain.Job, error)
	FailAndRefund(ctx context.Context, jobID, errMsg string) (*domain.Job, error)
}

// creditLedger is the slice of the ledger the handlers need
type creditLedger interface {
	Balance(ctx context.Context, userID string) (*domain.Balance, error)
	Check(ctx context.Context, userID string, amount int64) (bool, int64, error)
	Credit(ctx context.Context, userID string, amount int64, kind, relatedJobID, description string) (int64, error)
	ListTransactions(ctx context.Context, filter ledger.TxFilter) ([]domain.CreditTransaction, error)
}

// eventPublisher pushes job-state notifications onto the broker
type eventPublisher interface {
	PublishEvent(ctx context.Context, event *domain.JobEvent) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger     *slog.Logger
	Dispatcher jobSubmitter
	Store      jobReader
	Ledger     creditLedger
	Compensate jobCompensator
	Events     eventPublisher
	Hub        *notify.Hub
}

// JobHandler handles job submission and lifecycle HTTP requests
type JobHandler struct {
	logger     *slog.Logger
	dispatcher jobSubmitter
	store      jobReader
	compensate jobCompensator
	events     eventPublisher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:     deps.Logger,
		dispatcher: deps.Dispatcher,
		store:      deps.Store,
		compensate: deps.Compensate,
		events:     deps.Events,
	}
}

// CreditHandler handles credit balance and transaction HTTP requests
type CreditHandler struct {
	logger *slog.Logger
	ledger creditLedger
}

// NewCreditHandler creates a new CreditHandler instance
func NewCreditHandler(deps *Dependencies) *CreditHandler {
	return &CreditHandler{
		logger: deps.Logger,
		ledger: deps.Ledger,
	}
}

// CallbackHandler handles asynchronous generator completion callbacks
type CallbackHandler struct {
	logger     *slog.Logger
	store      jobReader
	compensate jobCompensator
	events     eventPublisher
}

// NewCallbackHandler creates a new CallbackHandler instance
func NewCallbackHandler(deps *Dependencies) *CallbackHandler {
	return &CallbackHandler{
		logger:     deps.Logger,
		store:      deps.Store,
		compensate: deps.Compensate,
		events:     deps.Events,
	}
}
