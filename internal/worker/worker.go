package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pixelmint/genstudio/internal/domain"
)

// jobStore is the slice of the job store the worker needs
type jobStore interface {
	Claim(ctx context.Context, jobID, workerID string) (*domain.Job, error)
	Complete(ctx context.Context, jobID, result string) error
	RequeueForRetry(ctx context.Context, jobID, errMsg string) error
	IncrementAttempt(ctx context.Context, jobID string) (int, error)
	Heartbeat(ctx context.Context, jobID string) error
	MarkEnqueued(ctx context.Context, jobID string) error
	MarkAwaitingCallback(ctx context.Context, jobID string) error
}

// compensator issues the terminal-failure transition plus refund
type compensator interface {
	FailAndRefund(ctx context.Context, jobID, errMsg string) (*domain.Job, error)
}

// generatorClient runs one external generation attempt
type generatorClient interface {
	Generate(ctx context.Context, job *domain.Job) (string, error)
}

// jobQueue is the slice of the queue the worker needs
type jobQueue interface {
	ConsumeJobs(jobType, consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
	PublishRetry(ctx context.Context, env *domain.JobEnvelope, delay time.Duration) error
	PublishEvent(ctx context.Context, event *domain.JobEvent) error
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Store             jobStore
	Compensator       compensator
	Generator         generatorClient
	Queue             jobQueue
	JobTypes          []string
	Concurrency       int
	PrefetchCount     int
	HeartbeatInterval time.Duration
	RetryPolicy       RetryPolicy
}

// jobMessage pairs a parsed envelope with its broker delivery
type jobMessage struct {
	env      domain.JobEnvelope
	delivery amqp.Delivery
}

// Worker consumes job envelopes for a set of job types and drives each
// job through its state machine. Duplicate deliveries are absorbed by
// the claim guard; a worker that dies mid-job is recovered by the
// reconciler's stall sweep.
type Worker struct {
	logger            *slog.Logger
	store             jobStore
	compensator       compensator
	generator         generatorClient
	queue             jobQueue
	jobTypes          []string
	concurrency       int
	prefetchCount     int
	heartbeatInterval time.Duration
	policy            RetryPolicy
	workerID          string
	jobsChan          chan *jobMessage
	wg                sync.WaitGroup
	stopChan          chan struct{}
	stopOnce          sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	return &Worker{
		logger:            cfg.Logger,
		store:             cfg.Store,
		compensator:       cfg.Compensator,
		generator:         cfg.Generator,
		queue:             cfg.Queue,
		jobTypes:          cfg.JobTypes,
		concurrency:       cfg.Concurrency,
		prefetchCount:     cfg.PrefetchCount,
		heartbeatInterval: heartbeat,
		policy:            cfg.RetryPolicy,
		workerID:          fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		jobsChan:          make(chan *jobMessage),
		stopChan:          make(chan struct{}),
	}
}

// Start begins consuming and processing jobs until ctx is cancelled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Any("job_types", w.jobTypes),
		slog.Int("retry_ceiling", w.policy.Ceiling),
	)

	for _, jobType := range w.jobTypes {
		consumerTag := fmt.Sprintf("%s-%s", w.workerID, jobType)
		deliveries, err := w.queue.ConsumeJobs(jobType, consumerTag, w.prefetchCount)
		if err != nil {
			return fmt.Errorf("failed to consume %s jobs: %w", jobType, err)
		}

		w.wg.Add(1)
		go w.dispatchDeliveries(ctx, jobType, deliveries)
	}

	w.spawnWorkerPool(ctx)

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	return nil
}

// Stop gracefully stops the worker, draining in-flight jobs
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...", slog.String("worker_id", w.workerID))
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
}
