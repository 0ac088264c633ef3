package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.jobsChan:
			if !ok {
				return
			}

			w.logger.Info("Worker received job",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.env.JobID),
				slog.Int("attempt", msg.env.Attempt),
			)

			outcome := w.processJob(ctx, msg)

			switch outcome {
			case outcomeHandled:
				if err := msg.delivery.Ack(false); err != nil {
					w.logger.Error("Failed to ACK message",
						slog.String("worker_name", workerName),
						slog.String("job_id", msg.env.JobID),
						slog.String("error", err.Error()),
					)
				}
			case outcomeRequeue:
				// Transient infrastructure failure before the job was
				// owned: hand the delivery back to the broker.
				if err := msg.delivery.Nack(false, true); err != nil {
					w.logger.Error("Failed to NACK message",
						slog.String("worker_name", workerName),
						slog.String("job_id", msg.env.JobID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}
