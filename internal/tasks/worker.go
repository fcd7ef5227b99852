package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/metrics"
)

type HandlerFunc func(ctx context.Context, job Job) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Worker pulls jobs from a Queue and runs them with a fixed number of
// goroutines. Failed jobs are re-enqueued until MaxAttempts.
type Worker struct {
	queue       Queue
	handle      HandlerFunc
	count       int
	MaxAttempts int
	RetryDelay  time.Duration
	log         *logger.Logger
}

func NewWorker(queue Queue, handle HandlerFunc, count int, log *logger.Logger) *Worker {
	if count <= 0 {
		count = 1
	}
	return &Worker{
		queue:       queue,
		handle:      handle,
		count:       count,
		MaxAttempts: 3,
		RetryDelay:  time.Second,
		log:         log.With("component", "ExchangeWorker"),
	}
}

// Run blocks until ctx is done or the queue is closed.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("Starting exchange workers now...", "count", w.count)
	var wg sync.WaitGroup
	for i := 0; i < w.count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	w.log.Info("Exchange workers stopped")
}

func (w *Worker) loop(ctx context.Context, id int) {
	log := w.log.With("worker", id)
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			log.Warn("Dequeue failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.RetryDelay):
			}
			continue
		}
		w.process(ctx, log, job)
	}
}

func (w *Worker) process(ctx context.Context, log *logger.Logger, job Job) {
	log = log.With("correlationID", job.CorrelationID, "roomID", job.RoomID, "attempt", job.Attempt)
	log.Debug("Processing exchange job")

	err := w.handle(ctx, job)
	if err == nil {
		metrics.JobsProcessed.WithLabelValues("completed").Inc()
		log.Info("Exchange job completed :)", "queued_for", time.Since(job.EnqueuedAt).String())
		return
	}

	if IsPermanent(err) || job.Attempt+1 >= w.MaxAttempts {
		metrics.JobsProcessed.WithLabelValues("dropped").Inc()
		log.Error("Exchange job failed permanently", "error", err)
		return
	}

	metrics.JobsProcessed.WithLabelValues("retried").Inc()
	log.Warn("Exchange job failed, re-enqueueing", "error", err)
	job.Attempt++
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.RetryDelay):
	}
	if err := w.queue.Enqueue(ctx, job); err != nil {
		log.Error("Failed to re-enqueue exchange job", "error", err)
	}
}
