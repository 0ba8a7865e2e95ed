package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/fpang/confession-pipeline/internal/compose"
	"github.com/fpang/confession-pipeline/internal/ids"
	"github.com/fpang/confession-pipeline/internal/metrics"
)

// Options tune the worker loop.
type Options struct {
	Concurrency int
	MaxAttempts int
	Backoff     Backoff
	Observer    Observer

	// Now defaults to time.Now.
	Now func() time.Time
}

// Queue is the durable publish queue.
type Queue struct {
	store   JobStore
	remote  Remote
	network NetworkStatus
	opts    Options

	sem  *semaphore.Weighted
	wake chan struct{}
}

// NewQueue returns a Queue. A nil network is treated as always online.
func NewQueue(store JobStore, remote Remote, network NetworkStatus, opts Options) *Queue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if network == nil {
		network = NewSwitch(true)
	}
	return &Queue{
		store:   store,
		remote:  remote,
		network: network,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		wake:    make(chan struct{}, 1),
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue persists a new job and returns its tempId.
func (q *Queue) Enqueue(ctx context.Context, result compose.ProcessingResult, userID string) (string, error) {
	tempID := ids.NewTempID()
	if _, err := q.EnqueueWithID(ctx, tempID, result, userID); err != nil {
		return "", err
	}
	return tempID, nil
}

// EnqueueWithID persists a job under a caller-chosen tempId. Enqueuing a
// tempId the queue already knows is a no-op and reports false.
func (q *Queue) EnqueueWithID(ctx context.Context, tempID string, result compose.ProcessingResult, userID string) (bool, error) {
	if !ids.ValidTempID(tempID) {
		return false, fmt.Errorf("invalid tempId %q", tempID)
	}
	now := q.opts.Now()
	inserted, err := q.store.Insert(ctx, &Job{
		TempID:      tempID,
		UserID:      userID,
		Result:      result,
		CreatedAt:   now,
		NextRetryAt: now,
		Status:      StatusPending,
	})
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", tempID, err)
	}
	if !inserted {
		log.Info().Str("tempId", tempID).Msg("Publish job already known; enqueue ignored")
		return false, nil
	}

	log.Info().Str("tempId", tempID).Str("hash", result.ContentHash).Msg("Publish job enqueued")
	metrics.New().Dimension("Stage", "publish").Count("PublishEnqueued").Flush()
	q.signal()
	return true, nil
}

// Run drives jobs to the remote until ctx is cancelled, then waits for
// in-flight attempts to settle.
func (q *Queue) Run(ctx context.Context) error {
	unlock, err := q.store.LockWorker()
	if err != nil {
		return err
	}
	defer unlock()

	if n, err := q.store.ResetInFlight(ctx, q.opts.Now()); err != nil {
		return err
	} else if n > 0 {
		log.Warn().Int("jobs", n).Msg("Recovered jobs left in flight by a previous run")
	}
	log.Info().Int("concurrency", q.opts.Concurrency).Msg("Publish worker started")

	defer func() {
		// Wait for every in-flight attempt to record its outcome.
		q.sem.Acquire(context.Background(), int64(q.opts.Concurrency))
		q.sem.Release(int64(q.opts.Concurrency))
		log.Info().Msg("Publish worker stopped")
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !q.network.Online() {
			log.Info().Msg("Offline; publish worker suspended")
			select {
			case <-q.network.Restored():
				log.Info().Msg("Online; publish worker resumed")
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := q.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		job, err := q.store.ClaimNext(ctx, q.opts.Now())
		if err != nil || job == nil {
			q.sem.Release(1)
			if err != nil {
				log.Error().Err(err).Msg("Failed to claim publish job")
			}
			if werr := q.waitForWork(ctx, err != nil); werr != nil {
				return werr
			}
			continue
		}

		go func() {
			defer q.sem.Release(1)
			q.attempt(ctx, job)
			q.signal()
		}()
	}
}

// waitForWork sleeps until the next job is due, an enqueue or finished
// attempt wakes the loop, connectivity drops, or ctx ends.
func (q *Queue) waitForWork(ctx context.Context, storeFailed bool) error {
	var timer <-chan time.Time
	if storeFailed {
		timer = time.After(q.opts.Backoff.Delay(1))
	} else if due, ok, err := q.store.NextDue(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to read next due time")
		timer = time.After(q.opts.Backoff.Delay(1))
	} else if ok {
		timer = time.After(max(0, due.Sub(q.opts.Now())))
	}

	select {
	case <-timer:
	case <-q.wake:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// attempt makes one upload attempt for a claimed job and records the result.
func (q *Queue) attempt(ctx context.Context, job *Job) {
	start := time.Now()
	job.AttemptCount++
	err := q.remote.Publish(ctx, *job)

	// Outcomes are recorded even when shutdown cancelled the attempt.
	sctx := context.WithoutCancel(ctx)
	logger := log.With().Str("tempId", job.TempID).Int("attempt", job.AttemptCount).Logger()
	rec := metrics.New().Dimension("Stage", "publish").Since("PublishAttemptMs", start)
	defer rec.Flush()

	if err == nil {
		job.Status = StatusSucceeded
		job.LastError = ""
		if ferr := q.store.Finish(sctx, job.TempID, StatusSucceeded, job.AttemptCount, ""); ferr != nil {
			// The upload is idempotent; return the job to Pending so this
			// worker records the success on a later attempt.
			logger.Error().Err(ferr).Msg("Published but failed to record success; will retry idempotently")
			if rerr := q.store.Reschedule(sctx, job.TempID, job.AttemptCount, q.opts.Now().Add(q.opts.Backoff.Delay(1)), ferr.Error()); rerr != nil {
				logger.Error().Err(rerr).Msg("Failed to return published job to pending")
			}
			return
		}
		rec.Count("PublishSucceeded")
		logger.Info().Dur("elapsed", time.Since(start)).Msg("Publish succeeded")
		q.observe(sctx, *job, nil)
		return
	}

	job.LastError = err.Error()
	interrupted := ctx.Err() != nil
	to := StatusPending
	job.NextRetryAt = q.opts.Now()
	switch {
	case interrupted:
		// Shutdown interrupted the attempt; it does not count.
		job.AttemptCount--
	case IsPermanent(err) || job.AttemptCount >= q.opts.MaxAttempts:
		to = StatusFailed
	default:
		job.NextRetryAt = job.NextRetryAt.Add(q.opts.Backoff.Delay(job.AttemptCount))
	}

	status, serr := q.store.Settle(sctx, job.TempID, to, job.AttemptCount, job.NextRetryAt, job.LastError, q.opts.Now())
	if serr != nil {
		logger.Error().Err(serr).Str("to", string(to)).Msg("Failed to record publish attempt")
		return
	}
	job.Status = status

	switch status {
	case StatusCancelled:
		rec.Count("PublishCancelled")
		logger.Info().Msg("Publish cancelled after in-flight attempt")
		q.observe(sctx, *job, err)
	case StatusFailed:
		rec.Count("PublishDeadLettered")
		logger.Error().Err(err).Bool("permanent", IsPermanent(err)).Msg("Publish failed; job moved to dead letters")
		q.observe(sctx, *job, err)
	default:
		if interrupted {
			return
		}
		rec.Count("PublishRetried")
		logger.Warn().Err(err).Dur("retryIn", job.NextRetryAt.Sub(q.opts.Now())).Msg("Publish attempt failed; retry scheduled")
	}
}

func (q *Queue) observe(ctx context.Context, job Job, err error) {
	if q.opts.Observer != nil {
		q.opts.Observer.Observe(ctx, Outcome{Job: job, Status: job.Status, Err: err})
	}
}

// Cancel cancels a job. A Pending or dead-lettered job is removed at once;
// an InFlight job is cancelled when its attempt ends unless it succeeds.
func (q *Queue) Cancel(ctx context.Context, tempID string) (Status, error) {
	job, gerr := q.store.Get(ctx, tempID)
	if gerr != nil {
		log.Warn().Err(gerr).Str("tempId", tempID).Msg("Failed to load job before cancel; outcome event will be skipped")
	}
	status, err := q.store.RequestCancel(ctx, tempID, q.opts.Now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", err
		}
		return "", fmt.Errorf("cancel %s: %w", tempID, err)
	}
	if status == StatusCancelled && job != nil {
		job.Status = StatusCancelled
		q.observe(ctx, *job, nil)
	}
	log.Info().Str("tempId", tempID).Str("status", string(status)).Msg("Publish cancel requested")
	return status, nil
}

// Status reports a job's state, including finished jobs.
func (q *Queue) Status(ctx context.Context, tempID string) (Report, error) {
	job, err := q.store.Get(ctx, tempID)
	if err != nil {
		return Report{}, err
	}
	if job != nil {
		return reportFromJob(job), nil
	}
	r, err := q.store.Receipt(ctx, tempID)
	if err != nil {
		return Report{}, err
	}
	if r == nil {
		return Report{}, ErrNotFound
	}
	return reportFromReceipt(r), nil
}

// ListDeadLetters returns jobs that failed permanently.
func (q *Queue) ListDeadLetters(ctx context.Context) ([]Job, error) {
	return q.store.ListFailed(ctx)
}

// RetryDeadLetter returns a dead-lettered job to Pending with a fresh
// attempt budget.
func (q *Queue) RetryDeadLetter(ctx context.Context, tempID string) error {
	if err := q.store.Requeue(ctx, tempID, q.opts.Now()); err != nil {
		return err
	}
	log.Info().Str("tempId", tempID).Msg("Dead letter requeued")
	q.signal()
	return nil
}

// DiscardDeadLetter drops a dead-lettered job.
func (q *Queue) DiscardDeadLetter(ctx context.Context, tempID string) error {
	job, gerr := q.store.Get(ctx, tempID)
	if gerr != nil {
		log.Warn().Err(gerr).Str("tempId", tempID).Msg("Failed to load job before discard; outcome event will be skipped")
	}
	if err := q.store.Discard(ctx, tempID, q.opts.Now()); err != nil {
		return err
	}
	if job != nil {
		job.Status = StatusCancelled
		q.observe(ctx, *job, nil)
	}
	log.Info().Str("tempId", tempID).Msg("Dead letter discarded")
	return nil
}
