package publish

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/confession-pipeline/internal/events"
)

// Outcome is a terminal result of a job.
type Outcome struct {
	Job    Job
	Status Status
	Err    error
}

// Observer is told about every terminal outcome.
type Observer interface {
	Observe(ctx context.Context, o Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, o Outcome)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, o Outcome) { f(ctx, o) }

// EventObserver forwards outcomes to EventBridge. Emit failures are logged;
// they never change the job's outcome.
type EventObserver struct {
	Emitter   *events.Emitter
	KeyPrefix string
}

// Observe implements Observer.
func (e *EventObserver) Observe(ctx context.Context, o Outcome) {
	ev := events.PublishOutcome{
		TempID:      o.Job.TempID,
		UserID:      o.Job.UserID,
		Status:      string(o.Status),
		ContentHash: o.Job.Result.ContentHash,
		Attempts:    o.Job.AttemptCount,
		Timestamp:   time.Now().Unix(),
	}
	if o.Status == StatusSucceeded {
		ev.ObjectKey = e.KeyPrefix + o.Job.Result.ContentHash + ".mp4"
	}
	if o.Err != nil {
		ev.Error = o.Err.Error()
	}
	if err := e.Emitter.EmitPublishOutcome(ctx, ev); err != nil {
		log.Warn().Err(err).Str("tempId", o.Job.TempID).Msg("Failed to emit publish outcome")
	}
}
