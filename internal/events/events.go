// Package events emits publish outcome events to EventBridge so downstream
// consumers (feed indexer, moderation) learn about confessions without
// polling the record store.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

const (
	source     = "confession-pipeline"
	detailType = "ConfessionPublishOutcome"
)

// PublishOutcome is the detail payload of one terminal publish outcome.
type PublishOutcome struct {
	TempID      string `json:"tempId"`
	UserID      string `json:"userId"`
	Status      string `json:"status"`
	ObjectKey   string `json:"objectKey,omitempty"`
	ContentHash string `json:"contentHash,omitempty"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// API is the subset of the EventBridge client used here.
type API interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Emitter publishes events to one bus.
type Emitter struct {
	client API
	bus    string
}

// NewEmitter returns an Emitter for bus. An empty bus means the default bus.
func NewEmitter(client API, bus string) *Emitter {
	return &Emitter{client: client, bus: bus}
}

// EmitPublishOutcome sends one PublishOutcome event.
func (e *Emitter) EmitPublishOutcome(ctx context.Context, event PublishOutcome) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal PublishOutcome: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(source),
		DetailType: aws.String(detailType),
		Detail:     aws.String(string(detail)),
	}
	if e.bus != "" {
		entry.EventBusName = aws.String(e.bus)
	}

	result, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("tempId", event.TempID).Str("status", event.Status).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(entry.ErrorCode)).
					Str("errorMessage", aws.ToString(entry.ErrorMessage)).
					Str("tempId", event.TempID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}

	log.Debug().Str("tempId", event.TempID).Str("status", event.Status).Msg("Publish outcome emitted to EventBridge")
	return nil
}
