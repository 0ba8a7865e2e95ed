// Package store persists published confession records. The remote record is
// the feed's source of truth: one item per confession, keyed by the tempId the
// device assigned at enqueue time, so replays of the same publish job upsert
// the same item instead of creating duplicates.
//
// The table uses the single-table layout PK=CONFESSION#{tempId}, SK=META.
package store

import (
	"context"

	"github.com/fpang/confession-pipeline/internal/captions"
)

// Confession is the published record of one processed clip.
type Confession struct {
	TempID           string             `dynamodbav:"-" json:"tempId"`
	UserID           string             `dynamodbav:"userId" json:"userId"`
	ObjectKey        string             `dynamodbav:"objectKey" json:"objectKey"`
	ContentHash      string             `dynamodbav:"contentHash" json:"contentHash"`
	BlurApplied      bool               `dynamodbav:"blurApplied" json:"blurApplied"`
	WatermarkApplied bool               `dynamodbav:"watermarkApplied" json:"watermarkApplied"`
	CaptionsBurned   bool               `dynamodbav:"captionsBurned" json:"captionsBurned"`
	CaptionSegments  []captions.Segment `dynamodbav:"captionSegments,omitempty" json:"captionSegments,omitempty"`
	CreatedAt        int64              `dynamodbav:"createdAt" json:"createdAt"`
	PublishedAt      int64              `dynamodbav:"publishedAt" json:"publishedAt"`
}

// ConfessionStore is the remote record store.
//
// Get returns (nil, nil) when the record does not exist. Put performs
// full-item replacement (upsert semantics) and is safe to repeat.
type ConfessionStore interface {
	Put(ctx context.Context, c *Confession) error
	Get(ctx context.Context, tempID string) (*Confession, error)
}
