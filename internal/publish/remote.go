package publish

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/confession-pipeline/internal/s3util"
	"github.com/fpang/confession-pipeline/internal/store"
)

// Remote delivers a job's artifact and record to durable storage. Publish
// must be idempotent for a given TempID.
type Remote interface {
	Publish(ctx context.Context, job Job) error
}

// S3DynamoRemote uploads the artifact to S3 under its content hash and then
// upserts the confession record keyed by tempId.
type S3DynamoRemote struct {
	S3        s3util.API
	Bucket    string
	KeyPrefix string
	Store     store.ConfessionStore
}

// ObjectKey returns the content-addressed key for hash.
func (r *S3DynamoRemote) ObjectKey(hash string) string {
	return r.KeyPrefix + hash + ".mp4"
}

// Publish implements Remote.
func (r *S3DynamoRemote) Publish(ctx context.Context, job Job) error {
	if job.Result.ContentHash == "" {
		return Permanent(fmt.Errorf("job %s has no content hash", job.TempID))
	}
	path := job.Result.LocalPath()
	if _, err := os.Stat(path); err != nil {
		return Permanent(fmt.Errorf("artifact for %s: %w", job.TempID, err))
	}

	key := r.ObjectKey(job.Result.ContentHash)
	uploaded, err := s3util.UploadContentAddressed(ctx, r.S3, r.Bucket, key, path, "video/mp4")
	if err != nil {
		return err
	}

	rec := &store.Confession{
		TempID:           job.TempID,
		UserID:           job.UserID,
		ObjectKey:        key,
		ContentHash:      job.Result.ContentHash,
		BlurApplied:      job.Result.BlurApplied,
		WatermarkApplied: job.Result.WatermarkApplied,
		CaptionsBurned:   job.Result.CaptionsBurned,
		CaptionSegments:  job.Result.CaptionSegments,
		CreatedAt:        job.CreatedAt.Unix(),
		PublishedAt:      time.Now().Unix(),
	}
	if err := r.Store.Put(ctx, rec); err != nil {
		return err
	}

	log.Debug().Str("tempId", job.TempID).Str("key", key).Bool("uploaded", uploaded).Msg("Confession published")
	return nil
}
