package playercache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fpang/confession-pipeline/internal/compose"
	"github.com/fpang/confession-pipeline/internal/s3util"
)

// ErrNoSource means neither a local copy nor a presigner is available.
var ErrNoSource = errors.New("no playback source for object")

// PresignFunc returns a temporary URL for bucket/key.
type PresignFunc func(ctx context.Context, bucket, key string) (string, error)

// SourceResolver maps a published object key to something ffmpeg can open:
// a locally cached file when one exists, otherwise a presigned S3 URL.
type SourceResolver struct {
	CacheDirs []string
	Bucket    string
	Presign   PresignFunc
}

// S3Presign adapts an S3 presign client.
func S3Presign(client *s3.PresignClient, expiry time.Duration) PresignFunc {
	return func(ctx context.Context, bucket, key string) (string, error) {
		return s3util.GeneratePresignedURL(ctx, client, bucket, key, expiry)
	}
}

// Resolve returns the playback URI for key.
func (r *SourceResolver) Resolve(ctx context.Context, key string) (string, error) {
	name := filepath.Base(key)
	for _, dir := range r.CacheDirs {
		if dir == "" {
			continue
		}
		p := filepath.Join(dir, name)
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p, nil
		}
		// Composed artifacts carry a per-run suffix after the hash.
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if matches, _ := filepath.Glob(filepath.Join(dir, compose.ArtifactName(stem, "*"))); len(matches) > 0 {
			return matches[0], nil
		}
	}
	if r.Presign == nil || r.Bucket == "" {
		return "", ErrNoSource
	}
	return r.Presign(ctx, r.Bucket, key)
}
