package gemini

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/confession-pipeline/internal/metrics"
)

const (
	uploadPollInterval = 2 * time.Second
	uploadTimeout      = 5 * time.Minute
)

// UploadFile sends a local file to the Files API and waits until it is ready
// for inference. The caller should DeleteFile when done.
func UploadFile(ctx context.Context, client *genai.Client, path, mimeType string) (*genai.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	start := time.Now()
	file, err := client.Files.Upload(ctx, f, &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	deadline := start.Add(uploadTimeout)
	for file.State == genai.FileStateProcessing {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for file processing after %v", uploadTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(uploadPollInterval):
		}
		file, err = client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get file state: %w", err)
		}
	}
	if file.State == genai.FileStateFailed {
		return nil, fmt.Errorf("file processing failed: %s", file.Name)
	}

	elapsed := time.Since(start)
	log.Debug().Str("name", file.Name).Dur("elapsed", elapsed).Msg("File ready for inference")
	metrics.New().
		Dimension("Operation", "filesApiUpload").
		Metric("GeminiFilesApiUploadMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("GeminiApiCalls").
		Flush()
	return file, nil
}

// DeleteFile removes an uploaded file, logging rather than failing.
func DeleteFile(ctx context.Context, client *genai.Client, file *genai.File) {
	if file == nil {
		return
	}
	if _, err := client.Files.Delete(ctx, file.Name, nil); err != nil {
		log.Warn().Err(err).Str("name", file.Name).Msg("Failed to delete uploaded file")
	}
}
