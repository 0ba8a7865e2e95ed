// Package gemini constructs the Gemini client shared by the face detector and
// the transcriber, and classifies its errors.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/confession-pipeline/internal/metrics"
)

// DefaultModel is used when configuration leaves the model empty.
const DefaultModel = "gemini-3-flash-preview"

// ErrNoKey is returned when GEMINI_API_KEY is unset.
var ErrNoKey = errors.New("GEMINI_API_KEY is not set")

// NewClient creates a Gemini API client from GEMINI_API_KEY.
func NewClient(ctx context.Context) (*genai.Client, error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		return nil, ErrNoKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return client, nil
}

// ValidateAPIKey makes a minimal request to confirm the key works.
func ValidateAPIKey(ctx context.Context, client *genai.Client, model string) error {
	if model == "" {
		model = DefaultModel
	}
	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	kind := KindNone
	switch {
	case err != nil:
		kind = Classify(err)
	case resp == nil || len(resp.Candidates) == 0:
		kind = KindUnknown
		err = errors.New("API returned empty response")
	}

	metrics.New().
		Dimension("Result", kind.String()).
		Metric("ApiKeyValidationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("ApiKeyValidationResult").
		Flush()

	if err != nil {
		log.Error().Err(err).Str("kind", kind.String()).Msg("Gemini API key validation failed")
		return fmt.Errorf("validate API key (%s): %w", kind, err)
	}
	log.Info().Dur("duration", elapsed).Msg("Gemini API key validated")
	return nil
}
