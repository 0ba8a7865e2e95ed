package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/confession-pipeline/internal/awsboot"
	"github.com/fpang/confession-pipeline/internal/gemini"
)

// InitGeminiClient resolves the API key (env first, then SSM via keys when
// non-nil), creates the client and validates it with model.
func InitGeminiClient(ctx context.Context, keys awsboot.ParameterGetter, ssmParam, model string) (*genai.Client, error) {
	if keys != nil {
		if err := awsboot.LoadGeminiKey(ctx, keys, ssmParam); err != nil {
			return nil, err
		}
	}

	client, err := gemini.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Gemini client initialized")

	if err := gemini.ValidateAPIKey(ctx, client, model); err != nil {
		return nil, DescribeValidationError(err)
	}
	log.Info().Msg("API key validation complete")
	return client, nil
}

// DescribeValidationError maps a key validation failure to an actionable message.
func DescribeValidationError(err error) error {
	if errors.Is(err, gemini.ErrNoKey) {
		return fmt.Errorf("no API key configured; set GEMINI_API_KEY or SSM_API_KEY_PARAM: %w", err)
	}
	switch gemini.Classify(err) {
	case gemini.KindInvalidKey:
		return fmt.Errorf("invalid API key: %w", err)
	case gemini.KindNetwork:
		return fmt.Errorf("network error, check your connection: %w", err)
	case gemini.KindQuota:
		return fmt.Errorf("API quota exceeded, try again later: %w", err)
	default:
		return fmt.Errorf("API key validation failed: %w", err)
	}
}
