// Package awsboot builds the AWS clients and secrets a confessiond command
// needs. Each command composes only the helpers it uses, so a local
// "process" run never touches AWS unless a bucket or table is configured.
package awsboot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/confession-pipeline/internal/events"
	"github.com/fpang/confession-pipeline/internal/logging"
	"github.com/fpang/confession-pipeline/internal/store"
)

// GeminiKeyEnv is where the Gemini API key is read from and cached.
const GeminiKeyEnv = "GEMINI_API_KEY"

// AWSClients holds the loaded config and the SSM client.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// S3Clients holds S3 client, presigner, and bucket name.
type S3Clients struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
	Bucket    string
}

// InitAWS loads the default AWS config.
func InitAWS(ctx context.Context) (AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return AWSClients{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{Config: cfg, SSM: ssm.NewFromConfig(cfg)}, nil
}

// InitS3 creates an S3 client and presigner for bucket.
func InitS3(cfg aws.Config, bucket string) (S3Clients, error) {
	if bucket == "" {
		return S3Clients{}, errors.New("media bucket is required (CONFESSION_MEDIA_BUCKET)")
	}
	client := s3.NewFromConfig(cfg)
	return S3Clients{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Bucket:    bucket,
	}, nil
}

// InitDynamo creates the confession record store for table.
func InitDynamo(cfg aws.Config, table string) (*store.DynamoStore, error) {
	if table == "" {
		return nil, errors.New("confession table is required (CONFESSION_TABLE)")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), table), nil
}

// InitEvents creates an emitter for bus. Returns nil (with a warning) when no
// bus is configured.
func InitEvents(cfg aws.Config, bus string) *events.Emitter {
	if bus == "" {
		log.Warn().Msg("Event bus not set; publish outcome events disabled")
		return nil
	}
	return events.NewEmitter(eventbridge.NewFromConfig(cfg), bus)
}

// ParameterGetter is the subset of the SSM client used for secrets.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadGeminiKey fetches the Gemini API key from SSM Parameter Store unless
// GEMINI_API_KEY is already set, and exports it for the Gemini client.
func LoadGeminiKey(ctx context.Context, client ParameterGetter, paramName string) error {
	if os.Getenv(GeminiKeyEnv) != "" {
		return nil
	}
	if paramName == "" {
		return errors.New("no Gemini API key: set GEMINI_API_KEY or SSM_API_KEY_PARAM")
	}
	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("read API key from SSM %s: %w", paramName, err)
	}
	os.Setenv(GeminiKeyEnv, aws.ToString(result.Parameter.Value))
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Gemini API key loaded from SSM")
	return nil
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
