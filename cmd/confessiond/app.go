package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/confession-pipeline/internal/awsboot"
	"github.com/fpang/confession-pipeline/internal/capability"
	"github.com/fpang/confession-pipeline/internal/cli"
	"github.com/fpang/confession-pipeline/internal/media"
	"github.com/fpang/confession-pipeline/internal/publish"
)

func tools() media.Tools {
	return media.Tools{
		FFmpeg:  cfg.Media.FFmpegPath,
		FFprobe: cfg.Media.FFprobePath,
		Runner:  media.ExecRunner{},
	}
}

func probeCapabilities(ctx context.Context) capability.Set {
	return capability.NewProber(capability.Options{
		Tools:                 tools(),
		LiveCapture:           cfg.Capability.LiveCapture,
		DisablePostProcess:    cfg.Capability.DisablePostProcess,
		DisableBurn:           cfg.Capability.DisableBurn,
		DisableHardwareDecode: cfg.Capability.DisableHardwareDecode,
		Timeout:               cfg.Media.ProbeTimeout,
	}).Set(ctx)
}

// geminiClient returns a validated client, or nil when no key can be found.
// The pipeline degrades without one: blur passes through and captions come
// only from supplied transcripts.
func geminiClient(ctx context.Context, aws *awsboot.AWSClients) *genai.Client {
	var keys awsboot.ParameterGetter
	if os.Getenv(awsboot.GeminiKeyEnv) == "" && cfg.Gemini.SSMParam != "" {
		if aws == nil {
			clients, err := awsboot.InitAWS(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("AWS unavailable; continuing without Gemini")
				return nil
			}
			aws = &clients
		}
		keys = aws.SSM
	}

	client, err := cli.InitGeminiClient(ctx, keys, cfg.Gemini.SSMParam, cfg.Blur.DetectorModel)
	if err != nil {
		log.Warn().Err(err).Msg("Gemini unavailable; face detection and transcription disabled")
		return nil
	}
	return client
}

func openQueue(remote publish.Remote, network publish.NetworkStatus, observer publish.Observer) (*publish.Queue, *publish.SQLiteStore, error) {
	store, err := publish.OpenSQLite(cfg.Publish.QueueDB)
	if err != nil {
		return nil, nil, fmt.Errorf("open publish queue: %w", err)
	}
	q := publish.NewQueue(store, remote, network, publish.Options{
		Concurrency: cfg.Publish.Concurrency,
		MaxAttempts: cfg.Publish.MaxAttempts,
		Backoff:     publish.Backoff{Base: cfg.Publish.BaseDelay, Max: cfg.Publish.MaxDelay},
		Observer:    observer,
	})
	return q, store, nil
}
