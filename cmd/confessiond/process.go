package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/confession-pipeline/internal/assets"
	"github.com/fpang/confession-pipeline/internal/awsboot"
	"github.com/fpang/confession-pipeline/internal/blur"
	"github.com/fpang/confession-pipeline/internal/captions"
	"github.com/fpang/confession-pipeline/internal/cli"
	"github.com/fpang/confession-pipeline/internal/compose"
	"github.com/fpang/confession-pipeline/internal/pipeline"
	"github.com/fpang/confession-pipeline/internal/s3util"
)

var (
	clipFlag           string
	userFlag           string
	transcriptFlag     string
	liveDetectionsFlag int
	noAIFlag           bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Blur, caption and compose one clip, then enqueue it for publishing",
	Long: `Process runs a clip through face blur and caption alignment in parallel,
composes the final artifact (watermark plus burned captions when the runtime
supports it) and enqueues it on the durable publish queue. The tempId printed
on success is the handle for "status".

The clip may be a local path or an s3://bucket/key URI.`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&clipFlag, "clip", "", "Clip to process (local path or s3:// URI)")
	processCmd.Flags().StringVar(&userFlag, "user", "", "Owner of the confession")
	processCmd.Flags().StringVar(&transcriptFlag, "transcript", "", "Transcript artifact to read, or to write after transcription")
	processCmd.Flags().IntVar(&liveDetectionsFlag, "live-detections", 0, "Faces the live blur saw during capture (used when live capture is enabled)")
	processCmd.Flags().BoolVar(&noAIFlag, "no-ai", false, "Skip Gemini face detection and transcription")
	processCmd.MarkFlagRequired("clip")
	processCmd.MarkFlagRequired("user")
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	initStart := time.Now()

	clipPath, err := cli.ResolveClipPath(clipFlag)
	if err != nil {
		return err
	}

	var aws *awsboot.AWSClients
	if bucket, key, ok := s3util.ParseURI(clipPath); ok {
		clients, err := awsboot.InitAWS(ctx)
		if err != nil {
			return err
		}
		aws = &clients
		local, cleanup, err := s3util.DownloadToTempFile(ctx, s3.NewFromConfig(clients.Config), bucket, key)
		if err != nil {
			return fmt.Errorf("download clip: %w", err)
		}
		defer cleanup()
		clipPath = local
	}

	caps := probeCapabilities(ctx)
	t := tools()

	var detector blur.FaceDetector
	var transcriber captions.Transcriber
	if !noAIFlag {
		if client := geminiClient(ctx, aws); client != nil {
			detector = blur.NewGeminiDetector(client, cfg.Blur.DetectorModel, cfg.Blur.RequestsPerSecond)
			transcriber = captions.NewGeminiTranscriber(client, cfg.Captions.TranscriberModel, cfg.Blur.RequestsPerSecond)
		}
	}

	watermark := assets.DefaultWatermark
	if cfg.Compose.WatermarkPath != "" {
		watermark, err = os.ReadFile(cfg.Compose.WatermarkPath)
		if err != nil {
			return fmt.Errorf("read watermark: %w", err)
		}
	}

	queue, store, err := openQueue(nil, nil, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	runner := pipeline.NewRunner(pipeline.Config{
		Tools:        t,
		Capabilities: caps,
		Blur: blur.NewStage(t, detector, blur.Options{
			SampleFPS:     cfg.Blur.SampleFPS,
			MaxFrames:     cfg.Blur.MaxFrames,
			Padding:       cfg.Blur.RegionPadding,
			Hold:          cfg.Blur.HoldWindow,
			MinConfidence: cfg.Blur.MinConfidence,
			CRF:           cfg.Compose.CRF,
			WorkDir:       cfg.Media.WorkDir,
		}),
		Aligner: captions.NewAligner(captions.Options{
			MaxSegmentDuration: cfg.Captions.MaxSegmentDuration,
			PauseThreshold:     cfg.Captions.PauseThreshold,
			MaxWordsPerSegment: cfg.Captions.MaxWordsPerSegment,
		}),
		Compose: compose.NewStage(t, compose.Options{
			OutputDir:           cfg.Compose.OutputDir,
			WorkDir:             cfg.Media.WorkDir,
			WatermarkWidthRatio: cfg.Compose.WatermarkWidthRatio,
			CRF:                 cfg.Compose.CRF,
		}),
		Queue:       queue,
		Transcriber: transcriber,
		Watermark:   watermark,
		MaxClips:    cfg.Pipeline.MaxConcurrentClips,
	})

	awsboot.StartupLog("confessiond-process", initStart).
		CommitHash(commitHash).
		LocalFile("queueDb", cfg.Publish.QueueDB).
		LocalFile("outputDir", cfg.Compose.OutputDir).
		Feature("liveBlur", caps.LiveBlur).
		Feature("postProcessBlur", caps.PostProcessBlur).
		Feature("burn", caps.Burn).
		Feature("faceDetector", detector != nil).
		Feature("transcriber", transcriber != nil).
		Log()

	outcome, err := runner.Process(ctx, pipeline.Request{
		ClipPath:           clipPath,
		UserID:             userFlag,
		Session:            blur.Session{LiveDetections: liveDetectionsFlag},
		TranscriptArtifact: transcriptFlag,
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("clipId", outcome.ClipID).
		Str("tempId", outcome.TempID).
		Str("hash", outcome.Result.ContentHash).
		Msg("Clip enqueued for publishing")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		ClipID string                   `json:"clipId"`
		TempID string                   `json:"tempId"`
		Result compose.ProcessingResult `json:"result"`
	}{outcome.ClipID, outcome.TempID, outcome.Result})
}
