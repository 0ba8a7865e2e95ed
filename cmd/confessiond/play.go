package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/confession-pipeline/internal/awsboot"
	"github.com/fpang/confession-pipeline/internal/playercache"
)

var playCmd = &cobra.Command{
	Use:   "play <videoId> <key> [<videoId> <key>...]",
	Short: "Decode the first frame of each published video through the player cache",
	Long: `Play acquires a player for each video in turn, decodes one frame and
releases it, then prints the cache contents. Sources resolve to a local copy
in the player cache or output directory when present, otherwise to a
presigned S3 URL. Useful as a smoke test of the decode path and of eviction
when more videos are given than player.capacity allows.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 || len(args)%2 != 0 {
			return fmt.Errorf("expected <videoId> <key> pairs, got %d args", len(args))
		}
		return nil
	},
	RunE: runPlay,
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	caps := probeCapabilities(ctx)

	resolver := &playercache.SourceResolver{
		CacheDirs: []string{cfg.Player.CacheDir, cfg.Compose.OutputDir},
	}
	if cfg.Publish.Bucket != "" {
		aws, err := awsboot.InitAWS(ctx)
		if err != nil {
			return err
		}
		s3c, err := awsboot.InitS3(aws.Config, cfg.Publish.Bucket)
		if err != nil {
			return err
		}
		resolver.Bucket = s3c.Bucket
		resolver.Presign = playercache.S3Presign(s3c.Presigner, cfg.Player.PresignExpiry)
	}

	cache := playercache.New(cfg.Player.Capacity, playercache.NewFFmpegFactory(tools(), caps.HardwareDecode))
	defer cache.Close()

	for i := 0; i < len(args); i += 2 {
		videoID, key := args[i], args[i+1]
		uri, err := resolver.Resolve(ctx, key)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", key, err)
		}

		start := time.Now()
		player, err := cache.Acquire(ctx, videoID, uri)
		if err != nil {
			return fmt.Errorf("acquire %s: %w", videoID, err)
		}
		frame, err := player.Decoder.ReadFrame()
		cache.Release(videoID)
		if err != nil {
			return fmt.Errorf("decode %s: %w", videoID, err)
		}

		evt := log.Info().
			Str("videoId", videoID).
			Int("frameBytes", len(frame)).
			Dur("elapsed", time.Since(start))
		if d, ok := player.Decoder.(*playercache.FFmpegDecoder); ok {
			evt = evt.Int("width", d.Width).Int("height", d.Height)
		}
		evt.Msg("First frame decoded")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cache.Snapshot())
}
