package compose

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/confession-pipeline/internal/blur"
	"github.com/fpang/confession-pipeline/internal/capability"
	"github.com/fpang/confession-pipeline/internal/captions"
	"github.com/fpang/confession-pipeline/internal/ids"
	"github.com/fpang/confession-pipeline/internal/media"
	"github.com/fpang/confession-pipeline/internal/metrics"
)

// Options configure the burn passes and where the final artifact lands.
type Options struct {
	OutputDir           string
	WorkDir             string
	WatermarkWidthRatio float64
	CRF                 int
	FontSize            int
}

// Stage is the composite burn stage.
type Stage struct {
	tools media.Tools
	opts  Options
}

// NewStage returns a Stage with defaults filled in.
func NewStage(tools media.Tools, opts Options) *Stage {
	if opts.OutputDir == "" {
		opts.OutputDir = "output"
	}
	if opts.WatermarkWidthRatio <= 0 {
		opts.WatermarkWidthRatio = 0.18
	}
	if opts.CRF <= 0 {
		opts.CRF = 23
	}
	if opts.FontSize <= 0 {
		opts.FontSize = 18
	}
	return &Stage{tools: tools, opts: opts}
}

// Compose applies the watermark and then the captions to the blurred clip.
// Burn failures only clear the matching flag; the error return is reserved
// for an unreadable source clip or a failure to write the final artifact.
func (s *Stage) Compose(ctx context.Context, in blur.Result, segments []captions.Segment, watermark []byte, caps capability.Set) (ProcessingResult, error) {
	start := time.Now()
	src := in.Output.Path
	if _, err := os.Stat(src); err != nil {
		return ProcessingResult{}, fmt.Errorf("%w: %v", media.ErrUnreadable, err)
	}

	res := ProcessingResult{
		BlurApplied:     in.Applied,
		CaptionSegments: segments,
	}

	current := src
	var temps []string
	defer func() {
		for _, p := range temps {
			if p != current {
				os.Remove(p)
			}
		}
	}()

	if caps.Burn {
		current, temps = s.burn(ctx, in.Output, segments, watermark, &res)
	} else {
		log.Debug().Msg("Burn unavailable; captions left for runtime overlay")
	}

	final, hash, err := s.finalize(current, current != src)
	if err != nil {
		return ProcessingResult{}, err
	}
	res.ContentHash = hash
	res.OutputURI = "file://" + final

	metrics.New().
		Dimension("Stage", "compose").
		Since("ComposeMs", start).
		Metric("WatermarkApplied", boolMetric(res.WatermarkApplied), metrics.UnitCount).
		Metric("CaptionsBurned", boolMetric(res.CaptionsBurned), metrics.UnitCount).
		Metric("CaptionSegments", float64(len(segments)), metrics.UnitCount).
		Flush()
	log.Info().
		Str("hash", hash).
		Bool("blur", res.BlurApplied).
		Bool("watermark", res.WatermarkApplied).
		Bool("captions", res.CaptionsBurned).
		Int("segments", len(segments)).
		Dur("elapsed", time.Since(start)).
		Msg("Compose stage complete")
	return res, nil
}

// burn runs the combined pass and falls back to independent passes. It
// returns the newest file and every temp file it created.
func (s *Stage) burn(ctx context.Context, clip media.Clip, segments []captions.Segment, watermark []byte, res *ProcessingResult) (string, []string) {
	var temps []string
	current := clip.Path

	wmPath := ""
	if len(watermark) > 0 {
		p, cleanup, err := prepareWatermark(watermark, clip.Width, s.opts.WatermarkWidthRatio, s.opts.WorkDir)
		if err != nil {
			log.Warn().Err(err).Msg("Watermark asset unusable; skipping watermark")
		} else {
			defer cleanup()
			wmPath = p
		}
	}

	srtPath := ""
	if len(segments) > 0 {
		p, cleanup, err := media.TempOutput(s.opts.WorkDir, "confession-captions-*.srt")
		if err == nil {
			err = captions.WriteSRTFile(p, segments)
			if err != nil {
				cleanup()
			} else {
				defer cleanup()
				srtPath = p
			}
		}
		if err != nil {
			log.Warn().Err(err).Msg("Failed to write caption file; skipping caption burn")
		}
	}

	if wmPath != "" && srtPath != "" {
		out, err := s.pass(ctx, "combined", &temps, func(out string) []string {
			return combinedArgs(current, wmPath, srtPath, out, s.opts.CRF, s.opts.FontSize)
		})
		if err == nil {
			res.WatermarkApplied = true
			res.CaptionsBurned = true
			return out, temps
		}
		log.Warn().Err(err).Msg("Combined burn pass failed; falling back to independent passes")
		metrics.New().Dimension("Stage", "compose").Count("CombinedPassFailed").Flush()
	}

	if wmPath != "" {
		out, err := s.pass(ctx, "watermark", &temps, func(out string) []string {
			return watermarkArgs(current, wmPath, out, s.opts.CRF)
		})
		if err != nil {
			log.Warn().Err(err).Msg("Watermark pass failed")
		} else {
			res.WatermarkApplied = true
			current = out
		}
	}

	if srtPath != "" {
		in := current
		out, err := s.pass(ctx, "captions", &temps, func(out string) []string {
			return captionArgs(in, srtPath, out, s.opts.CRF, s.opts.FontSize)
		})
		if err != nil {
			log.Warn().Err(err).Msg("Caption burn pass failed; captions left for runtime overlay")
		} else {
			res.CaptionsBurned = true
			current = out
		}
	}
	return current, temps
}

// pass runs one ffmpeg encode into a fresh temp file.
func (s *Stage) pass(ctx context.Context, name string, temps *[]string, args func(out string) []string) (string, error) {
	out, cleanup, err := media.TempOutput(s.opts.WorkDir, "confession-"+name+"-*.mp4")
	if err != nil {
		return "", err
	}
	if _, err := s.tools.RunFFmpeg(ctx, args(out)...); err != nil {
		cleanup()
		return "", fmt.Errorf("%s pass: %w", name, err)
	}
	*temps = append(*temps, out)
	return out, nil
}

// finalize places path in the output directory as <hash>-<run>.mp4. The run
// suffix gives every Compose call its own file, so discarding one run never
// removes an artifact another run with identical bytes has enqueued. Files
// the stage owns are moved; the caller's files are copied.
func (s *Stage) finalize(path string, owned bool) (string, string, error) {
	hash, err := media.HashFile(path)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", media.ErrUnreadable, err)
	}
	if err := os.MkdirAll(s.opts.OutputDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}
	final, err := filepath.Abs(filepath.Join(s.opts.OutputDir, ArtifactName(hash, ids.GenerateID("")[:8])))
	if err != nil {
		return "", "", err
	}

	if owned {
		err := os.Rename(path, final)
		if err == nil {
			return final, hash, nil
		}
		log.Debug().Err(err).Msg("Rename failed; copying output")
		defer os.Remove(path)
	}
	if err := media.CopyFile(path, final); err != nil {
		return "", "", fmt.Errorf("write output: %w", err)
	}
	return final, hash, nil
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
