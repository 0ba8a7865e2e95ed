// Package pipeline runs clips through blur, caption alignment, compose and
// enqueue. Blur and alignment for a clip run concurrently and join before
// compose; a semaphore bounds how many clips are processed at once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fpang/confession-pipeline/internal/blur"
	"github.com/fpang/confession-pipeline/internal/capability"
	"github.com/fpang/confession-pipeline/internal/captions"
	"github.com/fpang/confession-pipeline/internal/compose"
	"github.com/fpang/confession-pipeline/internal/ids"
	"github.com/fpang/confession-pipeline/internal/media"
	"github.com/fpang/confession-pipeline/internal/metrics"
)

// ErrDiscarded is returned for a clip cancelled before it was enqueued.
var ErrDiscarded = errors.New("clip discarded")

// Enqueuer accepts finished artifacts for publishing.
type Enqueuer interface {
	Enqueue(ctx context.Context, result compose.ProcessingResult, userID string) (string, error)
}

// Request is one clip to process.
type Request struct {
	ClipPath string
	UserID   string
	Session  blur.Session

	// Transcript is the in-memory transcript, when the capture runtime has one.
	Transcript *captions.Transcript
	// TranscriptArtifact is a side-channel transcript file. When no transcript
	// is available from memory or this file and a Transcriber is configured,
	// the fresh transcription is written here.
	TranscriptArtifact string
}

// Outcome is what a successful run produced.
type Outcome struct {
	ClipID string
	TempID string
	Result compose.ProcessingResult
}

// Config wires the stages.
type Config struct {
	Tools        media.Tools
	Capabilities capability.Set
	Blur         *blur.Stage
	Aligner      *captions.Aligner
	Compose      *compose.Stage
	Queue        Enqueuer
	Transcriber  captions.Transcriber
	Watermark    []byte
	MaxClips     int
}

// Runner processes clips.
type Runner struct {
	cfg Config
	sem *semaphore.Weighted
}

// NewRunner returns a Runner.
func NewRunner(cfg Config) *Runner {
	if cfg.MaxClips <= 0 {
		cfg.MaxClips = 2
	}
	if cfg.Aligner == nil {
		cfg.Aligner = captions.NewAligner(captions.Options{})
	}
	return &Runner{cfg: cfg, sem: semaphore.NewWeighted(int64(cfg.MaxClips))}
}

// Handle tracks one submitted clip.
type Handle struct {
	ClipID string

	discard atomic.Bool
	done    chan struct{}
	once    sync.Once
	outcome Outcome
	err     error
}

// Cancel discards the clip. Before the run starts nothing is processed; during
// the run the current stage finishes and its output is dropped.
func (h *Handle) Cancel() {
	if h.discard.CompareAndSwap(false, true) {
		log.Info().Str("clipId", h.ClipID).Msg("Clip marked for discard")
	}
}

func (h *Handle) discarded() bool { return h.discard.Load() }

// Done is closed when the run finishes.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, h.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (h *Handle) finish(o Outcome, err error) {
	h.once.Do(func() {
		h.outcome, h.err = o, err
		close(h.done)
	})
}

// Submit starts processing req in the background.
func (r *Runner) Submit(ctx context.Context, req Request) *Handle {
	h := &Handle{ClipID: ids.GenerateID("clip-"), done: make(chan struct{})}
	go func() {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			h.finish(Outcome{}, err)
			return
		}
		defer r.sem.Release(1)
		o, err := r.run(ctx, h, req)
		h.finish(o, err)
	}()
	return h
}

// Process runs req and waits for the outcome.
func (r *Runner) Process(ctx context.Context, req Request) (Outcome, error) {
	return r.Submit(ctx, req).Wait(ctx)
}

func (r *Runner) run(ctx context.Context, h *Handle, req Request) (Outcome, error) {
	start := time.Now()
	logger := log.With().Str("clipId", h.ClipID).Str("clip", filepath.Base(req.ClipPath)).Logger()
	rec := metrics.New().Dimension("Stage", "pipeline")
	defer rec.Flush()

	if h.discarded() {
		rec.Count("ClipDiscarded")
		return Outcome{}, ErrDiscarded
	}

	clip, err := media.ProbeClip(ctx, r.cfg.Tools, req.ClipPath)
	if err != nil {
		rec.Count("ClipUnreadable")
		return Outcome{}, err
	}

	var (
		blurRes  blur.Result
		segments []captions.Segment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		blurRes, err = r.cfg.Blur.Blur(gctx, clip, r.cfg.Capabilities, req.Session)
		return err
	})
	g.Go(func() error {
		segments = r.captionSegments(gctx, clip, req)
		return nil
	})
	if err := g.Wait(); err != nil {
		blurRes.Cleanup()
		rec.Count("ClipUnreadable")
		return Outcome{}, err
	}
	defer blurRes.Cleanup()

	if h.discarded() {
		logger.Info().Msg("Clip discarded after blur and captions")
		rec.Count("ClipDiscarded")
		return Outcome{}, ErrDiscarded
	}

	result, err := r.cfg.Compose.Compose(ctx, blurRes, segments, r.cfg.Watermark, r.cfg.Capabilities)
	if err != nil {
		return Outcome{}, fmt.Errorf("compose: %w", err)
	}

	if h.discarded() {
		if err := os.Remove(result.LocalPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Msg("Failed to remove discarded output")
		}
		logger.Info().Msg("Clip discarded after compose")
		rec.Count("ClipDiscarded")
		return Outcome{}, ErrDiscarded
	}

	tempID, err := r.cfg.Queue.Enqueue(ctx, result, req.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("enqueue: %w", err)
	}

	rec.Count("ClipProcessed").Since("PipelineMs", start)
	logger.Info().
		Str("tempId", tempID).
		Str("hash", result.ContentHash).
		Bool("blur", result.BlurApplied).
		Bool("watermark", result.WatermarkApplied).
		Bool("captions", result.CaptionsBurned).
		Dur("elapsed", time.Since(start)).
		Msg("Clip processed and enqueued")
	return Outcome{ClipID: h.ClipID, TempID: tempID, Result: result}, nil
}

// captionSegments selects a transcript and aligns it. Caption failures only
// mean the clip publishes without captions.
func (r *Runner) captionSegments(ctx context.Context, clip media.Clip, req Request) []captions.Segment {
	sources := []captions.Source{
		captions.MemorySource{Transcript: req.Transcript},
		captions.ArtifactSource{Path: req.TranscriptArtifact},
	}
	if r.cfg.Transcriber != nil {
		sources = append(sources, &transcribeSource{
			tools:       r.cfg.Tools,
			transcriber: r.cfg.Transcriber,
			clip:        clip,
			artifact:    req.TranscriptArtifact,
		})
	}

	t, source, err := captions.Select(ctx, sources...)
	if err != nil {
		log.Info().Err(err).Str("clip", filepath.Base(clip.Path)).Msg("No transcript; publishing without captions")
		return nil
	}
	segments := r.cfg.Aligner.Align(t)
	log.Debug().Str("source", source).Int("segments", len(segments)).Msg("Captions aligned")
	return segments
}

// transcribeSource transcribes the clip's audio on demand.
type transcribeSource struct {
	tools       media.Tools
	transcriber captions.Transcriber
	clip        media.Clip
	artifact    string
}

func (s *transcribeSource) Name() string { return "transcriber" }

func (s *transcribeSource) Load(ctx context.Context) (captions.Transcript, bool, error) {
	audio, cleanup, err := media.ExtractAudio(ctx, s.tools, s.clip)
	if errors.Is(err, media.ErrNoAudio) {
		return captions.Transcript{}, false, nil
	}
	if err != nil {
		return captions.Transcript{}, false, err
	}
	defer cleanup()

	t, err := s.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return captions.Transcript{}, false, err
	}
	if s.artifact != "" {
		if err := captions.WriteArtifact(s.artifact, t); err != nil {
			log.Warn().Err(err).Str("path", s.artifact).Msg("Failed to persist transcript artifact")
		}
	}
	return t, true, nil
}
