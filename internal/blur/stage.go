// Package blur implements the face-region blur stage. It chooses between a
// live (capture-time) blur, a post-process ffmpeg pass driven by sampled face
// detections, and a pass-through for runtimes with neither.
package blur

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/confession-pipeline/internal/capability"
	"github.com/fpang/confession-pipeline/internal/media"
	"github.com/fpang/confession-pipeline/internal/metrics"
)

// ErrSourceUnreadable is returned when the input clip cannot be read.
var ErrSourceUnreadable = media.ErrUnreadable

// Mode records which path produced a Result.
type Mode string

const (
	ModeLive        Mode = "live"
	ModePostProcess Mode = "postprocess"
	ModePassThrough Mode = "passthrough"
)

// FaceDetector finds faces in sampled frames of clip.
type FaceDetector interface {
	Detect(ctx context.Context, clip media.Clip, frames *media.FrameSet) ([]FaceRegion, error)
}

// Session carries what the capture runtime observed while recording.
type Session struct {
	// LiveDetections counts faces the live blur saw across the recording.
	LiveDetections int
}

// Result is the stage outcome. Applied is true only when a blur path ran to
// completion; Output is the input clip unchanged when Applied is false.
type Result struct {
	Output  media.Clip
	Applied bool
	Mode    Mode
	Regions int

	cleanup func()
}

// Cleanup removes any file the stage created. Safe to call on any Result.
func (r Result) Cleanup() {
	if r.cleanup != nil {
		r.cleanup()
	}
}

// Options tune sampling and the blur pass.
type Options struct {
	SampleFPS     float64
	MaxFrames     int
	Padding       float64
	Hold          time.Duration
	MinConfidence float64
	CRF           int
	WorkDir       string
}

// Stage is the face-region blur stage.
type Stage struct {
	tools    media.Tools
	detector FaceDetector
	opts     Options
}

// NewStage returns a Stage. A nil detector makes the post-process path
// unavailable regardless of capabilities.
func NewStage(tools media.Tools, detector FaceDetector, opts Options) *Stage {
	if opts.SampleFPS <= 0 {
		opts.SampleFPS = 2
	}
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = 60
	}
	if opts.Hold <= 0 {
		opts.Hold = 750 * time.Millisecond
	}
	if opts.CRF <= 0 {
		opts.CRF = 20
	}
	return &Stage{tools: tools, detector: detector, opts: opts}
}

// Blur runs the best blur path the capabilities allow. Every blur failure is
// demoted to pass-through; the only error is an unreadable source clip.
func (s *Stage) Blur(ctx context.Context, clip media.Clip, caps capability.Set, session Session) (Result, error) {
	if err := checkReadable(clip.Path); err != nil {
		return Result{}, err
	}

	start := time.Now()
	var res Result
	switch {
	case caps.LiveBlur:
		res = s.live(clip, session)
	case caps.PostProcessBlur && s.detector != nil:
		var err error
		res, err = s.postProcess(ctx, clip)
		if err != nil {
			log.Warn().Err(err).Str("clip", filepath.Base(clip.Path)).Msg("Post-process blur failed; passing clip through unblurred")
			metrics.New().Dimension("Stage", "blur").Count("BlurDemoted").Flush()
			res = passThrough(clip)
		}
	default:
		if caps.PostProcessBlur {
			log.Warn().Msg("Post-process blur available but no face detector configured")
		}
		res = passThrough(clip)
	}

	metrics.New().
		Dimension("Stage", "blur").
		Dimension("Mode", string(res.Mode)).
		Since("BlurMs", start).
		Metric("BlurRegions", float64(res.Regions), metrics.UnitCount).
		Flush()
	log.Info().
		Str("clip", filepath.Base(clip.Path)).
		Str("mode", string(res.Mode)).
		Bool("applied", res.Applied).
		Int("regions", res.Regions).
		Dur("elapsed", time.Since(start)).
		Msg("Blur stage complete")
	return res, nil
}

func (s *Stage) live(clip media.Clip, session Session) Result {
	if session.LiveDetections == 0 {
		log.Warn().
			Str("clip", filepath.Base(clip.Path)).
			Msg("Live blur saw no faces during the session; low-confidence privacy signal")
		metrics.New().Dimension("Stage", "blur").Count("LiveBlurNoDetections").Flush()
	}
	return Result{Output: clip, Applied: true, Mode: ModeLive, Regions: session.LiveDetections}
}

func (s *Stage) postProcess(ctx context.Context, clip media.Clip) (Result, error) {
	frames, err := media.SampleFrames(ctx, s.tools, clip, s.opts.SampleFPS, s.opts.MaxFrames)
	if err != nil {
		return Result{}, err
	}
	defer frames.Cleanup()

	regions, err := s.detector.Detect(ctx, clip, frames)
	if err != nil {
		return Result{}, fmt.Errorf("face detection: %w", err)
	}
	tracks := buildTracks(regions, clip.Width, clip.Height, s.opts.Padding, s.opts.Hold, s.opts.MinConfidence, clip.Duration)

	out, cleanup, err := media.TempOutput(s.opts.WorkDir, "confession-blur-*.mp4")
	if err != nil {
		return Result{}, err
	}
	if _, err := s.tools.RunFFmpeg(ctx, blurArgs(clip.Path, out, tracks, s.opts.CRF)...); err != nil {
		cleanup()
		return Result{}, fmt.Errorf("blur pass: %w", err)
	}

	blurred := clip
	blurred.Path = out
	log.Debug().
		Int("detections", len(regions)).
		Int("tracks", len(tracks)).
		Str("output", out).
		Msg("Post-process blur pass complete")
	return Result{Output: blurred, Applied: true, Mode: ModePostProcess, Regions: len(tracks), cleanup: cleanup}, nil
}

func passThrough(clip media.Clip) Result {
	return Result{Output: clip, Applied: false, Mode: ModePassThrough}
}

func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", media.ErrUnreadable, err)
	}
	defer f.Close()
	var b [1]byte
	if _, err := f.Read(b[:]); err != nil {
		return fmt.Errorf("%w: %v", media.ErrUnreadable, err)
	}
	return nil
}
