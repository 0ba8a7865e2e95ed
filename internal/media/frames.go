package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Frame is one sampled still from a clip.
type Frame struct {
	Index  int
	Offset time.Duration
	Path   string
}

// FrameSet is the result of SampleFrames. Cleanup removes the frame
// directory and must be called when the frames are no longer needed.
type FrameSet struct {
	Dir     string
	FPS     float64
	Frames  []Frame
	Cleanup func()
}

// SampleFrames extracts JPEG stills at fps, reducing the rate so that at most
// maxFrames stills are produced for the clip's duration.
func SampleFrames(ctx context.Context, tools Tools, clip Clip, fps float64, maxFrames int) (*FrameSet, error) {
	rate := SampleRate(clip.Duration, fps, maxFrames)

	dir, err := os.MkdirTemp("", "confession-frames-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Failed to remove frame directory")
		}
	}

	args := []string{
		"-i", clip.Path,
		"-vf", fmt.Sprintf("fps=%.3f", rate),
		"-qscale:v", "3",
		"-frames:v", fmt.Sprintf("%d", maxFrames),
		"-y", filepath.Join(dir, "frame_%05d.jpg"),
	}
	if _, err := tools.RunFFmpeg(ctx, args...); err != nil {
		cleanup()
		return nil, fmt.Errorf("frame sampling failed: %w", err)
	}

	paths, err := collectFramePaths(dir)
	if err != nil {
		cleanup()
		return nil, err
	}

	frames := make([]Frame, len(paths))
	for i, p := range paths {
		frames[i] = Frame{
			Index:  i,
			Offset: time.Duration(float64(i) / rate * float64(time.Second)),
			Path:   p,
		}
	}

	log.Debug().
		Str("clip", filepath.Base(clip.Path)).
		Float64("fps", rate).
		Int("frames", len(frames)).
		Msg("Frames sampled")

	return &FrameSet{Dir: dir, FPS: rate, Frames: frames, Cleanup: cleanup}, nil
}

// SampleRate lowers fps so that duration*rate does not exceed maxFrames.
func SampleRate(duration time.Duration, fps float64, maxFrames int) float64 {
	secs := duration.Seconds()
	if secs <= 0 || maxFrames <= 0 {
		return fps
	}
	if secs*fps > float64(maxFrames) {
		return float64(maxFrames) / secs
	}
	return fps
}

func collectFramePaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jpg") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
