// Package media wraps the ffmpeg/ffprobe toolchain used by every stage of the
// confession pipeline: clip probing, frame sampling, and content hashing.
package media

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// Runner executes an external command and returns its combined output.
// Stages depend on this interface so tests can script ffmpeg behaviour.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	start := time.Now()
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	log.Debug().
		Str("cmd", name).
		Strs("args", args).
		Dur("elapsed", time.Since(start)).
		Bool("ok", err == nil).
		Msg("External command finished")
	return out, err
}

// Tools bundles the binary names and the runner used to invoke them.
type Tools struct {
	FFmpeg  string
	FFprobe string
	Runner  Runner
}

// DefaultTools resolves ffmpeg and ffprobe from PATH via an ExecRunner.
func DefaultTools() Tools {
	return Tools{FFmpeg: "ffmpeg", FFprobe: "ffprobe", Runner: ExecRunner{}}
}

// RunFFmpeg runs ffmpeg with the given arguments. On failure the error includes
// the tail of ffmpeg's output.
func (t Tools) RunFFmpeg(ctx context.Context, args ...string) ([]byte, error) {
	out, err := t.Runner.Run(ctx, t.FFmpeg, args...)
	if err != nil {
		return out, fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, tail(out, 2048))
	}
	return out, nil
}

// CheckAvailable reports whether the named binary resolves on PATH.
func CheckAvailable(name string) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("%s not found in PATH: install FFmpeg with: brew install ffmpeg (macOS) or apt install ffmpeg (Linux)", name)
	}
	log.Debug().Str("path", path).Msgf("%s found", name)
	return nil
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return "..." + string(b[len(b)-n:])
}
