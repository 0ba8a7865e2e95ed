package playercache

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fpang/confession-pipeline/internal/media"
)

// FFmpegDecoder streams raw RGBA frames from an ffmpeg child process.
type FFmpegDecoder struct {
	Width, Height int

	cmd    *exec.Cmd
	stdout io.ReadCloser
	frame  []byte

	closeOnce sync.Once
	closeErr  error
}

func decoderArgs(sourceURI string, hardwareDecode bool) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if hardwareDecode {
		args = append(args, "-hwaccel", "auto")
	}
	return append(args, "-i", sourceURI, "-f", "rawvideo", "-pix_fmt", "rgba", "pipe:1")
}

// NewFFmpegFactory returns a DecoderFactory that probes the source for its
// dimensions and spawns ffmpeg. hardwareDecode comes from the capability set.
func NewFFmpegFactory(tools media.Tools, hardwareDecode bool) DecoderFactory {
	return func(ctx context.Context, videoID, sourceURI string) (Decoder, error) {
		clip, err := media.ProbeClip(ctx, tools, sourceURI)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", videoID, err)
		}
		if clip.Width <= 0 || clip.Height <= 0 {
			return nil, fmt.Errorf("probe %s: no video stream", videoID)
		}

		// The decoder outlives the acquiring request, so it is not bound to ctx.
		cmd := exec.Command(tools.FFmpeg, decoderArgs(sourceURI, hardwareDecode)...)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start decoder for %s: %w", videoID, err)
		}

		log.Debug().
			Str("videoId", videoID).
			Int("width", clip.Width).
			Int("height", clip.Height).
			Bool("hwaccel", hardwareDecode).
			Int("pid", cmd.Process.Pid).
			Msg("Decoder started")
		return &FFmpegDecoder{
			Width:  clip.Width,
			Height: clip.Height,
			cmd:    cmd,
			stdout: stdout,
			frame:  make([]byte, clip.Width*clip.Height*4),
		}, nil
	}
}

// ReadFrame returns the next RGBA frame. The slice is reused by the next call.
func (d *FFmpegDecoder) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(d.stdout, d.frame); err != nil {
		return nil, err
	}
	return d.frame, nil
}

// Close stops the ffmpeg process and reaps it. Subsequent calls are no-ops.
func (d *FFmpegDecoder) Close() error {
	d.closeOnce.Do(func() {
		if d.cmd.Process != nil {
			d.cmd.Process.Kill()
		}
		err := d.cmd.Wait()
		if _, killed := err.(*exec.ExitError); !killed {
			d.closeErr = err
		}
	})
	return d.closeErr
}
