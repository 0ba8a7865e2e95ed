package media

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// ErrNoAudio is returned when a clip has no audio stream to extract.
var ErrNoAudio = errors.New("clip has no audio stream")

// ExtractAudio writes the clip's audio as mono 16 kHz Opus in Ogg, which is
// small and sufficient for speech recognition. The cleanup removes the file.
func ExtractAudio(ctx context.Context, tools Tools, clip Clip) (string, func(), error) {
	if !clip.HasAudio {
		return "", nil, ErrNoAudio
	}
	out, cleanup, err := TempOutput("", "confession-audio-*.ogg")
	if err != nil {
		return "", nil, err
	}

	args := []string{
		"-i", clip.Path,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "libopus",
		"-b:a", "24k",
		"-y", out,
	}
	if _, err := tools.RunFFmpeg(ctx, args...); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("audio extraction failed: %w", err)
	}
	log.Debug().Str("clip", filepath.Base(clip.Path)).Str("audio", out).Msg("Audio extracted")
	return out, cleanup, nil
}
