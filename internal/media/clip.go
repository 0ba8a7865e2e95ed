package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrUnreadable marks a source clip that cannot be opened or probed. It is
// the one failure that aborts a clip's pipeline run.
var ErrUnreadable = errors.New("source clip unreadable")

// Clip references a recorded media file. It is immutable once recording stops.
type Clip struct {
	Path      string
	Duration  time.Duration
	Width     int
	Height    int
	FrameRate float64
	HasAudio  bool
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration"`
}

// ProbeClip stats the file and reads its duration, dimensions and frame rate
// with ffprobe. path may also be a URL ffprobe can open, in which case the
// stat is skipped. Any failure is wrapped in ErrUnreadable.
func ProbeClip(ctx context.Context, tools Tools, path string) (Clip, error) {
	if !strings.Contains(path, "://") {
		info, err := os.Stat(path)
		if err != nil {
			return Clip{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		if info.IsDir() || info.Size() == 0 {
			return Clip{}, fmt.Errorf("%w: %s is empty or a directory", ErrUnreadable, path)
		}
	}

	out, err := tools.Runner.Run(ctx, tools.FFprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return Clip{}, fmt.Errorf("%w: ffprobe: %v", ErrUnreadable, err)
	}

	clip, err := parseProbeOutput(out)
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	clip.Path = path

	log.Debug().
		Str("path", path).
		Dur("duration", clip.Duration).
		Int("width", clip.Width).
		Int("height", clip.Height).
		Float64("fps", clip.FrameRate).
		Bool("audio", clip.HasAudio).
		Msg("Clip probed")
	return clip, nil
}

func parseProbeOutput(data []byte) (Clip, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return Clip{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	var clip Clip
	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		clip.Duration = time.Duration(d * float64(time.Second))
	}

	hasVideo := false
	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			if hasVideo {
				continue
			}
			hasVideo = true
			clip.Width = s.Width
			clip.Height = s.Height
			clip.FrameRate = parseFrameRate(s.AvgFrameRate)
			if clip.FrameRate == 0 {
				clip.FrameRate = parseFrameRate(s.RFrameRate)
			}
			if clip.Duration == 0 {
				if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
					clip.Duration = time.Duration(d * float64(time.Second))
				}
			}
		case "audio":
			clip.HasAudio = true
		}
	}

	if !hasVideo {
		return Clip{}, errors.New("no video stream")
	}
	return clip, nil
}

// parseFrameRate parses "30000/1001" or "30" style rates.
func parseFrameRate(value string) float64 {
	parts := strings.Split(value, "/")
	if len(parts) == 2 {
		num, _ := strconv.ParseFloat(parts[0], 64)
		den, _ := strconv.ParseFloat(parts[1], 64)
		if den != 0 {
			return num / den
		}
		return 0
	}
	rate, _ := strconv.ParseFloat(value, 64)
	return rate
}
