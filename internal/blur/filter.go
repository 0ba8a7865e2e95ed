package blur

import (
	"fmt"
	"strings"
)

// blurArgs builds the single ffmpeg invocation that blurs every track over
// its time window. With no tracks the video passes through a null filter so
// the pass still runs.
func blurArgs(input, output string, tracks []track, crf int) []string {
	args := []string{"-hide_banner", "-i", input}

	if len(tracks) == 0 {
		args = append(args, "-vf", "null", "-map", "0:v:0")
	} else {
		args = append(args, "-filter_complex", filterGraph(tracks), "-map", "[vout]")
	}

	args = append(args,
		"-map", "0:a?",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", fmt.Sprintf("%d", crf),
		"-pix_fmt", "yuv420p",
		"-c:a", "copy",
		"-movflags", "+faststart",
		"-y", output,
	)
	return args
}

func filterGraph(tracks []track) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[0:v]split=%d[base]", len(tracks)+1)
	for i := range tracks {
		fmt.Fprintf(&b, "[s%d]", i)
	}
	b.WriteString(";")

	for i, t := range tracks {
		radius := max(2, min(t.box.w(), t.box.h())/8)
		fmt.Fprintf(&b, "[s%d]crop=%d:%d:%d:%d,boxblur=luma_radius=%d:luma_power=3[b%d];",
			i, t.box.w(), t.box.h(), t.box.x0, t.box.y0, radius, i)
	}

	prev := "base"
	for i, t := range tracks {
		out := fmt.Sprintf("v%d", i+1)
		if i == len(tracks)-1 {
			out = "vout"
		}
		fmt.Fprintf(&b, "[%s][b%d]overlay=%d:%d:enable='between(t,%.3f,%.3f)'[%s]",
			prev, i, t.box.x0, t.box.y0, t.start, t.end, out)
		if i < len(tracks)-1 {
			b.WriteString(";")
		}
		prev = out
	}
	return b.String()
}
