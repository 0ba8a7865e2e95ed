package compose

import (
	"fmt"
	"strings"
)

// watermarkMargin is the gap in pixels between the watermark and the frame edge.
const watermarkMargin = 24

func encodeArgs(crf int, output string) []string {
	return []string{
		"-map", "0:a?",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", fmt.Sprintf("%d", crf),
		"-pix_fmt", "yuv420p",
		"-c:a", "copy",
		"-movflags", "+faststart",
		"-y", output,
	}
}

func overlayExpr() string {
	return fmt.Sprintf("overlay=W-w-%d:H-h-%d", watermarkMargin, watermarkMargin)
}

func subtitlesExpr(srtPath string, fontSize int) string {
	return fmt.Sprintf("subtitles=filename=%s:force_style='FontSize=%d,Alignment=2,Outline=2,MarginV=60'",
		escapeFilterValue(srtPath), fontSize)
}

// combinedArgs overlays the watermark then burns subtitles in one encode.
func combinedArgs(input, watermark, srt, output string, crf, fontSize int) []string {
	graph := fmt.Sprintf("[0:v][1:v]%s[wm];[wm]%s[vout]", overlayExpr(), subtitlesExpr(srt, fontSize))
	args := []string{"-hide_banner", "-i", input, "-i", watermark,
		"-filter_complex", graph, "-map", "[vout]"}
	return append(args, encodeArgs(crf, output)...)
}

func watermarkArgs(input, watermark, output string, crf int) []string {
	graph := fmt.Sprintf("[0:v][1:v]%s[vout]", overlayExpr())
	args := []string{"-hide_banner", "-i", input, "-i", watermark,
		"-filter_complex", graph, "-map", "[vout]"}
	return append(args, encodeArgs(crf, output)...)
}

func captionArgs(input, srt, output string, crf, fontSize int) []string {
	args := []string{"-hide_banner", "-i", input,
		"-vf", subtitlesExpr(srt, fontSize), "-map", "0:v:0"}
	return append(args, encodeArgs(crf, output)...)
}

// escapeFilterValue escapes characters that delimit filter options.
func escapeFilterValue(s string) string {
	r := strings.NewReplacer(
		`\`, `/`,
		`:`, `\:`,
		`'`, `\'`,
		`,`, `\,`,
		`;`, `\;`,
		`[`, `\[`,
		`]`, `\]`,
	)
	return r.Replace(s)
}
