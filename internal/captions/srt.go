package captions

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"unicode/utf8"
)

// MaxLineChars is the line length above which cue text wraps onto two lines.
const MaxLineChars = 32

// WriteSRT renders segments as SubRip cues.
func WriteSRT(w io.Writer, segments []Segment) error {
	bw := bufio.NewWriter(w)
	for i, s := range segments {
		fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n\n",
			i+1, formatSRTTime(s.Start), formatSRTTime(s.End), wrapLine(s.Text, MaxLineChars))
	}
	return bw.Flush()
}

// WriteSRTFile writes segments to a new SRT file at path.
func WriteSRTFile(path string, segments []Segment) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create srt: %w", err)
	}
	if err := WriteSRT(f, segments); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// formatSRTTime renders seconds as HH:MM:SS,mmm.
func formatSRTTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// wrapLine splits text at the space nearest the middle when it exceeds max.
func wrapLine(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	mid := len(text) / 2
	best := -1
	for i := 0; i < len(text); i++ {
		if text[i] != ' ' {
			continue
		}
		if best == -1 || abs(i-mid) < abs(best-mid) {
			best = i
		}
	}
	if best == -1 {
		return text
	}
	return strings.TrimSpace(text[:best]) + "\n" + strings.TrimSpace(text[best+1:])
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
