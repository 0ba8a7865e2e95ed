package captions

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Options tune segment grouping.
type Options struct {
	// MaxSegmentDuration caps a segment's span from its first word's start to
	// its last word's end. A single word longer than this still forms a segment.
	MaxSegmentDuration time.Duration

	// PauseThreshold closes a segment when the silence between two words
	// exceeds it.
	PauseThreshold time.Duration

	// MaxWordsPerSegment caps words per segment; zero means no cap.
	MaxWordsPerSegment int
}

// Aligner groups transcript words into caption segments.
type Aligner struct {
	maxDur   float64
	pause    float64
	maxWords int
}

// NewAligner returns an Aligner with the given options. Non-positive
// durations fall back to 3s segments and 0.7s pauses.
func NewAligner(opts Options) *Aligner {
	a := &Aligner{
		maxDur:   opts.MaxSegmentDuration.Seconds(),
		pause:    opts.PauseThreshold.Seconds(),
		maxWords: opts.MaxWordsPerSegment,
	}
	if a.maxDur <= 0 {
		a.maxDur = 3
	}
	if a.pause <= 0 {
		a.pause = 0.7
	}
	return a
}

// Align converts a transcript into segments. Malformed words are dropped with
// a warning; an empty transcript yields an empty, non-nil slice.
func (a *Aligner) Align(t Transcript) []Segment {
	words := normalize(t.Words)
	segments := make([]Segment, 0)
	if len(words) == 0 {
		return segments
	}

	current := []Word{words[0]}
	for _, w := range words[1:] {
		first := current[0]
		last := current[len(current)-1]

		tooLong := w.End-first.Start > a.maxDur
		paused := w.Start-last.End > a.pause
		full := a.maxWords > 0 && len(current) >= a.maxWords

		if tooLong || paused || full {
			segments = append(segments, newSegment(len(segments)+1, current))
			current = []Word{w}
			continue
		}
		current = append(current, w)
	}
	segments = append(segments, newSegment(len(segments)+1, current))

	log.Debug().
		Int("words", len(words)).
		Int("droppedWords", len(t.Words)-len(words)).
		Int("segments", len(segments)).
		Msg("Transcript aligned")
	return segments
}

// normalize drops untimed or inverted words, sorts by start and clamps
// overlaps so each word starts no earlier than its predecessor ends.
func normalize(raw []RawWord) []Word {
	words := make([]Word, 0, len(raw))
	for i, rw := range raw {
		text := strings.TrimSpace(rw.Text)
		switch {
		case rw.Start == nil || rw.End == nil:
			log.Warn().Int("index", i).Str("text", text).Msg("Dropping word without start/end time")
			continue
		case *rw.End < *rw.Start || *rw.Start < 0:
			log.Warn().Int("index", i).Str("text", text).
				Float64("start", *rw.Start).Float64("end", *rw.End).
				Msg("Dropping word with invalid time range")
			continue
		case text == "":
			continue
		}
		words = append(words, Word{Text: text, Start: *rw.Start, End: *rw.End, Confidence: rw.Confidence})
	}

	sort.SliceStable(words, func(i, j int) bool { return words[i].Start < words[j].Start })

	for i := 1; i < len(words); i++ {
		prevEnd := words[i-1].End
		if words[i].Start < prevEnd {
			words[i].Start = prevEnd
		}
		if words[i].End < words[i].Start {
			words[i].End = words[i].Start
		}
	}
	return words
}

func newSegment(id int, words []Word) Segment {
	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Text
	}
	return Segment{
		ID:    id,
		Start: words[0].Start,
		End:   words[len(words)-1].End,
		Text:  strings.Join(texts, " "),
		Words: words,
	}
}
