package captions

import (
	"fmt"
	"math/rand"
	"testing"
	"time"
)

func f(v float64) *float64 { return &v }

func word(text string, start, end float64) RawWord {
	return RawWord{Text: text, Start: f(start), End: f(end), Confidence: 0.9}
}

// evenWords returns n contiguous words spanning [0, total) seconds.
func evenWords(n int, total float64) []RawWord {
	step := total / float64(n)
	words := make([]RawWord, n)
	for i := range words {
		words[i] = word(fmt.Sprintf("w%d", i), float64(i)*step, float64(i+1)*step)
	}
	return words
}

func assertSegmentInvariants(t *testing.T, segments []Segment) {
	t.Helper()
	for i, s := range segments {
		if s.End < s.Start {
			t.Errorf("segment %d ends before it starts: %+v", i, s)
		}
		if i > 0 {
			prev := segments[i-1]
			if s.Start < prev.Start {
				t.Errorf("segments not sorted at %d: %f < %f", i, s.Start, prev.Start)
			}
			if s.Start < prev.End {
				t.Errorf("segments %d and %d overlap: [%f,%f] [%f,%f]", i-1, i, prev.Start, prev.End, s.Start, s.End)
			}
		}
		for _, w := range s.Words {
			if w.Start < s.Start || w.End > s.End {
				t.Errorf("word %q [%f,%f] outside segment %d [%f,%f]", w.Text, w.Start, w.End, i, s.Start, s.End)
			}
		}
	}
}

func countWords(segments []Segment) int {
	n := 0
	for _, s := range segments {
		n += len(s.Words)
	}
	return n
}

func TestAlign_TwentyWordsOverEightSeconds(t *testing.T) {
	a := NewAligner(Options{MaxSegmentDuration: 3 * time.Second, PauseThreshold: time.Second})

	segments := a.Align(Transcript{Words: evenWords(20, 8)})

	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	if n := countWords(segments); n != 20 {
		t.Errorf("expected 20 words across segments, got %d", n)
	}
	for i, s := range segments {
		if s.ID != i+1 {
			t.Errorf("expected sequential ID %d, got %d", i+1, s.ID)
		}
		if s.Duration() > 3+1e-9 {
			t.Errorf("segment %d exceeds max duration: %f", i, s.Duration())
		}
	}
	assertSegmentInvariants(t, segments)
}

func TestAlign_Empty(t *testing.T) {
	segments := NewAligner(Options{}).Align(Transcript{})
	if segments == nil || len(segments) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", segments)
	}
}

func TestAlign_DropsMalformedWords(t *testing.T) {
	words := []RawWord{
		word("hello", 0, 0.5),
		{Text: "broken", Start: f(0.5)},
		{Text: "untimed"},
		word("inverted", 1.0, 0.8),
		word("world", 0.6, 1.0),
	}
	segments := NewAligner(Options{MaxSegmentDuration: 3 * time.Second, PauseThreshold: time.Second}).
		Align(Transcript{Words: words})

	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	if segments[0].Text != "hello world" {
		t.Errorf("expected malformed words dropped, got %q", segments[0].Text)
	}
}

func TestAlign_PauseSplits(t *testing.T) {
	words := []RawWord{
		word("before", 0, 0.4),
		word("pause", 0.5, 0.9),
		word("after", 2.5, 2.9),
	}
	segments := NewAligner(Options{MaxSegmentDuration: 10 * time.Second, PauseThreshold: 700 * time.Millisecond}).
		Align(Transcript{Words: words})

	if len(segments) != 2 {
		t.Fatalf("expected split at pause, got %d segments", len(segments))
	}
	if segments[0].Text != "before pause" || segments[1].Text != "after" {
		t.Errorf("unexpected grouping: %q / %q", segments[0].Text, segments[1].Text)
	}
	if segments[1].Start != 2.5 || segments[1].End != 2.9 {
		t.Errorf("segment bounds should match its words, got [%f,%f]", segments[1].Start, segments[1].End)
	}
}

func TestAlign_MaxWords(t *testing.T) {
	segments := NewAligner(Options{
		MaxSegmentDuration: time.Minute,
		PauseThreshold:     time.Second,
		MaxWordsPerSegment: 4,
	}).Align(Transcript{Words: evenWords(10, 5)})

	if len(segments) != 3 {
		t.Fatalf("expected 3 segments of at most 4 words, got %d", len(segments))
	}
	for _, s := range segments {
		if len(s.Words) > 4 {
			t.Errorf("segment has %d words", len(s.Words))
		}
	}
}

func TestAlign_LongSingleWord(t *testing.T) {
	words := []RawWord{word("sooo", 0, 5), word("next", 5.1, 5.5)}
	segments := NewAligner(Options{MaxSegmentDuration: 3 * time.Second, PauseThreshold: time.Second}).
		Align(Transcript{Words: words})

	if len(segments) != 2 {
		t.Fatalf("expected the long word alone in its segment, got %d segments", len(segments))
	}
	if segments[0].End != 5 {
		t.Errorf("expected first segment to end at 5, got %f", segments[0].End)
	}
}

func TestAlign_UnsortedOverlappingInput(t *testing.T) {
	words := []RawWord{
		word("c", 1.0, 1.6),
		word("a", 0.0, 0.6),
		word("b", 0.4, 1.2),
		word("d", 1.5, 1.55),
	}
	segments := NewAligner(Options{MaxSegmentDuration: 3 * time.Second, PauseThreshold: time.Second}).
		Align(Transcript{Words: words})

	if len(segments) != 1 || segments[0].Text != "a b c d" {
		t.Fatalf("expected words sorted into one segment, got %+v", segments)
	}
	assertSegmentInvariants(t, segments)
	for i := 1; i < len(segments[0].Words); i++ {
		if segments[0].Words[i].Start < segments[0].Words[i-1].End {
			t.Errorf("words %d and %d overlap after normalization", i-1, i)
		}
	}
}

func TestAlign_RandomTranscriptsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	a := NewAligner(Options{MaxSegmentDuration: 2500 * time.Millisecond, PauseThreshold: 600 * time.Millisecond})

	for trial := 0; trial < 200; trial++ {
		n := rng.Intn(60)
		words := make([]RawWord, n)
		for i := range words {
			start := rng.Float64() * 30
			words[i] = word(fmt.Sprintf("w%d", i), start, start+rng.Float64()*1.5)
		}
		segments := a.Align(Transcript{Words: words})
		if got := countWords(segments); got != n {
			t.Fatalf("trial %d: expected %d words, got %d", trial, n, got)
		}
		assertSegmentInvariants(t, segments)
	}
}
