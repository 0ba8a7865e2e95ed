// Package captions turns word-timed transcripts into ordered, non-overlapping
// caption segments for burn-in or runtime overlay.
package captions

// Word is one aligned word. Times are seconds from clip start.
type Word struct {
	Text       string  `json:"text" dynamodbav:"text"`
	Start      float64 `json:"start" dynamodbav:"start"`
	End        float64 `json:"end" dynamodbav:"end"`
	Confidence float64 `json:"confidence" dynamodbav:"confidence"`
}

// Segment is one caption cue. Segments produced by Align are sorted by Start,
// never overlap, and contain all of their words' time ranges.
type Segment struct {
	ID    int     `json:"id" dynamodbav:"id"`
	Start float64 `json:"start" dynamodbav:"start"`
	End   float64 `json:"end" dynamodbav:"end"`
	Text  string  `json:"text" dynamodbav:"text"`
	Words []Word  `json:"words" dynamodbav:"words"`
}

// Duration returns End - Start in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// RawWord is a word as delivered by a transcription service. Start and End
// are pointers because services omit them for words they could not time.
type RawWord struct {
	Text       string   `json:"text"`
	Start      *float64 `json:"start"`
	End        *float64 `json:"end"`
	Confidence float64  `json:"confidence,omitempty"`
}

// Transcript is the normalized word list, independent of where it came from.
type Transcript struct {
	Language string    `json:"language,omitempty"`
	Words    []RawWord `json:"words"`
}
