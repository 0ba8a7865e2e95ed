// Package assets provides embedded prompts and the default watermark.
//
// Prompts are stored as text files under prompts/ and embedded at compile time
// so wording changes do not touch Go code.
package assets

import (
	"bytes"
	_ "embed"
	"text/template"
)

// DefaultWatermark is the PNG composited when no watermark path is configured.
//
//go:embed images/watermark.png
var DefaultWatermark []byte

// FaceDetectionSystemPrompt constrains the detector to geometry only.
//
//go:embed prompts/face-detection-system.txt
var FaceDetectionSystemPrompt string

//go:embed prompts/face-detection.tmpl
var faceDetectionTemplate string

// TranscriptionSystemPrompt frames the word-timing request.
//
//go:embed prompts/transcription-system.txt
var TranscriptionSystemPrompt string

// TranscriptionPrompt asks for word-level timings as JSON.
//
//go:embed prompts/transcription.txt
var TranscriptionPrompt string

var faceDetectionTmpl = template.Must(template.New("face-detection").Parse(faceDetectionTemplate))

// FaceDetectionData is injected into the face detection prompt.
type FaceDetectionData struct {
	FrameCount int
	FPS        float64
	Width      int
	Height     int
}

// RenderFaceDetectionPrompt renders the per-request face detection prompt.
func RenderFaceDetectionPrompt(data FaceDetectionData) string {
	var buf bytes.Buffer
	// The template only formats numbers; execution cannot fail.
	_ = faceDetectionTmpl.Execute(&buf, data)
	return buf.String()
}
