package captions

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/confession-pipeline/internal/assets"
	"github.com/fpang/confession-pipeline/internal/gemini"
	"github.com/fpang/confession-pipeline/internal/jsonutil"
	"github.com/fpang/confession-pipeline/internal/metrics"
)

// Transcriber converts an audio file into a word-timed transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (Transcript, error)
}

// GeminiTranscriber asks a Gemini model for word-level timings.
type GeminiTranscriber struct {
	client *genai.Client
	model  string
	caller *gemini.Caller
}

// NewGeminiTranscriber returns a transcriber using model, limited to rps
// requests per second.
func NewGeminiTranscriber(client *genai.Client, model string, rps float64) *GeminiTranscriber {
	if model == "" {
		model = gemini.DefaultModel
	}
	return &GeminiTranscriber{client: client, model: model, caller: gemini.NewCaller(rps, 3)}
}

// Transcribe uploads the audio and parses the model's JSON answer.
func (g *GeminiTranscriber) Transcribe(ctx context.Context, audioPath string) (Transcript, error) {
	start := time.Now()
	file, err := gemini.UploadFile(ctx, g.client, audioPath, "audio/ogg")
	if err != nil {
		return Transcript{}, err
	}
	defer gemini.DeleteFile(context.WithoutCancel(ctx), g.client, file)

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.TranscriptionSystemPrompt}},
		},
		ResponseMIMEType: "application/json",
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{FileData: &genai.FileData{FileURI: file.URI, MIMEType: file.MIMEType}},
			{Text: assets.TranscriptionPrompt},
		},
	}}

	var transcript Transcript
	err = g.caller.Do(ctx, "transcribe", func(ctx context.Context) error {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err != nil {
			return err
		}
		transcript, err = parseTranscript(resp.Text())
		return err
	})
	if err != nil {
		return Transcript{}, err
	}

	metrics.New().
		Dimension("Operation", "transcribe").
		Since("TranscriptionMs", start).
		Metric("TranscriptWords", float64(len(transcript.Words)), metrics.UnitCount).
		Flush()
	log.Info().Int("words", len(transcript.Words)).Dur("elapsed", time.Since(start)).Msg("Transcription complete")
	return transcript, nil
}

func parseTranscript(text string) (Transcript, error) {
	return jsonutil.ParseJSON[Transcript](text)
}
