package assets

import (
	"bytes"
	"image/png"
	"strings"
	"testing"
)

func TestRenderFaceDetectionPrompt(t *testing.T) {
	prompt := RenderFaceDetectionPrompt(FaceDetectionData{FrameCount: 12, FPS: 2, Width: 1080, Height: 1920})
	for _, want := range []string{"12 images", "2.00 frames per second", "1080x1920"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestDefaultWatermarkDecodes(t *testing.T) {
	img, err := png.Decode(bytes.NewReader(DefaultWatermark))
	if err != nil {
		t.Fatalf("embedded watermark is not a PNG: %v", err)
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		t.Error("embedded watermark has empty bounds")
	}
}

func TestPromptsEmbedded(t *testing.T) {
	if FaceDetectionSystemPrompt == "" || TranscriptionSystemPrompt == "" || TranscriptionPrompt == "" {
		t.Fatal("expected embedded prompts to be non-empty")
	}
}
