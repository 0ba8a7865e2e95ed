package blur

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/confession-pipeline/internal/assets"
	"github.com/fpang/confession-pipeline/internal/gemini"
	"github.com/fpang/confession-pipeline/internal/jsonutil"
	"github.com/fpang/confession-pipeline/internal/media"
	"github.com/fpang/confession-pipeline/internal/metrics"
)

// framesPerRequest bounds inline image payloads per GenerateContent call.
const framesPerRequest = 16

// GeminiDetector locates faces by sending sampled frames inline to a Gemini model.
type GeminiDetector struct {
	client *genai.Client
	model  string
	caller *gemini.Caller
}

// NewGeminiDetector returns a detector limited to rps requests per second.
func NewGeminiDetector(client *genai.Client, model string, rps float64) *GeminiDetector {
	if model == "" {
		model = gemini.DefaultModel
	}
	return &GeminiDetector{client: client, model: model, caller: gemini.NewCaller(rps, 3)}
}

// detection is the model's answer for one face.
type detection struct {
	Frame      int        `json:"frame"`
	Box        [4]float64 `json:"box"` // ymin, xmin, ymax, xmax in 0-1000
	Confidence float64    `json:"confidence"`
}

// Detect implements FaceDetector.
func (g *GeminiDetector) Detect(ctx context.Context, clip media.Clip, frames *media.FrameSet) ([]FaceRegion, error) {
	start := time.Now()
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.FaceDetectionSystemPrompt}},
		},
		ResponseMIMEType: "application/json",
	}

	var regions []FaceRegion
	for batchStart := 0; batchStart < len(frames.Frames); batchStart += framesPerRequest {
		batch := frames.Frames[batchStart:min(batchStart+framesPerRequest, len(frames.Frames))]

		parts := make([]*genai.Part, 0, len(batch)+1)
		for _, fr := range batch {
			data, err := os.ReadFile(fr.Path)
			if err != nil {
				return nil, fmt.Errorf("read frame %d: %w", fr.Index, err)
			}
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: data}})
		}
		parts = append(parts, &genai.Part{Text: assets.RenderFaceDetectionPrompt(assets.FaceDetectionData{
			FrameCount: len(batch),
			FPS:        frames.FPS,
			Width:      clip.Width,
			Height:     clip.Height,
		})})
		contents := []*genai.Content{{Role: "user", Parts: parts}}

		var found []detection
		err := g.caller.Do(ctx, "detectFaces", func(ctx context.Context) error {
			resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
			if err != nil {
				return err
			}
			found, err = jsonutil.ParseJSON[[]detection](resp.Text())
			return err
		})
		if err != nil {
			return nil, err
		}
		regions = append(regions, toRegions(found, batch, clip.Width, clip.Height)...)
	}

	metrics.New().
		Dimension("Operation", "detectFaces").
		Since("FaceDetectionMs", start).
		Metric("FacesDetected", float64(len(regions)), metrics.UnitCount).
		Metric("FramesSampled", float64(len(frames.Frames)), metrics.UnitCount).
		Flush()
	log.Debug().Int("frames", len(frames.Frames)).Int("faces", len(regions)).Msg("Face detection complete")
	return regions, nil
}

// toRegions converts normalized boxes for a batch into pixel regions. Entries
// that reference frames outside the batch are dropped.
func toRegions(found []detection, batch []media.Frame, width, height int) []FaceRegion {
	regions := make([]FaceRegion, 0, len(found))
	for _, d := range found {
		if d.Frame < 0 || d.Frame >= len(batch) {
			log.Warn().Int("frame", d.Frame).Int("batch", len(batch)).Msg("Detector referenced unknown frame; ignoring")
			continue
		}
		ymin, xmin, ymax, xmax := d.Box[0], d.Box[1], d.Box[2], d.Box[3]
		if xmax <= xmin || ymax <= ymin {
			continue
		}
		fr := batch[d.Frame]
		x := int(xmin / 1000 * float64(width))
		y := int(ymin / 1000 * float64(height))
		regions = append(regions, FaceRegion{
			FrameIndex: fr.Index,
			Offset:     fr.Offset,
			X:          x,
			Y:          y,
			Width:      int(xmax/1000*float64(width)) - x,
			Height:     int(ymax/1000*float64(height)) - y,
			Confidence: d.Confidence,
		})
	}
	return regions
}
