// Package compose burns the watermark and captions into a blurred clip and
// produces the content-addressed publishable artifact.
package compose

import "github.com/fpang/confession-pipeline/internal/captions"

// ProcessingResult is the publishable outcome of one clip. It is built once
// by Compose and never mutated afterwards.
type ProcessingResult struct {
	OutputURI        string             `json:"outputUri" dynamodbav:"outputUri"`
	BlurApplied      bool               `json:"blurApplied" dynamodbav:"blurApplied"`
	WatermarkApplied bool               `json:"watermarkApplied" dynamodbav:"watermarkApplied"`
	CaptionsBurned   bool               `json:"captionsBurned" dynamodbav:"captionsBurned"`
	CaptionSegments  []captions.Segment `json:"captionSegments" dynamodbav:"captionSegments"`
	ContentHash      string             `json:"contentHash" dynamodbav:"contentHash"`
}

// LocalPath returns the filesystem path of a file:// OutputURI.
func (r ProcessingResult) LocalPath() string {
	const prefix = "file://"
	if len(r.OutputURI) >= len(prefix) && r.OutputURI[:len(prefix)] == prefix {
		return r.OutputURI[len(prefix):]
	}
	return r.OutputURI
}

// NeedsOverlay reports whether the player must draw captions at runtime.
func (r ProcessingResult) NeedsOverlay() bool {
	return !r.CaptionsBurned && len(r.CaptionSegments) > 0
}

// ArtifactName is the local file name of a composed artifact: the content
// hash plus a per-run suffix.
func ArtifactName(hash, run string) string {
	return hash + "-" + run + ".mp4"
}

