package captions

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// ErrNoTranscript is returned by Select when no source has a transcript.
var ErrNoTranscript = errors.New("no transcript available")

// Source yields a transcript. Load reports ok=false when the source has
// nothing to offer, which is not an error.
type Source interface {
	Name() string
	Load(ctx context.Context) (t Transcript, ok bool, err error)
}

// MemorySource holds a transcript returned by a just-completed transcription call.
type MemorySource struct {
	Transcript *Transcript
}

// Name implements Source.
func (MemorySource) Name() string { return "memory" }

// Load implements Source.
func (m MemorySource) Load(context.Context) (Transcript, bool, error) {
	if m.Transcript == nil {
		return Transcript{}, false, nil
	}
	return *m.Transcript, true, nil
}

// ArtifactSource reads a transcript persisted as a side-channel file.
type ArtifactSource struct {
	Path string
}

// Name implements Source.
func (ArtifactSource) Name() string { return "artifact" }

// Load implements Source.
func (a ArtifactSource) Load(context.Context) (Transcript, bool, error) {
	if a.Path == "" {
		return Transcript{}, false, nil
	}
	if _, err := os.Stat(a.Path); errors.Is(err, os.ErrNotExist) {
		return Transcript{}, false, nil
	}
	t, err := ReadArtifact(a.Path)
	if err != nil {
		return Transcript{}, false, err
	}
	return t, true, nil
}

// Select returns the transcript from the first source that has one, so
// callers list the freshest source first (in-memory before artifact). A
// failing source is logged and skipped.
func Select(ctx context.Context, sources ...Source) (Transcript, string, error) {
	var lastErr error
	for _, src := range sources {
		t, ok, err := src.Load(ctx)
		if err != nil {
			log.Warn().Err(err).Str("source", src.Name()).Msg("Transcript source failed; trying next")
			lastErr = err
			continue
		}
		if ok {
			log.Debug().Str("source", src.Name()).Int("words", len(t.Words)).Msg("Transcript selected")
			return t, src.Name(), nil
		}
	}
	if lastErr != nil {
		return Transcript{}, "", fmt.Errorf("%w: %v", ErrNoTranscript, lastErr)
	}
	return Transcript{}, "", ErrNoTranscript
}
