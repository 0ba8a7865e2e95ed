package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fpang/confession-pipeline/internal/blur"
	"github.com/fpang/confession-pipeline/internal/capability"
	"github.com/fpang/confession-pipeline/internal/captions"
	"github.com/fpang/confession-pipeline/internal/compose"
	"github.com/fpang/confession-pipeline/internal/media"
	"github.com/fpang/confession-pipeline/internal/media/mediatest"
)

const probeJSON = `{
  "streams": [{"codec_type": "video", "width": 720, "height": 1280, "r_frame_rate": "30/1"}, {"codec_type": "audio"}],
  "format": {"duration": "8.0"}
}`

// fakeTools answers ffprobe with probeJSON and makes every ffmpeg call write
// a small file at its output path.
func fakeTools() (media.Tools, *mediatest.Runner) {
	runner := &mediatest.Runner{Handle: func(_ context.Context, name string, args []string) ([]byte, error) {
		if name == "ffprobe" {
			return []byte(probeJSON), nil
		}
		out := mediatest.OutputPath(args)
		if strings.Contains(out, "%05d") {
			out = strings.Replace(out, "%05d", "00001", 1)
		}
		return nil, os.WriteFile(out, []byte("encoded "+filepath.Base(out)), 0o644)
	}}
	return media.Tools{FFmpeg: "ffmpeg", FFprobe: "ffprobe", Runner: runner}, runner
}

type recordingQueue struct {
	mu      sync.Mutex
	results []compose.ProcessingResult
}

func (q *recordingQueue) Enqueue(_ context.Context, r compose.ProcessingResult, _ string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = append(q.results, r)
	return "00000000-0000-4000-8000-000000000001", nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.results)
}

type gatedDetector struct {
	entered chan struct{}
	release chan struct{}
}

func (d *gatedDetector) Detect(context.Context, media.Clip, *media.FrameSet) ([]blur.FaceRegion, error) {
	close(d.entered)
	<-d.release
	return nil, nil
}

type noFaces struct{}

func (noFaces) Detect(context.Context, media.Clip, *media.FrameSet) ([]blur.FaceRegion, error) {
	return nil, nil
}

func twentyWords() *captions.Transcript {
	var t captions.Transcript
	for i := range 20 {
		start, end := float64(i)*0.4, float64(i)*0.4+0.3
		t.Words = append(t.Words, captions.RawWord{Text: "w", Start: &start, End: &end})
	}
	return &t
}

func writeRaw(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.mp4")
	if err := os.WriteFile(path, []byte("raw confession"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestRunner(t *testing.T, caps capability.Set, det blur.FaceDetector, q Enqueuer) (*Runner, string) {
	tools, _ := fakeTools()
	outDir := filepath.Join(t.TempDir(), "out")
	return NewRunner(Config{
		Tools:        tools,
		Capabilities: caps,
		Blur:         blur.NewStage(tools, det, blur.Options{WorkDir: t.TempDir()}),
		Aligner:      captions.NewAligner(captions.Options{MaxSegmentDuration: 3 * time.Second}),
		Compose:      compose.NewStage(tools, compose.Options{OutputDir: outDir, WorkDir: t.TempDir()}),
		Queue:        q,
		MaxClips:     1,
	}), outDir
}

// Burn unavailable with captions present.
func TestProcess_NoBurnKeepsSegments(t *testing.T) {
	q := &recordingQueue{}
	r, _ := newTestRunner(t, capability.Set{PostProcessBlur: true}, noFaces{}, q)

	out, err := r.Process(context.Background(), Request{ClipPath: writeRaw(t), UserID: "u", Transcript: twentyWords()})
	if err != nil {
		t.Fatal(err)
	}
	res := out.Result
	if res.CaptionsBurned || res.WatermarkApplied {
		t.Errorf("nothing should be burned: %+v", res)
	}
	if len(res.CaptionSegments) != 3 {
		t.Errorf("expected 3 segments kept for overlay, got %d", len(res.CaptionSegments))
	}
	if !res.BlurApplied {
		t.Error("post-process blur should have run")
	}
	if out.TempID == "" || q.count() != 1 {
		t.Error("result should be enqueued once")
	}
}

func TestProcess_RestrictedTierPublishesOriginalBytes(t *testing.T) {
	q := &recordingQueue{}
	r, _ := newTestRunner(t, capability.Restricted, noFaces{}, q)
	raw := writeRaw(t)

	out, err := r.Process(context.Background(), Request{ClipPath: raw, UserID: "u"})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(raw)
	sum := sha256.Sum256(data)
	if out.Result.ContentHash != hex.EncodeToString(sum[:]) {
		t.Error("restricted tier should hash the original clip bytes")
	}
	if out.Result.BlurApplied || len(out.Result.CaptionSegments) != 0 {
		t.Errorf("unexpected flags %+v", out.Result)
	}
}

func TestProcess_UnreadableClip(t *testing.T) {
	q := &recordingQueue{}
	r, _ := newTestRunner(t, capability.Restricted, nil, q)
	_, err := r.Process(context.Background(), Request{ClipPath: filepath.Join(t.TempDir(), "missing.mp4")})
	if !errors.Is(err, media.ErrUnreadable) {
		t.Errorf("expected ErrUnreadable, got %v", err)
	}
	if q.count() != 0 {
		t.Error("nothing should be enqueued")
	}
}

func TestSubmit_CancelBeforeStart(t *testing.T) {
	q := &recordingQueue{}
	r, _ := newTestRunner(t, capability.Restricted, nil, q)
	ctx := context.Background()

	// Occupy the only slot so the submitted clip cannot start.
	if err := r.sem.Acquire(ctx, 1); err != nil {
		t.Fatal(err)
	}
	h := r.Submit(ctx, Request{ClipPath: writeRaw(t)})
	h.Cancel()
	r.sem.Release(1)

	if _, err := h.Wait(ctx); !errors.Is(err, ErrDiscarded) {
		t.Errorf("expected ErrDiscarded, got %v", err)
	}
	if q.count() != 0 {
		t.Error("discarded clip must not be enqueued")
	}
}

func TestSubmit_CancelMidPipelineDropsOutput(t *testing.T) {
	q := &recordingQueue{}
	det := &gatedDetector{entered: make(chan struct{}), release: make(chan struct{})}
	r, outDir := newTestRunner(t, capability.Set{PostProcessBlur: true, Burn: true}, det, q)
	ctx := context.Background()

	h := r.Submit(ctx, Request{ClipPath: writeRaw(t), Transcript: twentyWords()})
	<-det.entered
	h.Cancel()
	close(det.release)

	if _, err := h.Wait(ctx); !errors.Is(err, ErrDiscarded) {
		t.Fatalf("expected ErrDiscarded, got %v", err)
	}
	if q.count() != 0 {
		t.Error("discarded clip must not be enqueued")
	}
	entries, _ := os.ReadDir(outDir)
	if len(entries) != 0 {
		t.Errorf("discarded clip left %d output files", len(entries))
	}
}

type fakeTranscriber struct {
	calls int
}

func (f *fakeTranscriber) Transcribe(context.Context, string) (captions.Transcript, error) {
	f.calls++
	return *twentyWords(), nil
}

func TestProcess_TranscribesWhenNoTranscriptAndPersistsArtifact(t *testing.T) {
	q := &recordingQueue{}
	r, _ := newTestRunner(t, capability.Restricted, nil, q)
	tr := &fakeTranscriber{}
	r.cfg.Transcriber = tr
	artifact := filepath.Join(t.TempDir(), "transcript.json.zst")

	out, err := r.Process(context.Background(), Request{ClipPath: writeRaw(t), TranscriptArtifact: artifact})
	if err != nil {
		t.Fatal(err)
	}
	if tr.calls != 1 || len(out.Result.CaptionSegments) != 3 {
		t.Errorf("expected one transcription and 3 segments, got %d calls, %d segments", tr.calls, len(out.Result.CaptionSegments))
	}
	if _, err := os.Stat(artifact); err != nil {
		t.Errorf("transcript artifact should be written: %v", err)
	}

	// A second run prefers the artifact over a new transcription.
	if _, err := r.Process(context.Background(), Request{ClipPath: writeRaw(t), TranscriptArtifact: artifact}); err != nil {
		t.Fatal(err)
	}
	if tr.calls != 1 {
		t.Errorf("artifact should satisfy the second run, transcriber called %d times", tr.calls)
	}
}

// Same clip submitted twice; the second run is discarded while its caption
// pass is running and produces bytes identical to the first run's artifact.
func TestSubmit_DiscardAfterComposeKeepsEarlierIdenticalArtifact(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var gated sync.Once
	var runs int
	var mu sync.Mutex
	runner := &mediatest.Runner{Handle: func(_ context.Context, name string, args []string) ([]byte, error) {
		if name == "ffprobe" {
			return []byte(probeJSON), nil
		}
		if strings.Contains(strings.Join(args, " "), "subtitles") {
			mu.Lock()
			runs++
			second := runs == 2
			mu.Unlock()
			if second {
				gated.Do(func() { close(entered) })
				<-release
			}
		}
		return nil, os.WriteFile(mediatest.OutputPath(args), []byte("burned"), 0o644)
	}}
	tools := media.Tools{FFmpeg: "ffmpeg", FFprobe: "ffprobe", Runner: runner}
	q := &recordingQueue{}
	r := NewRunner(Config{
		Tools:        tools,
		Capabilities: capability.Set{Burn: true},
		Blur:         blur.NewStage(tools, nil, blur.Options{WorkDir: t.TempDir()}),
		Aligner:      captions.NewAligner(captions.Options{MaxSegmentDuration: 3 * time.Second}),
		Compose:      compose.NewStage(tools, compose.Options{OutputDir: filepath.Join(t.TempDir(), "out"), WorkDir: t.TempDir()}),
		Queue:        q,
		MaxClips:     1,
	})
	ctx := context.Background()
	clip := writeRaw(t)

	first, err := r.Process(ctx, Request{ClipPath: clip, UserID: "u", Transcript: twentyWords()})
	if err != nil {
		t.Fatal(err)
	}

	h := r.Submit(ctx, Request{ClipPath: clip, UserID: "u", Transcript: twentyWords()})
	<-entered
	h.Cancel()
	close(release)
	if _, err := h.Wait(ctx); !errors.Is(err, ErrDiscarded) {
		t.Fatalf("expected ErrDiscarded, got %v", err)
	}

	if q.count() != 1 {
		t.Fatalf("expected only the first run enqueued, got %d", q.count())
	}
	data, err := os.ReadFile(first.Result.LocalPath())
	if err != nil {
		t.Fatalf("first run's enqueued artifact was removed: %v", err)
	}
	if string(data) != "burned" {
		t.Errorf("unexpected artifact contents %q", data)
	}
}
