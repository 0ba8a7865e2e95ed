package blur

import (
	"strings"
	"testing"
	"time"

	"github.com/fpang/confession-pipeline/internal/media"
)

func TestPadAndClamp(t *testing.T) {
	box, ok := padAndClamp(FaceRegion{X: -20, Y: 10, Width: 100, Height: 101}, 1080, 1920, 0.1)
	if !ok {
		t.Fatal("expected a valid box")
	}
	if box.x0 != 0 {
		t.Errorf("expected x clamped to 0, got %d", box.x0)
	}
	if box.w()%2 != 0 || box.h()%2 != 0 || box.x0%2 != 0 || box.y0%2 != 0 {
		t.Errorf("box must be even-aligned: %+v", box)
	}

	if _, ok := padAndClamp(FaceRegion{X: 5, Y: 5, Width: 6, Height: 6}, 1080, 1920, 0); ok {
		t.Error("tiny boxes should be rejected")
	}
	if _, ok := padAndClamp(FaceRegion{X: 1070, Y: 5, Width: 100, Height: 100}, 1080, 1920, 0); ok {
		t.Error("boxes clipped below the minimum size should be rejected")
	}
}

func TestBuildTracks_MergesAndHolds(t *testing.T) {
	regions := []FaceRegion{
		{Offset: 1 * time.Second, X: 100, Y: 100, Width: 200, Height: 200, Confidence: 0.9},
		{Offset: 1500 * time.Millisecond, X: 110, Y: 100, Width: 200, Height: 200, Confidence: 0.9},
		{Offset: 1 * time.Second, X: 700, Y: 1200, Width: 200, Height: 200, Confidence: 0.9},
		{Offset: 3 * time.Second, X: 100, Y: 100, Width: 200, Height: 200, Confidence: 0.9},
	}
	tracks := buildTracks(regions, 1080, 1920, 0, 500*time.Millisecond, 0.5, 3200*time.Millisecond)

	if len(tracks) != 3 {
		t.Fatalf("expected 3 tracks (merged pair, second face, later reappearance), got %d", len(tracks))
	}
	first := tracks[0]
	if first.start != 0.5 || first.end != 2.0 {
		t.Errorf("expected merged window [0.5,2.0], got [%f,%f]", first.start, first.end)
	}
	last := tracks[2]
	if last.end != 3.2 {
		t.Errorf("expected window clipped to clip duration, got %f", last.end)
	}
}

func TestFilterGraph(t *testing.T) {
	tracks := []track{
		{box: rect{100, 200, 300, 440}, start: 0.25, end: 1.5},
		{box: rect{500, 600, 564, 664}, start: 2, end: 3},
	}
	graph := filterGraph(tracks)

	for _, want := range []string{
		"[0:v]split=3[base][s0][s1];",
		"[s0]crop=200:240:100:200,boxblur=luma_radius=25:luma_power=3[b0];",
		"[s1]crop=64:64:500:600,boxblur=luma_radius=8:luma_power=3[b1];",
		"[base][b0]overlay=100:200:enable='between(t,0.250,1.500)'[v1];",
		"[v1][b1]overlay=500:600:enable='between(t,2.000,3.000)'[vout]",
	} {
		if !strings.Contains(graph, want) {
			t.Errorf("graph missing %q:\n%s", want, graph)
		}
	}
}

func TestBlurArgs_KeepsAudio(t *testing.T) {
	args := blurArgs("in.mp4", "out.mp4", nil, 20)
	joined := strings.Join(args, " ")
	for _, want := range []string{"-map 0:a?", "-c:a copy", "-crf 20", "-y out.mp4"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
}

func TestToRegions(t *testing.T) {
	batch := []media.Frame{
		{Index: 16, Offset: 8 * time.Second},
		{Index: 17, Offset: 8500 * time.Millisecond},
	}
	found := []detection{
		{Frame: 1, Box: [4]float64{100, 250, 300, 500}, Confidence: 0.8},
		{Frame: 5, Box: [4]float64{0, 0, 10, 10}},
		{Frame: 0, Box: [4]float64{300, 300, 200, 200}},
	}
	regions := toRegions(found, batch, 1000, 2000)
	if len(regions) != 1 {
		t.Fatalf("expected 1 valid region, got %d", len(regions))
	}
	r := regions[0]
	if r.FrameIndex != 17 || r.Offset != 8500*time.Millisecond {
		t.Errorf("region should map to the global frame, got %+v", r)
	}
	if r.X != 250 || r.Y != 200 || r.Width != 250 || r.Height != 400 {
		t.Errorf("unexpected pixel box %+v", r)
	}
}
