package blur

import (
	"math"
	"sort"
	"time"
)

// FaceRegion is a face bounding box at a point in the clip, in pixels.
type FaceRegion struct {
	FrameIndex int           `json:"frameIndex"`
	Offset     time.Duration `json:"offset"`
	X          int           `json:"x"`
	Y          int           `json:"y"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	Confidence float64       `json:"confidence"`
}

// minBox keeps blur radii valid for ffmpeg's boxblur on subsampled chroma.
const minBox = 16

type rect struct{ x0, y0, x1, y1 int }

func (r rect) w() int { return r.x1 - r.x0 }
func (r rect) h() int { return r.y1 - r.y0 }

func (r rect) union(o rect) rect {
	return rect{min(r.x0, o.x0), min(r.y0, o.y0), max(r.x1, o.x1), max(r.y1, o.y1)}
}

func (r rect) iou(o rect) float64 {
	ix := max(0, min(r.x1, o.x1)-max(r.x0, o.x0))
	iy := max(0, min(r.y1, o.y1)-max(r.y0, o.y0))
	inter := float64(ix * iy)
	if inter == 0 {
		return 0
	}
	areaR := float64(r.w() * r.h())
	areaO := float64(o.w() * o.h())
	return inter / (areaR + areaO - inter)
}

// track is one blur window: a box held over a time range.
type track struct {
	box        rect
	start, end float64 // seconds
}

// buildTracks pads regions, clamps them to the frame, drops low-confidence
// detections and merges detections of the same face in consecutive samples
// into a single track held for hold on either side.
func buildTracks(regions []FaceRegion, frameW, frameH int, padding float64, hold time.Duration, minConfidence float64, duration time.Duration) []track {
	sorted := append([]FaceRegion(nil), regions...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	holdS := hold.Seconds()
	var tracks []track
	for _, r := range sorted {
		if r.Confidence < minConfidence {
			continue
		}
		box, ok := padAndClamp(r, frameW, frameH, padding)
		if !ok {
			continue
		}
		t := r.Offset.Seconds()
		start := math.Max(0, t-holdS)
		end := t + holdS
		if duration > 0 {
			end = math.Min(end, duration.Seconds())
		}

		merged := false
		for i := range tracks {
			tr := &tracks[i]
			if tr.end >= start && tr.box.iou(box) >= 0.3 {
				tr.box = tr.box.union(box)
				tr.end = math.Max(tr.end, end)
				merged = true
				break
			}
		}
		if !merged {
			tracks = append(tracks, track{box: box, start: start, end: end})
		}
	}
	return tracks
}

func padAndClamp(r FaceRegion, frameW, frameH int, padding float64) (rect, bool) {
	if r.Width <= 0 || r.Height <= 0 {
		return rect{}, false
	}
	padX := int(float64(r.Width) * padding)
	padY := int(float64(r.Height) * padding)
	box := rect{
		x0: r.X - padX,
		y0: r.Y - padY,
		x1: r.X + r.Width + padX,
		y1: r.Y + r.Height + padY,
	}
	if frameW > 0 {
		box.x0 = clamp(box.x0, 0, frameW)
		box.x1 = clamp(box.x1, 0, frameW)
	}
	if frameH > 0 {
		box.y0 = clamp(box.y0, 0, frameH)
		box.y1 = clamp(box.y1, 0, frameH)
	}

	// Even offsets and sizes keep crop aligned with 4:2:0 chroma.
	box.x0 &^= 1
	box.y0 &^= 1
	if box.w()%2 == 1 {
		box.x1--
	}
	if box.h()%2 == 1 {
		box.y1--
	}
	if box.w() < minBox || box.h() < minBox {
		return rect{}, false
	}
	return box, true
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
