// Package capability detects, once per process, which native media operations
// the runtime supports. The resulting Set is passed explicitly to every stage;
// no stage probes on its own.
package capability

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/confession-pipeline/internal/media"
)

// Set is the fixed capability record. It is a value type: copies are safe to
// share between goroutines and nothing mutates it after Probe returns.
type Set struct {
	LiveBlur        bool `json:"liveBlurAvailable"`
	PostProcessBlur bool `json:"postProcessBlurAvailable"`
	Burn            bool `json:"burnAvailable"`
	HardwareDecode  bool `json:"hardwareDecodeAvailable"`
}

// Restricted is the sandbox tier: nothing native is available.
var Restricted = Set{}

// Normalize enforces that live blur implies post-process blur.
func (s Set) Normalize() Set {
	if s.LiveBlur {
		s.PostProcessBlur = true
	}
	return s
}

// Options control a probe.
type Options struct {
	Tools media.Tools

	// LiveCapture is declared by the capture runtime when frames are blurred
	// while recording. It cannot be detected from ffmpeg.
	LiveCapture bool

	DisablePostProcess    bool
	DisableBurn           bool
	DisableHardwareDecode bool

	// VerifyHardwareDecode runs a short decode with -hwaccel auto instead of
	// trusting the -hwaccels listing.
	VerifyHardwareDecode bool

	// Timeout bounds each ffmpeg query. Zero means 5s.
	Timeout time.Duration

	// LookPath resolves binaries. Nil means exec.LookPath.
	LookPath func(string) (string, error)
}

// Probe queries the runtime. It never fails: any error or uncertainty leaves
// the corresponding capability false.
func Probe(ctx context.Context, opts Options) Set {
	start := time.Now()
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	set := Set{LiveBlur: opts.LiveCapture}

	haveFFmpeg := found(lookPath, opts.Tools.FFmpeg)
	haveFFprobe := found(lookPath, opts.Tools.FFprobe)

	if haveFFmpeg {
		filters := queryList(ctx, opts.Tools, timeout, parseFilters, "-hide_banner", "-filters")
		set.PostProcessBlur = haveFFprobe && filters["boxblur"] && filters["overlay"] && filters["crop"]
		set.Burn = filters["overlay"] && filters["subtitles"]

		hwaccels := queryList(ctx, opts.Tools, timeout, parseHWAccels, "-hide_banner", "-hwaccels")
		set.HardwareDecode = len(hwaccels) > 0
		if set.HardwareDecode && opts.VerifyHardwareDecode {
			set.HardwareDecode = verifyHardwareDecode(ctx, opts.Tools, timeout)
		}
	}

	if opts.DisablePostProcess {
		set.PostProcessBlur = false
	}
	if opts.DisableBurn {
		set.Burn = false
	}
	if opts.DisableHardwareDecode {
		set.HardwareDecode = false
	}
	set = set.Normalize()

	log.Info().
		Bool("ffmpeg", haveFFmpeg).
		Bool("ffprobe", haveFFprobe).
		Bool("liveBlur", set.LiveBlur).
		Bool("postProcessBlur", set.PostProcessBlur).
		Bool("burn", set.Burn).
		Bool("hardwareDecode", set.HardwareDecode).
		Dur("elapsed", time.Since(start)).
		Msg("Capability probe complete")
	return set
}

// Prober caches the first Probe result for the process lifetime.
type Prober struct {
	opts Options
	once sync.Once
	set  Set
}

// NewProber returns a Prober that probes with opts on first use.
func NewProber(opts Options) *Prober {
	return &Prober{opts: opts}
}

// Set returns the cached capability set, probing on the first call only.
func (p *Prober) Set(ctx context.Context) Set {
	p.once.Do(func() {
		p.set = Probe(ctx, p.opts)
	})
	return p.set
}

func found(lookPath func(string) (string, error), name string) bool {
	if name == "" {
		return false
	}
	path, err := lookPath(name)
	if err != nil {
		log.Debug().Str("binary", name).Msg("Binary not found")
		return false
	}
	log.Debug().Str("binary", name).Str("path", path).Msg("Binary found")
	return true
}

func queryList(ctx context.Context, tools media.Tools, timeout time.Duration, parse func([]byte) map[string]bool, args ...string) map[string]bool {
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := tools.Runner.Run(qctx, tools.FFmpeg, args...)
	if err != nil {
		log.Warn().Err(err).Strs("args", args).Msg("Capability query failed; assuming unavailable")
		return nil
	}
	return parse(out)
}

func verifyHardwareDecode(ctx context.Context, tools media.Tools, timeout time.Duration) bool {
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := tools.Runner.Run(qctx, tools.FFmpeg,
		"-hide_banner",
		"-hwaccel", "auto",
		"-f", "lavfi",
		"-i", "testsrc=duration=0.2:size=320x240:rate=25",
		"-frames:v", "5",
		"-f", "null", "-",
	)
	if err != nil {
		log.Warn().Err(err).Msg("Hardware decode test failed")
		return false
	}
	return true
}

// parseFilters reads `ffmpeg -filters` output. Filter lines carry a flags
// column followed by the filter name, after a " --- " separator line.
func parseFilters(out []byte) map[string]bool {
	filters := make(map[string]bool)
	inBody := false
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "---") {
			inBody = true
			continue
		}
		if !inBody {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			filters[fields[1]] = true
		}
	}
	return filters
}

// parseHWAccels reads `ffmpeg -hwaccels` output: a header line followed by
// one method per line.
func parseHWAccels(out []byte) map[string]bool {
	methods := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		methods[line] = true
	}
	return methods
}
