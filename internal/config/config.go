// Package config loads the pipeline configuration from a YAML file with
// environment overrides for deployment-specific resource names.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete pipeline configuration.
type Config struct {
	Media      MediaConfig      `yaml:"media"`
	Capability CapabilityConfig `yaml:"capability"`
	Blur       BlurConfig       `yaml:"blur"`
	Captions   CaptionsConfig   `yaml:"captions"`
	Compose    ComposeConfig    `yaml:"compose"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Publish    PublishConfig    `yaml:"publish"`
	Player     PlayerConfig     `yaml:"player"`
	Gemini     GeminiConfig     `yaml:"gemini"`
}

// MediaConfig locates the ffmpeg toolchain and scratch space.
type MediaConfig struct {
	FFmpegPath   string        `yaml:"ffmpeg_path"`
	FFprobePath  string        `yaml:"ffprobe_path"`
	WorkDir      string        `yaml:"work_dir"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// CapabilityConfig declares runtime-provided capabilities and lets operators
// force capabilities off to emulate a restricted tier.
type CapabilityConfig struct {
	LiveCapture           bool `yaml:"live_capture"`
	DisablePostProcess    bool `yaml:"disable_post_process"`
	DisableBurn           bool `yaml:"disable_burn"`
	DisableHardwareDecode bool `yaml:"disable_hardware_decode"`
}

// BlurConfig tunes face sampling and the blur pass.
type BlurConfig struct {
	SampleFPS         float64       `yaml:"sample_fps"`
	MaxFrames         int           `yaml:"max_frames"`
	RegionPadding     float64       `yaml:"region_padding"`
	HoldWindow        time.Duration `yaml:"hold_window"`
	MinConfidence     float64       `yaml:"min_confidence"`
	DetectorModel     string        `yaml:"detector_model"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// CaptionsConfig tunes segment grouping.
type CaptionsConfig struct {
	MaxSegmentDuration time.Duration `yaml:"max_segment_duration"`
	PauseThreshold     time.Duration `yaml:"pause_threshold"`
	MaxWordsPerSegment int           `yaml:"max_words_per_segment"`
	TranscriberModel   string        `yaml:"transcriber_model"`
}

// ComposeConfig controls burn-in output.
type ComposeConfig struct {
	WatermarkPath       string  `yaml:"watermark_path"`
	WatermarkWidthRatio float64 `yaml:"watermark_width_ratio"`
	OutputDir           string  `yaml:"output_dir"`
	CRF                 int     `yaml:"crf"`
}

// PipelineConfig bounds clip-level parallelism.
type PipelineConfig struct {
	MaxConcurrentClips int `yaml:"max_concurrent_clips"`
}

// PublishConfig configures the durable queue and its remote store.
type PublishConfig struct {
	QueueDB              string        `yaml:"queue_db"`
	Concurrency          int           `yaml:"concurrency"`
	MaxAttempts          int           `yaml:"max_attempts"`
	BaseDelay            time.Duration `yaml:"base_delay"`
	MaxDelay             time.Duration `yaml:"max_delay"`
	Bucket               string        `yaml:"bucket"`
	KeyPrefix            string        `yaml:"key_prefix"`
	Table                string        `yaml:"table"`
	EventBus             string        `yaml:"event_bus"`
	ConnectivityAddr     string        `yaml:"connectivity_addr"`
	ConnectivityInterval time.Duration `yaml:"connectivity_interval"`
}

// PlayerConfig sizes the decoder pool.
type PlayerConfig struct {
	Capacity      int           `yaml:"capacity"`
	CacheDir      string        `yaml:"cache_dir"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
}

// GeminiConfig names where the API key lives.
type GeminiConfig struct {
	SSMParam string `yaml:"ssm_param"`
}

// Default returns a configuration usable on a developer machine.
func Default() *Config {
	return &Config{
		Media: MediaConfig{
			FFmpegPath:   "ffmpeg",
			FFprobePath:  "ffprobe",
			WorkDir:      os.TempDir(),
			ProbeTimeout: 5 * time.Second,
		},
		Blur: BlurConfig{
			SampleFPS:         2,
			MaxFrames:         60,
			RegionPadding:     0.15,
			HoldWindow:        750 * time.Millisecond,
			MinConfidence:     0.5,
			DetectorModel:     "gemini-3-flash-preview",
			RequestsPerSecond: 2,
		},
		Captions: CaptionsConfig{
			MaxSegmentDuration: 3 * time.Second,
			PauseThreshold:     700 * time.Millisecond,
			TranscriberModel:   "gemini-3-flash-preview",
		},
		Compose: ComposeConfig{
			WatermarkWidthRatio: 0.18,
			OutputDir:           "output",
			CRF:                 23,
		},
		Pipeline: PipelineConfig{MaxConcurrentClips: 2},
		Publish: PublishConfig{
			QueueDB:              "publish-queue.db",
			Concurrency:          2,
			MaxAttempts:          8,
			BaseDelay:            2 * time.Second,
			MaxDelay:             5 * time.Minute,
			KeyPrefix:            "confessions/",
			ConnectivityAddr:     "s3.amazonaws.com:443",
			ConnectivityInterval: 15 * time.Second,
		},
		Player: PlayerConfig{
			Capacity:      4,
			CacheDir:      "player-cache",
			PresignExpiry: 15 * time.Minute,
		},
		Gemini: GeminiConfig{SSMParam: "/confession-pipeline/prod/gemini-api-key"},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"CONFESSION_MEDIA_BUCKET": &c.Publish.Bucket,
		"CONFESSION_TABLE":        &c.Publish.Table,
		"CONFESSION_EVENT_BUS":    &c.Publish.EventBus,
		"CONFESSION_QUEUE_DB":     &c.Publish.QueueDB,
		"CONFESSION_WATERMARK":    &c.Compose.WatermarkPath,
		"CONFESSION_OUTPUT_DIR":   &c.Compose.OutputDir,
		"SSM_API_KEY_PARAM":       &c.Gemini.SSMParam,
	}
	for env, dst := range strs {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("CONFESSION_LIVE_CAPTURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CONFESSION_LIVE_CAPTURE: %w", err)
		}
		c.Capability.LiveCapture = b
	}
	return nil
}

// Validate checks ranges that would otherwise surface as confusing runtime errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Captions.MaxSegmentDuration <= 0 {
		errs = append(errs, errors.New("captions.max_segment_duration must be positive"))
	}
	if c.Captions.PauseThreshold <= 0 {
		errs = append(errs, errors.New("captions.pause_threshold must be positive"))
	}
	if c.Blur.SampleFPS <= 0 {
		errs = append(errs, errors.New("blur.sample_fps must be positive"))
	}
	if c.Blur.MaxFrames <= 0 {
		errs = append(errs, errors.New("blur.max_frames must be positive"))
	}
	if c.Compose.WatermarkWidthRatio <= 0 || c.Compose.WatermarkWidthRatio > 1 {
		errs = append(errs, errors.New("compose.watermark_width_ratio must be in (0, 1]"))
	}
	if c.Pipeline.MaxConcurrentClips < 1 {
		errs = append(errs, errors.New("pipeline.max_concurrent_clips must be at least 1"))
	}
	if c.Publish.Concurrency < 1 {
		errs = append(errs, errors.New("publish.concurrency must be at least 1"))
	}
	if c.Publish.MaxAttempts < 1 {
		errs = append(errs, errors.New("publish.max_attempts must be at least 1"))
	}
	if c.Publish.BaseDelay <= 0 || c.Publish.MaxDelay < c.Publish.BaseDelay {
		errs = append(errs, errors.New("publish delays must satisfy 0 < base_delay <= max_delay"))
	}
	if c.Publish.QueueDB == "" {
		errs = append(errs, errors.New("publish.queue_db is required"))
	}
	if c.Player.Capacity < 1 {
		errs = append(errs, errors.New("player.capacity must be at least 1"))
	}
	return errors.Join(errs...)
}
