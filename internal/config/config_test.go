package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	data := `
captions:
  max_segment_duration: 2500ms
  pause_threshold: 1s
publish:
  concurrency: 3
  max_delay: 10m
player:
  capacity: 5
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Captions.MaxSegmentDuration != 2500*time.Millisecond {
		t.Errorf("expected 2.5s max segment, got %v", cfg.Captions.MaxSegmentDuration)
	}
	if cfg.Captions.PauseThreshold != time.Second {
		t.Errorf("expected 1s pause threshold, got %v", cfg.Captions.PauseThreshold)
	}
	if cfg.Publish.Concurrency != 3 || cfg.Publish.MaxDelay != 10*time.Minute {
		t.Errorf("publish overrides not applied: %+v", cfg.Publish)
	}
	if cfg.Player.Capacity != 5 {
		t.Errorf("expected capacity 5, got %d", cfg.Player.Capacity)
	}
	// Untouched fields keep defaults.
	if cfg.Publish.MaxAttempts != Default().Publish.MaxAttempts {
		t.Errorf("expected default max attempts, got %d", cfg.Publish.MaxAttempts)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFESSION_MEDIA_BUCKET", "media-bucket")
	t.Setenv("CONFESSION_TABLE", "confessions")
	t.Setenv("CONFESSION_LIVE_CAPTURE", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Publish.Bucket != "media-bucket" || cfg.Publish.Table != "confessions" {
		t.Errorf("env overrides not applied: %+v", cfg.Publish)
	}
	if !cfg.Capability.LiveCapture {
		t.Error("expected live capture from env")
	}
}

func TestLoad_BadEnvBool(t *testing.T) {
	t.Setenv("CONFESSION_LIVE_CAPTURE", "maybe")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unparseable bool")
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Publish.Concurrency = 0
	cfg.Player.Capacity = 0
	cfg.Publish.MaxDelay = time.Millisecond

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"publish.concurrency", "player.capacity", "base_delay"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got %v", want, err)
		}
	}
}
