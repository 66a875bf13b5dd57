package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.ImgSize != 64 || cfg.BatchSize != 128 || cfg.LatentDim != 100 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.LearningRate != 0.0002 {
		t.Fatalf("expected lr 0.0002, got %g", cfg.LearningRate)
	}
	if cfg.Comment == "" {
		t.Fatal("expected timestamp comment default")
	}
}

func TestLoadAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	body := strings.Join([]string{
		"# demo run",
		"root_folder: /data/anime",
		"batch_size: 32",
		"nz: 50",
		"lr: 0.001",
		"model_name: anime_large",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.RootFolder != "/data/anime" || cfg.BatchSize != 32 || cfg.LatentDim != 50 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.NumEpochs != 100 {
		t.Fatalf("defaults lost on load: %+v", cfg)
	}

	cfg.ApplyOverrides(Overrides{BatchSize: 16, Comment: "abc"})
	if cfg.BatchSize != 16 {
		t.Fatalf("override not applied: %d", cfg.BatchSize)
	}
	if cfg.RootFolder != "/data/anime" {
		t.Fatalf("zero override clobbered value: %s", cfg.RootFolder)
	}
	if got := cfg.RunName(); got != "anime_large-abc" {
		t.Fatalf("unexpected run name %q", got)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("bogus: 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing root_folder")
	}
	cfg.RootFolder = "/data/anime"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	cfg.ImgSize = 48
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non power-of-two img_size")
	}
	cfg.ImgSize = 8
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for img_size below 16")
	}
	cfg.ImgSize = 64

	cfg.Channels = 2
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for nc=2")
	}
	cfg.Channels = 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error for nc=1: %v", err)
	}

	cfg.LearningRate = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for lr=0")
	}
}
