package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestDecodeDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Decode(v)
	if err != nil {
		t.Fatalf("decode defaults: %v", err)
	}
	if cfg.Server.Port != "5000" {
		t.Fatalf("expected port 5000, got %q", cfg.Server.Port)
	}
	if cfg.Storage.ReservedBlocks != 4 || cfg.Storage.InternalMinFree != 100*1024*1024 {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Agent.MaxRedirects != 5 || cfg.Agent.MaxConcurrent < 1 {
		t.Fatalf("unexpected agent defaults: %+v", cfg.Agent)
	}
}

func TestDecodeReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("server:\n  port: \"9090\"\nstorage:\n  download_dir: /tmp/dl\nagent:\n  max_concurrent: 4\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("read: %v", err)
	}

	cfg, err := Decode(v)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Storage.DownloadDir != "/tmp/dl" || cfg.Agent.MaxConcurrent != 4 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Database.Path != "data/downloads.db" {
		t.Fatalf("default database path lost: %q", cfg.Database.Path)
	}
}

func TestDecodeRejectsInvalidAgent(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("agent.max_concurrent", 0)

	if _, err := Decode(v); err == nil {
		t.Fatalf("expected error for zero concurrency")
	}
}
