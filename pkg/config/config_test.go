package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sparrow/pkg/vm"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sparrow.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultMatchesVMLimits(t *testing.T) {
	cfg := Default()
	want := vm.DefaultLimits()
	if got := cfg.VMLimits(); got != want {
		t.Errorf("default limits = %+v, want %+v", got, want)
	}
	if cfg.Cache.Enabled {
		t.Error("cache enabled by default")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[limits]
max_frames = 128
max_ticks = 5000

[log]
verbosity = 2
file = "/tmp/sparrow.log"

[cache]
enabled = true
dir = "/tmp/sparrow-cache"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	limits := cfg.VMLimits()
	if limits.MaxFrames != 128 || limits.MaxTicks != 5000 {
		t.Errorf("limits = %+v", limits)
	}
	// Keys absent from the file keep their defaults.
	if limits.MaxBufferBytes != vm.DefaultLimits().MaxBufferBytes {
		t.Errorf("max_buffer_bytes = %d, want the default", limits.MaxBufferBytes)
	}
	if cfg.Log.Verbosity != 2 || cfg.Log.File != "/tmp/sparrow.log" {
		t.Errorf("log section = %+v", cfg.Log)
	}
	if !cfg.Cache.Enabled || cfg.Cache.Dir != "/tmp/sparrow-cache" {
		t.Errorf("cache section = %+v", cfg.Cache)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[limits]
max_framez = 128
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("typoed key accepted")
	}
	if !strings.Contains(err.Error(), "max_framez") {
		t.Errorf("error = %q, want it to name the bad key", err.Error())
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, `[limits`)
	if _, err := Load(path); err == nil {
		t.Error("malformed TOML accepted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("missing file accepted")
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("error = %q", err.Error())
	}
}
