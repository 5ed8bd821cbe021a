// Package config loads engine settings from a TOML file. Every field has a
// sensible default; an absent file or section means "use the defaults".
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"sparrow/pkg/errors"
	"sparrow/pkg/vm"
)

// Config is the full engine configuration.
type Config struct {
	Limits LimitsConfig `toml:"limits"`
	Log    LogConfig    `toml:"log"`
	Cache  CacheConfig  `toml:"cache"`
}

// LimitsConfig mirrors vm.Limits in file form.
type LimitsConfig struct {
	MaxFrames      int   `toml:"max_frames"`
	MaxTicks       int64 `toml:"max_ticks"`
	MaxBufferBytes int   `toml:"max_buffer_bytes"`
	CollectTrigger int   `toml:"collect_trigger"`
}

// LogConfig controls the logging backend. Verbosity ranges from -1 (silent)
// upward; 0 logs errors and warnings only.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// CacheConfig controls the on-disk code cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	l := vm.DefaultLimits()
	return Config{
		Limits: LimitsConfig{
			MaxFrames:      l.MaxFrames,
			MaxTicks:       l.MaxTicks,
			MaxBufferBytes: l.MaxBufferBytes,
			CollectTrigger: l.CollectTrigger,
		},
		Log: LogConfig{Verbosity: 0},
	}
}

// Load reads a TOML file over the defaults. Unknown keys are an error, so a
// typoed setting fails loudly instead of silently using the default.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, errors.Newf("config file %q does not exist", path)
		}
		return cfg, errors.Newf("cannot parse config %q: %s", path, err).CausedBy(err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return cfg, errors.Newf("unknown config key %q in %q", undecoded[0].String(), path)
	}
	return cfg, nil
}

// VMLimits converts the limits section to the form the VM takes.
func (c Config) VMLimits() vm.Limits {
	return vm.Limits{
		MaxFrames:      c.Limits.MaxFrames,
		MaxTicks:       c.Limits.MaxTicks,
		MaxBufferBytes: c.Limits.MaxBufferBytes,
		CollectTrigger: c.Limits.CollectTrigger,
	}
}

// ConfigureLogging applies the log section to the process-wide backend.
func (c Config) ConfigureLogging() {
	var path *string
	if c.Log.File != "" {
		path = &c.Log.File
	}
	commonlog.Configure(c.Log.Verbosity, path)
}
