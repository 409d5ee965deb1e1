package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gitlab.com/timecraftjs/kernel-setup/internal/inject"
	"gitlab.com/timecraftjs/kernel-setup/internal/logging"
)

// EnvPrefix is the prefix of every environment variable read into the config,
// e.g. KERNEL_SETUP_BASE_DIR sets base_dir.
const EnvPrefix = "KERNEL_SETUP_"

// ConfigEnv names the environment variable holding an explicit config file
// path.
const ConfigEnv = EnvPrefix + "CONFIG"

// Config file names searched for in the working directory, in order.
var fileNames = []string{
	"kernel-setup.toml",
	".kernel-setup.toml",
	"kernel-setup.yaml",
	"kernel-setup.yml",
}

type Target struct {
	Path string `koanf:"path"`
	// Prefixed targets get the prefix joined in front of every kernel path
	Prefixed bool `koanf:"prefixed"`
}

type Bundle struct {
	Output      string `koanf:"output"`
	Compression string `koanf:"compression"`
}

type Config struct {
	BaseDir    string   `koanf:"base_dir"`
	KernelsDir string   `koanf:"kernels_dir"`
	Prefix     string   `koanf:"prefix"`
	Targets    []Target `koanf:"targets"`
	Bundle     Bundle   `koanf:"bundle"`
	LogLevel   string   `koanf:"log_level"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"base_dir":    ".",
		"kernels_dir": "kernels",
		"prefix":      inject.DefaultPrefix,
		"targets": []map[string]interface{}{
			{"path": "timecraft.js", "prefixed": true},
			{"path": "preload.js", "prefixed": false},
		},
		"bundle.output":      "kernels.cpio",
		"bundle.compression": "gzip",
		"log_level":          "warn",
	}
}

// Load builds the configuration from the built-in defaults, an optional config
// file and KERNEL_SETUP_* environment variables, later sources overriding
// earlier ones. An explicit path in KERNEL_SETUP_CONFIG must exist, otherwise
// the first of the known file names found in dir is used.
func Load(dir string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: failed to load defaults: %w", err)
	}

	path, err := findFile(dir)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return nil, fmt.Errorf("config: failed to load %q: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: failed to load environment: %w", err)
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("config: failed to decode: %w", err)
	}

	return &c, nil
}

// KERNEL_SETUP_BUNDLE__OUTPUT -> bundle.output, KERNEL_SETUP_BASE_DIR -> base_dir
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func findFile(dir string) (string, error) {
	if p := os.Getenv(ConfigEnv); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("config: %s is set to %q: %w", ConfigEnv, p, err)
		}
		return p, nil
	}

	for _, name := range fileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	}
	return toml.Parser()
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.KernelsDir == "" {
		result = multierror.Append(result, errors.New("kernels_dir must not be empty"))
	}
	if len(c.Targets) == 0 {
		result = multierror.Append(result, errors.New("at least one target is required"))
	}
	for i, t := range c.Targets {
		if t.Path == "" {
			result = multierror.Append(result, fmt.Errorf("targets[%d]: path must not be empty", i))
		}
	}
	if c.Bundle.Output == "" {
		result = multierror.Append(result, errors.New("bundle.output must not be empty"))
	}
	if !logging.ValidLevel(c.LogLevel) {
		result = multierror.Append(result, fmt.Errorf("log_level %q is not a known level", c.LogLevel))
	}

	return result.ErrorOrNil()
}

// InjectTargets converts the configured targets into inject targets, joining
// prefix into the prefixed ones.
func (c *Config) InjectTargets(prefix string) []inject.Target {
	targets := make([]inject.Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		transform := inject.Raw
		if t.Prefixed {
			transform = inject.Prefixed(prefix)
		}
		targets = append(targets, inject.Target{
			Path:      t.Path,
			Transform: transform,
		})
	}
	return targets
}
