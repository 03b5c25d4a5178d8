// Package config manages the distill configuration: a config.toml in the
// .distill/ directory, layered with env vars and CLI flags through viper.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

const (
	configFile = "config.toml"

	// DotDirName is the per-project (or per-home) configuration directory.
	DotDirName = ".distill"

	// v0 is the alpha version of the config.
	v0 = 0

	// CurrentV is the currently supported version, points to v0.
	CurrentV = v0
)

// Configer loads and saves the TOML configuration file.
type Configer struct {
	targetPath string
}

// NewConfiger resolves the configuration directory and prepares a Configer.
// Resolution order: explicit override, a .distill/ directory in the current
// working directory, then $HOME/.distill. When no directory exists the
// Configer still works: LoadConfig returns defaults and SaveConfig errors
// clearly.
func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	target, err := resolveDir(override)
	if err != nil {
		return nil, err
	}
	if target == "" {
		return cfger, nil
	}

	path := filepath.Join(target, configFile)
	if _, err := os.Stat(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfger.targetPath = path
	return cfger, nil
}

func resolveDir(override string) (string, error) {
	if override != "" {
		info, err := os.Stat(override)
		if err != nil {
			return "", fmt.Errorf("resolving config dir: %w", err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("config dir %q is not a directory", override)
		}
		return override, nil
	}

	if cwd, err := os.Getwd(); err == nil {
		local := filepath.Join(cwd, DotDirName)
		if info, err := os.Stat(local); err == nil && info.IsDir() {
			return local, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil
	}
	global := filepath.Join(home, DotDirName)
	if info, err := os.Stat(global); err == nil && info.IsDir() {
		return global, nil
	}

	return "", nil
}

// GetTarget returns the resolved config.toml path, empty when no .distill/
// directory was found.
func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig loads config.toml from the resolved directory. A missing file
// yields NewDefaultConfig() so callers always receive a fully-populated
// Config; fields set in the file override the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// ParseConfigTOML decodes raw TOML into a Config without applying defaults.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// applyDefaults fills zero-value fields in cfg from NewDefaultConfig().
func applyDefaults(cfg *Config) {
	defaults := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = defaults.Storage.SQLitePath
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = defaults.Embedding.Provider
	}
	if cfg.Embedding.Target == "" {
		cfg.Embedding.Target = defaults.Embedding.Target
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaults.Embedding.Model
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = defaults.Embedding.Dimensions
	}
	if cfg.Embedding.Field == "" {
		cfg.Embedding.Field = defaults.Embedding.Field
	}
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = defaults.VectorStore.Provider
	}
	if cfg.Training.BatchSize == 0 {
		cfg.Training.BatchSize = defaults.Training.BatchSize
	}
	if cfg.Training.Epochs == 0 {
		cfg.Training.Epochs = defaults.Training.Epochs
	}
	if cfg.Training.LogEveryStep == 0 {
		cfg.Training.LogEveryStep = defaults.Training.LogEveryStep
	}
	if cfg.Training.ContrastiveMargin == 0 {
		cfg.Training.ContrastiveMargin = defaults.Training.ContrastiveMargin
	}
	if cfg.Training.ProjectionNorm == "" {
		cfg.Training.ProjectionNorm = defaults.Training.ProjectionNorm
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = defaults.Retrieval.TopK
	}
	if len(cfg.Retrieval.HitsThresholds) == 0 {
		cfg.Retrieval.HitsThresholds = defaults.Retrieval.HitsThresholds
	}
	if cfg.EventStream.Provider == "" {
		cfg.EventStream.Provider = defaults.EventStream.Provider
	}
	if cfg.EventStream.Topic == "" {
		cfg.EventStream.Topic = defaults.EventStream.Topic
	}
}

// SaveConfig persists the configuration to config.toml.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}
	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// RenderTOML renders the config as TOML, for embedding in run records.
// Rendering failures yield an empty string.
func RenderTOML(cfg *Config) string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return ""
	}
	return buf.String()
}

// SetConfigValue loads the config, sets the given dotted key, and saves.
func (c *Configer) SetConfigValue(key, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}
	if err := info.set(cfg, value); err != nil {
		return err
	}
	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the value for the dotted key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}
	return info.get(cfg), nil
}

// ValidConfigKeys returns the sorted list of supported configuration keys.
func ValidConfigKeys() []string {
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsValidConfigKey reports whether key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}
