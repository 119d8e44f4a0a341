// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"wwebkit/internal/sticker"
	"wwebkit/internal/util"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "WWEBKIT_"

// Bridge modes
const (
	BridgeModeNone  = ""
	BridgeModeCDP   = "cdp"
	BridgeModeRelay = "relay"
)

// Config represents the application configuration
type Config struct {
	// FFmpegPath is the transcoder executable used for video stickers
	FFmpegPath string `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
	// TempDir receives transcoder output; the OS temp dir when empty
	TempDir string `yaml:"temp_dir" env:"TEMP_DIR"`
	Debug   bool   `yaml:"debug" env:"DEBUG"`
	NoColor bool   `yaml:"no_color" env:"NO_COLOR"`

	Bridge BridgeConfig `yaml:"bridge" envPrefix:"BRIDGE_"`

	// Sticker holds the pack metadata applied when no pack is selected
	Sticker sticker.Metadata `yaml:"sticker"`

	// Packs are named sticker metadata presets
	Packs map[string]sticker.Metadata `yaml:"packs"`
}

// BridgeConfig selects and configures the browser page bridge
type BridgeConfig struct {
	// Mode is "cdp", "relay" or empty for no bridge
	Mode string `yaml:"mode" env:"MODE"`
	// URL is the DevTools websocket URL (cdp) or the relay endpoint (relay)
	URL string `yaml:"url" env:"URL"`
	// PageURLPrefix picks the web client tab among the browser targets (cdp)
	PageURLPrefix string        `yaml:"page_url_prefix" env:"PAGE_URL_PREFIX"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Retries is the number of extra connection attempts
	Retries int `yaml:"retries" env:"RETRIES"`
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	return &Config{
		FFmpegPath: sticker.DefaultFFmpegPath,
		Bridge: BridgeConfig{
			Mode:          BridgeModeNone,
			PageURLPrefix: "https://web.whatsapp.com",
			Timeout:       30 * time.Second,
			Retries:       3,
		},
		Sticker: sticker.Metadata{Categories: []string{}},
		Packs:   make(map[string]sticker.Metadata),
	}
}

// LoadConfig loads configuration from the specified file path. Keys missing
// from the file keep their defaults, then WWEBKIT_* environment variables
// override both.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(filepath.Clean(configPath))
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if cfg, err = parseWithDefaults(data); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("error reading environment overrides: %w", err)
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigOrDefault loads configuration, falling back to the defaults on any error
func LoadConfigOrDefault(configPath string) *Config {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// parseWithDefaults completes the file's YAML tree with the default tree
// before decoding, so absent booleans and durations keep their defaults
// instead of collapsing to zero values.
func parseWithDefaults(data []byte) (*Config, error) {
	var given map[string]any
	if err := yaml.Unmarshal(data, &given); err != nil {
		return nil, err
	}

	defaults, err := toTree(DefaultConfig())
	if err != nil {
		return nil, err
	}
	merged, err := yaml.Marshal(util.MergeDefault(defaults, given))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(merged))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	if cfg.Packs == nil {
		cfg.Packs = make(map[string]sticker.Metadata)
	}
	return cfg, nil
}

func toTree(cfg *Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// ValidateConfig checks value ranges and required combinations
func ValidateConfig(cfg *Config) error {
	switch cfg.Bridge.Mode {
	case BridgeModeNone:
	case BridgeModeCDP, BridgeModeRelay:
		if cfg.Bridge.URL == "" {
			return fmt.Errorf("bridge.url is required for bridge mode %q", cfg.Bridge.Mode)
		}
	default:
		return fmt.Errorf("invalid bridge.mode %q (expected %q or %q)", cfg.Bridge.Mode, BridgeModeCDP, BridgeModeRelay)
	}
	if cfg.Bridge.Timeout < 0 {
		return fmt.Errorf("bridge.timeout must not be negative")
	}
	if cfg.Bridge.Retries < 0 {
		return fmt.Errorf("bridge.retries must not be negative")
	}
	if cfg.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path must not be empty")
	}
	if cfg.TempDir != "" {
		info, err := os.Stat(cfg.TempDir)
		if err != nil {
			return fmt.Errorf("temp_dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("temp_dir %s is not a directory", cfg.TempDir)
		}
	}
	return nil
}

// ListPacks returns the configured pack names in order
func (c *Config) ListPacks() []string {
	names := make([]string, 0, len(c.Packs))
	for name := range c.Packs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPack returns the named pack preset, or nil
func (c *Config) GetPack(name string) *sticker.Metadata {
	if pack, exists := c.Packs[name]; exists {
		return &pack
	}
	return nil
}

// FindConfigFile looks for a configuration file in standard locations
func FindConfigFile() string {
	if path := os.Getenv(EnvPrefix + "CONFIG"); path != "" {
		return path
	}

	for _, name := range []string{"wwebkit.yaml", "wwebkit.yml", ".wwebkit.yaml", ".wwebkit.yml"} {
		if fileExists(name) {
			return name
		}
	}

	if dir, err := os.UserConfigDir(); err == nil {
		for _, name := range []string{"config.yaml", "config.yml"} {
			if path := filepath.Join(dir, "wwebkit", name); fileExists(path) {
				return path
			}
		}
	}

	if runtime.GOOS != "windows" {
		if home, err := os.UserHomeDir(); err == nil {
			if path := filepath.Join(home, ".wwebkit.yaml"); fileExists(path) {
				return path
			}
		}
	}

	return ""
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
