package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const envConfigPath = "CHDKIT_CONFIG"

// Config represents the chdkit configuration file
// (~/.config/chdkit/config.yaml). Values only apply to flags that were not
// set on the command line.
type Config struct {
	ImagesDir string `yaml:"images_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
	Precache      *bool  `yaml:"precache"`
	MaxRead       *int64 `yaml:"max_read"`

	// Extract
	BandwidthLimit *int64 `yaml:"bwlimit"`
}

func configPath() string {
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "chdkit", "config.yaml")
}

// loadConfig reads the config file. A missing file yields a zero Config
// unless the path was given explicitly.
func loadConfig(path string, explicit bool) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

type configKey struct{}

func withConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFromContext(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}

func applyLoggingConfig(c *cli.Command, cfg Config, opts *globalOptions) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		opts.logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		opts.logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, opts *serveOptions) {
	if cfg.ImagesDir != "" && !c.IsSet("images-dir") {
		opts.imagesDir = cfg.ImagesDir
	}
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		opts.addr = cfg.ServerAddress
	}
	if cfg.Precache != nil && !c.IsSet("precache") {
		opts.precache = *cfg.Precache
	}
	if cfg.MaxRead != nil && !c.IsSet("max-read") {
		opts.maxRead = *cfg.MaxRead
	}
}

func applyExtractConfig(c *cli.Command, cfg Config, bwlimit *int64) {
	if cfg.BandwidthLimit != nil && !c.IsSet("bwlimit") {
		*bwlimit = *cfg.BandwidthLimit
	}
}
