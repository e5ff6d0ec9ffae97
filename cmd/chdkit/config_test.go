package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing default file is empty", func(t *testing.T) {
		cfg, err := loadConfig(filepath.Join(t.TempDir(), "none.yaml"), false)
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.ImagesDir != "" || cfg.Precache != nil {
			t.Fatalf("expected zero config, got %+v", cfg)
		}
	})

	t.Run("missing explicit file fails", func(t *testing.T) {
		if _, err := loadConfig(filepath.Join(t.TempDir(), "none.yaml"), true); err == nil {
			t.Fatalf("expected an error")
		}
	})

	t.Run("parses every field", func(t *testing.T) {
		path := writeConfig(t, `
images_dir: /srv/chd
log_level: debug
log_format: json
server_address: 0.0.0.0:9000
precache: true
max_read: 4096
bwlimit: 1048576
`)
		cfg, err := loadConfig(path, true)
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.ImagesDir != "/srv/chd" || cfg.LogLevel != "debug" || cfg.LogFormat != "json" || cfg.ServerAddress != "0.0.0.0:9000" {
			t.Fatalf("config: %+v", cfg)
		}
		if cfg.Precache == nil || !*cfg.Precache || cfg.MaxRead == nil || *cfg.MaxRead != 4096 || cfg.BandwidthLimit == nil || *cfg.BandwidthLimit != 1<<20 {
			t.Fatalf("config pointers: %+v", cfg)
		}
	})

	t.Run("malformed yaml fails", func(t *testing.T) {
		if _, err := loadConfig(writeConfig(t, "images_dir: [unterminated"), true); err == nil {
			t.Fatalf("expected a parse error")
		}
	})

	t.Run("env overrides default path", func(t *testing.T) {
		t.Setenv(envConfigPath, "/tmp/custom.yaml")
		if got := configPath(); got != "/tmp/custom.yaml" {
			t.Fatalf("configPath: %q", got)
		}
	})
}

func TestApplyServeConfig(t *testing.T) {
	precache := true
	maxRead := int64(4096)
	cfg := Config{ImagesDir: "/srv/chd", ServerAddress: "0.0.0.0:9000", Precache: &precache, MaxRead: &maxRead}

	var got serveOptions
	cmd := &cli.Command{
		Name: "serve",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "images-dir", Destination: &got.imagesDir},
			&cli.StringFlag{Name: "addr", Value: "127.0.0.1:8080", Destination: &got.addr},
			&cli.BoolFlag{Name: "precache", Destination: &got.precache},
			&cli.Int64Flag{Name: "max-read", Value: 1 << 20, Destination: &got.maxRead},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			applyServeConfig(c, cfg, &got)
			return nil
		},
	}

	if err := cmd.Run(context.Background(), []string{"serve", "--addr", "127.0.0.1:1234"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.addr != "127.0.0.1:1234" {
		t.Fatalf("flag lost to config: %q", got.addr)
	}
	if got.imagesDir != "/srv/chd" || !got.precache || got.maxRead != 4096 {
		t.Fatalf("config not applied: %+v", got)
	}
}

func TestLoggingConfig(t *testing.T) {
	im := writeImages(t)
	path := writeConfig(t, "log_level: bogus\n")

	if _, err := run(t, "--config", path, "info", "-i", im.disk); err == nil {
		t.Fatalf("expected the config log level to be rejected")
	}
	if _, err := run(t, "--config", path, "--log-level", "warn", "info", "-i", im.disk); err != nil {
		t.Fatalf("flag should override config: %v", err)
	}
	if _, err := run(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "info", "-i", im.disk); err == nil {
		t.Fatalf("expected a missing explicit config to fail")
	}
	if _, err := run(t, "--log-format", "xml", "version"); err == nil {
		t.Fatalf("expected an unknown log format to fail")
	}
}

func TestExtractConfig(t *testing.T) {
	limit := int64(2048)
	cfg := Config{BandwidthLimit: &limit}

	runExtract := func(args ...string) int64 {
		t.Helper()
		var bw int64
		cmd := &cli.Command{
			Name:  "extract",
			Flags: []cli.Flag{&cli.Int64Flag{Name: "bwlimit", Destination: &bw}},
			Action: func(ctx context.Context, c *cli.Command) error {
				applyExtractConfig(c, cfg, &bw)
				return nil
			},
		}
		if err := cmd.Run(context.Background(), append([]string{"extract"}, args...)); err != nil {
			t.Fatalf("run: %v", err)
		}
		return bw
	}
	if bw := runExtract(); bw != 2048 {
		t.Fatalf("bwlimit: %d", bw)
	}
	if bw := runExtract("--bwlimit", "10"); bw != 10 {
		t.Fatalf("explicit bwlimit: %d", bw)
	}
}
