package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chdkit/internal/logger"
)

type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	debug      bool
}

func globalFlags(opts *globalOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml",
			Value:       configPath(),
			Destination: &opts.configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &opts.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (auto, pretty, json, text)",
			Value:       "auto",
			Destination: &opts.logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &opts.debug,
		},
	}
}

// imageFlags are shared by every command that opens one image.
func imageFlags(image, parent *string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "image",
			Aliases:     []string{"i"},
			Usage:       "path to .chd file",
			Required:    true,
			Destination: image,
		},
		&cli.StringFlag{
			Name:        "parent",
			Usage:       "parent image of a differencing image (default: searched next to the image)",
			Destination: parent,
		},
	}
}

// setupContext loads the config file and installs the logger every command
// reads from its context.
func setupContext(ctx context.Context, cmd *cli.Command, opts *globalOptions) (context.Context, error) {
	cfg, err := loadConfig(opts.configPath, cmd.IsSet("config"))
	if err != nil {
		return ctx, err
	}
	applyLoggingConfig(cmd, cfg, opts)

	level, err := logger.ParseLevel(opts.logLevel)
	if err != nil {
		return ctx, err
	}
	if opts.debug {
		level = slog.LevelDebug
	}
	format, err := logger.ParseFormat(opts.logFormat)
	if err != nil {
		return ctx, err
	}

	ctx = logger.WithContext(ctx, logger.Setup(errWriter(cmd), level, format))
	return withConfig(ctx, cfg), nil
}

func outWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}
