package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chdkit/internal/api"
	"github.com/samcharles93/chdkit/internal/logger"
)

type serveOptions struct {
	imagesDir   string
	addr        string
	precache    bool
	maxRead     int64
	readTimeout time.Duration
}

func serveCmd() *cli.Command {
	var opts serveOptions

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve random access to a directory of images over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "images-dir",
				Aliases:     []string{"dir"},
				Usage:       "directory containing .chd images (default: $CHDKIT_IMAGES_DIR)",
				Destination: &opts.imagesDir,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &opts.addr,
			},
			&cli.BoolFlag{
				Name:        "precache",
				Usage:       "load each image into memory when first opened",
				Destination: &opts.precache,
			},
			&cli.Int64Flag{
				Name:        "max-read",
				Usage:       "largest byte range served by one request",
				Value:       api.DefaultMaxRead,
				Destination: &opts.maxRead,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &opts.readTimeout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, configFromContext(ctx), &opts)
			if opts.maxRead <= 0 {
				return errors.New("--max-read must be positive")
			}

			provider := api.NewCachedImageProvider(api.ProviderConfig{
				ImagesDir: opts.imagesDir,
				Precache:  opts.precache,
				Logger:    log,
			})
			server := api.NewServer(provider, api.NewSessionStore(),
				api.WithLogger(log),
				api.WithMaxRead(uint64(opts.maxRead)),
			)
			defer func() {
				if err := server.Close(); err != nil {
					log.Warn("closing sessions", "error", err)
				}
				if err := provider.Close(); err != nil {
					log.Warn("closing images", "error", err)
				}
			}()

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", opts.addr, "images", opts.imagesDir)
			sc := echo.StartConfig{
				Address: opts.addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = opts.readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
