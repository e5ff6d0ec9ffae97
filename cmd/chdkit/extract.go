package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chdkit/internal/extract"
	"github.com/samcharles93/chdkit/internal/logger"
)

func extractCmd() *cli.Command {
	var (
		image, parent string
		out           string
		bwlimit       int64
		quiet         bool
	)

	return &cli.Command{
		Name:  "extract",
		Usage: "Write the logical content of an image to a file or stdout",
		Flags: append(imageFlags(&image, &parent),
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output path (- for stdout)", Value: "-", Destination: &out},
			&cli.Int64Flag{Name: "bwlimit", Usage: "output bandwidth limit in bytes per second (0 = unlimited)", Destination: &bwlimit},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "hide the progress bar", Destination: &quiet},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyExtractConfig(cmd, configFromContext(ctx), &bwlimit)

			f, closeAll, err := openImage(ctx, image, parent)
			if err != nil {
				return err
			}
			defer closeAll()

			var w io.Writer = outWriter(cmd)
			var file *os.File
			if out != "-" {
				if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
					return err
				}
				file, err = os.Create(out)
				if err != nil {
					return err
				}
				w = file
			}

			opts := extract.Options{
				BandwidthLimit: bwlimit,
				Title:          filepath.Base(image),
				Logger:         log,
			}
			if stderr := errWriter(cmd); !quiet && logger.IsTerminal(stderr) {
				opts.Progress = stderr
			}
			res, err := extract.Extract(ctx, f, w, opts)
			if file != nil {
				err = errors.Join(err, file.Close())
			}
			if err != nil {
				return fmt.Errorf("extract %s: %w", image, err)
			}
			log.Info("extracted image", "image", image, "out", out, "bytes", res.Bytes, "duration", res.Duration)
			return nil
		},
	}
}
