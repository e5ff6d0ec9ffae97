package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chdkit/internal/extract"
	"github.com/samcharles93/chdkit/internal/logger"
)

func verifyCmd() *cli.Command {
	var (
		image, parent string
		quiet         bool
		asJSON        bool
	)

	return &cli.Command{
		Name:  "verify",
		Usage: "Check the stored digests of an image against its content",
		Flags: append(imageFlags(&image, &parent),
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "hide the progress bar", Destination: &quiet},
			&cli.BoolFlag{Name: "json", Usage: "print as JSON", Destination: &asJSON},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			f, closeAll, err := openImage(ctx, image, parent)
			if err != nil {
				return err
			}
			defer closeAll()

			opts := extract.Options{Title: filepath.Base(image), Logger: logger.FromContext(ctx)}
			if stderr := errWriter(cmd); !quiet && logger.IsTerminal(stderr) {
				opts.Progress = stderr
			}
			res, verr := extract.Verify(ctx, f, opts)
			if res == nil {
				return verr
			}

			w := outWriter(cmd)
			if asJSON {
				if err := printJSON(w, res); err != nil {
					return err
				}
				return verr
			}
			_, _ = fmt.Fprintf(w, "content md5:  %s\n", res.Digests.MD5)
			_, _ = fmt.Fprintf(w, "content sha1: %s\n", res.Digests.SHA1)
			for _, c := range res.Checks {
				status := "ok"
				if !c.OK {
					status = "MISMATCH"
				}
				_, _ = fmt.Fprintf(w, "%-9s %s %s\n", c.Name+":", c.Stored, status)
			}
			if len(res.Checks) == 0 {
				_, _ = fmt.Fprintln(w, "no stored digests to check")
			}
			return verr
		},
	}
}
