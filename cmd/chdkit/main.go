package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	var opts globalOptions
	return &cli.Command{
		Name:  "chdkit",
		Usage: "Random access tools for CHD disk images",
		Flags: globalFlags(&opts),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return setupContext(ctx, cmd, &opts)
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			infoCmd(),
			metaCmd(),
			readCmd(),
			extractCmd(),
			verifyCmd(),
			tocCmd(),
			sectorCmd(),
			serveCmd(),
			versionCmd(),
		},
	}
}
