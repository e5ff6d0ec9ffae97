package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chdkit/pkg/cdrom"
)

func tocCmd() *cli.Command {
	var (
		image, parent string
		phys          bool
		asJSON        bool
	)

	return &cli.Command{
		Name:  "toc",
		Usage: "Print the track list of a CD or GD-ROM image",
		Flags: append(imageFlags(&image, &parent),
			&cli.BoolFlag{Name: "phys", Usage: "print physical instead of logical addresses", Destination: &phys},
			&cli.BoolFlag{Name: "json", Usage: "print as JSON", Destination: &asJSON},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			f, closeAll, err := openImage(ctx, image, parent)
			if err != nil {
				return err
			}
			defer closeAll()

			d, err := cdrom.New(f)
			if err != nil {
				return err
			}
			out := d.Layout(phys)
			w := outWriter(cmd)
			if asJSON {
				return printJSON(w, out)
			}
			return printTOC(w, out)
		},
	}
}

func printTOC(w io.Writer, out *cdrom.Layout) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TRACK\tTYPE\tSUBCODE\tSTART\tMSF\tFRAMES\tPREGAP\tPOSTGAP")
	for _, t := range out.Tracks {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%d\t%d\t%d\n",
			t.Number, t.Type, t.Subcode, t.Start, t.StartMSF, t.Length, t.Pregap, t.Postgap)
	}
	_, _ = fmt.Fprintf(tw, "lead-out\t\t\t%d\t%s\t\t\t\n", out.LeadOut, out.LeadOutMSF)
	if err := tw.Flush(); err != nil {
		return err
	}
	if out.GDROM {
		_, _ = fmt.Fprintln(w, "GD-ROM image")
	}
	return nil
}
