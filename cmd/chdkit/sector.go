package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chdkit/pkg/cdrom"
	"github.com/samcharles93/chdkit/pkg/chd"
)

func sectorCmd() *cli.Command {
	var (
		image, parent string
		lba           int64
		count         int64
		typ           string
		phys          bool
		asHex         bool
	)

	return &cli.Command{
		Name:  "sector",
		Usage: "Read CD sectors, optionally converted to another sector layout",
		Flags: append(imageFlags(&image, &parent),
			&cli.Int64Flag{Name: "lba", Usage: "first sector", Required: true, Destination: &lba},
			&cli.Int64Flag{Name: "count", Usage: "number of sectors", Value: 1, Destination: &count},
			&cli.StringFlag{Name: "type", Usage: "sector layout to return, e.g. MODE1 or MODE1_RAW (default: as stored)", Destination: &typ},
			&cli.BoolFlag{Name: "phys", Usage: "address physical instead of logical sectors", Destination: &phys},
			&cli.BoolFlag{Name: "hex", Usage: "print a hex dump instead of raw bytes", Destination: &asHex},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var dataType chd.TrackType
			if typ != "" {
				t, ok := chd.ParseTrackType(typ)
				if !ok {
					return fmt.Errorf("unknown sector type %q", typ)
				}
				dataType = t
			}
			if count < 1 {
				return fmt.Errorf("--count must be positive")
			}

			f, closeAll, err := openImage(ctx, image, parent)
			if err != nil {
				return err
			}
			defer closeAll()

			d, err := cdrom.New(f)
			if err != nil {
				return err
			}
			w := outWriter(cmd)
			for i := int64(0); i < count; i++ {
				data, err := d.ReadSector(int(lba+i), dataType, phys)
				if err != nil {
					return err
				}
				if err := writeData(w, data, asHex); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
