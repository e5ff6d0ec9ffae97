package main

import (
	"context"
	"encoding/hex"
	"errors"
	"io"

	"github.com/urfave/cli/v3"
)

func readCmd() *cli.Command {
	var (
		image, parent string
		hunk, unit    int64
		offset, size  uint64
		asHex         bool
	)

	return &cli.Command{
		Name:  "read",
		Usage: "Read one hunk, one unit or a byte range",
		Flags: append(imageFlags(&image, &parent),
			&cli.Int64Flag{Name: "hunk", Usage: "hunk index", Value: -1, Destination: &hunk},
			&cli.Int64Flag{Name: "unit", Usage: "unit index", Value: -1, Destination: &unit},
			&cli.Uint64Flag{Name: "offset", Usage: "byte offset of a range read", Destination: &offset},
			&cli.Uint64Flag{Name: "size", Usage: "byte count of a range read", Destination: &size},
			&cli.BoolFlag{Name: "hex", Usage: "print a hex dump instead of raw bytes", Destination: &asHex},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			modes := 0
			for _, set := range []bool{hunk >= 0, unit >= 0, cmd.IsSet("size")} {
				if set {
					modes++
				}
			}
			if modes != 1 {
				return errors.New("exactly one of --hunk, --unit or --size is required")
			}

			f, closeAll, err := openImage(ctx, image, parent)
			if err != nil {
				return err
			}
			defer closeAll()

			var data []byte
			switch {
			case hunk >= 0:
				data, err = f.ReadHunk(uint32(hunk))
			case unit >= 0:
				data, err = f.ReadUnit(uint64(unit))
			default:
				data, err = f.ReadBytes(offset, size)
			}
			if err != nil {
				return err
			}
			return writeData(outWriter(cmd), data, asHex)
		},
	}
}

func writeData(w io.Writer, data []byte, asHex bool) error {
	if asHex {
		d := hex.Dumper(w)
		if _, err := d.Write(data); err != nil {
			return err
		}
		return d.Close()
	}
	_, err := w.Write(data)
	return err
}

