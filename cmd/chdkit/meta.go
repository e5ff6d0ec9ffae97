package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chdkit/pkg/chd"
)

func metaCmd() *cli.Command {
	var (
		image, parent string
		tag           string
		index         int64
		parse         bool
		asJSON        bool
	)

	return &cli.Command{
		Name:  "meta",
		Usage: "List or print metadata records",
		Flags: append(imageFlags(&image, &parent),
			&cli.StringFlag{Name: "tag", Usage: "four character tag (default: any)", Destination: &tag},
			&cli.Int64Flag{Name: "index", Usage: "print only the index'th record matching --tag", Value: -1, Destination: &index},
			&cli.BoolFlag{Name: "parse", Usage: "decode hard disk, CD track and A/V records", Destination: &parse},
			&cli.BoolFlag{Name: "json", Usage: "print as JSON", Destination: &asJSON},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			f, closeAll, err := openImage(ctx, image, parent)
			if err != nil {
				return err
			}
			defer closeAll()

			var metas []*chd.Metadata
			if index >= 0 {
				m, err := f.Metadata(uint32(index), tag)
				if err != nil {
					return err
				}
				if m == nil {
					return fmt.Errorf("metadata %d with tag %q: %w", index, tag, chd.ErrNotFound)
				}
				metas = append(metas, m)
			} else {
				for i := uint32(0); ; i++ {
					m, err := f.Metadata(i, tag)
					if err != nil {
						return err
					}
					if m == nil {
						break
					}
					metas = append(metas, m)
				}
			}

			w := outWriter(cmd)
			if parse {
				parsed := make([]any, 0, len(metas))
				for _, m := range metas {
					v, err := parseMetadata(m)
					if err != nil {
						return err
					}
					parsed = append(parsed, v)
				}
				return printJSON(w, parsed)
			}
			if asJSON {
				return printJSON(w, metas)
			}
			for i, m := range metas {
				printMetadata(w, i, m)
			}
			return nil
		},
	}
}

// parseMetadata decodes the record types chdkit knows about.
func parseMetadata(m *chd.Metadata) (any, error) {
	switch m.Tag {
	case chd.TagHardDisk:
		return chd.ParseHardDisk(m)
	case chd.TagCDROMTrack, chd.TagCDROMTrack2, chd.TagGDROMTrack:
		return chd.ParseTrack(m)
	case chd.TagAV:
		return chd.ParseAV(m)
	}
	return nil, fmt.Errorf("metadata tag %q: %w", m.Tag, chd.ErrNotSupportedOperation)
}

func printMetadata(w io.Writer, i int, m *chd.Metadata) {
	check := ""
	if m.Checksummed() {
		check = " checksummed"
	}
	_, _ = fmt.Fprintf(w, "[%d] %s%s (%d bytes)\n", i, m.Tag, check, len(m.Data))
	if utf8.Valid(m.Data) && strconv.CanBackquote(string(m.Data)) {
		_, _ = fmt.Fprintf(w, "    %s\n", m.Data)
		return
	}
	_, _ = io.WriteString(w, hex.Dump(m.Data))
}
