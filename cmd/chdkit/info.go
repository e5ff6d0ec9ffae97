package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chdkit/pkg/chd"
)

type infoOutput struct {
	Image    string `json:"image"`
	*chd.Header
	Metadata []metaSummary `json:"metadata"`
}

type metaSummary struct {
	Tag    string `json:"tag"`
	Flags  uint8  `json:"flags"`
	Length int    `json:"length"`
}

func infoCmd() *cli.Command {
	var (
		image, parent string
		asJSON        bool
	)

	return &cli.Command{
		Name:  "info",
		Usage: "Print the header and metadata summary of an image",
		Flags: append(imageFlags(&image, &parent),
			&cli.BoolFlag{Name: "json", Usage: "print as JSON", Destination: &asJSON},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			f, closeAll, err := openImage(ctx, image, parent)
			if err != nil {
				return err
			}
			defer closeAll()

			h, err := f.Header()
			if err != nil {
				return err
			}
			metas, err := f.AllMetadata()
			if err != nil {
				return err
			}
			out := infoOutput{Image: image, Header: h, Metadata: make([]metaSummary, 0, len(metas))}
			for _, m := range metas {
				out.Metadata = append(out.Metadata, metaSummary{Tag: m.Tag, Flags: m.Flags, Length: len(m.Data)})
			}

			w := outWriter(cmd)
			if asJSON {
				return printJSON(w, out)
			}
			printInfo(w, out)
			return nil
		},
	}
}

func printInfo(w io.Writer, out infoOutput) {
	h := out.Header
	_, _ = fmt.Fprintf(w, "image:         %s\n", out.Image)
	_, _ = fmt.Fprintf(w, "version:       %d\n", h.Version)
	if len(h.Compression) > 0 {
		names := make([]string, len(h.Compression))
		for i, c := range h.Compression {
			names[i] = c.String()
		}
		_, _ = fmt.Fprintf(w, "compression:   %s\n", strings.Join(names, ", "))
	}
	_, _ = fmt.Fprintf(w, "hunk bytes:    %d\n", h.HunkBytes)
	_, _ = fmt.Fprintf(w, "hunks:         %d\n", h.HunkCount)
	_, _ = fmt.Fprintf(w, "unit bytes:    %d\n", h.UnitBytes)
	_, _ = fmt.Fprintf(w, "units:         %d\n", h.UnitCount)
	_, _ = fmt.Fprintf(w, "logical bytes: %d\n", h.LogicalBytes)
	for _, d := range []struct {
		name   string
		digest chd.Digest
	}{
		{"md5", h.MD5},
		{"sha1", h.SHA1},
		{"raw sha1", h.RawSHA1},
		{"parent md5", h.ParentMD5},
		{"parent sha1", h.ParentSHA1},
	} {
		if d.digest != nil {
			_, _ = fmt.Fprintf(w, "%-14s %s\n", d.name+":", d.digest)
		}
	}
	_, _ = fmt.Fprintf(w, "metadata:      %d records\n", len(out.Metadata))
	for _, m := range out.Metadata {
		_, _ = fmt.Fprintf(w, "  %-4s flags=%#02x %d bytes\n", m.Tag, m.Flags, m.Length)
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
