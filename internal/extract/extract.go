// Package extract streams the logical content of an image hunk by hunk.
package extract

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"

	"github.com/juju/ratelimit"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/samcharles93/chdkit/internal/logger"
	"github.com/samcharles93/chdkit/pkg/chd"
)

// ErrDigestMismatch is returned by Verify when a stored digest does not
// match the content.
var ErrDigestMismatch = errors.New("digest mismatch")

type Options struct {
	// BandwidthLimit caps output in bytes per second. Zero is unlimited.
	BandwidthLimit int64
	// Progress receives a progress bar. Nil disables it.
	Progress io.Writer
	Title    string
	Logger   logger.Logger
}

type Result struct {
	Bytes    uint64
	Hunks    uint32
	Duration time.Duration
}

// Extract writes the logical content of f to w. The last hunk is trimmed
// to the logical size. ctx is checked between hunks.
func Extract(ctx context.Context, f *chd.File, w io.Writer, opts Options) (*Result, error) {
	h, err := f.Header()
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	var bucket *ratelimit.Bucket
	if opts.BandwidthLimit > 0 {
		bucket = ratelimit.NewBucketWithRate(float64(opts.BandwidthLimit)*0.85, opts.BandwidthLimit)
	}
	progress, bar := newProgressBar(opts.Title, opts.Progress, int64(h.LogicalBytes))

	start := time.Now()
	res := &Result{}
	buf := make([]byte, h.HunkBytes)
	remaining := h.LogicalBytes
	for i := uint32(0); i < h.HunkCount && remaining > 0; i++ {
		if err := ctx.Err(); err != nil {
			return res, finish(progress, bar, err)
		}
		if err := f.ReadHunkInto(i, buf); err != nil {
			return res, finish(progress, bar, err)
		}
		n := uint64(len(buf))
		if n > remaining {
			n = remaining
		}
		if bucket != nil {
			bucket.Wait(int64(n))
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return res, finish(progress, bar, fmt.Errorf("write hunk %d: %w", i, err))
		}
		remaining -= n
		res.Bytes += n
		res.Hunks++
		bar.IncrInt64(int64(n))
	}
	res.Duration = time.Since(start)
	if err := finish(progress, bar, nil); err != nil {
		return res, err
	}
	log.Debug("extracted image", "bytes", res.Bytes, "hunks", res.Hunks, "duration", res.Duration)
	return res, nil
}

func newProgressBar(title string, out io.Writer, total int64) (*mpb.Progress, *mpb.Bar) {
	progress := mpb.New(mpb.WithWidth(64), mpb.WithOutput(out))
	bar := progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(title, decor.WCSyncWidth),
			decor.CountersKibiByte("% .1f / % .1f"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Percentage(decor.WC{W: 5}), "done"),
		),
	)
	return progress, bar
}

func finish(progress *mpb.Progress, bar *mpb.Bar, err error) error {
	if err != nil {
		bar.Abort(false)
	} else {
		bar.SetTotal(-1, true)
	}
	progress.Wait()
	return err
}

// Digests holds the hashes of an image's logical content.
type Digests struct {
	MD5  chd.Digest `json:"md5"`
	SHA1 chd.Digest `json:"sha1"`
}

// Check is one stored digest compared against the content.
type Check struct {
	Name   string     `json:"name"`
	Stored chd.Digest `json:"stored"`
	Actual chd.Digest `json:"actual"`
	OK     bool       `json:"ok"`
}

type VerifyResult struct {
	Digests Digests `json:"digests"`
	Checks  []Check `json:"checks"`
}

// Verify hashes the logical content of f and compares it with the digests
// its header stores: MD5 up to v3, the SHA-1 of v3 and the raw SHA-1 from
// v4. A mismatch returns the result together with ErrDigestMismatch.
func Verify(ctx context.Context, f *chd.File, opts Options) (*VerifyResult, error) {
	h, err := f.Header()
	if err != nil {
		return nil, err
	}
	md5h, sha1h := md5.New(), sha1.New()
	if _, err := Extract(ctx, f, io.MultiWriter(md5h, sha1h), opts); err != nil {
		return nil, err
	}
	res := &VerifyResult{Digests: Digests{MD5: md5h.Sum(nil), SHA1: sha1h.Sum(nil)}}

	add := func(name string, stored chd.Digest, actual hash.Hash) {
		if stored == nil {
			return
		}
		sum := actual.Sum(nil)
		res.Checks = append(res.Checks, Check{Name: name, Stored: stored, Actual: sum, OK: bytes.Equal(stored, sum)})
	}
	switch {
	case h.Version <= 3:
		add("md5", h.MD5, md5h)
		if h.Version == 3 {
			add("sha1", h.SHA1, sha1h)
		}
	default:
		add("raw_sha1", h.RawSHA1, sha1h)
	}

	for _, c := range res.Checks {
		if !c.OK {
			return res, fmt.Errorf("%s: stored %s, computed %s: %w", c.Name, c.Stored, c.Actual, ErrDigestMismatch)
		}
	}
	return res, nil
}
