package main

import (
	"context"
	"path/filepath"

	"github.com/samcharles93/chdkit/internal/api"
	"github.com/samcharles93/chdkit/internal/logger"
	"github.com/samcharles93/chdkit/pkg/chd"
)

// openImage opens image. An explicit parent is opened first; otherwise a
// differencing image finds its parent among the .chd files next to it.
// The returned func closes everything that was opened.
func openImage(ctx context.Context, image, parent string) (*chd.File, func(), error) {
	log := logger.FromContext(ctx)

	if parent != "" {
		p, err := chd.Open(parent, &chd.Options{Logger: log})
		if err != nil {
			return nil, nil, err
		}
		f, err := chd.Open(image, &chd.Options{Parent: p, Logger: log})
		if err != nil {
			_ = p.Close()
			return nil, nil, err
		}
		return f, func() {
			_ = f.Close()
			_ = p.Close()
		}, nil
	}

	provider := api.NewCachedImageProvider(api.ProviderConfig{
		ImagesDir: filepath.Dir(image),
		Logger:    log,
	})
	f, err := provider.OpenSession(filepath.Base(image))
	if err != nil {
		_ = provider.Close()
		return nil, nil, err
	}
	return f, func() {
		_ = f.Close()
		_ = provider.Close()
	}, nil
}
