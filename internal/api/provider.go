package api

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/samcharles93/chdkit/internal/logger"
	"github.com/samcharles93/chdkit/pkg/chd"
)

// ImageProvider resolves image names and serialises access to their
// sessions.
type ImageProvider interface {
	ListImages() ([]ImageInfo, error)
	// WithImage runs fn with the shared session of image name. Calls for
	// the same image never overlap.
	WithImage(ctx context.Context, name string, fn func(f *chd.File) error) error
	// OpenSession opens a private session of image name.
	OpenSession(name string) (*chd.File, error)
}

type ProviderConfig struct {
	ImagesDir string
	// Precache loads each image fully into memory when first opened.
	Precache bool
	Logger   logger.Logger
}

// CachedImageProvider keeps one open session per image path. Parents of
// differencing images are looked up in the images directory by digest and
// shared through the same cache.
type CachedImageProvider struct {
	cfg   ProviderConfig
	log   logger.Logger
	mu    sync.Mutex
	cache map[string]*imageEntry
}

type imageEntry struct {
	file *chd.File
	mu   sync.Mutex
}

const (
	envImagesDir   = "CHDKIT_IMAGES_DIR"
	imageExt       = ".chd"
	maxParentDepth = 8
)

func NewCachedImageProvider(cfg ProviderConfig) *CachedImageProvider {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &CachedImageProvider{
		cfg:   cfg,
		log:   log,
		cache: make(map[string]*imageEntry),
	}
}

func (p *CachedImageProvider) WithImage(ctx context.Context, name string, fn func(f *chd.File) error) error {
	path, err := p.resolveImagePath(name)
	if err != nil {
		return err
	}
	entry, err := p.getOrOpen(path, 0)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(entry.file)
}

func (p *CachedImageProvider) OpenSession(name string) (*chd.File, error) {
	path, err := p.resolveImagePath(name)
	if err != nil {
		return nil, err
	}
	return p.open(path, 0)
}

func (p *CachedImageProvider) ListImages() ([]ImageInfo, error) {
	dir := p.imagesDir()
	if dir == "" {
		return nil, fmt.Errorf("images directory is not configured")
	}
	paths, err := discoverImages(dir)
	if err != nil {
		return nil, err
	}
	out := make([]ImageInfo, 0, len(paths))
	for _, path := range paths {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		out = append(out, ImageInfo{
			Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Size: st.Size(),
		})
	}
	return out, nil
}

// Close closes every cached session.
func (p *CachedImageProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for path, e := range p.cache {
		e.mu.Lock()
		if err := e.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.mu.Unlock()
		delete(p.cache, path)
	}
	return firstErr
}

func (p *CachedImageProvider) getOrOpen(path string, depth int) (*imageEntry, error) {
	p.mu.Lock()
	entry, ok := p.cache[path]
	p.mu.Unlock()
	if ok {
		return entry, nil
	}

	f, err := p.open(path, depth)
	if err != nil {
		return nil, err
	}
	newEntry := &imageEntry{file: f}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.cache[path]; ok {
		_ = f.Close()
		return existing, nil
	}
	p.cache[path] = newEntry
	return newEntry, nil
}

// open starts a new session on path. A parent, if needed, comes from the
// cache.
func (p *CachedImageProvider) open(path string, depth int) (*chd.File, error) {
	h, err := chd.ReadHeader(path)
	if err != nil {
		return nil, err
	}
	opts := &chd.Options{Logger: p.log}
	if h.HasParent {
		if depth >= maxParentDepth {
			return nil, fmt.Errorf("%s: parent chain deeper than %d: %w", path, maxParentDepth, chd.ErrParentInvalid)
		}
		parentPath, err := p.findParent(path, h)
		if err != nil {
			return nil, err
		}
		parent, err := p.getOrOpen(parentPath, depth+1)
		if err != nil {
			return nil, err
		}
		opts.Parent = parent.file
	}

	f, err := chd.Open(path, opts)
	if err != nil {
		return nil, err
	}
	p.log.Debug("opened image", "path", path, "version", h.Version, "hunks", h.HunkCount)
	if p.cfg.Precache {
		if err := f.Precache(); err != nil {
			p.log.Warn("precache failed", "path", path, "error", err)
		}
	}
	return f, nil
}

// findParent scans the images directory for the image whose digest the
// child records.
func (p *CachedImageProvider) findParent(child string, h *chd.Header) (string, error) {
	dir := p.imagesDir()
	if dir == "" {
		dir = filepath.Dir(child)
	}
	paths, err := discoverImages(dir)
	if err != nil {
		return "", err
	}
	for _, cand := range paths {
		if filepath.Clean(cand) == filepath.Clean(child) {
			continue
		}
		ph, err := chd.ReadHeader(cand)
		if err != nil {
			continue
		}
		if isParent(h, ph) {
			return cand, nil
		}
	}
	return "", fmt.Errorf("%s: no image in %s matches its parent digest: %w", filepath.Base(child), dir, chd.ErrParentRequired)
}

func isParent(child, parent *chd.Header) bool {
	if child.ParentSHA1 != nil && parent.SHA1 != nil {
		return bytes.Equal(child.ParentSHA1, parent.SHA1)
	}
	if child.ParentMD5 != nil && parent.MD5 != nil {
		return bytes.Equal(child.ParentMD5, parent.MD5)
	}
	return false
}

// resolveImagePath maps an image name to a file inside the images
// directory. Names may omit the .chd extension but may not leave the
// directory.
func (p *CachedImageProvider) resolveImagePath(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", newInvalidRequest("image name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", newInvalidRequest("invalid image name %q", name)
	}
	dir := p.imagesDir()
	if dir == "" {
		return "", fmt.Errorf("images directory is not configured")
	}
	if resolved := resolveInDir(dir, name); resolved != "" {
		return resolved, nil
	}
	return "", fmt.Errorf("image %q not found in %s: %w", name, dir, chd.ErrNotFound)
}

func (p *CachedImageProvider) imagesDir() string {
	if dir := strings.TrimSpace(p.cfg.ImagesDir); dir != "" {
		return dir
	}
	return strings.TrimSpace(os.Getenv(envImagesDir))
}

func resolveInDir(dir, name string) string {
	cand := filepath.Join(dir, name)
	if fileExists(cand) {
		return cand
	}
	if !strings.HasSuffix(strings.ToLower(name), imageExt) {
		cand = filepath.Join(dir, name+imageExt)
		if fileExists(cand) {
			return cand
		}
	}
	return ""
}

func discoverImages(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("images path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	images := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), imageExt) {
			continue
		}
		images = append(images, filepath.Join(dir, e.Name()))
	}
	slices.Sort(images)
	return images, nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
