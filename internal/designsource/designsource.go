// Package designsource resolves the design and metadata file names named in
// an order to their bytes, from a local export directory or a bucket.
package designsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/lattice-labs/bmde-go/internal/platform/env"
	"github.com/lattice-labs/bmde-go/internal/platform/objectstore"
)

var (
	ErrNotFound    = errors.New("design file not found")
	ErrInvalidName = errors.New("invalid file name")
	ErrTooLarge    = errors.New("file too large")
)

const (
	KindDir   = "dir"
	KindMinio = "minio"
)

// MaxFileBytes bounds a single design or metadata file.
const MaxFileBytes = objectstore.MaxObjectBytes

type Source interface {
	Open(ctx context.Context, name string) ([]byte, error)
}

type Config struct {
	Kind string
	Dir  string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Kind: strings.ToLower(env.String("PROVIDER_DESIGN_SOURCE", KindDir)),
		Dir:  env.String("PROVIDER_EXPORT_DIR", "exported"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Kind {
	case KindDir:
		if strings.TrimSpace(c.Dir) == "" {
			return errors.New("PROVIDER_EXPORT_DIR is required")
		}
	case KindMinio:
	default:
		return fmt.Errorf("PROVIDER_DESIGN_SOURCE must be %q or %q, got %q", KindDir, KindMinio, c.Kind)
	}
	return nil
}

// Dir serves files under Root. Names must be local paths; anything that
// would escape Root is rejected.
type Dir struct {
	Root string
}

func (d Dir) Open(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := localName(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(d.Root, clean))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", clean, ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", clean, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", clean, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", clean, ErrNotFound)
	}

	data, err := io.ReadAll(io.LimitReader(f, MaxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", clean, err)
	}
	if len(data) > MaxFileBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes: %w", clean, MaxFileBytes, ErrTooLarge)
	}
	return data, nil
}

type objectGetter interface {
	Get(ctx context.Context, name string) ([]byte, error)
}

// Bucket serves files from an object store.
type Bucket struct {
	Store objectGetter
}

func NewBucket(store *objectstore.Store) Bucket {
	return Bucket{Store: store}
}

func (b Bucket) Open(ctx context.Context, name string) ([]byte, error) {
	if b.Store == nil {
		return nil, errors.New("object store is required")
	}
	clean, err := localName(name)
	if err != nil {
		return nil, err
	}
	data, err := b.Store.Get(ctx, filepath.ToSlash(clean))
	switch {
	case errors.Is(err, objectstore.ErrNotFound):
		return nil, fmt.Errorf("%s: %w", clean, ErrNotFound)
	case errors.Is(err, objectstore.ErrTooLarge):
		return nil, fmt.Errorf("%s exceeds %d bytes: %w", clean, MaxFileBytes, ErrTooLarge)
	}
	return data, err
}

func localName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("empty name: %w", ErrInvalidName)
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return clean, nil
}
