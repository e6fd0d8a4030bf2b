/*
Package slips stores payment slip images on the local filesystem.

PURPOSE:
  Implements tenancy.SlipStore. Uploaded slips are decoded, oriented,
  downscaled to a maximum dimension and re-encoded as JPEG under a random
  name. The returned SlipRef is the file name; it is the only thing the
  tenancy records keep.

SEE ALSO:
  - tenancy/store.go: SlipStore interface
  - api/handlers.go: slip upload and download routes
*/
package slips

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/smartdorm/tenancy-engine/tenancy"
)

const (
	DefaultMaxDimension = 1600
	jpegQuality         = 85
)

// FileStore keeps slip images in one directory.
type FileStore struct {
	dir    string
	maxDim int
}

// NewFileStore creates dir if needed. maxDim bounds the longer side of a
// stored image; zero selects DefaultMaxDimension.
func NewFileStore(dir string, maxDim int) (*FileStore, error) {
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create slip directory: %w", err)
	}
	return &FileStore{dir: dir, maxDim: maxDim}, nil
}

// Put stores an image and returns its reference. Data that is not a
// decodable image is rejected with tenancy.ErrInvalidInput.
func (s *FileStore) Put(ctx context.Context, data []byte) (tenancy.SlipRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("slip is not a supported image: %v: %w", err, tenancy.ErrInvalidInput)
	}

	b := img.Bounds()
	if b.Dx() > s.maxDim || b.Dy() > s.maxDim {
		img = imaging.Fit(img, s.maxDim, s.maxDim, imaging.Lanczos)
	}

	name := uuid.NewString() + ".jpg"
	path := filepath.Join(s.dir, name)
	if err := imaging.Save(img, path, imaging.JPEGQuality(jpegQuality)); err != nil {
		return "", fmt.Errorf("failed to write slip: %w", err)
	}
	return tenancy.SlipRef(name), nil
}

// Open returns the stored image for ref.
func (s *FileStore) Open(_ context.Context, ref tenancy.SlipRef) (io.ReadCloser, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("slip %s: %w", ref, tenancy.ErrNotFound)
	}
	return f, err
}

// Delete removes a slip. Missing files are not an error.
func (s *FileStore) Delete(_ context.Context, ref tenancy.SlipRef) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete slip: %w", err)
	}
	return nil
}

func (s *FileStore) path(ref tenancy.SlipRef) (string, error) {
	name := string(ref)
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("slip reference %q: %w", name, tenancy.ErrInvalidInput)
	}
	return filepath.Join(s.dir, name), nil
}

var _ tenancy.SlipStore = (*FileStore)(nil)
