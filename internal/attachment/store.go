// Package attachment stores note image files on the local file system.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// URLPrefix starts every reference returned by Save.
const URLPrefix = "/uploads/"

var (
	ErrIO              = errors.New("attachment i/o failure")
	ErrTooLarge        = errors.New("attachment too large")
	ErrUnsupportedType = errors.New("unsupported attachment type")
	ErrInvalidImage    = errors.New("attachment is not a valid image")
	ErrBadReference    = errors.New("invalid attachment reference")
)

// formats maps allowed file extensions to the image.DecodeConfig format
// names they may contain.
var formats = map[string][]string{
	".jpg":  {"jpeg"},
	".jpeg": {"jpeg"},
	".png":  {"png"},
	".gif":  {"gif"},
	".webp": {"webp"},
	".bmp":  {"bmp"},
}

type Config struct {
	// Root is the directory holding the files.
	Root string
	// MaxBytes caps a single upload; zero means unlimited.
	MaxBytes int64
	// ValidateImages checks that the content decodes as the image format
	// its extension claims.
	ValidateImages bool
}

// FileStore writes attachments under a root directory using random names.
type FileStore struct {
	root     string
	maxBytes int64
	validate bool
	logger   *zap.Logger
}

func NewFileStore(cfg Config, logger *zap.Logger) (*FileStore, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	return &FileStore{
		root:     root,
		maxBytes: cfg.MaxBytes,
		validate: cfg.ValidateImages,
		logger:   logger,
	}, nil
}

func (s *FileStore) Root() string {
	return s.root
}

// Save streams r into a new file named after a random id plus the
// extension of originalName and returns its reference. The file only
// appears under its final name once it is completely written and
// validated; on any error nothing is left behind.
func (s *FileStore) Save(ctx context.Context, r io.Reader, originalName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	allowed, ok := formats[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIO, err)
	}
	tmpName := tmp.Name()
	published := false
	defer func() {
		if !published {
			os.Remove(tmpName)
		}
	}()

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: src})
	if err != nil {
		tmp.Close()
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrIO, err)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		tmp.Close()
		return "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, s.maxBytes)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrIO, err)
	}

	if s.validate {
		if err := checkImage(tmpName, allowed); err != nil {
			return "", err
		}
	}

	name := uuid.NewString() + ext
	if err := os.Rename(tmpName, filepath.Join(s.root, name)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrIO, err)
	}
	published = true

	s.logger.Debug("Saved attachment",
		zap.String("name", name),
		zap.Int64("bytes", n))
	return URLPrefix + name, nil
}

// Delete removes the file behind ref. Missing files are not an error.
func (s *FileStore) Delete(ref string) error {
	p, err := s.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Path resolves ref to a file inside the root. References that would
// escape the root are rejected.
func (s *FileStore) Path(ref string) (string, error) {
	name := strings.TrimPrefix(ref, URLPrefix)
	if name == "" || name != path.Base(name) || name == "." || name == ".." || strings.Contains(name, `\`) {
		return "", fmt.Errorf("%w: %q", ErrBadReference, ref)
	}
	return filepath.Join(s.root, name), nil
}

func checkImage(name string, allowed []string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()

	_, format, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	for _, a := range allowed {
		if format == a {
			return nil
		}
	}
	return fmt.Errorf("%w: content is %s", ErrInvalidImage, format)
}

// ctxReader stops a copy once the context is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
