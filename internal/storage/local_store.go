// Package storage is the object store behind staged fingerprint uploads,
// final audio assets and artwork.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/config"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
)

var (
	// ErrInvalidPath means the object path escapes the store root.
	ErrInvalidPath = errors.New("invalid object path")
	// ErrSizeMismatch means fewer or more bytes arrived than announced.
	ErrSizeMismatch = errors.New("object size mismatch")
)

// LocalStore keeps objects as files under a data directory and serves them
// from a public base URL.
type LocalStore struct {
	root    string
	baseURL string
	logger  hclog.Logger
}

// NewLocalStore creates the data directory if needed.
func NewLocalStore(cfg config.StorageConfig, logger hclog.Logger) (*LocalStore, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("storage data dir is required")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	root, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}

	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:  logger.Named("storage"),
	}, nil
}

// Root returns the directory objects are written to.
func (s *LocalStore) Root() string {
	return s.root
}

// Put writes r to path atomically. A non-negative size must match the number
// of bytes read.
func (s *LocalStore) Put(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) (types.StoredObject, error) {
	key, fullPath, err := s.resolve(objectPath)
	if err != nil {
		return types.StoredObject{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.StoredObject{}, err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return types.StoredObject{}, fmt.Errorf("failed to create directory structure: %w", err)
	}

	// Write to a temporary file first for atomic write
	tempFile, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return types.StoredObject{}, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := tempFile.Name()

	written, err := io.Copy(tempFile, &contextReader{ctx: ctx, r: r})
	closeErr := tempFile.Close()

	if err != nil {
		os.Remove(tempPath)
		return types.StoredObject{}, fmt.Errorf("failed to write %s: %w", key, err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return types.StoredObject{}, fmt.Errorf("failed to close temporary file: %w", closeErr)
	}
	if size >= 0 && written != size {
		os.Remove(tempPath)
		return types.StoredObject{}, fmt.Errorf("%w: %s expected %d bytes, got %d", ErrSizeMismatch, key, size, written)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return types.StoredObject{}, fmt.Errorf("failed to move file to final location: %w", err)
	}

	s.logger.Debug("object stored", "path", key, "bytes", written, "content_type", contentType)
	return types.StoredObject{Path: key, URL: s.URL(key), Size: written}, nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *LocalStore) Delete(ctx context.Context, objectPath string) error {
	key, fullPath, err := s.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Exists reports whether an object is present.
func (s *LocalStore) Exists(objectPath string) bool {
	_, fullPath, err := s.resolve(objectPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// URL returns the public URL of an object.
func (s *LocalStore) URL(key string) string {
	return s.baseURL + "/" + strings.TrimLeft(key, "/")
}

func (s *LocalStore) resolve(objectPath string) (string, string, error) {
	key := strings.TrimLeft(path.Clean("/"+filepath.ToSlash(objectPath)), "/")
	if key == "" || key == "." || strings.Contains(objectPath, "..") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	return key, filepath.Join(s.root, filepath.FromSlash(key)), nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
