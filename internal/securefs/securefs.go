package securefs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/logger"
)

// GetLogger returns the securefs package logger scoped to the securefs module.
// The logger is fetched from the global logger each time so it follows the
// central logger once it is configured.
func GetLogger() logger.Logger {
	return logger.Global().Module("securefs")
}

// SecureFS provides filesystem operations restricted to one base directory.
// All paths are slash-separated and relative to the base directory.
//
// The os.Root sandbox rejects traversal via "..", absolute paths and
// symlinks pointing outside the base directory at the OS level.
type SecureFS struct {
	baseDir         string
	root            *os.Root
	maxReadFileSize int64 // 0 = unlimited
}

// New creates the base directory if needed and opens it as a sandbox root.
func New(baseDir string) (*SecureFS, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, errors.New(fmt.Errorf("failed to create base directory: %w", err)).
			Component("securefs").
			Category(errors.CategoryFileIO).
			Context("base_dir", absPath).
			Build()
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem sandbox: %w", err)
	}

	return &SecureFS{baseDir: absPath, root: root}, nil
}

// BaseDir returns the absolute base directory
func (sfs *SecureFS) BaseDir() string {
	return sfs.baseDir
}

// ValidateRelativePath cleans relPath and rejects absolute or escaping paths.
func (sfs *SecureFS) ValidateRelativePath(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	cleaned := filepath.Clean(filepath.FromSlash(relPath))

	if filepath.IsAbs(cleaned) || strings.HasPrefix(relPath, "/") {
		return "", fmt.Errorf("%w: path must be relative, got '%s'", ErrInvalidPath, relPath)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: '%s' (cleaned from '%s')", ErrPathTraversal, cleaned, relPath)
	}
	return cleaned, nil
}

// MkdirAll creates a directory and all missing parents inside the sandbox
func (sfs *SecureFS) MkdirAll(relPath string, perm os.FileMode) error {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return err
	}
	if p == "." {
		return nil
	}
	return sfs.root.MkdirAll(p, perm)
}

// Exists reports whether relPath exists. Validation errors are returned, not hidden.
func (sfs *SecureFS) Exists(relPath string) (bool, error) {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return false, err
	}
	_, err = sfs.root.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Stat returns file info for relPath
func (sfs *SecureFS) Stat(relPath string) (fs.FileInfo, error) {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return nil, err
	}
	return sfs.root.Stat(p)
}

// Remove deletes a single file or empty directory
func (sfs *SecureFS) Remove(relPath string) error {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return err
	}
	return sfs.root.Remove(p)
}

// ReadDir lists a directory inside the sandbox
func (sfs *SecureFS) ReadDir(relPath string) ([]os.DirEntry, error) {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return nil, err
	}
	dir, err := sfs.root.Open(p)
	if err != nil {
		return nil, err
	}
	defer dir.Close()
	return dir.ReadDir(-1)
}

// SetMaxReadFileSize sets the maximum file size that ReadFile will read; 0 is unlimited.
func (sfs *SecureFS) SetMaxReadFileSize(maxSize int64) {
	sfs.maxReadFileSize = maxSize
}

// ReadFile reads relPath, enforcing the configured size limit
func (sfs *SecureFS) ReadFile(relPath string) ([]byte, error) {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return nil, err
	}
	file, err := sfs.root.Open(p)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			GetLogger().Warn("Failed to close file", logger.Error(err))
		}
	}()

	if sfs.maxReadFileSize > 0 {
		stat, err := file.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat file: %w", err)
		}
		if stat.Size() > sfs.maxReadFileSize {
			return nil, fmt.Errorf("%w: file is %d bytes, limit is %d bytes",
				ErrFileTooLarge, stat.Size(), sfs.maxReadFileSize)
		}
	}
	return io.ReadAll(file)
}

// WriteFileAtomic writes data to a temporary file next to relPath and renames it
// into place. Parent directories are created. If ctx is done before the rename
// the temporary file is removed and ErrWriteAborted returned, so a cancelled
// caller never leaves a final file behind.
func (sfs *SecureFS) WriteFileAtomic(ctx context.Context, relPath string, data []byte, perm os.FileMode) error {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(p); dir != "." {
		if err := sfs.root.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	tmp := filepath.Join(filepath.Dir(p), fmt.Sprintf(".%s.%016x.tmp", filepath.Base(p), rand.Uint64()))
	f, err := sfs.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sfs.root.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if ctx != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrWriteAborted, ctx.Err())
	}
	if err := sfs.root.Rename(tmp, p); err != nil {
		return errors.New(fmt.Errorf("failed to commit %s: %w", relPath, err)).
			Component("securefs").
			Category(errors.CategoryFileIO).
			Context("path", relPath).
			Build()
	}
	committed = true
	return nil
}

// mapOpenErrorToHTTP converts file open errors to appropriate HTTP errors
func mapOpenErrorToHTTP(err error, effectivePath string) *echo.HTTPError {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("File not found: %s", effectivePath))
	case errors.Is(err, fs.ErrPermission):
		return echo.NewHTTPError(http.StatusForbidden, "Access denied")
	case errors.Is(err, ErrPathTraversal) || errors.Is(err, ErrInvalidPath):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid file path").SetInternal(err)
	case errors.Is(err, ErrNotRegularFile):
		return echo.NewHTTPError(http.StatusForbidden, "Not a regular file")
	default:
		GetLogger().Error("Unhandled error serving file",
			logger.String("path", effectivePath),
			logger.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Error serving file").SetInternal(err)
	}
}

func getContentType(p string) string {
	contentType := mime.TypeByExtension(path.Ext(p))
	if contentType == "" {
		return "application/octet-stream"
	}
	return contentType
}

// ServeRelativeFile serves relPath through an echo response with range and
// conditional request support.
func (sfs *SecureFS) ServeRelativeFile(c echo.Context, relPath string) error {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return mapOpenErrorToHTTP(err, relPath)
	}
	f, err := sfs.root.Open(p)
	if err != nil {
		return mapOpenErrorToHTTP(err, relPath)
	}
	defer func() {
		if err := f.Close(); err != nil {
			GetLogger().Warn("Failed to close file", logger.Error(err))
		}
	}()

	stat, err := f.Stat()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get file info").SetInternal(err)
	}
	if !stat.Mode().IsRegular() {
		return mapOpenErrorToHTTP(ErrNotRegularFile, relPath)
	}

	if c.Response().Header().Get(echo.HeaderContentType) == "" {
		c.Response().Header().Set(echo.HeaderContentType, getContentType(p))
	}
	http.ServeContent(c.Response(), c.Request(), filepath.Base(p), stat.ModTime(), f)
	return nil
}

// Close closes the underlying Root
func (sfs *SecureFS) Close() error {
	if sfs.root != nil {
		return sfs.root.Close()
	}
	return nil
}
