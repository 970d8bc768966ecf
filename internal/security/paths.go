package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File path validation errors.
var (
	ErrPathOutsideBase = errors.New("file path outside allowed directory")
	ErrNotRegularFile  = errors.New("path is not a regular file")
	ErrFileTooLarge    = errors.New("file exceeds maximum size")
	ErrBadExtension    = errors.New("file extension not allowed")
)

// FilePolicy constrains file-upload paths. Every path must resolve inside
// BasePath with no ".." escape, point at a regular file, carry an allowed
// extension, and stay under MaxSizeBytes.
type FilePolicy struct {
	BasePath          string
	MaxSizeBytes      int64
	AllowedExtensions []string
}

// DefaultUploadExtensions lists the extensions accepted for uploads when
// no policy override is configured.
var DefaultUploadExtensions = []string{
	".txt", ".csv", ".json", ".xml", ".pdf",
	".png", ".jpg", ".jpeg", ".gif", ".webp",
	".zip", ".doc", ".docx", ".xls", ".xlsx",
}

// ValidatePath checks a single upload path against the policy. It resolves
// the path relative to BasePath and verifies the result never escapes it.
func (p FilePolicy) ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrPathOutsideBase)
	}

	base, err := filepath.Abs(p.BasePath)
	if err != nil {
		return fmt.Errorf("resolving base path: %w", err)
	}

	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(base, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(base, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrPathOutsideBase, path)
	}

	ext := strings.ToLower(filepath.Ext(resolved))
	allowed := p.AllowedExtensions
	if len(allowed) == 0 {
		allowed = DefaultUploadExtensions
	}
	ok := false
	for _, a := range allowed {
		if ext == a {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrBadExtension, ext)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Errorf("stat %s: %w", resolved, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}
	if p.MaxSizeBytes > 0 && info.Size() > p.MaxSizeBytes {
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size())
	}

	return nil
}

// Resolve returns the cleaned absolute path for an already-validated
// upload path.
func (p FilePolicy) Resolve(path string) string {
	base, err := filepath.Abs(p.BasePath)
	if err != nil {
		return filepath.Clean(path)
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}
