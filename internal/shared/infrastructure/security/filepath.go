// Package security guards file input handed to the CLI, such as webhook
// bodies captured from the payment gateway.
package security

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyPath      = errors.New("file path is empty")
	ErrForbiddenChars = errors.New("file path contains shell metacharacters")
	ErrNotRegular     = errors.New("not a regular file")
	ErrFileTooLarge   = errors.New("file exceeds size limit")
)

const shellMeta = ";&|$`(){}<>!\n\r"

// ValidateFilePath returns the absolute, symlink-resolved form of path.
// A path that does not exist yet is returned cleaned but unresolved.
func ValidateFilePath(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if i := strings.IndexAny(path, shellMeta); i >= 0 {
		return "", fmt.Errorf("%w: %q in %s", ErrForbiddenChars, path[i], path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if errors.Is(err, os.ErrNotExist) {
		return abs, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return resolved, nil
}

// SafeReadFileMax reads a validated regular file of at most maxBytes.
// The limit is enforced on the bytes read, not just the stat size, so a
// file growing underneath the call is still cut off.
func SafeReadFileMax(path string, maxBytes int64) ([]byte, error) {
	clean, err := ValidateFilePath(path)
	if err != nil {
		return nil, err
	}
	// #nosec G304 - path validated above
	f, err := os.Open(clean)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", clean, ErrNotRegular)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%s: %w (limit %d bytes)", clean, ErrFileTooLarge, maxBytes)
	}
	return data, nil
}
