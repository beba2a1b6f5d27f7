package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidLocalName is returned when a staged file name would escape the
// staging directory.
var ErrInvalidLocalName = errors.New("invalid local file name")

// StagingDir is the local directory downloaded objects are written into.
type StagingDir struct {
	dir string
}

// NewStagingDir returns a StagingDir rooted at dir. The directory is created
// lazily on the first Stage call.
func NewStagingDir(dir string) *StagingDir {
	return &StagingDir{dir: dir}
}

// Path returns the root directory.
func (s *StagingDir) Path() string {
	return s.dir
}

// Stage writes r to name inside the staging directory and returns the final
// path and the number of bytes written. Data is written to a temporary file
// next to name and renamed into place once complete, so a failed download
// never leaves a truncated file under name.
func (s *StagingDir) Stage(name string, r io.Reader) (string, int64, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidLocalName, name)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create staging dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".download-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", 0, fmt.Errorf("write %s: %w", name, err)
	}

	finalPath := filepath.Join(s.dir, name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", 0, fmt.Errorf("move %s into place: %w", name, err)
	}

	return finalPath, n, nil
}
