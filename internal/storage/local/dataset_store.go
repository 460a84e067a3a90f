// Package local persists issue datasets as JSON files on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

// Config captures the parameters for the local dataset store.
type Config struct {
	// PathTemplate locates a dataset; {journal}, {year} and {issue} are
	// substituted. Relative templates resolve under BaseDir.
	PathTemplate string `mapstructure:"path_template" yaml:"path_template"`
	// BaseDir confines relative dataset paths. Empty means the working directory.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// DatasetStore reads and atomically writes dataset files.
type DatasetStore struct {
	template string
	baseDir  string
}

// New creates a local dataset store, creating BaseDir when missing.
func New(cfg Config) (*DatasetStore, error) {
	if strings.TrimSpace(cfg.PathTemplate) == "" {
		return nil, fmt.Errorf("path template is required")
	}
	if cfg.BaseDir != "" {
		info, err := os.Stat(cfg.BaseDir)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
			}
		case err != nil:
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		case !info.IsDir():
			return nil, fmt.Errorf("base directory path is not a directory")
		}
	}
	return &DatasetStore{template: cfg.PathTemplate, baseDir: cfg.BaseDir}, nil
}

// Path returns the file path for ref.
func (s *DatasetStore) Path(ref harvest.DatasetRef) (string, error) {
	p := ref.Expand(s.template)
	if filepath.IsAbs(p) || s.baseDir == "" {
		return filepath.Clean(p), nil
	}
	full := filepath.Join(s.baseDir, p)
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(full, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

// Load reads the dataset for ref. A missing file reports found=false.
func (s *DatasetStore) Load(_ context.Context, ref harvest.DatasetRef) (harvest.IssueDataset, bool, error) {
	path, err := s.Path(ref)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is built from the configured template.
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}
	ds, err := harvest.DecodeDataset(data)
	if err != nil {
		return nil, false, fmt.Errorf("dataset %s: %w", path, err)
	}
	return ds, true, nil
}

// Save writes ds through a temp file and rename so readers never observe a
// partial dataset. It returns a file:// URI.
func (s *DatasetStore) Save(_ context.Context, ref harvest.DatasetRef, ds harvest.IssueDataset) (string, error) {
	path, err := s.Path(ref)
	if err != nil {
		return "", err
	}
	data, err := harvest.EncodeDataset(ds)
	if err != nil {
		return "", err
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + abs, nil
}

// WriteFileAtomic replaces path with data via a synced temp file in the same
// directory.
func WriteFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
