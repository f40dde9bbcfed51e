package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cohortmanager/platform/shared/common"
)

// LocalSource reads extracts dropped into a directory
type LocalSource struct {
	directory string
	poison    string
	logger    *zap.Logger
}

// NewLocalSource creates both directories when missing
func NewLocalSource(directory, poison string, logger *zap.Logger) (*LocalSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, dir := range []string{directory, poison} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, common.WrapError(err, common.ErrCodeInternal, "failed to create source directory")
		}
	}
	return &LocalSource{directory: directory, poison: poison, logger: logger}, nil
}

// List returns regular files in name order, skipping partial uploads
func (s *LocalSource) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeInternal, "failed to list source directory")
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") || strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Open opens the named file for reading
func (s *LocalSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrNotFound(name)
		}
		return nil, common.WrapError(err, common.ErrCodeInternal, "failed to open source file")
	}
	return f, nil
}

// Delete removes the named file
func (s *LocalSource) Delete(ctx context.Context, name string) error {
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return common.WrapError(err, common.ErrCodeInternal, "failed to delete source file")
	}
	s.logger.Debug("Source file deleted", zap.String("file_name", name))
	return nil
}

// Quarantine moves the named file into the poison directory
func (s *LocalSource) Quarantine(ctx context.Context, name string) error {
	if err := os.Rename(s.path(name), filepath.Join(s.poison, filepath.Base(name))); err != nil {
		return common.WrapError(err, common.ErrCodeInternal, "failed to quarantine source file")
	}
	s.logger.Warn("Source file quarantined", zap.String("file_name", name))
	return nil
}

func (s *LocalSource) path(name string) string {
	return filepath.Join(s.directory, filepath.Base(name))
}
