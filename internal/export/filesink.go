package export

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/roomview/internal/fsutil"
)

// FileSink writes the dataset as a JSON array to <dir>/<name>.json.
type FileSink struct {
	fs   fsutil.FileSystem
	dir  string
	name string
}

// NewFileSink creates a JSON file sink.
func NewFileSink(fs fsutil.FileSystem, dir, name string) *FileSink {
	return &FileSink{fs: fs, dir: dir, name: name}
}

// Name implements Sink.
func (s *FileSink) Name() string { return "json" }

// Path is the file the sink writes.
func (s *FileSink) Path() string {
	return filepath.Join(s.dir, fsutil.SanitizeFilename(s.name)+".json")
}

// WriteDataset implements Sink.
func (s *FileSink) WriteDataset(_ context.Context, ds Dataset) error {
	data, err := json.MarshalIndent(ds.Results, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	if err := s.fs.WriteFile(s.Path(), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.Path(), err)
	}
	return nil
}
