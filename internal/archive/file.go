package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileDestination appends JSONL batches to a local file.
type FileDestination struct {
	path string
}

// NewFileDestination creates a file destination at path. Parent directories
// are created on first write.
func NewFileDestination(path string) *FileDestination {
	return &FileDestination{path: path}
}

// Write appends data to the file.
func (d *FileDestination) Write(_ context.Context, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(d.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open archive file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write archive file: %w", err)
	}
	return nil
}
