// Package docsink stores rendered reports.
package docsink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSink writes documents into one directory. It implements port.DocumentSink.
type FileSink struct {
	dir string
}

// NewFileSink creates a sink rooted at dir. The directory is created on first Save.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Save writes content under name, replacing any previous file, and returns
// the written path. The write goes through a temp file so readers never see
// a partial report.
func (s *FileSink) Save(ctx context.Context, name string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid document name %q", name)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("saving %s: %w", name, err)
	}
	return path, nil
}
