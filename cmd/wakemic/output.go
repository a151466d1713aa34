package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"wakemic/internal/domain"
)

// commandWriter saves each command recording as <dir>/<uuid>.<format>.
type commandWriter struct {
	dir string
}

func newCommandWriter(dir string) (*commandWriter, error) {
	if dir == "" {
		return nil, errors.New("output directory is not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &commandWriter{dir: dir}, nil
}

func (w *commandWriter) Write(recording domain.EncodedAudio) (string, error) {
	ext := string(recording.Format)
	if ext == "" {
		ext = "bin"
	}
	path := filepath.Join(w.dir, uuid.NewString()+"."+ext)
	if err := os.WriteFile(path, recording.Data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
