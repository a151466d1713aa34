package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wakemic/internal/domain"
)

func TestCommandWriterSavesRecording(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "captures")
	writer, err := newCommandWriter(dir)
	require.NoError(t, err)

	path, err := writer.Write(domain.EncodedAudio{Data: []byte("webm-bytes"), Format: domain.AudioFormatWebM})
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	assert.Equal(t, ".webm", filepath.Ext(path))
	_, err = uuid.Parse(strings.TrimSuffix(filepath.Base(path), ".webm"))
	assert.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "webm-bytes", string(data))
}

func TestCommandWriterUsesDistinctNames(t *testing.T) {
	t.Parallel()

	writer, err := newCommandWriter(t.TempDir())
	require.NoError(t, err)

	first, err := writer.Write(domain.EncodedAudio{Data: []byte("a"), Format: domain.AudioFormatMP4})
	require.NoError(t, err)
	second, err := writer.Write(domain.EncodedAudio{Data: []byte("b"), Format: domain.AudioFormatMP4})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestNewCommandWriterRequiresDirectory(t *testing.T) {
	t.Parallel()

	_, err := newCommandWriter("")
	require.Error(t, err)
}
