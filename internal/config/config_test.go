package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wakemic/internal/wake"
)

// isolate points HOME at a temp dir and blanks every variable Load reads so
// the host environment cannot leak into a test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"WAKEMIC_CONFIG",
		"DEEPGRAM_API_KEY",
		"DEEPGRAM_API_BASE",
		"DEEPGRAM_MODEL",
		"DEEPGRAM_LANGUAGE",
		"DEEPGRAM_SMART_FORMAT",
		"DEEPGRAM_PULSE_SOURCE",
		"WAKEMIC_DEEPGRAM_API_KEY",
		"WAKEMIC_WAKE_VARIANTS",
		"WAKEMIC_TIMEOUTS_PRE_SPEECH",
		"WAKEMIC_TIMEOUTS_SILENCE",
		"WAKEMIC_AUDIO_CHUNK_SIZE",
		"WAKEMIC_VAD_THRESHOLD",
		"WAKEMIC_LOG_CONSOLE",
		"WAKEMIC_METRICS_ADDR",
		"WAKEMIC_CAPTURE_FORMAT",
	} {
		t.Setenv(key, "")
	}
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.Deepgram.APIKey)
	assert.Equal(t, "https://api.deepgram.com/v1", cfg.Deepgram.APIBaseURL)
	assert.Equal(t, "nova-2", cfg.Deepgram.Model)
	assert.True(t, cfg.Deepgram.SmartFormat)
	assert.Equal(t, 3, cfg.Deepgram.Alternatives)

	assert.Equal(t, "ffmpeg", cfg.Audio.FFMPEGCommand)
	assert.Equal(t, "pulse", cfg.Audio.InputFormat)
	assert.Equal(t, "default", cfg.Audio.InputDevice)
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, 1, cfg.Audio.Channels)
	assert.Equal(t, 4096, cfg.Audio.ChunkSize)

	assert.Empty(t, cfg.Capture.Format)
	assert.Equal(t, "32k", cfg.Capture.Bitrate)

	assert.Equal(t, wake.DefaultVariants, cfg.Wake.Variants)
	assert.Equal(t, wake.DefaultTailWindow, cfg.Wake.TailWindow)

	assert.InDelta(t, 0.015, cfg.VAD.Threshold, 1e-9)
	assert.Equal(t, 100*time.Millisecond, cfg.VAD.SampleInterval)

	assert.Equal(t, 4*time.Second, cfg.Timeouts.PreSpeech)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeouts.Silence)
	assert.Equal(t, 15*time.Second, cfg.Timeouts.HardCap)
	assert.Equal(t, 300*time.Millisecond, cfg.Timeouts.ListenerRestart)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Log.Console)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.Equal(t, filepath.Join(home, ".local", "share", "wakemic", "captures"), cfg.Output.Dir)
}

func TestLoadRespectsOverridesAndFallbacks(t *testing.T) {
	isolate(t)
	t.Setenv("DEEPGRAM_API_KEY", "test-key")
	t.Setenv("DEEPGRAM_API_BASE", "https://example.com/v1")
	t.Setenv("DEEPGRAM_MODEL", "nova-3")
	t.Setenv("DEEPGRAM_LANGUAGE", "en")
	t.Setenv("DEEPGRAM_SMART_FORMAT", "off")
	t.Setenv("DEEPGRAM_PULSE_SOURCE", "alsa_input.usb")
	t.Setenv("WAKEMIC_WAKE_VARIANTS", " hey jarvis , ok jarvis ,, ")
	t.Setenv("WAKEMIC_TIMEOUTS_PRE_SPEECH", "2500")
	t.Setenv("WAKEMIC_TIMEOUTS_SILENCE", "not-a-number")
	t.Setenv("WAKEMIC_AUDIO_CHUNK_SIZE", "12")
	t.Setenv("WAKEMIC_VAD_THRESHOLD", "-1")
	t.Setenv("WAKEMIC_LOG_CONSOLE", "no")
	t.Setenv("WAKEMIC_METRICS_ADDR", ":9464")
	t.Setenv("WAKEMIC_CAPTURE_FORMAT", " MP4 ")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-key", cfg.Deepgram.APIKey)
	assert.Equal(t, "https://example.com/v1", cfg.Deepgram.APIBaseURL)
	assert.Equal(t, "nova-3", cfg.Deepgram.Model)
	assert.Equal(t, "en", cfg.Deepgram.Language)
	assert.False(t, cfg.Deepgram.SmartFormat)
	assert.Equal(t, "alsa_input.usb", cfg.Audio.InputDevice)
	assert.Equal(t, []string{"hey jarvis", "ok jarvis"}, cfg.Wake.Variants)
	assert.Equal(t, 2500*time.Millisecond, cfg.Timeouts.PreSpeech)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeouts.Silence)
	assert.Equal(t, 4096, cfg.Audio.ChunkSize)
	assert.InDelta(t, 0.015, cfg.VAD.Threshold, 1e-9)
	assert.False(t, cfg.Log.Console)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
	assert.Equal(t, "mp4", cfg.Capture.Format)
}

func TestLoadPrefixedKeyWinsOverLegacy(t *testing.T) {
	isolate(t)
	t.Setenv("DEEPGRAM_API_KEY", "legacy")
	t.Setenv("WAKEMIC_DEEPGRAM_API_KEY", "prefixed")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.Deepgram.APIKey)
}

func TestLoadReadsConfigFileFromHome(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".config", "wakemic")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
wake:
  variants:
    - hey computer
  tail_window: 40
timeouts:
  hard_cap: 8000
vad:
  threshold: 0.03
log:
  level: debug
  console: false
`), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"hey computer"}, cfg.Wake.Variants)
	assert.Equal(t, 40, cfg.Wake.TailWindow)
	assert.Equal(t, 8*time.Second, cfg.Timeouts.HardCap)
	assert.InDelta(t, 0.03, cfg.VAD.Threshold, 1e-9)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Console)
}

func TestLoadEnvironmentOverridesConfigFile(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("deepgram:\n  model: from-file\n  api_key: file-key\n"), 0o600))
	t.Setenv("WAKEMIC_CONFIG", path)
	t.Setenv("DEEPGRAM_MODEL", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Deepgram.Model)
	assert.Equal(t, "file-key", cfg.Deepgram.APIKey)
}

func TestLoadFailsOnMissingExplicitConfig(t *testing.T) {
	home := isolate(t)
	t.Setenv("WAKEMIC_CONFIG", filepath.Join(home, "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoadFailsOnMalformedConfig(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".config", "wakemic")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("wake: [unterminated\n"), 0o600))

	_, err := Load()
	require.Error(t, err)
}

func TestLoadFileUsesExplicitPath(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "explicit.yml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  dir: /tmp/commands\ncapture:\n  format: webm\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/commands", cfg.Output.Dir)
	assert.Equal(t, "webm", cfg.Capture.Format)
}
