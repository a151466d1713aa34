package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"wakemic/internal/wake"
)

// Config stores runtime configuration.
type Config struct {
	Deepgram DeepgramConfig
	Audio    AudioConfig
	Capture  CaptureConfig
	Wake     WakeConfig
	VAD      VADConfig
	Timeouts TimeoutsConfig
	Log      LogConfig
	Metrics  MetricsConfig
	Output   OutputConfig
}

type DeepgramConfig struct {
	APIKey       string
	APIBaseURL   string
	Model        string
	Language     string
	SmartFormat  bool
	Alternatives int
}

type AudioConfig struct {
	FFMPEGCommand string
	InputFormat   string
	InputDevice   string
	SampleRate    int
	Channels      int
	ChunkSize     int
}

// CaptureConfig controls encoded command recordings. An empty Format is
// resolved by probing ffmpeg.
type CaptureConfig struct {
	Format         string
	Bitrate        string
	AnalysisRate   int
	AnalysisWindow int
}

type WakeConfig struct {
	Variants   []string
	TailWindow int
}

type VADConfig struct {
	Threshold      float64
	SampleInterval time.Duration
}

type TimeoutsConfig struct {
	PreSpeech       time.Duration
	Silence         time.Duration
	HardCap         time.Duration
	ListenerRestart time.Duration
}

type LogConfig struct {
	Level   string
	Console bool
}

type MetricsConfig struct {
	Addr string
}

type OutputConfig struct {
	Dir string
}

// Load resolves configuration from defaults, an optional config file, and
// environment variables, in increasing order of precedence. The config file
// is $WAKEMIC_CONFIG or config.yaml in ~/.config/wakemic.
func Load() (Config, error) {
	return LoadFile(os.Getenv("WAKEMIC_CONFIG"))
}

// LoadFile is Load with an explicit config file. An empty path falls back to
// the default search location, where a missing file is not an error.
func LoadFile(path string) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	v := viper.New()
	setDefaults(v, home)

	v.SetEnvPrefix("WAKEMIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(home, ".config", "wakemic"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return fromViper(v), nil
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("deepgram.api_base", "https://api.deepgram.com/v1")
	v.SetDefault("deepgram.model", "nova-2")
	v.SetDefault("deepgram.smart_format", true)
	v.SetDefault("deepgram.alternatives", 3)

	v.SetDefault("audio.ffmpeg_command", "ffmpeg")
	v.SetDefault("audio.input_format", "pulse")
	v.SetDefault("audio.input_device", "default")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.chunk_size", 4096)

	v.SetDefault("capture.bitrate", "32k")
	v.SetDefault("capture.analysis_rate", 16000)
	v.SetDefault("capture.analysis_window", 2048)

	v.SetDefault("wake.variants", wake.DefaultVariants)
	v.SetDefault("wake.tail_window", wake.DefaultTailWindow)

	v.SetDefault("vad.threshold", 0.015)
	v.SetDefault("vad.sample_interval", 100)

	v.SetDefault("timeouts.pre_speech", 4000)
	v.SetDefault("timeouts.silence", 1500)
	v.SetDefault("timeouts.hard_cap", 15000)
	v.SetDefault("timeouts.listener_restart", 300)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)

	v.SetDefault("output.dir", filepath.Join(home, ".local", "share", "wakemic", "captures"))
}

// bindLegacyEnv keeps the unprefixed Deepgram and PulseAudio variables
// working alongside the WAKEMIC_ ones.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"deepgram.api_key":      {"WAKEMIC_DEEPGRAM_API_KEY", "DEEPGRAM_API_KEY"},
		"deepgram.api_base":     {"WAKEMIC_DEEPGRAM_API_BASE", "DEEPGRAM_API_BASE"},
		"deepgram.model":        {"WAKEMIC_DEEPGRAM_MODEL", "DEEPGRAM_MODEL"},
		"deepgram.language":     {"WAKEMIC_DEEPGRAM_LANGUAGE", "DEEPGRAM_LANGUAGE"},
		"deepgram.smart_format": {"WAKEMIC_DEEPGRAM_SMART_FORMAT", "DEEPGRAM_SMART_FORMAT"},
		"audio.input_device":    {"WAKEMIC_AUDIO_INPUT_DEVICE", "DEEPGRAM_PULSE_SOURCE"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		Deepgram: DeepgramConfig{
			APIKey:       strings.TrimSpace(v.GetString("deepgram.api_key")),
			APIBaseURL:   stringOrDefault(v, "deepgram.api_base", "https://api.deepgram.com/v1"),
			Model:        stringOrDefault(v, "deepgram.model", "nova-2"),
			Language:     strings.TrimSpace(v.GetString("deepgram.language")),
			SmartFormat:  boolOrDefault(v, "deepgram.smart_format", true),
			Alternatives: positiveInt(v, "deepgram.alternatives", 3),
		},
		Audio: AudioConfig{
			FFMPEGCommand: stringOrDefault(v, "audio.ffmpeg_command", "ffmpeg"),
			InputFormat:   stringOrDefault(v, "audio.input_format", "pulse"),
			InputDevice:   stringOrDefault(v, "audio.input_device", "default"),
			SampleRate:    positiveInt(v, "audio.sample_rate", 16000),
			Channels:      positiveInt(v, "audio.channels", 1),
			ChunkSize:     atLeast(positiveInt(v, "audio.chunk_size", 4096), 256, 4096),
		},
		Capture: CaptureConfig{
			Format:         strings.ToLower(strings.TrimSpace(v.GetString("capture.format"))),
			Bitrate:        stringOrDefault(v, "capture.bitrate", "32k"),
			AnalysisRate:   positiveInt(v, "capture.analysis_rate", 16000),
			AnalysisWindow: positiveInt(v, "capture.analysis_window", 2048),
		},
		Wake: WakeConfig{
			Variants:   stringList(v, "wake.variants", wake.DefaultVariants),
			TailWindow: positiveInt(v, "wake.tail_window", wake.DefaultTailWindow),
		},
		VAD: VADConfig{
			Threshold:      positiveFloat(v, "vad.threshold", 0.015),
			SampleInterval: millis(v, "vad.sample_interval", 100),
		},
		Timeouts: TimeoutsConfig{
			PreSpeech:       millis(v, "timeouts.pre_speech", 4000),
			Silence:         millis(v, "timeouts.silence", 1500),
			HardCap:         millis(v, "timeouts.hard_cap", 15000),
			ListenerRestart: millis(v, "timeouts.listener_restart", 300),
		},
		Log: LogConfig{
			Level:   stringOrDefault(v, "log.level", "info"),
			Console: boolOrDefault(v, "log.console", true),
		},
		Metrics: MetricsConfig{
			Addr: strings.TrimSpace(v.GetString("metrics.addr")),
		},
		Output: OutputConfig{
			Dir: strings.TrimSpace(v.GetString("output.dir")),
		},
	}
}

func stringOrDefault(v *viper.Viper, key string, fallback string) string {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return fallback
	}
	return value
}

// positiveInt returns fallback for missing, unparsable, or non-positive values.
func positiveInt(v *viper.Viper, key string, fallback int) int {
	value := strings.TrimSpace(fmt.Sprint(v.Get(key)))
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func positiveFloat(v *viper.Viper, key string, fallback float64) float64 {
	value := strings.TrimSpace(fmt.Sprint(v.Get(key)))
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func millis(v *viper.Viper, key string, fallback int) time.Duration {
	return time.Duration(positiveInt(v, key, fallback)) * time.Millisecond
}

func atLeast(value int, minimum int, fallback int) int {
	if value < minimum {
		return fallback
	}
	return value
}

func boolOrDefault(v *viper.Viper, key string, fallback bool) bool {
	switch value := v.Get(key).(type) {
	case bool:
		return value
	case string:
		switch strings.TrimSpace(strings.ToLower(value)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}

// stringList accepts a YAML list or a comma-separated string.
func stringList(v *viper.Viper, key string, fallback []string) []string {
	var items []string
	switch value := v.Get(key).(type) {
	case string:
		items = strings.Split(value, ",")
	default:
		items = v.GetStringSlice(key)
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}
