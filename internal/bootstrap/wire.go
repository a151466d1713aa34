package bootstrap

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"wakemic/internal/audio"
	"wakemic/internal/capture"
	"wakemic/internal/config"
	"wakemic/internal/domain"
	"wakemic/internal/metrics"
	"wakemic/internal/ports"
	"wakemic/internal/providers/deepgram"
	"wakemic/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.Controller
	Metrics    *metrics.Collectors
	Config     config.Config
}

// Build wires all backend dependencies for the current runtime. A nil
// registerer disables metrics.
func Build(cfg config.Config, log zerolog.Logger, reg prometheus.Registerer) (Services, error) {
	format, err := captureFormat(cfg.Capture.Format)
	if err != nil {
		return Services{}, err
	}

	listener := usecase.NewContinuousListener(
		audio.NewFFMPEGCapture(cfg.Audio.FFMPEGCommand),
		deepgram.NewProvider(deepgram.Config{
			APIKey:       cfg.Deepgram.APIKey,
			APIBaseURL:   cfg.Deepgram.APIBaseURL,
			Model:        cfg.Deepgram.Model,
			Language:     cfg.Deepgram.Language,
			SmartFormat:  cfg.Deepgram.SmartFormat,
			Alternatives: cfg.Deepgram.Alternatives,
		}, log),
		usecase.ListenerConfig{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Streaming: ports.StreamingConfig{
				SampleRate: cfg.Audio.SampleRate,
				Channels:   cfg.Audio.Channels,
				Encoding:   "linear16",
			},
			ChunkSize: cfg.Audio.ChunkSize,
		},
		log,
	)

	opener := capture.NewOpener(
		audio.NewFFMPEGRecorder(cfg.Audio.FFMPEGCommand, format),
		capture.Config{
			Recorder: ports.RecorderConfig{
				InputFormat:  cfg.Audio.InputFormat,
				InputDevice:  cfg.Audio.InputDevice,
				Channels:     cfg.Audio.Channels,
				Bitrate:      cfg.Capture.Bitrate,
				AnalysisRate: cfg.Capture.AnalysisRate,
			},
			AnalysisWindow: cfg.Capture.AnalysisWindow,
			ReadSize:       cfg.Audio.ChunkSize,
		},
		log,
	)

	var collectors *metrics.Collectors
	if reg != nil {
		collectors = metrics.New(reg)
	}

	controller := usecase.NewController(
		listener,
		opener,
		usecase.Config{
			Variants:        cfg.Wake.Variants,
			TailWindow:      cfg.Wake.TailWindow,
			Threshold:       cfg.VAD.Threshold,
			PreSpeech:       cfg.Timeouts.PreSpeech,
			Silence:         cfg.Timeouts.Silence,
			HardCap:         cfg.Timeouts.HardCap,
			SampleInterval:  cfg.VAD.SampleInterval,
			ListenerRestart: cfg.Timeouts.ListenerRestart,
		},
		usecase.WithLogger(log),
		usecase.WithMetrics(collectors),
	)

	return Services{Controller: controller, Metrics: collectors, Config: cfg}, nil
}

func captureFormat(name string) (domain.AudioFormat, error) {
	switch domain.AudioFormat(name) {
	case "":
		return "", nil
	case domain.AudioFormatWebM, domain.AudioFormatMP4:
		return domain.AudioFormat(name), nil
	default:
		return "", fmt.Errorf("unsupported capture format %q", name)
	}
}
