package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"wakemic/internal/capture"
	"wakemic/internal/domain"
	"wakemic/internal/ports"
)

const (
	defaultBitrate      = "32k"
	defaultAnalysisRate = 16000
)

// FFMPEGRecorder records the microphone into a streamable container. A single
// ffmpeg process writes the encoded stream to stdout and a mono s16le copy to
// fd 3 for level analysis.
type FFMPEGRecorder struct {
	command string

	mu     sync.Mutex
	format domain.AudioFormat
}

// NewFFMPEGRecorder returns a recorder producing format. An empty format is
// resolved from the encoders ffmpeg reports on first use.
func NewFFMPEGRecorder(command string, format domain.AudioFormat) *FFMPEGRecorder {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGRecorder{command: command, format: format}
}

func (r *FFMPEGRecorder) Open(ctx context.Context, cfg ports.RecorderConfig) (ports.Recording, error) {
	format, err := r.resolveFormat(ctx)
	if err != nil {
		return nil, err
	}

	args, err := recorderArgs(format, cfg)
	if err != nil {
		return nil, err
	}

	proc, err := startProcess(ctx, r.command, args, 1)
	if err != nil {
		if errors.Is(err, errExitedEarly) {
			return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
		}
		return nil, err
	}
	return &recording{proc: proc, format: format}, nil
}

func (r *FFMPEGRecorder) resolveFormat(ctx context.Context) (domain.AudioFormat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.format != "" {
		return r.format, nil
	}
	format, err := ProbeFormat(ctx, r.command)
	if err != nil {
		return "", err
	}
	r.format = format
	return format, nil
}

func recorderArgs(format domain.AudioFormat, cfg ports.RecorderConfig) ([]string, error) {
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = defaultBitrate
	}
	if cfg.AnalysisRate <= 0 {
		cfg.AnalysisRate = defaultAnalysisRate
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-map", "0:a",
		"-ac", strconv.Itoa(cfg.Channels),
	}

	switch format {
	case domain.AudioFormatWebM:
		args = append(args, "-c:a", "libopus", "-b:a", cfg.Bitrate, "-flush_packets", "1", "-f", "webm")
	case domain.AudioFormatMP4:
		args = append(args,
			"-c:a", "aac", "-b:a", cfg.Bitrate,
			"-movflags", "frag_keyframe+empty_moov+default_base_moof",
			"-f", "mp4",
		)
	default:
		return nil, fmt.Errorf("%w: %q", capture.ErrUnsupported, format)
	}
	args = append(args, "pipe:1")

	args = append(args,
		"-map", "0:a",
		"-ac", "1",
		"-ar", strconv.Itoa(cfg.AnalysisRate),
		"-f", "s16le",
		"pipe:3",
	)
	return args, nil
}

type recording struct {
	proc   *process
	format domain.AudioFormat
}

func (r *recording) Media() io.Reader           { return r.proc.stdout }
func (r *recording) Analysis() io.Reader        { return r.proc.extra[0] }
func (r *recording) Format() domain.AudioFormat { return r.format }
func (r *recording) Stop() error                { return r.proc.Stop() }
