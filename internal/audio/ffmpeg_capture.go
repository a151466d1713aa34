package audio

import (
	"context"
	"strconv"

	"wakemic/internal/ports"
)

// FFMPEGCapture streams raw microphone PCM for the wake-word listener.
type FFMPEGCapture struct {
	command string
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command}
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	proc, err := startProcess(ctx, c.command, args, 0)
	if err != nil {
		return nil, err
	}
	return &pcmSession{proc: proc}, nil
}

type pcmSession struct {
	proc *process
}

func (s *pcmSession) Read(p []byte) (int, error) {
	return s.proc.stdout.Read(p)
}

func (s *pcmSession) Close() error {
	return s.proc.Close()
}

func (s *pcmSession) Stop() error {
	return s.proc.Stop()
}
