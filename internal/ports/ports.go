package ports

import (
	"context"
	"io"
	"time"

	"wakemic/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live PCM capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone PCM capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.RecognitionEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// ListenSession is a running continuous recognizer.
type ListenSession interface {
	// Stop releases the microphone and the recognition stream. It must not
	// block on the goroutine delivering events.
	Stop() error
}

// Recognizer starts continuous transcript listening. Events are delivered
// in order on a single goroutine.
type Recognizer interface {
	Listen(ctx context.Context, emit func(domain.RecognitionEvent)) (ListenSession, error)
}

// RecorderConfig describes an encoded command recording.
type RecorderConfig struct {
	InputFormat  string
	InputDevice  string
	Channels     int
	Bitrate      string
	AnalysisRate int
}

// Recording is a live encoded recording with a PCM analysis tap.
type Recording interface {
	// Media yields encoded container bytes in arrival order.
	Media() io.Reader
	// Analysis yields mono s16le PCM at the analysis sample rate.
	Analysis() io.Reader
	Format() domain.AudioFormat
	Stop() error
}

// Recorder opens encoded microphone recordings.
type Recorder interface {
	Open(ctx context.Context, cfg RecorderConfig) (Recording, error)
}

// CaptureSession is one command capture cycle.
type CaptureSession interface {
	ID() string
	StartedAt() time.Time
	Level() float64
	Finalize() (domain.EncodedAudio, error)
	Release()
}

// CaptureOpener acquires the microphone for a new capture session.
type CaptureOpener interface {
	Open(ctx context.Context) (CaptureSession, error)
}
