package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"wakemic/internal/domain"
	"wakemic/internal/ports"
)

var errAudioEnded = errors.New("microphone stream ended unexpectedly")

// ListenerConfig controls the continuous recognizer.
type ListenerConfig struct {
	Audio     ports.AudioConfig
	Streaming ports.StreamingConfig
	ChunkSize int
}

// ContinuousListener keeps the microphone streaming into a transcription
// provider and forwards provider events as recognition events.
type ContinuousListener struct {
	audio    ports.AudioCapture
	provider ports.TranscriptionProvider
	cfg      ListenerConfig
	log      zerolog.Logger
}

func NewContinuousListener(
	audio ports.AudioCapture,
	provider ports.TranscriptionProvider,
	cfg ListenerConfig,
	log zerolog.Logger,
) *ContinuousListener {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	cfg.Streaming.InterimResults = true
	return &ContinuousListener{
		audio:    audio,
		provider: provider,
		cfg:      cfg,
		log:      log.With().Str("component", "listener").Logger(),
	}
}

// Listen opens the provider stream and the microphone. Events are delivered on
// one goroutine and always end with a single RecognitionEnded.
func (l *ContinuousListener) Listen(ctx context.Context, emit func(domain.RecognitionEvent)) (ports.ListenSession, error) {
	sessionCtx, cancel := context.WithCancel(ctx)
	stream, err := l.provider.StartStreaming(sessionCtx, l.cfg.Streaming)
	if err != nil {
		cancel()
		return nil, err
	}

	audio, err := l.audio.Start(sessionCtx, l.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		cancel()
		return nil, fmt.Errorf("failed to start microphone: %w", err)
	}

	s := &listenSession{
		cancel:    cancel,
		audio:     audio,
		stream:    stream,
		log:       l.log,
		audioDone: make(chan struct{}),
	}
	go s.pump(l.cfg.ChunkSize)
	go s.forward(emit)

	l.log.Debug().Msg("listener started")
	return s, nil
}

type listenSession struct {
	cancel context.CancelFunc
	audio  ports.AudioSession
	stream ports.StreamingSession
	log    zerolog.Logger

	audioDone chan struct{}
	pumpErr   error

	stopped     atomic.Bool
	releaseOnce sync.Once
	releaseErr  error
}

// Stop releases the microphone and closes the stream. Events already queued
// are still delivered, followed by RecognitionEnded.
func (s *listenSession) Stop() error {
	s.stopped.Store(true)
	err := s.releaseAudio()
	s.cancel()
	go func() {
		if closeErr := s.stream.Close(); closeErr != nil {
			s.log.Debug().Err(closeErr).Msg("recognition stream closed with error")
		}
	}()
	return err
}

func (s *listenSession) releaseAudio() error {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.audio.Stop()
	})
	return s.releaseErr
}

func (s *listenSession) pump(chunkSize int) {
	defer close(s.audioDone)

	captureErr, sendErr := pumpAudioChunks(s.audio, s.stream, chunkSize)
	if sendErr != nil {
		s.log.Debug().Err(sendErr).Msg("recognition stream stopped accepting audio")
	}
	if !s.stopped.Load() && captureErr != nil && sendErr == nil {
		if errors.Is(captureErr, io.EOF) {
			captureErr = errAudioEnded
		}
		s.pumpErr = captureErr
	}
	_ = s.stream.CloseSend()
}

func (s *listenSession) forward(emit func(domain.RecognitionEvent)) {
	for event := range s.stream.Events() {
		if event.Kind == domain.RecognitionEnded {
			break
		}
		emit(event)
	}

	s.stopped.Store(true)
	if err := s.releaseAudio(); err != nil {
		s.log.Debug().Err(err).Msg("microphone stopped with error")
	}
	s.cancel()
	<-s.audioDone

	if s.pumpErr != nil {
		emit(domain.RecognitionEvent{
			Kind:      domain.RecognitionError,
			ErrorCode: domain.RecognitionErrorAudio,
			Message:   s.pumpErr.Error(),
		})
	}
	emit(domain.RecognitionEvent{Kind: domain.RecognitionEnded})
}

// pumpAudioChunks copies microphone PCM into the stream until either side
// fails. A microphone that closes cleanly yields io.EOF as captureErr.
func pumpAudioChunks(audio io.Reader, stream ports.StreamingSession, chunkSize int) (captureErr error, sendErr error) {
	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if err := stream.SendAudio(buf[:n]); err != nil {
				return nil, fmt.Errorf("failed to stream audio: %w", err)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF, nil
			}
			return fmt.Errorf("audio capture error: %w", err), nil
		}
	}
}
