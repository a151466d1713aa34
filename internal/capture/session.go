// Package capture owns the microphone for one command capture cycle.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wakemic/internal/domain"
	"wakemic/internal/ports"
	"wakemic/internal/vad"
)

var (
	// ErrDeviceUnavailable means the input device could not be opened.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	// ErrUnsupported means no supported output encoding exists.
	ErrUnsupported = errors.New("no supported audio encoding")
	// ErrEmpty means the session finished without buffering any audio.
	ErrEmpty = errors.New("no audio captured")
)

// DefaultAnalysisWindow is the number of PCM samples the level is computed over.
const DefaultAnalysisWindow = 2048

// Config controls command capture sessions.
type Config struct {
	Recorder       ports.RecorderConfig
	AnalysisWindow int
	ReadSize       int
}

// Opener creates capture sessions on top of a recorder.
type Opener struct {
	recorder ports.Recorder
	cfg      Config
	log      zerolog.Logger
}

func NewOpener(recorder ports.Recorder, cfg Config, log zerolog.Logger) *Opener {
	if cfg.AnalysisWindow <= 0 {
		cfg.AnalysisWindow = DefaultAnalysisWindow
	}
	if cfg.ReadSize < 256 {
		cfg.ReadSize = 4096
	}
	return &Opener{recorder: recorder, cfg: cfg, log: log.With().Str("component", "capture").Logger()}
}

// Open acquires the microphone and starts buffering.
func (o *Opener) Open(ctx context.Context) (ports.CaptureSession, error) {
	session, err := o.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// OpenSession is Open returning the concrete session.
func (o *Opener) OpenSession(ctx context.Context) (*Session, error) {
	recording, err := o.recorder.Open(ctx, o.cfg.Recorder)
	if err != nil {
		if errors.Is(err, ErrUnsupported) || errors.Is(err, ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s := &Session{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		recording: recording,
		format:    recording.Format(),
		ring:      make([]float32, o.cfg.AnalysisWindow),
		mediaDone: make(chan struct{}),
		tapDone:   make(chan struct{}),
		log:       o.log,
	}
	s.log = o.log.With().Str("session", s.id).Logger()

	go s.pumpMedia(o.cfg.ReadSize)
	go s.pumpAnalysis()

	s.log.Debug().Str("format", string(s.format)).Msg("capture session opened")
	return s, nil
}

// Session buffers encoded audio segments and exposes the current input level.
type Session struct {
	id        string
	startedAt time.Time
	recording ports.Recording
	format    domain.AudioFormat
	log       zerolog.Logger

	mu       sync.Mutex
	segments [][]byte
	readErr  error

	levelMu sync.Mutex
	ring    []float32
	ringPos int
	filled  int
	decoded []float32

	mediaDone chan struct{}
	tapDone   chan struct{}

	releaseOnce sync.Once
	releaseErr  error
}

func (s *Session) ID() string { return s.id }

func (s *Session) StartedAt() time.Time { return s.startedAt }

func (s *Session) Format() domain.AudioFormat { return s.format }

// AppendSegment buffers one encoded chunk. Empty chunks are ignored.
func (s *Session) AppendSegment(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, append([]byte(nil), chunk...))
}

// Level returns the RMS of the most recent analysis window.
func (s *Session) Level() float64 {
	s.levelMu.Lock()
	defer s.levelMu.Unlock()
	if s.filled == 0 {
		return 0
	}
	if s.filled < len(s.ring) {
		return vad.RMS(s.ring[:s.filled])
	}
	return vad.RMS(s.ring)
}

// Finalize stops the recording and returns the concatenated payload.
func (s *Session) Finalize() (domain.EncodedAudio, error) {
	if err := s.release(); err != nil {
		s.log.Warn().Err(err).Msg("recorder stop reported an error")
	}

	s.mu.Lock()
	segments := s.segments
	s.segments = nil
	readErr := s.readErr
	s.mu.Unlock()

	if len(segments) == 0 {
		if readErr != nil {
			return domain.EncodedAudio{}, fmt.Errorf("%w: %v", ErrEmpty, readErr)
		}
		return domain.EncodedAudio{}, ErrEmpty
	}

	payload := bytes.Join(segments, nil)
	s.log.Info().
		Int("segments", len(segments)).
		Int("bytes", len(payload)).
		Dur("duration", time.Since(s.startedAt)).
		Msg("capture session finalized")
	return domain.EncodedAudio{Data: payload, Format: s.format}, nil
}

// Release stops the recording and discards buffered audio. Safe to call
// more than once and after Finalize.
func (s *Session) Release() {
	if err := s.release(); err != nil {
		s.log.Debug().Err(err).Msg("recorder stop reported an error on release")
	}
	s.mu.Lock()
	s.segments = nil
	s.mu.Unlock()
}

func (s *Session) release() error {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.recording.Stop()
		<-s.mediaDone
		<-s.tapDone
	})
	return s.releaseErr
}

func (s *Session) pumpMedia(readSize int) {
	defer close(s.mediaDone)

	media := s.recording.Media()
	if media == nil {
		return
	}
	buf := make([]byte, readSize)
	for {
		n, err := media.Read(buf)
		if n > 0 {
			s.AppendSegment(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.mu.Lock()
				s.readErr = err
				s.mu.Unlock()
			}
			return
		}
	}
}

func (s *Session) pumpAnalysis() {
	defer close(s.tapDone)

	tap := s.recording.Analysis()
	if tap == nil {
		return
	}
	buf := make([]byte, 2*len(s.ring))
	var odd []byte
	for {
		n, err := tap.Read(buf)
		if n > 0 {
			data := buf[:n]
			if len(odd) == 1 {
				data = append(odd, data...)
				odd = nil
			}
			if len(data)%2 == 1 {
				odd = []byte{data[len(data)-1]}
				data = data[:len(data)-1]
			}
			s.pushSamples(data)
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) pushSamples(pcm []byte) {
	s.levelMu.Lock()
	defer s.levelMu.Unlock()
	s.decoded = vad.DecodeInt16LE(s.decoded[:0], pcm)
	for _, sample := range s.decoded {
		s.ring[s.ringPos] = sample
		s.ringPos = (s.ringPos + 1) % len(s.ring)
		if s.filled < len(s.ring) {
			s.filled++
		}
	}
}
