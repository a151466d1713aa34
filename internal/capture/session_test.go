package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wakemic/internal/domain"
	"wakemic/internal/ports"
)

func TestOpenSessionBuffersSegmentsInOrder(t *testing.T) {
	t.Parallel()

	rec := newFakeRecording(domain.AudioFormatWebM)
	opener := NewOpener(&fakeRecorder{recordings: []*fakeRecording{rec}}, Config{}, zerolog.Nop())

	session, err := opener.OpenSession(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, session.ID())

	rec.writeMedia(t, []byte("one"))
	rec.writeMedia(t, []byte("two"))
	rec.writeMedia(t, []byte("three"))

	audio, err := session.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "onetwothree", string(audio.Data))
	assert.Equal(t, domain.AudioFormatWebM, audio.Format)
	assert.Equal(t, 1, rec.stopCalls())
}

func TestFinalizeWithoutSegmentsIsEmpty(t *testing.T) {
	t.Parallel()

	rec := newFakeRecording(domain.AudioFormatMP4)
	opener := NewOpener(&fakeRecorder{recordings: []*fakeRecording{rec}}, Config{}, zerolog.Nop())

	session, err := opener.OpenSession(context.Background())
	require.NoError(t, err)

	_, err = session.Finalize()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestReleaseIsIdempotentAndDiscardsAudio(t *testing.T) {
	t.Parallel()

	rec := newFakeRecording(domain.AudioFormatWebM)
	opener := NewOpener(&fakeRecorder{recordings: []*fakeRecording{rec}}, Config{}, zerolog.Nop())

	session, err := opener.OpenSession(context.Background())
	require.NoError(t, err)
	rec.writeMedia(t, []byte("discard me"))

	session.Release()
	session.Release()
	assert.Equal(t, 1, rec.stopCalls())

	_, err = session.Finalize()
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Equal(t, 1, rec.stopCalls())
}

func TestLevelTracksRecentAnalysisWindow(t *testing.T) {
	t.Parallel()

	rec := newFakeRecording(domain.AudioFormatWebM)
	opener := NewOpener(&fakeRecorder{recordings: []*fakeRecording{rec}}, Config{AnalysisWindow: 4}, zerolog.Nop())

	session, err := opener.OpenSession(context.Background())
	require.NoError(t, err)
	defer session.Release()

	assert.Equal(t, 0.0, session.Level())

	loud := pcm(16384, -16384, 16384, -16384)
	// Split across reads on an odd boundary.
	rec.writeAnalysis(t, loud[:3])
	rec.writeAnalysis(t, loud[3:])
	assert.Eventually(t, func() bool {
		return session.Level() > 0.49
	}, time.Second, 5*time.Millisecond)

	rec.writeAnalysis(t, pcm(0, 0, 0, 0))
	assert.Eventually(t, func() bool {
		return session.Level() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestOpenWrapsRecorderFailure(t *testing.T) {
	t.Parallel()

	opener := NewOpener(&fakeRecorder{err: errors.New("permission denied")}, Config{}, zerolog.Nop())
	session, err := opener.Open(context.Background())
	assert.Nil(t, session)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	opener = NewOpener(&fakeRecorder{err: ErrUnsupported}, Config{}, zerolog.Nop())
	_, err = opener.Open(context.Background())
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.NotErrorIs(t, err, ErrDeviceUnavailable)
}

func pcm(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

type fakeRecorder struct {
	recordings []*fakeRecording
	err        error
	calls      int
}

func (f *fakeRecorder) Open(_ context.Context, _ ports.RecorderConfig) (ports.Recording, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.recordings) {
		return nil, errors.New("no recording configured")
	}
	rec := f.recordings[f.calls]
	f.calls++
	return rec, nil
}

type fakeRecording struct {
	format domain.AudioFormat

	mediaR *io.PipeReader
	mediaW *io.PipeWriter
	tapR   *io.PipeReader
	tapW   *io.PipeWriter

	mu    sync.Mutex
	stops int
}

func newFakeRecording(format domain.AudioFormat) *fakeRecording {
	mr, mw := io.Pipe()
	tr, tw := io.Pipe()
	return &fakeRecording{format: format, mediaR: mr, mediaW: mw, tapR: tr, tapW: tw}
}

func (f *fakeRecording) Media() io.Reader            { return f.mediaR }
func (f *fakeRecording) Analysis() io.Reader         { return f.tapR }
func (f *fakeRecording) Format() domain.AudioFormat { return f.format }

func (f *fakeRecording) Stop() error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	_ = f.mediaW.Close()
	_ = f.tapW.Close()
	return nil
}

func (f *fakeRecording) stopCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeRecording) writeMedia(t *testing.T, chunk []byte) {
	t.Helper()
	_, err := f.mediaW.Write(chunk)
	require.NoError(t, err)
}

func (f *fakeRecording) writeAnalysis(t *testing.T, chunk []byte) {
	t.Helper()
	_, err := f.tapW.Write(chunk)
	require.NoError(t, err)
}
