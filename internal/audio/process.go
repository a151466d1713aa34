package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/multierr"
)

const (
	startupProbe = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
)

var errExitedEarly = errors.New("ffmpeg exited before capture started")

// process is a running ffmpeg child. Output pipes are plain os.Pipe pairs so
// that Wait never closes them underneath a reader still draining the tail of
// the stream; each reader closes its own end once it sees EOF.
type process struct {
	stdout *pipeReader
	extra  []*pipeReader
	stderr *lockedBuffer

	proc    *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

// startProcess launches command with stdout and extraOutputs additional
// pipes (fd 3 onwards), then waits briefly to catch devices that fail to open.
func startProcess(ctx context.Context, command string, args []string, extraOutputs int) (*process, error) {
	var readers []*pipeReader
	var writers []*os.File
	closeAll := func() error {
		var err error
		for _, w := range writers {
			err = multierr.Append(err, w.Close())
		}
		for _, r := range readers {
			err = multierr.Append(err, r.Close())
		}
		return err
	}

	for i := 0; i < 1+extraOutputs; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to create ffmpeg output pipe: %w", err), closeAll())
		}
		readers = append(readers, &pipeReader{f: r})
		writers = append(writers, w)
	}

	cmd := exec.CommandContext(ctx, command, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	cmd.Stdout = writers[0]
	cmd.ExtraFiles = writers[1:]

	if err := cmd.Start(); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to start ffmpeg: %w", err), closeAll())
	}
	for _, w := range writers {
		_ = w.Close()
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		for _, r := range readers {
			_ = r.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v: %s", errExitedEarly, err, trimSpace(stderr.String()))
		}
		return nil, errExitedEarly
	case <-time.After(startupProbe):
	}

	return &process{
		stdout:  readers[0],
		extra:   readers[1:],
		stderr:  stderr,
		proc:    cmd.Process,
		waitErr: waitErr,
	}, nil
}

// Stop interrupts ffmpeg so muxers can write trailers, then kills it after a
// grace period. Readers see EOF after the remaining output. Idempotent.
func (p *process) Stop() error {
	p.stopOnce.Do(func() {
		if p.proc != nil {
			_ = p.proc.Signal(os.Interrupt)
		}

		var err error
		select {
		case werr, ok := <-p.waitErr:
			if ok {
				err = normalizeStopErr(werr)
			}
		case <-time.After(stopGrace):
			if p.proc != nil {
				_ = p.proc.Kill()
			}
			if werr, ok := <-p.waitErr; ok {
				err = normalizeStopErr(werr)
			}
		}

		if err != nil && p.stderr.Len() > 0 {
			err = fmt.Errorf("%w: %s", err, trimSpace(p.stderr.String()))
		}
		p.stopErr = err
	})

	return p.stopErr
}

// Close stops the process and releases every read end, including ones no
// reader ever drained.
func (p *process) Close() error {
	err := p.Stop()
	err = multierr.Append(err, p.stdout.Close())
	for _, r := range p.extra {
		err = multierr.Append(err, r.Close())
	}
	return err
}

// pipeReader closes its file on the first read error, EOF included.
type pipeReader struct {
	f    *os.File
	once sync.Once
}

func (r *pipeReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if err != nil {
		_ = r.Close()
	}
	return n, err
}

func (r *pipeReader) Close() error {
	var err error
	r.once.Do(func() {
		if closeErr := r.f.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			err = closeErr
		}
	})
	return err
}

var _ io.ReadCloser = (*pipeReader)(nil)

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimSpace(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}

// lockedBuffer collects stderr written by exec's copier goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
