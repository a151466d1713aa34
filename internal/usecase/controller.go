package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"wakemic/internal/capture"
	"wakemic/internal/clock"
	"wakemic/internal/domain"
	"wakemic/internal/metrics"
	"wakemic/internal/ports"
	"wakemic/internal/timers"
	"wakemic/internal/vad"
	"wakemic/internal/wake"
)

var (
	ErrAlreadyInitialized = errors.New("controller is already initialized")
	ErrClosed             = errors.New("controller is closed")
)

// DefaultListenerRestart is the delay before a continuous listener that ended
// on its own is started again.
const DefaultListenerRestart = 300 * time.Millisecond

// Config controls wake phrase matching and command capture bounds.
type Config struct {
	Variants        []string
	TailWindow      int
	Threshold       float64
	PreSpeech       time.Duration
	Silence         time.Duration
	HardCap         time.Duration
	SampleInterval  time.Duration
	ListenerRestart time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.Variants) == 0 {
		c.Variants = wake.DefaultVariants
	}
	if c.PreSpeech <= 0 {
		c.PreSpeech = timers.DefaultPreSpeech
	}
	if c.Silence <= 0 {
		c.Silence = timers.DefaultSilence
	}
	if c.HardCap <= 0 {
		c.HardCap = timers.DefaultHardCap
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = timers.DefaultSampleInterval
	}
	if c.ListenerRestart <= 0 {
		c.ListenerRestart = DefaultListenerRestart
	}
	return c
}

// Callbacks receive controller output. They run outside the controller lock,
// in the order the controller produced them, and may call back into it.
type Callbacks struct {
	OnStateChange  func(domain.State)
	OnCommandAudio func(domain.EncodedAudio)
	OnError        func(code domain.ErrorCode, message string)
}

func (cb Callbacks) withDefaults() Callbacks {
	if cb.OnStateChange == nil {
		cb.OnStateChange = func(domain.State) {}
	}
	if cb.OnCommandAudio == nil {
		cb.OnCommandAudio = func(domain.EncodedAudio) {}
	}
	if cb.OnError == nil {
		cb.OnError = func(domain.ErrorCode, string) {}
	}
	return cb
}

type Option func(*Controller)

func WithClock(c clock.Clock) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

func WithLogger(log zerolog.Logger) Option {
	return func(ctrl *Controller) { ctrl.log = log }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(ctrl *Controller) { ctrl.metrics = m }
}

// Controller drives the wake word lifecycle: it listens for the wake phrase
// while idle, captures one command, and waits for the caller to finish
// responding before listening again.
//
// Every handler runs under mu. Blocking work (stopping the listener, opening
// and finalizing captures, starting the recognizer) and caller callbacks are
// queued while locked and run in order once the lock is released.
type Controller struct {
	recognizer ports.Recognizer
	opener     ports.CaptureOpener
	cfg        Config
	clock      clock.Clock
	log        zerolog.Logger
	metrics    *metrics.Collectors
	matcher    *wake.Matcher

	mu          sync.Mutex
	ctx         context.Context
	cb          Callbacks
	initialized bool
	closed      bool
	state       domain.State

	// listener
	listen        ports.ListenSession
	listenGen     uint64
	starting      bool
	endedEarly    bool
	fatal         bool
	startFailures int
	restart       clock.Timer
	restartSeq    uint64

	// capture
	timers      *timers.Set
	gate        *vad.Gate
	activation  uint64
	session     ports.CaptureSession
	activatedAt time.Time
	opening     bool

	// outcomes of timers or stop requests that arrived while opening
	pendingStop     domain.StopReason
	cancelRequested bool

	pending  []func()
	emitMu   sync.Mutex
	shutdown atomic.Bool
}

func NewController(recognizer ports.Recognizer, opener ports.CaptureOpener, cfg Config, opts ...Option) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		recognizer: recognizer,
		opener:     opener,
		cfg:        cfg,
		clock:      clock.Real{},
		log:        zerolog.Nop(),
		matcher:    wake.NewMatcher(cfg.Variants, cfg.TailWindow),
		gate:       vad.NewGate(cfg.Threshold),
		state:      domain.StateIdle,
		cb:         Callbacks{}.withDefaults(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "controller").Logger()
	c.timers = timers.New(c.clock, c.handleTimer)
	return c
}

// Initialize registers callbacks, reports Idle and starts listening for the
// wake phrase. It returns an error only when listening can never succeed on
// this host; transient failures are logged and retried.
func (c *Controller) Initialize(ctx context.Context, cb Callbacks) error {
	c.mu.Lock()
	if c.closed {
		c.unlock()
		return ErrClosed
	}
	if c.initialized {
		c.unlock()
		return ErrAlreadyInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c.initialized = true
	c.ctx = ctx
	c.cb = cb.withDefaults()
	c.setStateLocked(domain.StateIdle)
	c.unlock()

	return c.startListener()
}

// State returns the current lifecycle state.
func (c *Controller) State() domain.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status summarizes the current state for callers that poll.
func (c *Controller) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := domain.Status{State: c.state, Listening: c.listen != nil}
	if c.fatal {
		status.Message = "wake word listening is unavailable"
	}
	return status
}

// StopCapture ends the active capture as if the user finished speaking.
func (c *Controller) StopCapture() {
	c.mu.Lock()
	defer c.unlock()
	if c.state != domain.StateActivated {
		return
	}
	if c.opening {
		c.requestStopLocked(domain.StopReasonExplicit)
		return
	}
	if c.session != nil {
		c.stopLocked(domain.StopReasonExplicit)
	}
}

// SetSpeaking marks the response to the last command as playing.
func (c *Controller) SetSpeaking() {
	c.mu.Lock()
	defer c.unlock()
	if c.state != domain.StateProcessing {
		c.log.Debug().Str("state", string(c.state)).Msg("ignoring speaking notification")
		return
	}
	c.setStateLocked(domain.StateSpeaking)
}

// NotifySpeakingDone returns to Idle after a command has been handled and
// re-arms wake phrase listening.
func (c *Controller) NotifySpeakingDone() {
	c.mu.Lock()
	defer c.unlock()
	if c.state != domain.StateProcessing && c.state != domain.StateSpeaking {
		c.log.Debug().Str("state", string(c.state)).Msg("ignoring speaking done notification")
		return
	}
	c.setStateLocked(domain.StateIdle)
	c.rearmLocked()
}

// Close cancels timers, releases any capture and stops the listener. No
// callbacks are delivered afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.shutdown.Store(true)
	c.timers.CancelAll()
	c.cancelRestartLocked()
	session := c.session
	listen := c.listen
	c.session = nil
	c.listen = nil
	c.listenGen++
	c.activation++
	if session != nil {
		c.metrics.Capture(domain.CaptureOutcomeCanceled, c.clock.Now().Sub(c.activatedAt))
	}
	c.unlock()

	if session != nil {
		session.Release()
	}
	var err error
	if listen != nil {
		err = listen.Stop()
	}
	c.log.Info().Msg("controller closed")
	return err
}

// startListener starts the recognizer if the controller is idle and no
// listener is running. Must be called without the lock held.
func (c *Controller) startListener() error {
	c.mu.Lock()
	if c.closed || c.fatal || !c.initialized || c.state != domain.StateIdle || c.listen != nil || c.starting {
		c.unlock()
		return nil
	}
	if err := c.ctx.Err(); err != nil {
		c.unlock()
		return err
	}
	c.cancelRestartLocked()
	c.listenGen++
	gen := c.listenGen
	c.starting = true
	c.endedEarly = false
	ctx := c.ctx
	c.unlock()

	session, err := c.recognizer.Listen(ctx, func(event domain.RecognitionEvent) {
		c.handleRecognition(gen, event)
	})

	c.mu.Lock()
	defer c.unlock()
	c.starting = false

	if err != nil {
		return c.listenFailedLocked(err)
	}

	if c.closed || gen != c.listenGen || c.state != domain.StateIdle || c.endedEarly {
		c.after(func() { _ = session.Stop() })
		if !c.closed && c.endedEarly && c.state == domain.StateIdle {
			c.scheduleRestartLocked()
		}
		return nil
	}

	c.listen = session
	c.startFailures = 0
	c.log.Info().Msg("listening for wake phrase")
	return nil
}

func (c *Controller) listenFailedLocked(err error) error {
	switch {
	case errors.Is(err, domain.ErrEngineUnsupported):
		c.fatal = true
		c.log.Error().Err(err).Msg("speech recognition unsupported")
		c.emitError(domain.ErrorCodeUnsupported, err.Error())
		return err
	case errors.Is(err, domain.ErrPermissionDenied):
		c.fatal = true
		c.log.Error().Err(err).Msg("speech recognition not allowed")
		c.emitError(domain.ErrorCodePermission, err.Error())
		return err
	}

	c.startFailures++
	c.log.Warn().Err(err).Int("attempt", c.startFailures).Msg("failed to start listener")
	if !c.closed && c.state == domain.StateIdle {
		c.scheduleRestartLocked()
	}
	return nil
}

func (c *Controller) handleRecognition(gen uint64, event domain.RecognitionEvent) {
	c.mu.Lock()
	defer c.unlock()
	if c.closed || gen != c.listenGen {
		return
	}

	switch event.Kind {
	case domain.RecognitionStarted:
		c.log.Debug().Msg("recognizer started")

	case domain.RecognitionResult:
		if c.state != domain.StateIdle || c.listen == nil {
			return
		}
		match, ok := c.matcher.MatchBatch(event.Hypotheses)
		if !ok {
			return
		}
		c.activateLocked(match)

	case domain.RecognitionError:
		switch event.ErrorCode {
		case domain.RecognitionErrorNoSpeech, domain.RecognitionErrorAborted:
			c.log.Debug().Str("code", event.ErrorCode).Msg("ignoring recognizer error")
		case domain.RecognitionErrorNotAllowed:
			c.fatal = true
			c.log.Error().Str("message", event.Message).Msg("speech recognition not allowed")
			c.emitError(domain.ErrorCodePermission, permissionMessage(event.Message))
		default:
			c.log.Warn().Str("code", event.ErrorCode).Str("message", event.Message).Msg("recognizer error")
		}

	case domain.RecognitionEnded:
		c.listen = nil
		if c.starting {
			c.endedEarly = true
			return
		}
		if c.state == domain.StateIdle && !c.fatal {
			c.scheduleRestartLocked()
		}
	}
}

func permissionMessage(detail string) string {
	if detail == "" {
		return "speech recognition is not allowed"
	}
	return detail
}

func (c *Controller) scheduleRestartLocked() {
	if c.restart != nil || c.closed || c.fatal {
		return
	}
	c.restartSeq++
	seq := c.restartSeq
	c.restart = c.clock.AfterFunc(c.cfg.ListenerRestart, func() {
		c.onRestart(seq)
	})
}

func (c *Controller) cancelRestartLocked() {
	if c.restart != nil {
		c.restart.Stop()
		c.restart = nil
	}
	c.restartSeq++
}

func (c *Controller) onRestart(seq uint64) {
	c.mu.Lock()
	if seq != c.restartSeq || c.closed {
		c.unlock()
		return
	}
	c.restart = nil
	if c.state != domain.StateIdle || c.listen != nil || c.starting || c.fatal {
		c.unlock()
		return
	}
	c.metrics.ListenerRestart()
	c.log.Debug().Msg("restarting listener")
	c.unlock()

	_ = c.startListener()
}

func (c *Controller) activateLocked(match domain.Hypothesis) {
	c.activation++
	act := c.activation
	c.listenGen++
	listen := c.listen
	c.listen = nil
	c.cancelRestartLocked()

	c.gate.Reset()
	c.opening = true
	c.pendingStop = ""
	c.cancelRequested = false
	c.activatedAt = c.clock.Now()
	// Both bounds count from activation, not from when the microphone opens.
	c.timers.Start(timers.HardCap, c.cfg.HardCap)
	c.timers.Start(timers.PreSpeech, c.cfg.PreSpeech)
	c.metrics.Activation()
	c.log.Info().Str("transcript", match.Text).Int("alt", match.AltIndex).Bool("final", match.IsFinal).Msg("wake phrase matched")
	c.setStateLocked(domain.StateActivated)

	c.after(func() { c.openCapture(act, listen) })
}

func (c *Controller) openCapture(act uint64, listen ports.ListenSession) {
	if listen != nil {
		if err := listen.Stop(); err != nil {
			c.log.Warn().Err(err).Msg("listener stopped with error")
		}
	}

	c.mu.Lock()
	ctx := c.ctx
	stale := c.closed || act != c.activation
	c.mu.Unlock()
	if stale {
		return
	}

	session, err := c.opener.Open(ctx)

	c.mu.Lock()
	defer c.unlock()
	c.opening = false

	if c.closed || act != c.activation || c.state != domain.StateActivated {
		if session != nil {
			c.after(session.Release)
		}
		return
	}

	if err != nil {
		code := domain.ErrorCodeDevice
		if errors.Is(err, capture.ErrUnsupported) {
			code = domain.ErrorCodeUnsupported
		}
		c.log.Error().Err(err).Msg("failed to open capture")
		c.timers.CancelAll()
		c.metrics.Capture(domain.CaptureOutcomeFailed, 0)
		c.emitError(code, err.Error())
		c.setStateLocked(domain.StateIdle)
		c.rearmLocked()
		return
	}

	c.session = session
	c.log.Debug().Str("session", session.ID()).Dur("open_delay", c.clock.Now().Sub(c.activatedAt)).Msg("capture started")

	switch {
	case c.cancelRequested:
		c.cancelCaptureLocked(domain.StopReasonNoSpeech)
	case c.pendingStop != "":
		c.stopLocked(c.pendingStop)
	default:
		c.timers.StartTicker(c.cfg.SampleInterval)
	}
}

// requestStopLocked records a stop that arrived before the capture opened.
// The first reason wins.
func (c *Controller) requestStopLocked(reason domain.StopReason) {
	if c.pendingStop == "" {
		c.pendingStop = reason
	}
}

// handleTimer is the TimerSet callback. Firings that were canceled or
// superseded before the lock was acquired are dropped by Accept.
func (c *Controller) handleTimer(f timers.Firing) {
	c.mu.Lock()
	defer c.unlock()
	if c.closed || !c.timers.Accept(f) {
		return
	}
	if c.state != domain.StateActivated {
		return
	}
	if c.session == nil {
		if !c.opening {
			return
		}
		switch f.Kind {
		case timers.PreSpeech:
			c.cancelRequested = true
		case timers.HardCap:
			c.requestStopLocked(domain.StopReasonHardCap)
		}
		return
	}

	switch f.Kind {
	case timers.Tick:
		c.sampleLocked()
	case timers.PreSpeech:
		if !c.gate.SpeechObserved() {
			c.cancelCaptureLocked(domain.StopReasonNoSpeech)
		}
	case timers.Silence:
		reason := domain.StopReasonSilence
		if c.timers.Due(timers.HardCap) {
			reason = domain.StopReasonHardCap
		}
		c.stopLocked(reason)
	case timers.HardCap:
		c.stopLocked(domain.StopReasonHardCap)
	}
}

func (c *Controller) sampleLocked() {
	level := c.session.Level()
	d := c.gate.Observe(level)
	if d.SpeechStarted {
		c.timers.Cancel(timers.PreSpeech)
		c.log.Debug().Float64("level", level).Msg("speech started")
	}
	if d.CancelSilence {
		c.timers.Cancel(timers.Silence)
	}
	if d.ArmSilence {
		c.timers.Start(timers.Silence, c.cfg.Silence)
	}
}

// stopLocked finalizes the capture, unless the pre-speech window has already
// elapsed without speech, in which case the capture is discarded.
func (c *Controller) stopLocked(reason domain.StopReason) {
	if c.timers.Due(timers.PreSpeech) && !c.gate.SpeechObserved() {
		c.cancelCaptureLocked(domain.StopReasonNoSpeech)
		return
	}

	c.timers.CancelAll()
	session := c.session
	c.session = nil
	act := c.activation
	elapsed := c.clock.Now().Sub(c.activatedAt)
	c.log.Info().Str("reason", string(reason)).Dur("elapsed", elapsed).Msg("capture stopping")

	c.after(func() { c.finalizeCapture(act, session, elapsed) })
}

func (c *Controller) finalizeCapture(act uint64, session ports.CaptureSession, elapsed time.Duration) {
	audio, err := session.Finalize()

	c.mu.Lock()
	defer c.unlock()
	if c.closed || act != c.activation {
		return
	}

	switch {
	case errors.Is(err, capture.ErrEmpty):
		c.log.Info().Msg("capture was empty")
		c.metrics.Capture(domain.CaptureOutcomeEmpty, elapsed)
		c.setStateLocked(domain.StateIdle)
		c.rearmLocked()
	case err != nil:
		c.log.Error().Err(err).Msg("failed to finalize capture")
		c.metrics.Capture(domain.CaptureOutcomeFailed, elapsed)
		c.emitError(domain.ErrorCodeCapture, fmt.Sprintf("failed to finalize capture: %v", err))
		c.setStateLocked(domain.StateIdle)
		c.rearmLocked()
	default:
		c.log.Info().Int("bytes", len(audio.Data)).Str("format", string(audio.Format)).Msg("command captured")
		c.metrics.Capture(domain.CaptureOutcomeCommand, elapsed)
		c.setStateLocked(domain.StateProcessing)
		cb := c.cb
		c.notify(func() { cb.OnCommandAudio(audio) })
	}
}

func (c *Controller) cancelCaptureLocked(reason domain.StopReason) {
	c.timers.CancelAll()
	session := c.session
	c.session = nil
	c.metrics.Capture(domain.CaptureOutcomeCanceled, c.clock.Now().Sub(c.activatedAt))
	c.log.Info().Str("reason", string(reason)).Msg("capture canceled")
	if session != nil {
		c.after(session.Release)
	}
	c.setStateLocked(domain.StateIdle)
	c.rearmLocked()
}

func (c *Controller) rearmLocked() {
	c.after(func() { _ = c.startListener() })
}

func (c *Controller) setStateLocked(state domain.State) {
	if c.state != state {
		c.log.Info().Str("from", string(c.state)).Str("to", string(state)).Msg("state changed")
	}
	c.state = state
	c.metrics.SetState(state)
	cb := c.cb
	c.notify(func() { cb.OnStateChange(state) })
}

func (c *Controller) emitError(code domain.ErrorCode, message string) {
	cb := c.cb
	c.notify(func() { cb.OnError(code, message) })
}

// notify queues a caller callback, dropped if the controller closes first.
func (c *Controller) notify(f func()) {
	c.after(func() {
		if !c.shutdown.Load() {
			f()
		}
	})
}

// after queues f to run once the lock is released.
func (c *Controller) after(f func()) {
	c.pending = append(c.pending, f)
}

// unlock releases mu and runs queued work. Only one goroutine drains the
// queue at a time so callbacks keep their order; work queued by a callback
// that re-enters the controller is picked up by the same drain loop.
func (c *Controller) unlock() {
	c.mu.Unlock()
	for {
		if !c.emitMu.TryLock() {
			return
		}
		for {
			c.mu.Lock()
			batch := c.pending
			c.pending = nil
			c.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, f := range batch {
				f()
			}
		}
		c.emitMu.Unlock()

		c.mu.Lock()
		more := len(c.pending) > 0
		c.mu.Unlock()
		if !more {
			return
		}
	}
}
