// Package timers manages the per-capture countdowns and the sampling tick.
package timers

import (
	"fmt"
	"time"

	"wakemic/internal/clock"
)

// Kind identifies one of the capture timers.
type Kind int

const (
	PreSpeech Kind = iota
	Silence
	HardCap
	Tick
	kindCount
)

// Default durations.
const (
	DefaultPreSpeech      = 4000 * time.Millisecond
	DefaultSilence        = 1500 * time.Millisecond
	DefaultHardCap        = 15000 * time.Millisecond
	DefaultSampleInterval = 100 * time.Millisecond
)

func (k Kind) String() string {
	switch k {
	case PreSpeech:
		return "pre_speech"
	case Silence:
		return "silence"
	case HardCap:
		return "hard_cap"
	case Tick:
		return "tick"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Firing is delivered when a timer expires. It must be passed to Accept
// before acting on it.
type Firing struct {
	Kind Kind
	id   uint64
}

type entry struct {
	id       uint64
	timer    clock.Timer
	deadline time.Time
	period   time.Duration
}

// Set holds at most one live handle per kind. It is not safe for concurrent
// use; the owner serializes every call, including Accept from fire callbacks.
type Set struct {
	clock clock.Clock
	fire  func(Firing)
	live  [kindCount]*entry
	next  uint64
}

// New returns a Set whose expirations are reported through fire. fire runs on
// the clock's callback goroutine.
func New(c clock.Clock, fire func(Firing)) *Set {
	if c == nil {
		c = clock.Real{}
	}
	return &Set{clock: c, fire: fire}
}

// Start arms a one-shot timer, replacing any live timer of the same kind.
func (s *Set) Start(kind Kind, d time.Duration) {
	s.arm(kind, d, 0)
}

// StartTicker arms the repeating sampling tick.
func (s *Set) StartTicker(period time.Duration) {
	if period <= 0 {
		period = DefaultSampleInterval
	}
	s.arm(Tick, period, period)
}

// Cancel stops the live timer of kind, if any.
func (s *Set) Cancel(kind Kind) {
	if e := s.live[kind]; e != nil {
		e.timer.Stop()
		s.live[kind] = nil
	}
}

// CancelAll stops every live timer, including the tick.
func (s *Set) CancelAll() {
	for k := Kind(0); k < kindCount; k++ {
		s.Cancel(k)
	}
}

// Pending reports whether a timer of kind is live.
func (s *Set) Pending(kind Kind) bool {
	return s.live[kind] != nil
}

// Due reports whether a live timer of kind has reached its deadline.
func (s *Set) Due(kind Kind) bool {
	e := s.live[kind]
	return e != nil && !s.clock.Now().Before(e.deadline)
}

// Accept reports whether f belongs to the live timer of its kind. Accepted
// one-shots are cleared; an accepted tick schedules the next one.
func (s *Set) Accept(f Firing) bool {
	e := s.live[f.Kind]
	if e == nil || e.id != f.id {
		return false
	}
	if e.period > 0 {
		s.arm(f.Kind, e.period, e.period)
	} else {
		s.live[f.Kind] = nil
	}
	return true
}

func (s *Set) arm(kind Kind, d time.Duration, period time.Duration) {
	s.Cancel(kind)
	s.next++
	f := Firing{Kind: kind, id: s.next}
	e := &entry{id: f.id, deadline: s.clock.Now().Add(d), period: period}
	e.timer = s.clock.AfterFunc(d, func() { s.fire(f) })
	s.live[kind] = e
}
