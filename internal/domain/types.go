package domain

import "errors"

// State models the wake-word lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateActivated  State = "activated"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
)

var (
	// ErrEngineUnsupported means no recognition capability exists on this host.
	ErrEngineUnsupported = errors.New("speech recognition is not supported")
	// ErrPermissionDenied means the recognizer refused access to audio or credentials.
	ErrPermissionDenied = errors.New("speech recognition permission denied")
)

// ErrorCode identifies errors surfaced to the caller.
type ErrorCode string

const (
	ErrorCodeUnsupported ErrorCode = "unsupported"
	ErrorCodePermission  ErrorCode = "permission"
	ErrorCodeDevice      ErrorCode = "device"
	ErrorCodeCapture     ErrorCode = "capture"
	ErrorCodeStartup     ErrorCode = "startup"
)

// Recognition error codes reported by a continuous recognizer.
const (
	RecognitionErrorNoSpeech   = "no-speech"
	RecognitionErrorAborted    = "aborted"
	RecognitionErrorNotAllowed = "not-allowed"
	RecognitionErrorNetwork    = "network"
	RecognitionErrorAudio      = "audio-capture"
)

// Hypothesis is one transcript alternative produced by the recognizer.
type Hypothesis struct {
	Text     string `json:"text"`
	IsFinal  bool   `json:"isFinal"`
	AltIndex int    `json:"altIndex"`
}

// RecognitionEventKind identifies recognizer stream lifecycle events.
type RecognitionEventKind string

const (
	RecognitionStarted RecognitionEventKind = "started"
	RecognitionResult  RecognitionEventKind = "result"
	RecognitionError   RecognitionEventKind = "error"
	RecognitionEnded   RecognitionEventKind = "ended"
)

// RecognitionEvent is emitted by a continuous recognizer.
type RecognitionEvent struct {
	Kind       RecognitionEventKind `json:"kind"`
	Hypotheses []Hypothesis         `json:"hypotheses,omitempty"`
	ErrorCode  string               `json:"errorCode,omitempty"`
	Message    string               `json:"message,omitempty"`
}

// AudioFormat is the container tag of captured command audio.
type AudioFormat string

const (
	AudioFormatWebM AudioFormat = "webm"
	AudioFormatMP4  AudioFormat = "mp4"
)

// EncodedAudio is a finalized command capture.
type EncodedAudio struct {
	Data   []byte      `json:"data"`
	Format AudioFormat `json:"format"`
}

// StopReason records why a capture ended.
type StopReason string

const (
	StopReasonSilence  StopReason = "silence"
	StopReasonHardCap  StopReason = "hard_cap"
	StopReasonExplicit StopReason = "explicit"
	StopReasonNoSpeech StopReason = "no_speech"
)

// CaptureOutcome classifies how a capture cycle finished.
type CaptureOutcome string

const (
	CaptureOutcomeCommand  CaptureOutcome = "command"
	CaptureOutcomeEmpty    CaptureOutcome = "empty"
	CaptureOutcomeCanceled CaptureOutcome = "canceled"
	CaptureOutcomeFailed   CaptureOutcome = "failed"
)

// Status summarizes the current runtime status.
type Status struct {
	State     State  `json:"state"`
	Listening bool   `json:"listening"`
	Message   string `json:"message,omitempty"`
}
