package main

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"wakemic/internal/domain"
	"wakemic/internal/ports"
	"wakemic/internal/usecase"
)

func TestStateMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.State]string{
		domain.StateIdle:       "Listening for wake phrase",
		domain.StateActivated:  "Listening for command",
		domain.StateProcessing: "Processing command",
		domain.StateSpeaking:   "Responding",
	}

	for state, want := range cases {
		state := state
		want := want
		t.Run(string(state), func(t *testing.T) {
			t.Parallel()
			if got := stateMessage(state); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := stateMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown state message, got %q", got)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeUnsupported: "Wake word listening is not supported",
		domain.ErrorCodePermission:  "Microphone or recognizer access denied",
		domain.ErrorCodeDevice:      "Microphone unavailable",
		domain.ErrorCodeCapture:     "Command capture failed",
		domain.ErrorCodeStartup:     "Startup failed",
	}
	for code, want := range cases {
		code := code
		want := want
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}
	if err := app.StopCapture(); err == nil {
		t.Fatalf("expected StopCapture to fail before startup")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if err := app.NotifySpeakingDone(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := &App{}
	status := app.GetStatus()
	if status.State != domain.StateIdle || status.Listening {
		t.Fatalf("unexpected status: %+v", status)
	}

	app.bootErr = errors.New("boot")
	status = app.GetStatus()
	if status.State != domain.StateIdle || status.Listening || status.Message != "boot" {
		t.Fatalf("unexpected boot status: %+v", status)
	}
	if info := app.GetRuntimeInfo(); info["error"] != "boot" {
		t.Fatalf("unexpected runtime info: %+v", info)
	}
}

func TestEventsAreDroppedBeforeStartup(t *testing.T) {
	t.Parallel()

	events := &emitted{}
	app := &App{emit: events.record}
	app.StateChanged(domain.StateIdle)
	app.ReportError(domain.ErrorCodeDevice, "busy")
	app.CommandAudio(domain.EncodedAudio{Data: []byte("x")})

	if got := events.all(); len(got) != 0 {
		t.Fatalf("expected no events before startup, got %+v", got)
	}
}

func TestEventPayloads(t *testing.T) {
	t.Parallel()

	events := &emitted{}
	app := &App{ctx: context.Background(), emit: events.record}

	app.StateChanged(domain.StateActivated)
	app.CommandAudio(domain.EncodedAudio{Data: []byte("opus"), Format: domain.AudioFormatWebM})
	app.ReportError(domain.ErrorCodeDevice, "device busy")

	got := events.all()
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %+v", got)
	}
	if got[0].name != eventState || got[0].payload["state"] != "activated" || got[0].payload["message"] != "Listening for command" {
		t.Fatalf("unexpected state event: %+v", got[0])
	}
	if got[1].name != eventCommandAudio || got[1].payload["format"] != "webm" {
		t.Fatalf("unexpected audio event: %+v", got[1])
	}
	if decoded, err := base64.StdEncoding.DecodeString(got[1].payload["data"]); err != nil || string(decoded) != "opus" {
		t.Fatalf("unexpected audio payload: %q (%v)", decoded, err)
	}
	if got[2].name != eventError || got[2].payload["code"] != "device" || got[2].payload["detail"] != "device busy" {
		t.Fatalf("unexpected error event: %+v", got[2])
	}
}

func TestControllerCallbacksReachFrontend(t *testing.T) {
	t.Parallel()

	events := &emitted{}
	app := &App{ctx: context.Background(), emit: events.record}
	app.controller = usecase.NewController(unsupportedRecognizer{}, nil, usecase.Config{})

	err := app.controller.Initialize(app.ctx, app.callbacks())
	if !errors.Is(err, domain.ErrEngineUnsupported) {
		t.Fatalf("expected unsupported engine, got %v", err)
	}

	got := events.all()
	if len(got) != 2 {
		t.Fatalf("expected state and error events, got %+v", got)
	}
	if got[0].name != eventState || got[0].payload["state"] != "idle" {
		t.Fatalf("unexpected first event: %+v", got[0])
	}
	if got[1].name != eventError || got[1].payload["code"] != "unsupported" {
		t.Fatalf("unexpected second event: %+v", got[1])
	}
	if status := app.GetStatus(); status.Listening || status.Message == "" {
		t.Fatalf("unexpected status: %+v", status)
	}

	app.shutdown(context.Background())
}

type unsupportedRecognizer struct{}

func (unsupportedRecognizer) Listen(context.Context, func(domain.RecognitionEvent)) (ports.ListenSession, error) {
	return nil, domain.ErrEngineUnsupported
}

type emittedEvent struct {
	name    string
	payload map[string]string
}

type emitted struct {
	mu     sync.Mutex
	events []emittedEvent
}

func (e *emitted) record(_ context.Context, name string, data ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	payload, _ := data[0].(map[string]string)
	e.events = append(e.events, emittedEvent{name: name, payload: payload})
}

func (e *emitted) all() []emittedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emittedEvent(nil), e.events...)
}
