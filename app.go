package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"wakemic/internal/bootstrap"
	"wakemic/internal/config"
	"wakemic/internal/domain"
	"wakemic/internal/logging"
	"wakemic/internal/metrics"
	"wakemic/internal/usecase"
)

const (
	eventState        = "wakemic:state"
	eventCommandAudio = "wakemic:command-audio"
	eventError        = "wakemic:error"
)

// App is the Wails application root.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
	emit   func(ctx context.Context, name string, data ...interface{})

	controller *usecase.Controller
	cfg        config.Config
	bootErr    error
}

func NewApp() *App {
	return &App{log: zerolog.Nop(), emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	cfg, err := config.Load()
	if err != nil {
		a.bootErr = err
		a.ReportError(domain.ErrorCodeStartup, err.Error())
		return
	}
	a.cfg = cfg
	a.log = logging.New(logging.Config{Level: cfg.Log.Level, Console: cfg.Log.Console}, nil)

	reg := prometheus.NewRegistry()
	services, err := bootstrap.Build(cfg, a.log, reg)
	if err != nil {
		a.bootErr = err
		a.ReportError(domain.ErrorCodeStartup, err.Error())
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.ListenAndServe(runCtx, cfg.Metrics.Addr, reg, a.log); err != nil {
				a.log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	a.controller = services.Controller
	if err := a.controller.Initialize(runCtx, a.callbacks()); err != nil {
		// Already reported through OnError; Status carries the message.
		a.log.Error().Err(err).Msg("wake word listening unavailable")
	}
}

func (a *App) shutdown(_ context.Context) {
	if a.controller != nil {
		if err := a.controller.Close(); err != nil {
			a.log.Debug().Err(err).Msg("listener stopped with error")
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *App) callbacks() usecase.Callbacks {
	return usecase.Callbacks{
		OnStateChange:  a.StateChanged,
		OnCommandAudio: a.CommandAudio,
		OnError:        a.ReportError,
	}
}

// StopCapture ends the current command capture early.
func (a *App) StopCapture() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.StopCapture()
	return nil
}

// SetSpeaking tells the controller the response to the last command is playing.
func (a *App) SetSpeaking() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.SetSpeaking()
	return nil
}

// NotifySpeakingDone re-arms wake phrase listening.
func (a *App) NotifySpeakingDone() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.NotifySpeakingDone()
	return nil
}

// GetStatus returns the current controller status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.StateIdle, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.StateIdle}
	}
	return a.controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"provider":         "Deepgram",
		"model":            a.cfg.Deepgram.Model,
		"language":         a.cfg.Deepgram.Language,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"captureFormat":    a.cfg.Capture.Format,
		"wakeVariants":     strconv.Itoa(len(a.cfg.Wake.Variants)),
		"hardCap":          a.cfg.Timeouts.HardCap.String(),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// StateChanged emits controller state transitions to the frontend.
func (a *App) StateChanged(state domain.State) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventState, map[string]string{
		"state":   string(state),
		"message": stateMessage(state),
	})
}

// CommandAudio emits a finished command recording, base64 encoded.
func (a *App) CommandAudio(audio domain.EncodedAudio) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventCommandAudio, map[string]string{
		"format": string(audio.Format),
		"data":   base64.StdEncoding.EncodeToString(audio.Data),
	})
}

// ReportError emits backend errors to the UI.
func (a *App) ReportError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func stateMessage(state domain.State) string {
	switch state {
	case domain.StateIdle:
		return "Listening for wake phrase"
	case domain.StateActivated:
		return "Listening for command"
	case domain.StateProcessing:
		return "Processing command"
	case domain.StateSpeaking:
		return "Responding"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeUnsupported:
		return "Wake word listening is not supported"
	case domain.ErrorCodePermission:
		return "Microphone or recognizer access denied"
	case domain.ErrorCodeDevice:
		return "Microphone unavailable"
	case domain.ErrorCodeCapture:
		return "Command capture failed"
	case domain.ErrorCodeStartup:
		return "Startup failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
