package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"hwtutor/internal/bootstrap"
	"hwtutor/internal/credential"
	"hwtutor/internal/domain"
	"hwtutor/internal/usecase"
)

const (
	eventSession    = "hwtutor:session"
	eventTranscript = "hwtutor:transcript"
	eventError      = "hwtutor:error"
	eventCredential = "hwtutor:credential"
)

var (
	errNotInitialized = errors.New("application is not initialized")
	errNoPendingKey   = errors.New("no API key prompt is open")
	errNoSession      = errors.New("no tutoring session")
)

type emitFunc func(ctx context.Context, name string, data ...interface{})

// App is the Wails application root. It is the event sink of every session
// and the credential selector behind the gate.
type App struct {
	ctx  context.Context
	emit emitFunc

	services bootstrap.Services
	bootErr  error

	mu       sync.Mutex
	session  *usecase.SessionController
	analysis domain.HomeworkAnalysis
	keyReply chan string
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, &wailsClipboard{}, a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
}

func (a *App) shutdown(context.Context) {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session != nil {
		_ = session.Close()
	}
}

// AnalyzeHomework explains an uploaded homework photo. image may be plain
// base64 or a data URL.
func (a *App) AnalyzeHomework(image string, mimeType string) (domain.HomeworkAnalysis, error) {
	if err := a.requireReady(); err != nil {
		return domain.HomeworkAnalysis{}, err
	}
	data, detected, err := decodeImagePayload(image)
	if err != nil {
		return domain.HomeworkAnalysis{}, err
	}
	if mimeType == "" {
		mimeType = detected
	}

	analysis, err := a.services.Generation.Analyze(a.ctx, data, mimeType)
	if err != nil {
		a.SessionError(domain.ErrorCodeAnalysis, err.Error())
		return domain.HomeworkAnalysis{}, err
	}

	a.mu.Lock()
	a.analysis = analysis
	a.mu.Unlock()
	return analysis, nil
}

// GenerateIllustration returns the illustration as a data URL.
func (a *App) GenerateIllustration(prompt string) (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	img, err := a.services.Generation.GenerateIllustration(a.ctx, prompt)
	if err != nil {
		a.SessionError(domain.ErrorCodeGeneration, err.Error())
		return "", err
	}
	return dataURL(img.MIMEType, img.Data), nil
}

// GenerateVideo renders the explainer clip to a temp file and returns its path.
func (a *App) GenerateVideo(prompt string) (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	video, err := a.services.Generation.GenerateVideo(a.ctx, prompt)
	if err != nil {
		a.SessionError(domain.ErrorCodeGeneration, err.Error())
		return "", err
	}

	f, err := os.CreateTemp("", "hwtutor-*.mp4")
	if err != nil {
		return "", fmt.Errorf("create video file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(video.Data); err != nil {
		return "", fmt.Errorf("write video file: %w", err)
	}
	return f.Name(), nil
}

// StartTutor opens a new live tutoring session for the current analysis.
// A session that is still open is closed first.
func (a *App) StartTutor() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}

	a.mu.Lock()
	previous := a.session
	session := a.services.NewTutorSession(a.analysis)
	a.session = session
	a.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	if err := session.Start(a.ctx); err != nil {
		if errors.Is(err, usecase.ErrSessionCancelled) {
			return session.Status(), nil
		}
		return session.Status(), err
	}
	return session.Status(), nil
}

// StopTutor closes the live session. Stopping twice is harmless.
func (a *App) StopTutor() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	session := a.currentSession()
	if session == nil {
		return nil
	}
	return session.Close()
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.bootErr != nil {
		return domain.Status{State: domain.SessionStateClosed, Active: false, Message: a.bootErr.Error()}
	}
	session := a.currentSession()
	if session == nil {
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return session.Status()
}

// GetTranscript returns the conversation of the latest session.
func (a *App) GetTranscript() []domain.TranscriptLine {
	session := a.currentSession()
	if session == nil {
		return nil
	}
	return session.Transcript()
}

// CopyTranscript copies the latest conversation to the clipboard.
func (a *App) CopyTranscript() (string, error) {
	session := a.currentSession()
	if session == nil {
		return "", errNoSession
	}
	return session.ExportTranscript(a.ctx)
}

// SelectAPIKey implements credential.Selector by asking the frontend for a
// key and waiting for SubmitAPIKey or CancelAPIKeySelection.
func (a *App) SelectAPIKey(ctx context.Context) (string, error) {
	reply := make(chan string, 1)
	a.mu.Lock()
	a.keyReply = reply
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		if a.keyReply == reply {
			a.keyReply = nil
		}
		a.mu.Unlock()
	}()

	if a.ctx != nil {
		a.emit(a.ctx, eventCredential, map[string]string{
			"message": "Select a Gemini API key from a billing-enabled project to continue.",
		})
	}

	select {
	case key := <-reply:
		if key == "" {
			return "", credential.ErrSelectionCancelled
		}
		return key, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SubmitAPIKey answers an open key prompt.
func (a *App) SubmitAPIKey(key string) error {
	return a.answerKeyPrompt(strings.TrimSpace(key))
}

// CancelAPIKeySelection dismisses an open key prompt.
func (a *App) CancelAPIKeySelection() error {
	return a.answerKeyPrompt("")
}

func (a *App) answerKeyPrompt(key string) error {
	a.mu.Lock()
	reply := a.keyReply
	a.keyReply = nil
	a.mu.Unlock()
	if reply == nil {
		return errNoPendingKey
	}
	reply <- key
	return nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	cfg := a.services.Config
	return map[string]string{
		"provider":      "Gemini",
		"liveModel":     cfg.Gemini.LiveModel,
		"voice":         cfg.Gemini.Voice,
		"analysisModel": cfg.Gemini.AnalysisModel,
		"audioBackend":  cfg.Audio.Backend,
		"audioInput":    cfg.Audio.InputDevice,
		"rulesFile":     cfg.Rules.Path,
	}
}

func (a *App) currentSession() *usecase.SessionController {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services.Generation == nil {
		return errNotInitialized
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// TranscriptAppended emits one new transcript line.
func (a *App) TranscriptAppended(line domain.TranscriptLine) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventTranscript, map[string]string{
		"speaker": string(line.Speaker),
		"label":   line.Speaker.Label(),
		"text":    line.Text,
	})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready"
	case domain.SessionReasonConnecting:
		return "Connecting to tutor..."
	case domain.SessionReasonConnected:
		return "Tutor is listening"
	case domain.SessionReasonStopped:
		return "Session ended"
	case domain.SessionReasonRemoteClosed:
		return "Tutor disconnected"
	case domain.SessionReasonCredentialRequired:
		return "An API key is required"
	case domain.SessionReasonCredentialRejected:
		return "API key was rejected; select another key"
	case domain.SessionReasonPermissionDenied:
		return "Microphone access denied"
	case domain.SessionReasonPlaybackFailed:
		return "Audio output unavailable"
	case domain.SessionReasonConnectFailed:
		return "Could not reach the tutor"
	case domain.SessionReasonChannelFailed:
		return "Connection to the tutor failed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeCredential:
		return "API key problem"
	case domain.ErrorCodePermission:
		return "Microphone permission denied"
	case domain.ErrorCodeConnect:
		return "Connection failed"
	case domain.ErrorCodeChannel:
		return "Connection issue"
	case domain.ErrorCodeAudioCapture:
		return "Microphone issue"
	case domain.ErrorCodeDecode:
		return "Audio decode issue"
	case domain.ErrorCodePlayback:
		return "Audio playback issue"
	case domain.ErrorCodeRules:
		return "Rules processing failed"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	case domain.ErrorCodeAnalysis:
		return "Could not analyze the homework"
	case domain.ErrorCodeGeneration:
		return "Generation failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

// decodeImagePayload accepts raw base64 or a data URL and reports the MIME
// type found in the data URL header.
func decodeImagePayload(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	mimeType := ""
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", usecase.ErrEmptyImage
		}
		mimeType = strings.TrimSuffix(header, ";base64")
		payload = body
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if len(data) == 0 {
		return nil, "", usecase.ErrEmptyImage
	}
	return data, mimeType, nil
}

func dataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
