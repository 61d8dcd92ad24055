package geminilive

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"hwtutor/internal/domain"
	"hwtutor/internal/ports"
)

type staticKey string

func (k staticKey) APIKey() string { return string(k) }

func TestProviderOpenRequiresAPIKey(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{}, staticKey(""))
	_, err := p.Open(context.Background(), ports.LiveConfig{})
	if !errors.Is(err, domain.ErrCredentialInvalid) {
		t.Fatalf("expected credential error, got %v", err)
	}
}

func TestProviderOpenRejectedHandshakeIsCredentialFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewProvider(Config{APIBaseURL: srv.URL}, staticKey("k")).Open(context.Background(), ports.LiveConfig{})
	if !errors.Is(err, domain.ErrCredentialInvalid) {
		t.Fatalf("expected credential error, got %v", err)
	}
}

func TestProviderOpenUnreachableIsConnectError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := NewProvider(Config{APIBaseURL: base}, staticKey("secret")).Open(context.Background(), ports.LiveConfig{})
	if !errors.Is(err, domain.ErrConnect) {
		t.Fatalf("expected connect error, got %v", err)
	}
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("api key leaked into error: %v", err)
	}
}

func TestChannelSessionRoundTrip(t *testing.T) {
	t.Parallel()

	setupCh := make(chan clientMessage, 1)
	inputCh := make(chan clientMessage, 1)
	audio := []byte{1, 0, 2, 0}

	srv := newLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key in query: %s", r.URL.RawQuery)
		}
		if !strings.HasSuffix(r.URL.Path, "v1beta.GenerativeService.BidiGenerateContent") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var setup clientMessage
		if err := conn.ReadJSON(&setup); err != nil {
			t.Errorf("read setup: %v", err)
			return
		}
		setupCh <- setup
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`))

		var input clientMessage
		if err := conn.ReadJSON(&input); err != nil {
			t.Errorf("read input: %v", err)
			return
		}
		inputCh <- input

		modelTurn := map[string]any{"parts": []any{map[string]any{
			"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": base64.StdEncoding.EncodeToString(audio)},
		}}}
		content := map[string]any{"serverContent": map[string]any{
			"outputTranscription": map[string]any{"text": "Let's begin"},
			"inputTranscription":  map[string]any{"text": "hello"},
			"modelTurn":           modelTurn,
			"interrupted":         true,
		}}
		raw, _ := json.Marshal(content)
		_ = conn.WriteMessage(websocket.BinaryMessage, raw)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	p := NewProvider(Config{APIBaseURL: srv.URL}, staticKey("test-key"))
	ch, err := p.Open(context.Background(), ports.LiveConfig{
		Model:               "gemini-test",
		ResponseModality:    "AUDIO",
		VoiceName:           "Zephyr",
		SystemInstruction:   "be kind",
		InputTranscription:  true,
		OutputTranscription: true,
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer ch.Close()

	setup := receive(t, setupCh)
	if setup.Setup == nil || setup.Setup.Model != "models/gemini-test" {
		t.Fatalf("unexpected setup: %+v", setup.Setup)
	}
	if setup.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Zephyr" {
		t.Fatalf("voice not forwarded")
	}
	if setup.Setup.InputAudioTranscription == nil || setup.Setup.OutputAudioTranscription == nil {
		t.Fatalf("transcription not requested")
	}
	if setup.Setup.SystemInstruction == nil || setup.Setup.SystemInstruction.Parts[0].Text != "be kind" {
		t.Fatalf("system instruction not forwarded")
	}

	if ev := nextEvent(t, ch); ev.Kind != domain.ChannelEventOpen {
		t.Fatalf("expected open event, got %s", ev.Kind)
	}

	if !ch.Send(domain.AudioFrame{Data: []byte{9, 9}, SampleRate: 16000, Samples: 1}) {
		t.Fatalf("expected send after open to be accepted")
	}
	input := receive(t, inputCh)
	if input.RealtimeInput == nil || len(input.RealtimeInput.MediaChunks) != 1 {
		t.Fatalf("unexpected realtime input: %+v", input)
	}
	chunk := input.RealtimeInput.MediaChunks[0]
	if chunk.MIMEType != "audio/pcm;rate=16000" || chunk.Data != base64.StdEncoding.EncodeToString([]byte{9, 9}) {
		t.Fatalf("unexpected media chunk: %+v", chunk)
	}

	msg := nextEvent(t, ch)
	if msg.Kind != domain.ChannelEventMessage || len(msg.Events) != 4 {
		t.Fatalf("unexpected message event: %+v", msg)
	}
	wantKinds := []domain.ServerEventKind{
		domain.ServerEventTranscript,
		domain.ServerEventTranscript,
		domain.ServerEventAudio,
		domain.ServerEventInterrupted,
	}
	for i, kind := range wantKinds {
		if msg.Events[i].Kind != kind {
			t.Fatalf("event %d: got %s want %s", i, msg.Events[i].Kind, kind)
		}
	}
	if msg.Events[0].Speaker != domain.SpeakerAI || msg.Events[1].Speaker != domain.SpeakerUser {
		t.Fatalf("unexpected speakers: %+v", msg.Events[:2])
	}
	if string(msg.Events[2].Audio) != string(audio) || msg.Events[2].SampleRate != 24000 {
		t.Fatalf("unexpected audio event: %+v", msg.Events[2])
	}

	if ev := nextEvent(t, ch); ev.Kind != domain.ChannelEventClose {
		t.Fatalf("expected close event, got %s", ev.Kind)
	}
	if _, ok := <-ch.Events(); ok {
		t.Fatalf("expected events channel to be closed")
	}
}

func TestChannelCredentialCloseSurfacesErrorThenClose(t *testing.T) {
	t.Parallel()

	srv := newLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup clientMessage
		_ = conn.ReadJSON(&setup)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "API key not valid. Please pass a valid API key."))
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	ch, err := NewProvider(Config{APIBaseURL: srv.URL}, staticKey("k")).Open(context.Background(), ports.LiveConfig{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer ch.Close()

	ev := nextEvent(t, ch)
	if ev.Kind != domain.ChannelEventError || !errors.Is(ev.Err, domain.ErrCredentialInvalid) {
		t.Fatalf("expected credential error event, got %+v", ev)
	}
	if ev := nextEvent(t, ch); ev.Kind != domain.ChannelEventClose {
		t.Fatalf("expected close event, got %s", ev.Kind)
	}
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := newLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	ch, err := NewProvider(Config{APIBaseURL: srv.URL}, staticKey("k")).Open(context.Background(), ports.LiveConfig{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if ch.Send(domain.AudioFrame{Data: []byte{1, 2}}) {
		t.Fatalf("expected send after close to be dropped")
	}
	for range ch.Events() {
	}
}

func TestChannelSendBeforeOpenIsDropped(t *testing.T) {
	t.Parallel()

	ch := newChannel(nil, nil)
	if ch.Send(domain.AudioFrame{Data: []byte{1, 2}}) {
		t.Fatalf("expected send before open to be dropped")
	}
}

func TestClassifyReadError(t *testing.T) {
	t.Parallel()

	if err := classifyReadError(&websocket.CloseError{Code: websocket.CloseNormalClosure}); err != nil {
		t.Fatalf("expected normal closure to be silent, got %v", err)
	}
	err := classifyReadError(&websocket.CloseError{Code: 1007, Text: "Requested entity was not found."})
	if !errors.Is(err, domain.ErrCredentialInvalid) {
		t.Fatalf("expected credential error, got %v", err)
	}
	err = classifyReadError(&websocket.CloseError{Code: 1011, Text: "Internal error"})
	if !errors.Is(err, domain.ErrRemote) || errors.Is(err, domain.ErrCredentialInvalid) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if err := classifyReadError(errors.New("reset")); !errors.Is(err, domain.ErrRemote) {
		t.Fatalf("expected remote error for transport failure, got %v", err)
	}
}

func TestBuildLiveURL(t *testing.T) {
	t.Parallel()

	got, err := buildLiveURL(Config{APIBaseURL: "https://example.com/"}, "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "wss://example.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=abc"
	if got != want {
		t.Fatalf("unexpected url:\n got %s\nwant %s", got, want)
	}

	if _, err := buildLiveURL(Config{APIBaseURL: ":// bad"}, "abc"); err == nil {
		t.Fatalf("expected invalid base url error")
	}
}

func TestServerEventsOrderingAndTurnComplete(t *testing.T) {
	t.Parallel()

	events := serverEvents(serverMessage{ServerContent: &serverContent{
		ModelTurn: &content{Parts: []part{
			{Text: "ignored"},
			{InlineData: &inlineData{MIMEType: "audio/pcm", Data: "!!"}},
		}},
		TurnComplete: true,
	}})
	if len(events) != 2 {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].Kind != domain.ServerEventAudio || events[0].Message == "" || events[0].SampleRate != 0 {
		t.Fatalf("expected flagged audio event, got %+v", events[0])
	}
	if events[1].Kind != domain.ServerEventTurnComplete {
		t.Fatalf("expected turn complete, got %s", events[1].Kind)
	}
	if serverEvents(serverMessage{}) != nil {
		t.Fatalf("expected no events for empty message")
	}
}

func TestSampleRateFromMIME(t *testing.T) {
	t.Parallel()

	cases := map[string]int{
		"audio/pcm;rate=24000":  24000,
		"audio/pcm; rate=16000": 16000,
		"audio/pcm":             0,
		"audio/pcm;rate=bad":    0,
		"audio/pcm;channels=1":  0,
	}
	for mime, want := range cases {
		if got := sampleRateFromMIME(mime); got != want {
			t.Fatalf("sampleRateFromMIME(%q) = %d, want %d", mime, got, want)
		}
	}
}

func newLiveServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
}

func nextEvent(t *testing.T, ch ports.LiveChannel) domain.ChannelEvent {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		if !ok {
			t.Fatalf("events channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for channel event")
	}
	return domain.ChannelEvent{}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for server")
	}
	var zero T
	return zero
}
