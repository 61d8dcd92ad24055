package geminilive

import (
	"encoding/base64"
	"strconv"
	"strings"

	"hwtutor/internal/domain"
	"hwtutor/internal/ports"
)

type clientMessage struct {
	Setup         *setupMessage         `json:"setup,omitempty"`
	RealtimeInput *realtimeInputMessage `json:"realtimeInput,omitempty"`
}

type setupMessage struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

func buildSetup(cfg ports.LiveConfig) clientMessage {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	modality := strings.ToUpper(strings.TrimSpace(cfg.ResponseModality))
	if modality == "" {
		modality = "AUDIO"
	}

	setup := &setupMessage{
		Model:            model,
		GenerationConfig: generationConfig{ResponseModalities: []string{modality}},
	}
	if voice := strings.TrimSpace(cfg.VoiceName); voice != "" {
		setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice}},
		}
	}
	if text := strings.TrimSpace(cfg.SystemInstruction); text != "" {
		setup.SystemInstruction = &content{Parts: []part{{Text: text}}}
	}
	if cfg.InputTranscription {
		setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		setup.OutputAudioTranscription = &struct{}{}
	}
	return clientMessage{Setup: setup}
}

func buildRealtimeInput(frame domain.AudioFrame) clientMessage {
	return clientMessage{RealtimeInput: &realtimeInputMessage{
		MediaChunks: []inlineData{{
			MIMEType: frame.MIMEType(),
			Data:     base64.StdEncoding.EncodeToString(frame.Data),
		}},
	}}
}

// serverEvents maps one server message to session events in the order
// output transcription, input transcription, audio, interrupted, turn complete.
func serverEvents(msg serverMessage) []domain.ServerEvent {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}

	var events []domain.ServerEvent
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		events = append(events, domain.ServerEvent{Kind: domain.ServerEventTranscript, Speaker: domain.SpeakerAI, Text: sc.OutputTranscription.Text})
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		events = append(events, domain.ServerEvent{Kind: domain.ServerEventTranscript, Speaker: domain.SpeakerUser, Text: sc.InputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			event := domain.ServerEvent{
				Kind:       domain.ServerEventAudio,
				SampleRate: sampleRateFromMIME(p.InlineData.MIMEType),
			}
			audio, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				// Undecodable payloads still reach the session so the drop is accounted there.
				event.Message = "invalid base64 audio payload"
			}
			event.Audio = audio
			events = append(events, event)
		}
	}
	if sc.Interrupted {
		events = append(events, domain.ServerEvent{Kind: domain.ServerEventInterrupted})
	}
	if sc.TurnComplete {
		events = append(events, domain.ServerEvent{Kind: domain.ServerEventTurnComplete})
	}
	return events
}

// sampleRateFromMIME extracts rate=N from an audio/pcm MIME type.
func sampleRateFromMIME(mime string) int {
	for _, param := range strings.Split(mime, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
			return rate
		}
	}
	return 0
}
