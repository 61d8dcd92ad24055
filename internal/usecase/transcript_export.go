package usecase

import (
	"context"
	"errors"

	"hwtutor/internal/domain"
	"hwtutor/internal/ports"
)

// ErrEmptyTranscript is returned when there is nothing to export.
var ErrEmptyTranscript = errors.New("transcript is empty")

type transcriptExporter struct {
	clipboard ports.Clipboard
	events    ports.EventSink
}

func newTranscriptExporter(clipboard ports.Clipboard, events ports.EventSink) transcriptExporter {
	return transcriptExporter{clipboard: clipboard, events: events}
}

// Export copies the rendered transcript to the clipboard.
func (e transcriptExporter) Export(ctx context.Context, t *transcript) (string, error) {
	text := t.Text()
	if text == "" {
		return "", ErrEmptyTranscript
	}
	if e.clipboard == nil {
		return text, nil
	}
	if err := e.clipboard.SetText(ctx, text); err != nil {
		e.events.SessionError(domain.ErrorCodeClipboard, "transcript ready but clipboard write failed")
		return text, err
	}
	return text, nil
}
