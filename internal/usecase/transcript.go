package usecase

import (
	"strings"
	"sync"

	"hwtutor/internal/domain"
)

// transcript is the append-only conversation log of one session.
type transcript struct {
	mu    sync.Mutex
	lines []domain.TranscriptLine
}

func newTranscript() *transcript {
	return &transcript{}
}

// Append records a non-empty fragment and reports whether it was kept.
func (t *transcript) Append(speaker domain.Speaker, text string) (domain.TranscriptLine, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.TranscriptLine{}, false
	}
	line := domain.TranscriptLine{Speaker: speaker, Text: text}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	return line, true
}

func (t *transcript) Lines() []domain.TranscriptLine {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.TranscriptLine, len(t.lines))
	copy(out, t.lines)
	return out
}

// Text renders the transcript as "You: ..." / "AI: ..." lines.
func (t *transcript) Text() string {
	lines := t.Lines()
	rendered := make([]string, len(lines))
	for i, line := range lines {
		rendered[i] = line.String()
	}
	return strings.Join(rendered, "\n")
}
