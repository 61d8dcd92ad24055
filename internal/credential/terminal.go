package credential

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// TerminalSelector prompts for the key on a terminal, without echo when
// the input is a TTY.
type TerminalSelector struct {
	in  *os.File
	out io.Writer
}

func NewTerminalSelector(in *os.File, out io.Writer) *TerminalSelector {
	return &TerminalSelector{in: in, out: out}
}

func (s *TerminalSelector) SelectAPIKey(ctx context.Context) (string, error) {
	type answer struct {
		key string
		err error
	}
	result := make(chan answer, 1)

	go func() {
		fmt.Fprint(s.out, "Gemini API key: ")
		key, err := s.read()
		fmt.Fprintln(s.out)
		result <- answer{key: key, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-result:
		if a.err != nil {
			return "", fmt.Errorf("read api key: %w", a.err)
		}
		if a.key == "" {
			return "", ErrSelectionCancelled
		}
		return a.key, nil
	}
}

func (s *TerminalSelector) read() (string, error) {
	fd := int(s.in.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(s.in).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
