package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"hwtutor/internal/domain"
)

// DefaultIterationLimit bounds how often the rule set is re-run on a line.
const DefaultIterationLimit = 30

// Rewriter changes text and reports whether anything changed.
type Rewriter interface {
	Rewrite(text string) (string, bool)
}

// Rule is one compiled line of a rules file. An empty Speaker applies to
// both sides of the conversation.
type Rule struct {
	Speaker domain.Speaker
	Rewriter
}

func (r Rule) covers(speaker domain.Speaker) bool {
	return r.Speaker == "" || r.Speaker == speaker
}

// ParseError points at the offending line of a rules file.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	ErrUnknownScope  = errors.New("unknown speaker scope")
	ErrEmptyRule     = errors.New("scoped rule has no body")
	ErrUnknownSyntax = errors.New("unsupported rule format")
)

// Engine normalises transcript fragments. Rules run in file order and the
// whole set repeats until a pass changes nothing or the limit is hit.
type Engine struct {
	rules []Rule
	limit int
}

// NewEngine loads a rules file with the built-in syntaxes. A blank path or a
// missing file yields an engine that passes text through.
func NewEngine(path string, limit int) (*Engine, error) {
	return Load(path, limit, DefaultSyntaxes()...)
}

// Load reads path and compiles it with the given syntaxes, tried in order.
func Load(path string, limit int, syntaxes ...Syntax) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return newEngine(nil, limit), nil
	}

	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return newEngine(nil, limit), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules file %q: %w", path, err)
	}

	compiled, err := Compile(string(contents), syntaxes...)
	if err != nil {
		return nil, fmt.Errorf("rules file %q: %w", path, err)
	}
	return newEngine(compiled, limit), nil
}

func newEngine(compiled []Rule, limit int) *Engine {
	if limit <= 0 {
		limit = DefaultIterationLimit
	}
	return &Engine{rules: compiled, limit: limit}
}

// Compile turns rules source into rules. Blank lines and lines starting
// with '#' are skipped. A line may start with "@ai" or "@you".
func Compile(src string, syntaxes ...Syntax) ([]Rule, error) {
	if len(syntaxes) == 0 {
		syntaxes = DefaultSyntaxes()
	}

	var compiled []Rule
	for i, raw := range strings.Split(src, "\n") {
		body := strings.TrimSpace(raw)
		if body == "" || body[0] == '#' {
			continue
		}

		rule, err := compileLine(body, syntaxes)
		if err != nil {
			return nil, &ParseError{Line: i + 1, Err: err}
		}
		compiled = append(compiled, rule)
	}
	return compiled, nil
}

func compileLine(body string, syntaxes []Syntax) (Rule, error) {
	speaker, body, err := cutScope(body)
	if err != nil {
		return Rule{}, err
	}

	for _, syntax := range syntaxes {
		if !syntax.Match(body) {
			continue
		}
		rw, err := syntax.Compile(body)
		if err != nil {
			return Rule{}, err
		}
		return Rule{Speaker: speaker, Rewriter: rw}, nil
	}
	return Rule{}, ErrUnknownSyntax
}

func cutScope(body string) (domain.Speaker, string, error) {
	if body[0] != '@' {
		return "", body, nil
	}

	scope, rest, _ := strings.Cut(body, " ")
	var speaker domain.Speaker
	switch strings.ToLower(scope) {
	case "@ai":
		speaker = domain.SpeakerAI
	case "@you":
		speaker = domain.SpeakerUser
	default:
		return "", "", fmt.Errorf("%w %q", ErrUnknownScope, scope)
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", "", ErrEmptyRule
	}
	return speaker, rest, nil
}

// Len reports how many rules are loaded.
func (e *Engine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

// Apply rewrites one transcript fragment spoken by speaker.
func (e *Engine) Apply(speaker domain.Speaker, text string) (string, error) {
	if e.Len() == 0 {
		return text, nil
	}

	for pass := 0; pass < e.limit; pass++ {
		dirty := false
		for _, rule := range e.rules {
			if !rule.covers(speaker) {
				continue
			}
			if next, changed := rule.Rewrite(text); changed {
				text = next
				dirty = true
			}
		}
		if !dirty {
			break
		}
	}
	return text, nil
}
