package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Syntax recognises and compiles one rule notation.
type Syntax interface {
	Match(body string) bool
	Compile(body string) (Rewriter, error)
}

// DefaultSyntaxes are sed-style substitutions followed by "from => to"
// literals. Substitution is tried first so "s/a=>b/c/" is not a literal.
func DefaultSyntaxes() []Syntax {
	return []Syntax{Substitution{}, Literal{}}
}

// Literal is "from => to", matched case-insensitively everywhere in the line.
type Literal struct{}

func (Literal) Match(body string) bool {
	return strings.Contains(body, "=>")
}

func (Literal) Compile(body string) (Rewriter, error) {
	from, to, _ := strings.Cut(body, "=>")
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("literal rule has no source text")
	}
	return replaceAll{
		re: regexp.MustCompile("(?i)" + regexp.QuoteMeta(from)),
		to: strings.TrimSpace(to),
	}, nil
}

// Substitution is "s<d>pattern<d>replacement<d>flags" with any
// non-alphanumeric delimiter <d>. Patterns are case-insensitive; flag g
// replaces every match, m and s map to the RE2 flags of the same name.
type Substitution struct{}

func (Substitution) Match(body string) bool {
	return len(body) > 1 && body[0] == 's' && isDelimiter(body[1])
}

func (Substitution) Compile(body string) (Rewriter, error) {
	delim := body[1]
	fields, tail, err := splitDelimited(body[2:], delim, 2)
	if err != nil {
		return nil, err
	}

	mode := "i"
	global := false
	for _, flag := range strings.TrimSpace(tail) {
		switch flag {
		case 'g':
			global = true
		case 'i':
		case 'm', 's':
			if !strings.ContainsRune(mode, flag) {
				mode += string(flag)
			}
		case ' ', '\t':
		default:
			return nil, fmt.Errorf("unsupported substitution flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + mode + ")" + fields[0])
	if err != nil {
		return nil, fmt.Errorf("substitution pattern: %w", err)
	}
	if global {
		return replaceAll{re: re, to: fields[1]}, nil
	}
	return replaceFirst{re: re, to: fields[1]}, nil
}

type replaceAll struct {
	re *regexp.Regexp
	to string
}

func (r replaceAll) Rewrite(text string) (string, bool) {
	out := r.re.ReplaceAllString(text, r.to)
	return out, out != text
}

type replaceFirst struct {
	re *regexp.Regexp
	to string
}

func (r replaceFirst) Rewrite(text string) (string, bool) {
	m := r.re.FindStringSubmatchIndex(text)
	if m == nil {
		return text, false
	}
	expanded := r.re.ExpandString(nil, r.to, text, m)
	out := text[:m[0]] + string(expanded) + text[m[1]:]
	return out, out != text
}

// splitDelimited reads n fields terminated by delim and returns them with
// whatever follows the last one. A backslash keeps the next byte literal;
// the backslash itself is retained for the regexp.
func splitDelimited(s string, delim byte, n int) ([]string, string, error) {
	fields := make([]string, 0, n)
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			cur.WriteByte(c)
			i++
			cur.WriteByte(s[i])
		case c == delim:
			fields = append(fields, cur.String())
			cur.Reset()
			if len(fields) == n {
				return fields, s[i+1:], nil
			}
		default:
			cur.WriteByte(c)
		}
	}
	return nil, "", errors.New("unterminated substitution")
}

func isDelimiter(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return false
	case c == ' ', c == '\t', c == '\\':
		return false
	}
	return true
}
