package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// literalSubstitution replaces every exact occurrence of from. Kana and kanji
// have no case, so matching is byte exact.
type literalSubstitution struct {
	from string
	to   string
}

func parseLiteral(line string) (substitution, error) {
	from, to, ok := strings.Cut(line, "=>")
	if !ok {
		return nil, errors.New("invalid literal rule")
	}
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}
	if strings.Contains(to, from) {
		return nil, fmt.Errorf("literal rule %q would never settle", from)
	}
	return literalSubstitution{from: from, to: to}, nil
}

func (s literalSubstitution) Apply(input string) (string, bool) {
	if !strings.Contains(input, s.from) {
		return input, false
	}
	return strings.ReplaceAll(input, s.from, s.to), true
}

// regexSubstitution is written s/pattern/replacement/flags with any
// non-alphanumeric delimiter.
type regexSubstitution struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func parseRegex(line string) (substitution, error) {
	delim := line[1]
	pattern, pos, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := readDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	var global bool
	var prefix strings.Builder
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'g':
			global = true
		case 'i', 'm', 's':
			prefix.WriteRune(flag)
		case ' ':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}
	if prefix.Len() > 0 {
		pattern = "(?" + prefix.String() + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return regexSubstitution{re: re, replacement: replacement, global: global}, nil
}

func (s regexSubstitution) Apply(input string) (string, bool) {
	if s.global {
		output := s.re.ReplaceAllString(input, s.replacement)
		return output, output != input
	}

	loc := s.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	expanded := s.re.ExpandString(nil, s.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}

func readDelimited(line string, start int, delim byte) (string, int, error) {
	var b strings.Builder
	escaped := false
	for i := start; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			if c != delim {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == delim:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func looksLikeRegex(line string) bool {
	if len(line) < 2 || line[0] != 's' {
		return false
	}
	c := line[1]
	alnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
	return !alnum && c != ' ' && c != '\t' && c < 0x80
}
