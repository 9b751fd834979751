package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultIterationLimit bounds how many substitution passes Apply makes.
const DefaultIterationLimit = 30

type substitution interface {
	Apply(input string) (output string, changed bool)
}

// LineParser turns one non-comment line of a reading rules file into a
// directive.
type LineParser interface {
	CanParse(line string) bool
	Parse(line string, into *Set) error
}

// Set is a parsed reading rules file.
//
// Ignore literals extend the acceptance gate's ignore list. Substitutions
// rewrite accepted text right before it is voiced; they never see gate input
// or history.
type Set struct {
	ignore         []string
	substitutions  []substitution
	iterationLimit int
}

// Empty returns a set with no directives.
func Empty() *Set {
	return &Set{iterationLimit: DefaultIterationLimit}
}

// Load reads path with the built-in parsers. A blank path or a missing file
// yields an empty set.
func Load(path string, iterationLimit int) (*Set, error) {
	return LoadWithParsers(path, iterationLimit, defaultParsers())
}

func LoadWithParsers(path string, iterationLimit int, parsers []LineParser) (*Set, error) {
	if len(parsers) == 0 {
		parsers = defaultParsers()
	}

	set := Empty()
	if iterationLimit > 0 {
		set.iterationLimit = iterationLimit
	}
	if strings.TrimSpace(path) == "" {
		return set, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return set, nil
		}
		return nil, fmt.Errorf("read rules file %q: %w", path, err)
	}

	if err := Parse(string(contents), set, parsers); err != nil {
		return nil, fmt.Errorf("parse rules file %q: %w", path, err)
	}
	return set, nil
}

// Parse adds every directive in contents to set. Nil parsers means the
// built-in ones.
func Parse(contents string, set *Set, parsers []LineParser) error {
	if len(parsers) == 0 {
		parsers = defaultParsers()
	}
	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		handled := false
		for _, parser := range parsers {
			if !parser.CanParse(line) {
				continue
			}
			if err := parser.Parse(line, set); err != nil {
				return fmt.Errorf("line %d: %w", index+1, err)
			}
			handled = true
			break
		}
		if !handled {
			return fmt.Errorf("line %d: unsupported rule format", index+1)
		}
	}
	return nil
}

// IgnoreList returns the literals declared with "ignore:".
func (s *Set) IgnoreList() []string {
	return append([]string(nil), s.ignore...)
}

func (s *Set) SubstitutionCount() int {
	return len(s.substitutions)
}

// Apply rewrites text until no substitution changes it. Rules that are still
// changing the text after the iteration limit return the input unchanged
// with an error.
func (s *Set) Apply(text string) (string, error) {
	if s == nil || len(s.substitutions) == 0 {
		return text, nil
	}

	result := text
	for pass := 0; pass < s.iterationLimit; pass++ {
		next, changed := s.pass(result)
		if !changed {
			return result, nil
		}
		result = next
	}
	if _, changed := s.pass(result); changed {
		return text, fmt.Errorf("rules did not settle within %d iterations", s.iterationLimit)
	}
	return result, nil
}

func (s *Set) pass(text string) (string, bool) {
	changed := false
	for _, sub := range s.substitutions {
		if next, ok := sub.Apply(text); ok {
			text = next
			changed = true
		}
	}
	return text, changed
}

func defaultParsers() []LineParser {
	return []LineParser{ignoreParser{}, regexParser{}, literalParser{}}
}

const ignorePrefix = "ignore:"

type ignoreParser struct{}

func (ignoreParser) CanParse(line string) bool {
	return strings.HasPrefix(line, ignorePrefix)
}

func (ignoreParser) Parse(line string, into *Set) error {
	literal := strings.TrimSpace(strings.TrimPrefix(line, ignorePrefix))
	if literal == "" {
		return errors.New("ignore literal cannot be empty")
	}
	into.ignore = append(into.ignore, literal)
	return nil
}

type literalParser struct{}

func (literalParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

func (literalParser) Parse(line string, into *Set) error {
	sub, err := parseLiteral(line)
	if err != nil {
		return err
	}
	into.substitutions = append(into.substitutions, sub)
	return nil
}

type regexParser struct{}

func (regexParser) CanParse(line string) bool {
	return looksLikeRegex(line)
}

func (regexParser) Parse(line string, into *Set) error {
	sub, err := parseRegex(line)
	if err != nil {
		return err
	}
	into.substitutions = append(into.substitutions, sub)
	return nil
}
