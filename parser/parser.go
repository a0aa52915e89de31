// Package parser defines the contract between line parsers and the host that runs them.
//
// A line parser is a pure function of a raw line and an opaque host context. It either returns a structured
// record or reports that the line is not in a shape it recognizes. Not matching is a normal result, never an error.
package parser

import (
	"errors"
	"regexp"

	"github.com/thisisjab/logsieve/entity"
)

// Context is supplied by the host to every parse call. Parsers must treat it as read-only.
type Context interface {
	// Source is the name of the log source the line came from.
	Source() string
}

// ParseFunc parses a single line. The second return value is false when the line does not match.
type ParseFunc func(line string, ctx Context) (entity.Record, bool)

// LineParser is implemented by parsers that are registered as values rather than descriptors.
type LineParser interface {
	Name() string
	Parse(line string, ctx Context) (entity.Record, bool)
}

// Descriptor is what a parser hands to the registry.
type Descriptor struct {
	Name  string
	Parse ParseFunc
}

func (d Descriptor) Validate() error {
	if d.Name == "" {
		return errors.New("parser name is required")
	}

	if d.Parse == nil {
		return errors.New("parse function is required")
	}

	return nil
}

// FromLineParser builds a descriptor out of a LineParser.
func FromLineParser(p LineParser) Descriptor {
	return Descriptor{Name: p.Name(), Parse: p.Parse}
}

type hostContext struct {
	source string
}

func (c hostContext) Source() string {
	return c.source
}

// NewContext returns the context the host passes along with lines read from the given source.
func NewContext(source string) Context {
	return hostContext{source: source}
}

// NamedCapture applies re to line and returns the named groups of the match.
// Unnamed groups are dropped. Groups that did not participate in the match map to an empty string.
func NamedCapture(re *regexp.Regexp, line string) (map[string]string, bool) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}

	names := re.SubexpNames()
	res := make(map[string]string, len(names)-1)
	for i := 1; i < len(m); i++ {
		if names[i] == "" {
			continue
		}
		res[names[i]] = m[i]
	}

	return res, true
}
