package processor

import (
	"testing"

	"github.com/thisisjab/logsieve/entity"
	"github.com/thisisjab/logsieve/parser"
)

func TestRegexLineParser(t *testing.T) {
	p, err := NewRegexLineParser(RegexLineParserConfig{
		Name:         "nginx-error",
		Pattern:      `^(?P<lvl>[a-z]+): (?P<text>.+) \((?P<svc>\w+)\)$`,
		LevelGroup:   "lvl",
		MessageGroup: "text",
		ServiceGroup: "svc",
	})
	if err != nil {
		t.Fatalf("NewRegexLineParser() error = %v", err)
	}

	if p.Name() != "nginx-error" {
		t.Fatalf("Name() = %q, want %q", p.Name(), "nginx-error")
	}

	tests := map[string]struct {
		expected entity.Record
		ok       bool
	}{
		"error: upstream timed out (proxy)": {
			expected: entity.Record{Level: "error", Message: "upstream timed out", Service: "proxy"},
			ok:       true,
		},
		"ERROR: upper case level (proxy)": {},
		"":                                {},
	}

	for input, tt := range tests {
		actual, ok := p.Parse(input, parser.NewContext("test"))
		if ok != tt.ok || actual != tt.expected {
			t.Fatalf("Parse(%q) = (%+v, %v), want (%+v, %v)", input, actual, ok, tt.expected, tt.ok)
		}
	}
}

func TestRegexLineParserDefaultsMatchExample(t *testing.T) {
	p, err := NewRegexLineParser(RegexLineParserConfig{
		Name:    "copy",
		Pattern: `^(?<level>\w+)\s+\[(?<service>[^\]]+)\]\s+(?<msg>.*)$`,
	})
	if err != nil {
		t.Fatalf("NewRegexLineParser() error = %v", err)
	}

	example := parser.ExampleRegex()
	for _, line := range []string{
		"INFO [billing] payment processed",
		"ERROR [auth-svc] token expired: invalid signature",
		"malformed line without brackets",
		"WARN [] empty service",
		"",
	} {
		a, aOk := p.Parse(line, nil)
		b, bOk := example.Parse(line, nil)
		if a != b || aOk != bOk {
			t.Fatalf("Parse(%q) = (%+v, %v), example-regex = (%+v, %v)", line, a, aOk, b, bOk)
		}
	}
}

func TestNewRegexLineParserErrors(t *testing.T) {
	tests := map[string]RegexLineParserConfig{
		"missing name":    {Pattern: `(?P<level>\w+)`},
		"missing pattern": {Name: "x"},
		"invalid pattern": {Name: "x", Pattern: `(?P<level>\w+`},
		"missing groups":  {Name: "x", Pattern: `(?P<level>\w+) (?P<msg>.*)`},
	}

	for name, cfg := range tests {
		if _, err := NewRegexLineParser(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
