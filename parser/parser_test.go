package parser

import (
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNamedCapture(t *testing.T) {
	re := regexp.MustCompile(`^(?P<key>\w+)=(\d+)(?:-(?<suffix>\w+))?$`)

	tests := map[string]map[string]string{
		"a=1":       {"key": "a", "suffix": ""},
		"abc=12-ok": {"key": "abc", "suffix": "ok"},
	}

	for input, expected := range tests {
		actual, ok := NamedCapture(re, input)
		if !ok {
			t.Fatalf("NamedCapture(%q) did not match", input)
		}
		if diff := cmp.Diff(expected, actual); diff != "" {
			t.Fatalf("NamedCapture(%q) mismatch (-want +got):\n%s", input, diff)
		}
	}

	if m, ok := NamedCapture(re, "no match"); ok || m != nil {
		t.Fatalf("NamedCapture(no match) = %v, %v; want nil, false", m, ok)
	}
}

func TestDescriptorValidate(t *testing.T) {
	if err := ExampleRegex().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if err := (Descriptor{Parse: ExampleRegex().Parse}).Validate(); err == nil {
		t.Fatalf("expected error for empty name")
	}

	if err := (Descriptor{Name: "nil"}).Validate(); err == nil {
		t.Fatalf("expected error for nil parse function")
	}
}

func TestNewContext(t *testing.T) {
	if got := NewContext("app").Source(); got != "app" {
		t.Fatalf("Source() = %q, want %q", got, "app")
	}
}
