package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestLogRunResult(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantError bool
	}{
		{name: "sources exhausted", err: nil},
		{name: "signal", err: context.Canceled},
		{name: "wrapped cancellation", err: fmt.Errorf("running: %w", context.Canceled)},
		{name: "failure", err: errors.New("storage is gone"), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logRunResult(slog.New(slog.NewTextHandler(&buf, nil)), tt.err)

			out := buf.String()
			if got := strings.Contains(out, "engine error."); got != tt.wantError {
				t.Fatalf("logged engine error = %v, want %v, output %q", got, tt.wantError, out)
			}
			if !strings.Contains(out, "engine stopped.") {
				t.Fatalf("missing stop message, output %q", out)
			}
		})
	}
}
