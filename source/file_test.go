package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/thisisjab/logsieve/entity"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(t *testing.T, logChan <-chan entity.RawLogRecord, n int) []string {
	t.Helper()

	var lines []string
	timeout := time.After(5 * time.Second)
	for len(lines) < n {
		select {
		case l := <-logChan:
			lines = append(lines, string(l.Data))
		case <-timeout:
			t.Fatalf("timed out waiting for lines, got %q", lines)
		}
	}
	return lines
}

func TestFileLogSourceReadExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	content := "INFO [billing] payment processed\r\nERROR [auth-svc] token expired\n\nWARN [db] no trailing newline"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	src, err := NewFileLogSource(discardLogger(), FileLogSourceConfig{
		Name:         "app",
		ParserNames:  []string{"example-regex"},
		Path:         path,
		ReadExisting: true,
	})
	if err != nil {
		t.Fatalf("NewFileLogSource() error = %v", err)
	}

	logChan := make(chan entity.RawLogRecord, 10)
	if err := src.Provide(context.Background(), logChan); err != nil {
		t.Fatalf("Provide() error = %v", err)
	}
	close(logChan)

	var records []entity.RawLogRecord
	for l := range logChan {
		records = append(records, l)
	}

	expected := []string{
		"INFO [billing] payment processed",
		"ERROR [auth-svc] token expired",
		"",
		"WARN [db] no trailing newline",
	}
	if len(records) != len(expected) {
		t.Fatalf("Got %d lines, want %d", len(records), len(expected))
	}
	for i, r := range records {
		if string(r.Data) != expected[i] {
			t.Errorf("line %d = %q, want %q", i, r.Data, expected[i])
		}
		if r.Source != "app" {
			t.Errorf("Source = %q, want %q", r.Source, "app")
		}
		if r.Timestamp.IsZero() {
			t.Errorf("Timestamp is zero")
		}
	}

	if src.Name() != "app" || len(src.ParserNames()) != 1 {
		t.Fatalf("unexpected name or parser names: %q %v", src.Name(), src.ParserNames())
	}
}

func TestFileLogSourceFollow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("OLD [x] skipped\n"), 0644); err != nil {
		t.Fatal(err)
	}

	src, err := NewFileLogSource(discardLogger(), FileLogSourceConfig{Name: "app", Path: path, Follow: true})
	if err != nil {
		t.Fatalf("NewFileLogSource() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logChan := make(chan entity.RawLogRecord, 10)
	done := make(chan error, 1)
	go func() { done <- src.Provide(ctx, logChan) }()

	// Give the watcher a moment to start before appending.
	time.Sleep(100 * time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := f.WriteString("INFO [billing] payment processed\nERROR [auth"); err != nil {
		t.Fatal(err)
	}
	lines := collect(t, logChan, 1)

	if _, err := f.WriteString("-svc] token expired\n"); err != nil {
		t.Fatal(err)
	}
	lines = append(lines, collect(t, logChan, 1)...)

	expected := []string{"INFO [billing] payment processed", "ERROR [auth-svc] token expired"}
	for i := range expected {
		if lines[i] != expected[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], expected[i])
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Provide() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Provide() did not return after cancel")
	}
}

func TestNewFileLogSourceErrors(t *testing.T) {
	tests := map[string]FileLogSourceConfig{
		"missing name":  {Path: "/tmp/x.log", Follow: true},
		"missing path":  {Name: "x", Follow: true},
		"nothing to do": {Name: "x", Path: "/tmp/x.log"},
	}

	for name, cfg := range tests {
		if _, err := NewFileLogSource(discardLogger(), cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestFileLogSourceMissingFile(t *testing.T) {
	src, err := NewFileLogSource(discardLogger(), FileLogSourceConfig{
		Name:         "app",
		Path:         filepath.Join(t.TempDir(), "missing.log"),
		ReadExisting: true,
	})
	if err != nil {
		t.Fatalf("NewFileLogSource() error = %v", err)
	}

	if err := src.Provide(context.Background(), make(chan entity.RawLogRecord, 1)); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
