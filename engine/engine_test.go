package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/thisisjab/logsieve/entity"
	"github.com/thisisjab/logsieve/parser"
	"github.com/thisisjab/logsieve/source"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memoryStorage struct {
	mu      sync.Mutex
	logs    []entity.LogRecord
	batches int
}

func (s *memoryStorage) StoreParsedLogs(_ context.Context, logs ...entity.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, logs...)
	s.batches++
	return nil
}

func (s *memoryStorage) records() []entity.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.logs)
}

// blockingSource never produces anything and only returns once ctx is cancelled.
type blockingSource struct{}

func (blockingSource) Name() string          { return "blocking" }
func (blockingSource) ParserNames() []string { return nil }
func (blockingSource) Provide(ctx context.Context, _ chan<- entity.RawLogRecord) error {
	<-ctx.Done()
	return ctx.Err()
}

func newRegistry(t *testing.T, opts parser.RegistryOptions, extra ...parser.Descriptor) *parser.Registry {
	t.Helper()

	r := parser.NewRegistry(opts)
	if err := parser.RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	for _, d := range extra {
		if err := r.Register(d); err != nil {
			t.Fatalf("Register(%s) error = %v", d.Name, err)
		}
	}
	return r
}

func TestEngineRun(t *testing.T) {
	input := strings.Join([]string{
		"INFO [billing] payment processed",
		"ERROR [auth-svc] token expired: invalid signature",
		"malformed line without brackets",
		"WARN [] empty service",
		"",
	}, "\n")

	st := &memoryStorage{}
	e, err := New(Config{
		Sources: map[string]LogSource{
			"stdin": source.NewReaderLogSource("stdin", nil, strings.NewReader(input)),
		},
		Registry:                newRegistry(t, parser.RegistryOptions{}),
		Storage:                 st,
		StorageBufferMaxSize:    100,
		RawLogsBufferMaxSize:    10,
		ParsedLogsBufferMaxSize: 10,
		ProcessorWorkersCount:   3,
	}, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	records := st.records()
	if len(records) != 2 {
		t.Fatalf("stored %d records, want 2: %+v", len(records), records)
	}

	// Workers run concurrently, so order is not guaranteed.
	slices.SortFunc(records, func(a, b entity.LogRecord) int { return strings.Compare(a.Level, b.Level) })

	expected := []entity.Record{
		{Level: "ERROR", Message: "token expired: invalid signature", Service: "auth-svc"},
		{Level: "INFO", Message: "payment processed", Service: "billing"},
	}
	for i, r := range records {
		if r.Record != expected[i] {
			t.Errorf("record %d = %+v, want %+v", i, r.Record, expected[i])
		}
		if r.Parser != parser.ExampleRegexName || r.Source != "stdin" {
			t.Errorf("record %d has parser %q and source %q", i, r.Parser, r.Source)
		}
		if r.ID == uuid.Nil {
			t.Errorf("record %d has no id", i)
		}
		if !strings.Contains(r.Raw, r.Message) {
			t.Errorf("record %d raw %q does not contain message %q", i, r.Raw, r.Message)
		}
	}
}

func TestEngineSourceParserRestriction(t *testing.T) {
	everything := parser.Descriptor{
		Name: "everything",
		Parse: func(line string, ctx parser.Context) (entity.Record, bool) {
			return entity.Record{Level: "RAW", Message: line, Service: ctx.Source()}, true
		},
	}
	registry := newRegistry(t, parser.RegistryOptions{Match: parser.MatchAll}, everything)

	st := &memoryStorage{}
	e, err := New(Config{
		Sources: map[string]LogSource{
			"restricted": source.NewReaderLogSource("restricted", []string{"everything"}, strings.NewReader("INFO [a] b\n")),
			"open":       source.NewReaderLogSource("open", nil, strings.NewReader("INFO [c] d\n")),
		},
		Registry:                registry,
		Storage:                 st,
		StorageFlushInterval:    10 * time.Millisecond,
		RawLogsBufferMaxSize:    1,
		ParsedLogsBufferMaxSize: 1,
		ProcessorWorkersCount:   1,
	}, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	counts := map[string][]string{}
	for _, r := range st.records() {
		counts[r.Source] = append(counts[r.Source], r.Parser)
	}
	slices.Sort(counts["open"])

	if !slices.Equal(counts["restricted"], []string{"everything"}) {
		t.Fatalf("restricted source parsed by %v, want [everything]", counts["restricted"])
	}
	if !slices.Equal(counts["open"], []string{"everything", parser.ExampleRegexName}) {
		t.Fatalf("open source parsed by %v, want both parsers", counts["open"])
	}
}

func TestEngineRunCancelled(t *testing.T) {
	e, err := New(Config{
		Sources:                 map[string]LogSource{"blocking": blockingSource{}},
		Registry:                newRegistry(t, parser.RegistryOptions{}),
		Storage:                 &memoryStorage{},
		StorageFlushInterval:    time.Second,
		ParsedLogsBufferMaxSize: 1,
		ProcessorWorkersCount:   2,
	}, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}

func TestConfigValidate(t *testing.T) {
	registry := newRegistry(t, parser.RegistryOptions{})
	sources := map[string]LogSource{"blocking": blockingSource{}}

	valid := Config{
		Sources:                 sources,
		Registry:                registry,
		Storage:                 &memoryStorage{},
		StorageBufferMaxSize:    1,
		ParsedLogsBufferMaxSize: 1,
		ProcessorWorkersCount:   1,
	}
	if err := valid.validate(); err != nil {
		t.Fatalf("validate() error = %v", err)
	}

	tests := map[string]func(c *Config){
		"no sources":     func(c *Config) { c.Sources = nil },
		"no registry":    func(c *Config) { c.Registry = nil },
		"empty registry": func(c *Config) { c.Registry = parser.NewRegistry(parser.RegistryOptions{}) },
		"no storage":     func(c *Config) { c.Storage = nil },
		"no flushing":    func(c *Config) { c.StorageBufferMaxSize = 0 },
		"no parsed chan": func(c *Config) { c.ParsedLogsBufferMaxSize = 0 },
		"no workers":     func(c *Config) { c.ProcessorWorkersCount = 0 },
		"unknown parser": func(c *Config) {
			c.Sources = map[string]LogSource{"x": source.NewReaderLogSource("x", []string{"nope"}, strings.NewReader(""))}
		},
	}

	for name, mutate := range tests {
		c := valid
		mutate(&c)
		if err := c.validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestStorageManagerFlushBySize(t *testing.T) {
	st := &memoryStorage{}
	sm := newStorageManager(discardLogger(), st, 2, 0)

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		sm.run(context.Background(), done)
		close(finished)
	}()

	for range 5 {
		sm.addParsedLogs(context.Background(), entity.LogRecord{ID: uuid.New()})
	}

	close(done)
	<-finished

	if got := len(st.records()); got != 5 {
		t.Fatalf("stored %d records, want 5", got)
	}
	// Two full buffers plus the final flush of the remaining record.
	if st.batches != 3 {
		t.Fatalf("flushed %d batches, want 3", st.batches)
	}
}

func TestStorageManagerFlushByInterval(t *testing.T) {
	st := &memoryStorage{}
	sm := newStorageManager(discardLogger(), st, 0, 10*time.Millisecond)

	done := make(chan struct{})
	defer close(done)
	go sm.run(context.Background(), done)

	sm.addParsedLogs(context.Background(), entity.LogRecord{ID: uuid.New()})

	deadline := time.Now().Add(5 * time.Second)
	for len(st.records()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("buffer was not flushed by the ticker")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngineMetrics(t *testing.T) {
	const src = "metrics-src"

	matchedBefore := testutil.ToFloat64(linesTotal.WithLabelValues(src, "matched"))
	unmatchedBefore := testutil.ToFloat64(linesTotal.WithLabelValues(src, "unmatched"))
	recordsBefore := testutil.ToFloat64(recordsTotal.WithLabelValues(parser.ExampleRegexName))

	input := "INFO [a] one\nnot a log line\nWARN [b] two\n"
	e, err := New(Config{
		Sources: map[string]LogSource{
			src: source.NewReaderLogSource(src, nil, strings.NewReader(input)),
		},
		Registry:                newRegistry(t, parser.RegistryOptions{}),
		Storage:                 &memoryStorage{},
		StorageBufferMaxSize:    10,
		ParsedLogsBufferMaxSize: 10,
		ProcessorWorkersCount:   2,
	}, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := testutil.ToFloat64(linesTotal.WithLabelValues(src, "matched")) - matchedBefore; got != 2 {
		t.Errorf("matched lines = %v, want 2", got)
	}
	if got := testutil.ToFloat64(linesTotal.WithLabelValues(src, "unmatched")) - unmatchedBefore; got != 1 {
		t.Errorf("unmatched lines = %v, want 1", got)
	}
	if got := testutil.ToFloat64(recordsTotal.WithLabelValues(parser.ExampleRegexName)) - recordsBefore; got < 2 {
		t.Errorf("records for %s grew by %v, want at least 2", parser.ExampleRegexName, got)
	}
}
