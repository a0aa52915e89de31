package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/go-faster/jx"
	"github.com/thisisjab/logsieve/entity"
)

// WriterStorage writes parsed logs to w as JSON, one record per line.
type WriterStorage struct {
	mu sync.Mutex
	w  io.Writer
	e  jx.Encoder
}

func NewWriterStorage(w io.Writer) *WriterStorage {
	return &WriterStorage{w: w}
}

func (s *WriterStorage) StoreParsedLogs(_ context.Context, logs ...entity.LogRecord) error {
	if len(logs) == 0 {
		return nil
	}

	// Flushes may run concurrently, and each batch is written in one go so lines never interleave.
	s.mu.Lock()
	defer s.mu.Unlock()

	s.e.Reset()
	for _, log := range logs {
		log.Encode(&s.e)
		s.e.RawStr("\n")
	}

	if _, err := s.w.Write(s.e.Bytes()); err != nil {
		return fmt.Errorf("couldn't write logs: %w", err)
	}

	return nil
}

// Close closes the underlying writer if it is an io.Closer.
func (s *WriterStorage) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
