package source

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/thisisjab/logsieve/entity"
)

// ReaderLogSource reads lines from an io.Reader (usually stdin) until it is exhausted.
type ReaderLogSource struct {
	name        string
	parserNames []string
	r           io.Reader
}

func NewReaderLogSource(name string, parserNames []string, r io.Reader) *ReaderLogSource {
	return &ReaderLogSource{
		name:        name,
		parserNames: parserNames,
		r:           r,
	}
}

func (s *ReaderLogSource) Name() string {
	return s.name
}

func (s *ReaderLogSource) ParserNames() []string {
	return s.parserNames
}

func (s *ReaderLogSource) Provide(ctx context.Context, logChan chan<- entity.RawLogRecord) error {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := send(ctx, logChan, s.name, scanner.Bytes()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", s.name, err)
	}

	return nil
}
