// Package source provides log sources that feed raw lines into the engine.
package source

import (
	"bytes"
	"context"
	"time"

	"github.com/thisisjab/logsieve/entity"
)

// maxLineSize is the longest line a reader based source accepts.
const maxLineSize = 1024 * 1024

// trimLineEnding removes a trailing "\n" or "\r\n".
func trimLineEnding(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// send copies line into a new record and hands it to logChan, giving up if ctx is cancelled.
func send(ctx context.Context, logChan chan<- entity.RawLogRecord, sourceName string, line []byte) error {
	l := entity.RawLogRecord{
		Source:    sourceName,
		Data:      bytes.Clone(trimLineEnding(line)),
		Timestamp: time.Now(),
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case logChan <- l:
		return nil
	}
}
