package engine

import (
	"context"

	"github.com/thisisjab/logsieve/entity"
)

// LogSource is an interface that defines the contract for log sources (providers).
type LogSource interface {
	Name() string
	Provide(ctx context.Context, logChan chan<- entity.RawLogRecord) error
	// ParserNames restricts which parsers are applied to lines of this source. Empty means all of them.
	ParserNames() []string
}
