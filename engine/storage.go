package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thisisjab/logsieve/entity"
)

// Storage represents a storage interface for the engine.
type Storage interface {
	StoreParsedLogs(ctx context.Context, logs ...entity.LogRecord) error
}

// storageManager manages storage operations like inserting, buffering, and flushing logs.
// Note that you should never disable buffering and scheduled flushing together.
type storageManager struct {
	storage      Storage
	logger       *slog.Logger
	parsedBuffer []entity.LogRecord
	parsedMutex  sync.Mutex
	wg           sync.WaitGroup

	// bufferMaxSize defines the maximum items that buffer holds before flushing.
	// If value is reached, buffer will be flushed immediately.
	// Setting this to zero will disable size based flushing.
	bufferMaxSize uint

	// flushInterval defines the interval at which buffer will be flushed.
	// Setting flushInterval to 0 will disable scheduled flushing.
	flushInterval time.Duration
}

func newStorageManager(logger *slog.Logger, storage Storage, bufferMaxSize uint, flushInterval time.Duration) *storageManager {
	return &storageManager{
		logger:        logger,
		storage:       storage,
		bufferMaxSize: bufferMaxSize,
		parsedBuffer:  make([]entity.LogRecord, 0, bufferMaxSize),
		flushInterval: flushInterval,
	}
}

// run flushes the buffer periodically until done is closed, then flushes whatever is left.
func (sm *storageManager) run(ctx context.Context, done <-chan struct{}) {
	// A nil channel blocks forever, which is exactly what we want when scheduled flushing is disabled.
	var tick <-chan time.Time
	if sm.flushInterval > 0 {
		ticker := time.NewTicker(sm.flushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-done:
			sm.flushBuffers(ctx)
			sm.wg.Wait()
			return
		case <-tick:
			sm.flushBuffers(ctx)
		}
	}
}

func (sm *storageManager) flushBuffers(ctx context.Context) {
	var parsedToFlush []entity.LogRecord

	// Swap parsed buffer
	sm.parsedMutex.Lock()
	if len(sm.parsedBuffer) > 0 {
		parsedToFlush = sm.parsedBuffer
		sm.parsedBuffer = make([]entity.LogRecord, 0, sm.bufferMaxSize)
	}
	sm.parsedMutex.Unlock()

	if len(parsedToFlush) > 0 {
		sm.flushParsedLogs(ctx, parsedToFlush)
	}
}

func (sm *storageManager) flushParsedLogs(ctx context.Context, toFlush []entity.LogRecord) {
	sm.wg.Go(func() {
		if err := sm.storage.StoreParsedLogs(ctx, toFlush...); err != nil {
			flushesTotal.WithLabelValues("error").Inc()
			sm.logger.Error("failed to flush parsed logs", "error", err, "count", len(toFlush))
			return
		}

		flushesTotal.WithLabelValues("ok").Inc()
		sm.logger.Debug("flushed parsed logs successfully", "count", len(toFlush))
	})
}

func (sm *storageManager) addParsedLogs(ctx context.Context, logs ...entity.LogRecord) {
	if len(logs) == 0 {
		return
	}

	var toFlush []entity.LogRecord

	sm.parsedMutex.Lock()
	sm.parsedBuffer = append(sm.parsedBuffer, logs...)

	// Check if buffer reached flush size
	if sm.bufferMaxSize > 0 && uint(len(sm.parsedBuffer)) >= sm.bufferMaxSize {
		toFlush = sm.parsedBuffer
		sm.parsedBuffer = make([]entity.LogRecord, 0, sm.bufferMaxSize)
	}
	sm.parsedMutex.Unlock()

	// Flush asynchronously if needed
	if toFlush != nil {
		sm.flushParsedLogs(ctx, toFlush)
	}
}
