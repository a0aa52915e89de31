package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thisisjab/logsieve/entity"
	"github.com/thisisjab/logsieve/parser"
)

type Config struct {
	Sources                 map[string]LogSource
	Registry                *parser.Registry
	Storage                 Storage
	StorageFlushInterval    time.Duration
	StorageBufferMaxSize    uint
	RawLogsBufferMaxSize    uint
	ParsedLogsBufferMaxSize uint
	ProcessorWorkersCount   uint
}

// Engine orchestrates different components such as log sources (readers), the parser registry and storage.
type Engine struct {
	cfg            Config
	logger         *slog.Logger
	storageManager *storageManager
}

func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Engine{
		cfg:            cfg,
		logger:         logger,
		storageManager: newStorageManager(logger, cfg.Storage, cfg.StorageBufferMaxSize, cfg.StorageFlushInterval)}, nil
}

func (c Config) validate() error {
	if len(c.Sources) == 0 {
		return errors.New("no log sources are configured")
	}

	if c.Registry == nil || c.Registry.Len() == 0 {
		return errors.New("no parsers are registered")
	}

	for name, src := range c.Sources {
		for _, p := range src.ParserNames() {
			if _, ok := c.Registry.Get(p); !ok {
				return fmt.Errorf("source `%s` uses unknown parser `%s`", name, p)
			}
		}
	}

	if c.Storage == nil {
		return errors.New("no log storage is configured")
	}

	if c.StorageBufferMaxSize == 0 && c.StorageFlushInterval == 0 {
		return errors.New("buffer max size and storage flush interval cannot both be zero")
	}

	if c.ParsedLogsBufferMaxSize == 0 {
		return errors.New("parsed logs buffer max size cannot be zero")
	}

	if c.ProcessorWorkersCount == 0 {
		return errors.New("processor workers cannot be zero")
	}

	return nil
}

// Run blocks until every source is exhausted and all parsed logs are flushed, or until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	// Start consuming logs from all sources.
	// rawLogs will contain all raw logs from all sources.
	rawLogs := e.consumeLogs(ctx)

	var wg sync.WaitGroup
	parsedLogs := make(chan entity.LogRecord, e.cfg.ParsedLogsBufferMaxSize)
	storageDone := make(chan struct{})

	// Records that were already parsed are still stored after ctx is cancelled.
	storageCtx := context.WithoutCancel(ctx)

	pm := newProcessorManager(e.logger, e.cfg.Sources, e.cfg.Registry, e.cfg.ProcessorWorkersCount)

	// Storage manager handles buffering, and periodic saves.
	wg.Go(func() { e.storageManager.run(storageCtx, storageDone) })
	// Process manager handles fan-out pattern. It closes parsedLogs when done.
	wg.Go(func() { pm.run(ctx, rawLogs, parsedLogs) })

	for p := range parsedLogs {
		e.storageManager.addParsedLogs(storageCtx, p)
	}

	close(storageDone)
	wg.Wait()

	return ctx.Err()
}

func (e *Engine) consumeLogs(ctx context.Context) <-chan entity.RawLogRecord {
	rawLogs := make(chan entity.RawLogRecord, e.cfg.RawLogsBufferMaxSize)
	e.logger.Info("created incoming logs channel.", "size", e.cfg.RawLogsBufferMaxSize)

	var sourceWg sync.WaitGroup

	// Spawn sources
	for n, s := range e.cfg.Sources {
		sourceWg.Go(func() {
			err := s.Provide(ctx, rawLogs)

			if err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("log source failed.", "name", n, "error", err)
			}
		})
	}

	go func() {
		sourceWg.Wait()
		close(rawLogs)
	}()

	return rawLogs
}
