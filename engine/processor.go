package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/thisisjab/logsieve/entity"
	"github.com/thisisjab/logsieve/parser"
)

type processorManager struct {
	sources      map[string]LogSource
	registry     *parser.Registry
	logger       *slog.Logger
	workersCount uint
	wg           sync.WaitGroup
}

func newProcessorManager(logger *slog.Logger, sources map[string]LogSource, registry *parser.Registry, workersCount uint) *processorManager {
	return &processorManager{
		sources:      sources,
		registry:     registry,
		logger:       logger,
		workersCount: workersCount,
	}
}

// run fans raw logs out to the workers and closes results once all of them are done.
func (pm *processorManager) run(ctx context.Context, rawLogsChan <-chan entity.RawLogRecord, results chan<- entity.LogRecord) {
	defer close(results)

	spawnWorker := func(workerId uint) {
		for {
			select {
			case <-ctx.Done():
				return
			case j, ok := <-rawLogsChan:
				if !ok {
					// The jobs channel is closed and empty. No more work.
					return
				}

				for _, parsed := range pm.processLog(j) {
					pm.logger.Debug("parsed log", "worker_id", workerId, "log_id", parsed.ID, "parser", parsed.Parser)

					select {
					case results <- parsed:
					case <-ctx.Done():
						// If we can't send because context is cancelled, exit.
						return
					}
				}
			}
		}
	}

	for i := range pm.workersCount {
		pm.wg.Go(func() {
			spawnWorker(i)
		})
	}

	pm.wg.Wait()
}

// processLog runs the registry over a single line. Lines no parser recognizes yield no records.
func (pm *processorManager) processLog(rawLog entity.RawLogRecord) []entity.LogRecord {
	var only []string
	if src, ok := pm.sources[rawLog.Source]; ok {
		only = src.ParserNames()
	} else {
		pm.logger.Warn("Source not found, applying all parsers", "source", rawLog.Source)
	}

	line := string(rawLog.Data)
	matches := pm.registry.ParseOnly(line, parser.NewContext(rawLog.Source), only)
	if len(matches) == 0 {
		linesTotal.WithLabelValues(rawLog.Source, "unmatched").Inc()
		pm.logger.Debug("line did not match any parser", "source", rawLog.Source)
		return nil
	}
	linesTotal.WithLabelValues(rawLog.Source, "matched").Inc()

	records := make([]entity.LogRecord, len(matches))
	for i, m := range matches {
		recordsTotal.WithLabelValues(m.Parser).Inc()
		records[i] = entity.NewLogRecord(rawLog, m.Parser, m.Record)
	}

	return records
}
