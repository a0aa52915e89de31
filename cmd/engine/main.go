package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/thisisjab/logsieve/api"
	"github.com/thisisjab/logsieve/config"
	"github.com/thisisjab/logsieve/engine"
)

// connector is implemented by storages that need a live connection before use.
type connector interface {
	Connect(ctx context.Context) error
}

func main() {
	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfgPath := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	engineCfg, logger, err := cfg.Parse()
	if err != nil {
		if logger != nil {
			logger.Error("cannot parse config file", "error", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "cannot parse config file: %v\n", err)
		os.Exit(1)
	}

	if c, ok := engineCfg.Storage.(connector); ok {
		if err := c.Connect(ctx); err != nil {
			logger.Error("cannot connect to storage", "error", err)
			os.Exit(1)
		}
	}
	if c, ok := engineCfg.Storage.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				logger.Error("cannot close storage", "error", err)
			}
		}()
	}

	// Setup signal handling to catch Ctrl+C (SIGINT) or Terminate (SIGTERM)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal. shutting down.", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	e, err := engine.New(*engineCfg, logger)
	if err != nil {
		logger.Error("engine error.", "error", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	if cfg.API != nil {
		server, err := api.NewServer(*cfg.API, logger, engineCfg.Registry)
		if err != nil {
			logger.Error("server error.", "error", err)
			os.Exit(1)
		}

		wg.Go(func() {
			if err := server.Serve(ctx); err != nil {
				logger.Error("server error.", "error", err)
				cancel()
			}
		})
	}

	logRunResult(logger, e.Run(ctx))

	// Sources are exhausted at this point; the api server goes down with the engine.
	cancel()
	wg.Wait()
}

// logRunResult reports how the engine stopped. Cancellation is the normal way to stop it on a signal.
func logRunResult(logger *slog.Logger, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("engine error.", "error", err)
	}
	logger.Info("engine stopped.")
}
