package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/thisisjab/logsieve/entity"
	"github.com/thisisjab/logsieve/parser"
	"github.com/thisisjab/logsieve/source"
	"github.com/thisisjab/logsieve/storage"
)

const stdinSourceName = "stdin"

type parseOptions struct {
	*rootOptions
	parsers []string
}

type parseStats struct {
	lines   int
	matched int
}

func newParseCommand(root *rootOptions) *cobra.Command {
	opts := &parseOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "parse [files...]",
		Short: "Parse log lines and print the records as JSON lines",
		Long: `Parse every line of the given files, or of stdin when no file is given, and print one JSON
object per record. Lines that no parser recognizes are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd, opts, args)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.parsers, "parser", "p", nil, "only apply these parsers (repeatable)")

	return cmd
}

func runParse(cmd *cobra.Command, opts *parseOptions, args []string) error {
	r, logger, err := opts.registry(cmd)
	if err != nil {
		return err
	}

	for _, name := range opts.parsers {
		if _, ok := r.Get(name); !ok {
			return fmt.Errorf("unknown parser `%s`", name)
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	out := storage.NewWriterStorage(cmd.OutOrStdout())

	var stats parseStats
	if len(args) == 0 {
		src := source.NewReaderLogSource(stdinSourceName, opts.parsers, cmd.InOrStdin())
		if err := parseSource(ctx, r, src, out, &stats); err != nil {
			return err
		}
	}

	for _, path := range args {
		if err := parseFile(ctx, r, path, opts.parsers, out, &stats); err != nil {
			return err
		}
	}

	logger.Info("parsing finished", "lines", stats.lines, "matched", stats.matched)
	return nil
}

func parseFile(ctx context.Context, r *parser.Registry, path string, only []string, out *storage.WriterStorage, stats *parseStats) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()

	return parseSource(ctx, r, source.NewReaderLogSource(path, only, f), out, stats)
}

// parseSource drains src in order and writes each line's records before reading on.
func parseSource(ctx context.Context, r *parser.Registry, src *source.ReaderLogSource, out *storage.WriterStorage, stats *parseStats) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan entity.RawLogRecord, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- src.Provide(ctx, lines)
		close(lines)
	}()

	for raw := range lines {
		stats.lines++

		matches := r.ParseOnly(string(raw.Data), parser.NewContext(raw.Source), src.ParserNames())
		if len(matches) == 0 {
			continue
		}
		stats.matched++

		records := make([]entity.LogRecord, len(matches))
		for i, m := range matches {
			records[i] = entity.NewLogRecord(raw, m.Parser, m.Record)
		}

		if err := out.StoreParsedLogs(ctx, records...); err != nil {
			cancel()
			for range lines {
			}
			return err
		}
	}

	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
