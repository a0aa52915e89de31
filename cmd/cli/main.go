package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/thisisjab/logsieve/config"
	"github.com/thisisjab/logsieve/parser"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "logsieve",
		Short: "Turn raw log lines into structured records",
		Long: `logsieve runs log lines through a registry of parsers and prints the records they produce.

Without --config only the built-in parsers are registered. With --config the parsers and registry
options of the config file are used instead.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug messages to stderr")

	rootCmd.AddCommand(newParseCommand(opts))
	rootCmd.AddCommand(newParsersCommand(opts))

	return rootCmd
}

// registry builds the parser registry for a command. Diagnostics go to the command's stderr so that
// stdout only carries records.
func (o *rootOptions) registry(cmd *cobra.Command) (*parser.Registry, *slog.Logger, error) {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	if o.configPath == "" {
		r := parser.NewRegistry(parser.RegistryOptions{})
		if err := parser.RegisterBuiltins(r); err != nil {
			return nil, nil, err
		}
		return r, logger, nil
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}

	r, err := cfg.ParseRegistry(logger)
	if err != nil {
		return nil, nil, err
	}

	return r, logger, nil
}
