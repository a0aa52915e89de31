package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/thisisjab/logsieve/api"
	"github.com/thisisjab/logsieve/engine"
	"github.com/thisisjab/logsieve/parser"
	"github.com/thisisjab/logsieve/processor"
	"github.com/thisisjab/logsieve/source"
	"github.com/thisisjab/logsieve/storage"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logger                  LoggerConfig   `yaml:"logger"`
	Registry                RegistryConfig `yaml:"registry"`
	Parsers                 []ParserConfig `yaml:"parsers"`
	Sources                 []SourceConfig `yaml:"sources"`
	Storage                 StorageConfig  `yaml:"storage"`
	API                     *api.Config    `yaml:"api"`
	RawLogsBufferSize       uint           `yaml:"raw_logs_buffer_size"`
	ProcessedLogsBufferSize uint           `yaml:"processed_logs_buffer_size"`
	StorageBufferSize       uint           `yaml:"storage_buffer_size"`
	StorageFlushInterval    time.Duration  `yaml:"storage_flush_interval"`
	ProcessorWorkersCount   uint           `yaml:"processor_workers_count"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Type   string `yaml:"type"`
	Output string `yaml:"output"`
}

type RegistryConfig struct {
	OnDuplicate string `yaml:"on_duplicate"`
	Match       string `yaml:"match"`
}

type ParserConfig struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Config any    `yaml:"config"`
}

type SourceConfig struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Parsers []string `yaml:"parsers"`
	Config  any      `yaml:"config"`
}

type StorageConfig struct {
	Type   string `yaml:"type"`
	Config any    `yaml:"config"`
}

// Load reads and decodes the YAML config file at path.
func Load(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read config file content: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("cannot parse config file: %w", err)
	}

	return cfg, nil
}

// Parse builds every component described by the config. The returned logger is non-nil whenever the
// logger section itself is valid, so callers can use it to report the error.
func (cfg Config) Parse() (*engine.Config, *slog.Logger, error) {
	logger, err := cfg.ParseLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create logger: %w", err)
	}

	registry, groups, err := cfg.parseRegistry(logger)
	if err != nil {
		return nil, logger, err
	}

	sources := make(map[string]engine.LogSource, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		if _, ok := sources[sc.Name]; ok {
			return nil, logger, fmt.Errorf("duplicate source name `%s`", sc.Name)
		}

		if err := checkSourceParsers(sc, registry, groups); err != nil {
			return nil, logger, err
		}

		s, err := parseSourceConfig(logger, sc)
		if err != nil {
			return nil, logger, fmt.Errorf("cannot create source `%s`: %w", sc.Name, err)
		}
		sources[sc.Name] = s
	}

	st, err := parseStorageConfig(cfg.Storage)
	if err != nil {
		return nil, logger, fmt.Errorf("cannot create storage: %w", err)
	}

	return &engine.Config{
		Sources:                 sources,
		Registry:                registry,
		Storage:                 st,
		StorageFlushInterval:    cfg.StorageFlushInterval,
		StorageBufferMaxSize:    cfg.StorageBufferSize,
		RawLogsBufferMaxSize:    cfg.RawLogsBufferSize,
		ParsedLogsBufferMaxSize: cfg.ProcessedLogsBufferSize,
		ProcessorWorkersCount:   cfg.ProcessorWorkersCount,
	}, logger, nil
}

func (cfg Config) ParseLogger() (*slog.Logger, error) {
	lc := cfg.Logger
	lc.Output = cfg.logOutput()
	return parseLoggerConfig(lc)
}

// logOutput keeps logs out of the record stream when records are written to stdout and no output is set.
func (cfg Config) logOutput() string {
	if cfg.Logger.Output != "" {
		return cfg.Logger.Output
	}

	switch cfg.Storage.Type {
	case "", "stdout":
		return "stderr"
	default:
		return "stdout"
	}
}

// ParseRegistry builds the parser registry and registers every configured parser in order.
// When no parsers are configured the built-in ones are registered instead.
func (cfg Config) ParseRegistry(logger *slog.Logger) (*parser.Registry, error) {
	registry, _, err := cfg.parseRegistry(logger)
	return registry, err
}

// parseRegistry also returns, for every configured parser that registered under other names (lua
// scripts), the names it registered.
func (cfg Config) parseRegistry(logger *slog.Logger) (*parser.Registry, map[string][]string, error) {
	onDuplicate, err := parser.ParseDuplicatePolicy(cfg.Registry.OnDuplicate)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create registry: %w", err)
	}

	match, err := parser.ParseMatchMode(cfg.Registry.Match)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create registry: %w", err)
	}

	registry := parser.NewRegistry(parser.RegistryOptions{OnDuplicate: onDuplicate, Match: match})

	if len(cfg.Parsers) == 0 {
		if err := parser.RegisterBuiltins(registry); err != nil {
			return nil, nil, fmt.Errorf("cannot register builtin parsers: %w", err)
		}
		return registry, nil, nil
	}

	groups := make(map[string][]string)
	for _, pc := range cfg.Parsers {
		descriptors, err := parseParserConfig(logger, pc)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot create parser `%s`: %w", pc.Name, err)
		}

		for _, d := range descriptors {
			if err := registry.Register(d); err != nil {
				return nil, nil, fmt.Errorf("cannot register parser `%s`: %w", d.Name, err)
			}

			if d.Name != pc.Name {
				groups[pc.Name] = append(groups[pc.Name], d.Name)
			}
		}
	}

	return registry, groups, nil
}

// checkSourceParsers rejects sources that name a lua plugin entry instead of the parsers its script
// registered. Other unknown names are reported by the engine.
func checkSourceParsers(sc SourceConfig, registry *parser.Registry, groups map[string][]string) error {
	for _, name := range sc.Parsers {
		if _, ok := registry.Get(name); ok {
			continue
		}

		if names, ok := groups[name]; ok {
			return fmt.Errorf("source `%s` uses `%s` which is a plugin entry, not a parser; use the parsers it registers instead: %v",
				sc.Name, name, names)
		}
	}

	return nil
}

func parseLoggerConfig(cfg LoggerConfig) (*slog.Logger, error) {
	var handler slog.Handler

	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var w io.Writer
	switch cfg.Output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		return nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	switch cfg.Type {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "", "text":
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	case "colored-text":
		handler = tint.NewHandler(w, &tint.Options{Level: level, AddSource: true})
	default:
		return nil, fmt.Errorf("invalid log type: %s", cfg.Type)
	}

	return slog.New(handler), nil
}

func parseParserConfig(logger *slog.Logger, cfg ParserConfig) ([]parser.Descriptor, error) {
	if cfg.Name == "" {
		return nil, errors.New("parser name is required")
	}

	switch cfg.Type {
	case "builtin":
		d, ok := parser.Builtin(cfg.Name)
		if !ok {
			return nil, fmt.Errorf("unknown builtin parser, available parsers are %v", parser.BuiltinNames())
		}
		return []parser.Descriptor{d}, nil

	case "regex":
		var regexConfig processor.RegexLineParserConfig
		if err := remarshal(cfg.Config, &regexConfig); err != nil {
			return nil, fmt.Errorf("cannot parse regex parser config: %w", err)
		}

		regexConfig.Name = cfg.Name

		p, err := processor.NewRegexLineParser(regexConfig)
		if err != nil {
			return nil, fmt.Errorf("cannot create regex parser: %w", err)
		}
		return []parser.Descriptor{parser.FromLineParser(p)}, nil

	case "json":
		var jsonConfig processor.JsonLineParserConfig
		if err := remarshal(cfg.Config, &jsonConfig); err != nil {
			return nil, fmt.Errorf("cannot parse json parser config: %w", err)
		}

		jsonConfig.Name = cfg.Name

		p, err := processor.NewJsonLineParser(jsonConfig)
		if err != nil {
			return nil, fmt.Errorf("cannot create json parser: %w", err)
		}
		return []parser.Descriptor{parser.FromLineParser(p)}, nil

	case "logfmt":
		var logfmtConfig processor.LogfmtLineParserConfig
		if err := remarshal(cfg.Config, &logfmtConfig); err != nil {
			return nil, fmt.Errorf("cannot parse logfmt parser config: %w", err)
		}

		logfmtConfig.Name = cfg.Name

		p, err := processor.NewLogfmtLineParser(logfmtConfig)
		if err != nil {
			return nil, fmt.Errorf("cannot create logfmt parser: %w", err)
		}
		return []parser.Descriptor{parser.FromLineParser(p)}, nil

	case "lua":
		var luaConfig processor.LuaPluginConfig
		if err := remarshal(cfg.Config, &luaConfig); err != nil {
			return nil, fmt.Errorf("cannot parse lua plugin config: %w", err)
		}

		luaConfig.Name = cfg.Name

		p, err := processor.NewLuaPlugin(logger, luaConfig)
		if err != nil {
			return nil, fmt.Errorf("cannot create lua plugin: %w", err)
		}
		return p.Descriptors(), nil

	case "exec":
		var execConfig processor.ExecPluginConfig
		if err := remarshal(cfg.Config, &execConfig); err != nil {
			return nil, fmt.Errorf("cannot parse exec plugin config: %w", err)
		}

		execConfig.Name = cfg.Name

		// The plugin lives as long as the process and exits once its stdin is closed.
		p, err := processor.NewExecPlugin(logger, execConfig)
		if err != nil {
			return nil, fmt.Errorf("cannot create exec plugin: %w", err)
		}
		return []parser.Descriptor{parser.FromLineParser(p)}, nil

	default:
		return nil, fmt.Errorf("invalid parser type: %s", cfg.Type)
	}
}

func parseSourceConfig(logger *slog.Logger, cfg SourceConfig) (engine.LogSource, error) {
	if cfg.Name == "" {
		return nil, errors.New("source name is required")
	}

	switch cfg.Type {
	case "file":
		var fileConfig source.FileLogSourceConfig
		if err := remarshal(cfg.Config, &fileConfig); err != nil {
			return nil, fmt.Errorf("cannot parse file source config: %w", err)
		}

		fileConfig.Name = cfg.Name
		fileConfig.ParserNames = cfg.Parsers

		s, err := source.NewFileLogSource(logger, fileConfig)
		if err != nil {
			return nil, fmt.Errorf("cannot create file source: %w", err)
		}
		return s, nil

	case "stdin":
		return source.NewReaderLogSource(cfg.Name, cfg.Parsers, os.Stdin), nil

	default:
		return nil, fmt.Errorf("invalid log source type: %s", cfg.Type)
	}
}

func parseStorageConfig(cfg StorageConfig) (engine.Storage, error) {
	switch cfg.Type {
	case "clickhouse":
		var clickHouseConfig storage.ClickHouseStorageConfig
		if err := remarshal(cfg.Config, &clickHouseConfig); err != nil {
			return nil, fmt.Errorf("cannot parse clickhouse storage config: %w", err)
		}

		s, err := storage.NewClickHouseStorage(clickHouseConfig)
		if err != nil {
			return nil, fmt.Errorf("cannot create clickhouse storage: %w", err)
		}
		return s, nil

	case "file":
		var fileConfig storage.FileStorageConfig
		if err := remarshal(cfg.Config, &fileConfig); err != nil {
			return nil, fmt.Errorf("cannot parse file storage config: %w", err)
		}

		s, err := storage.NewFileStorage(fileConfig)
		if err != nil {
			return nil, fmt.Errorf("cannot create file storage: %w", err)
		}
		return s, nil

	case "", "stdout":
		// stdout is shared with the logger and must outlive the storage.
		return storage.NewWriterStorage(struct{ io.Writer }{os.Stdout}), nil

	default:
		return nil, fmt.Errorf("invalid storage type: %s", cfg.Type)
	}
}

// remarshal takes an input value, marshals it to YAML, and then unmarshals it into output.
// It converts the generic `config` blocks (map[string]any) into typed component configs.
// The output parameter must be a pointer to the target type.
func remarshal(input any, output any) error {
	if input == nil {
		return nil
	}

	yamlBytes, err := yaml.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal to YAML: %w", err)
	}

	if err := yaml.Unmarshal(yamlBytes, output); err != nil {
		return fmt.Errorf("failed to unmarshal from YAML: %w", err)
	}

	return nil
}
