package processor

import (
	"errors"
	"strings"

	"github.com/go-logfmt/logfmt"
	"github.com/thisisjab/logsieve/entity"
	"github.com/thisisjab/logsieve/parser"
)

type LogfmtLineParserConfig struct {
	Name       string `yaml:"-"`
	LevelKey   string `yaml:"level_key"`
	MessageKey string `yaml:"message_key"`
	ServiceKey string `yaml:"service_key"`
}

// LogfmtLineParser parses `key=value` lines. Lines without the level key do not match.
type LogfmtLineParser struct {
	cfg LogfmtLineParserConfig
}

func NewLogfmtLineParser(cfg LogfmtLineParserConfig) (*LogfmtLineParser, error) {
	if cfg.Name == "" {
		return nil, errors.New("parser name is required")
	}

	cfg.LevelKey = orDefault(cfg.LevelKey, "level")
	cfg.MessageKey = orDefault(cfg.MessageKey, "msg")
	cfg.ServiceKey = orDefault(cfg.ServiceKey, "service")

	return &LogfmtLineParser{cfg: cfg}, nil
}

func (p *LogfmtLineParser) Name() string {
	return p.cfg.Name
}

func (p *LogfmtLineParser) Parse(line string, _ parser.Context) (entity.Record, bool) {
	var (
		rec      entity.Record
		hasLevel bool
	)

	d := logfmt.NewDecoder(strings.NewReader(line))
	if !d.ScanRecord() {
		return entity.Record{}, false
	}

	for d.ScanKeyval() {
		key := string(d.Key())
		if key == p.cfg.LevelKey {
			rec.Level = string(d.Value())
			hasLevel = true
		}
		if key == p.cfg.MessageKey {
			rec.Message = string(d.Value())
		}
		if key == p.cfg.ServiceKey {
			rec.Service = string(d.Value())
		}
	}

	if d.Err() != nil || !hasLevel {
		return entity.Record{}, false
	}

	return rec, true
}
