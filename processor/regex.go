package processor

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/thisisjab/logsieve/entity"
	"github.com/thisisjab/logsieve/parser"
)

type RegexLineParserConfig struct {
	Name         string `yaml:"-"`
	Pattern      string `yaml:"pattern"`
	LevelGroup   string `yaml:"level_group"`
	MessageGroup string `yaml:"message_group"`
	ServiceGroup string `yaml:"service_group"`
}

// RegexLineParser extracts a record from the named groups of a user supplied regular expression.
type RegexLineParser struct {
	cfg RegexLineParserConfig
	re  *regexp.Regexp
}

func NewRegexLineParser(cfg RegexLineParserConfig) (*RegexLineParser, error) {
	if cfg.Name == "" {
		return nil, errors.New("parser name is required")
	}

	if cfg.Pattern == "" {
		return nil, errors.New("pattern is required")
	}

	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("cannot compile pattern: %w", err)
	}

	cfg.LevelGroup = orDefault(cfg.LevelGroup, "level")
	cfg.MessageGroup = orDefault(cfg.MessageGroup, "msg")
	cfg.ServiceGroup = orDefault(cfg.ServiceGroup, "service")

	for _, group := range []string{cfg.LevelGroup, cfg.MessageGroup, cfg.ServiceGroup} {
		if re.SubexpIndex(group) < 0 {
			return nil, fmt.Errorf("pattern has no named group `%s`", group)
		}
	}

	return &RegexLineParser{cfg: cfg, re: re}, nil
}

func (p *RegexLineParser) Name() string {
	return p.cfg.Name
}

func (p *RegexLineParser) Parse(line string, _ parser.Context) (entity.Record, bool) {
	m, ok := parser.NamedCapture(p.re, line)
	if !ok {
		return entity.Record{}, false
	}

	return entity.Record{
		Level:   m[p.cfg.LevelGroup],
		Message: m[p.cfg.MessageGroup],
		Service: m[p.cfg.ServiceGroup],
	}, true
}
