package processor

import (
	"errors"
	"io"
	"strconv"

	"github.com/go-faster/jx"
	"github.com/thisisjab/logsieve/entity"
	"github.com/thisisjab/logsieve/parser"
)

type JsonLineParserConfig struct {
	Name             string `yaml:"-"`
	LevelFieldName   string `yaml:"level_field"`
	MessageFieldName string `yaml:"message_field"`
	ServiceFieldName string `yaml:"service_field"`
}

// JsonLineParser parses lines holding a single JSON object. The level field is required, message and
// service default to empty strings. Other fields are ignored.
type JsonLineParser struct {
	cfg JsonLineParserConfig
}

// NewJsonLineParser creates a new instance of JsonLineParser.
func NewJsonLineParser(cfg JsonLineParserConfig) (*JsonLineParser, error) {
	if cfg.Name == "" {
		return nil, errors.New("parser name is required")
	}

	cfg.LevelFieldName = orDefault(cfg.LevelFieldName, "level")
	cfg.MessageFieldName = orDefault(cfg.MessageFieldName, "message")
	cfg.ServiceFieldName = orDefault(cfg.ServiceFieldName, "service")

	return &JsonLineParser{cfg: cfg}, nil
}

func (p *JsonLineParser) Name() string {
	return p.cfg.Name
}

func (p *JsonLineParser) Parse(line string, _ parser.Context) (entity.Record, bool) {
	d := jx.DecodeStr(line)
	if d.Next() != jx.Object {
		return entity.Record{}, false
	}

	var (
		rec      entity.Record
		hasLevel bool
	)

	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != p.cfg.LevelFieldName && key != p.cfg.MessageFieldName && key != p.cfg.ServiceFieldName {
			return d.Skip()
		}

		v, err := decodeJsonString(d)
		if err != nil {
			return err
		}

		// The same key may be configured for more than one field.
		if key == p.cfg.LevelFieldName {
			rec.Level = v
			hasLevel = true
		}
		if key == p.cfg.MessageFieldName {
			rec.Message = v
		}
		if key == p.cfg.ServiceFieldName {
			rec.Service = v
		}

		return nil
	})
	if err != nil || !hasLevel {
		return entity.Record{}, false
	}

	// Anything after the object means this is not a single JSON value.
	if err := d.Skip(); !errors.Is(err, io.EOF) {
		return entity.Record{}, false
	}

	return rec, true
}

// decodeJsonString reads the next value as text. Scalars keep their literal form, nested values are
// returned as raw JSON.
func decodeJsonString(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Bool:
		b, err := d.Bool()
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case jx.Null:
		return "", d.Null()
	default:
		raw, err := d.Raw()
		if err != nil {
			return "", err
		}
		return raw.String(), nil
	}
}
