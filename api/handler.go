package api

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/go-faster/jx"
	"github.com/thisisjab/logsieve/fault"
	"github.com/thisisjab/logsieve/parser"
)

// defaultParseSource is handed to parsers when a request does not name a source.
const defaultParseSource = "api"

type parseLineRequest struct {
	Line   string
	Source string
}

func (req *parseLineRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "line":
			req.Line, err = decodeStringField(d, key)
		case "source":
			req.Source, err = decodeStringField(d, key)
		default:
			err = unknownFieldError(key)
		}
		return err
	})
}

type parsedRecord struct {
	Parser  string `json:"parser"`
	Level   string `json:"level"`
	Message string `json:"message"`
	Service string `json:"service"`
}

func (s *Server) listParsersHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, apiResponse{ //nolint:errcheck
		Success: true,
		Data:    map[string]any{"parsers": s.registry.Names()},
	}, nil)
}

// getParserHandler reports a single registered parser and its position in the registration order, which is
// the order parsers are tried in.
func (s *Server) getParserHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	position := slices.Index(s.registry.Names(), name)
	if position < 0 {
		s.handleError(w, r, fault.New(fault.NotFoundCode, fmt.Sprintf("Parser `%s` not found.", name)))
		return
	}

	_, builtin := parser.Builtin(name)

	s.writeJson(w, http.StatusOK, apiResponse{ //nolint:errcheck
		Success: true,
		Data: map[string]any{
			"name":     name,
			"position": position + 1,
			"builtin":  builtin,
		},
	}, nil)
}

// parseLineHandler runs a single line through the registry. A line that no parser accepts is still a
// successful response with `matched` set to false.
func (s *Server) parseLineHandler(w http.ResponseWriter, r *http.Request) {
	var req parseLineRequest
	if s.returnOnError(w, r, s.readJson(w, r, &req)) {
		return
	}

	if req.Source == "" {
		req.Source = defaultParseSource
	}

	matches := s.registry.Parse(req.Line, parser.NewContext(req.Source))

	records := make([]parsedRecord, len(matches))
	for i, m := range matches {
		records[i] = parsedRecord{
			Parser:  m.Parser,
			Level:   m.Record.Level,
			Message: m.Record.Message,
			Service: m.Record.Service,
		}
	}

	s.writeJson(w, http.StatusOK, apiResponse{ //nolint:errcheck
		Success: true,
		Data: map[string]any{
			"matched": len(records) > 0,
			"records": records,
		},
	}, nil)
}
