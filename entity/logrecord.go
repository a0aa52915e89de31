package entity

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
)

// Record is the structured form of a single log line as produced by a line parser.
// Downstream consumers depend on the exact field names.
type Record struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Service string `json:"service"`
}

// RawLogRecord represents a log line that is not parsed yet and was received from a log source.
type RawLogRecord struct {
	Source    string    `json:"source"`
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// LogRecord represents a log line that was matched by one of the registered parsers.
type LogRecord struct {
	ID        uuid.UUID `json:"id"`
	Source    string    `json:"source"`
	Parser    string    `json:"parser"`
	Timestamp time.Time `json:"timestamp"`
	Raw       string    `json:"raw"`

	Record
}

// NewLogRecord builds the stored form of raw as matched by parserName, with a fresh id.
func NewLogRecord(raw RawLogRecord, parserName string, rec Record) LogRecord {
	return LogRecord{
		ID:        uuid.New(),
		Source:    raw.Source,
		Parser:    parserName,
		Timestamp: raw.Timestamp,
		Raw:       string(raw.Data),
		Record:    rec,
	}
}

func (r LogRecord) String() string {
	e := &jx.Encoder{}
	r.Encode(e)
	return e.String()
}

// Encode writes the record as a single flat JSON object.
func (r LogRecord) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) {
			e.Str(r.ID.String())
		})
		e.Field("source", func(e *jx.Encoder) {
			e.Str(r.Source)
		})
		e.Field("parser", func(e *jx.Encoder) {
			e.Str(r.Parser)
		})
		e.Field("timestamp", func(e *jx.Encoder) {
			e.Str(r.Timestamp.Format(time.RFC3339Nano))
		})
		e.Field("level", func(e *jx.Encoder) {
			e.Str(r.Level)
		})
		e.Field("service", func(e *jx.Encoder) {
			e.Str(r.Service)
		})
		e.Field("message", func(e *jx.Encoder) {
			e.Str(r.Message)
		})
		e.Field("raw", func(e *jx.Encoder) {
			e.Str(r.Raw)
		})
	})
}
