package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/thisisjab/logsieve/fault"
)

// maxBodyBytes leaves room for a maximum sized line plus JSON escaping.
const maxBodyBytes = 2 << 20

type apiResponse struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// jsonDecoder is implemented by request bodies. Decode may return a fault carrying field errors.
type jsonDecoder interface {
	Decode(d *jx.Decoder) error
}

func (s *Server) readJson(w http.ResponseWriter, r *http.Request, dst jsonDecoder) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			return fault.New(fault.BadInputCode, fmt.Sprintf("Body must not be larger than %d bytes.", maxBytesError.Limit))
		}
		return fmt.Errorf("cannot read request body: %w", err)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return fault.New(fault.BadInputCode, "Body cannot be empty.")
	}

	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return fault.New(fault.BadInputCode, "Body must be a JSON object.")
	}

	if err := dst.Decode(d); err != nil {
		var f fault.Fault
		if errors.As(err, &f) {
			return f
		}
		return fault.New(fault.BadInputCode, "Body contains badly-formed JSON.").WithOriginal(err)
	}

	if err := d.Skip(); !errors.Is(err, io.EOF) {
		return fault.New(fault.BadInputCode, "Body must only contain a single JSON value.")
	}

	return nil
}

// decodeStringField reads the value of key, reporting a field error when it is not a string.
func decodeStringField(d *jx.Decoder, key string) (string, error) {
	if d.Next() != jx.String {
		return "", fault.New(fault.BadInputCode, "").WithMetadata(fault.FieldErrorsMetadata{
			key: []string{"Expected type string."},
		})
	}
	return d.Str()
}

func unknownFieldError(key string) error {
	return fault.New(fault.BadInputCode, "").WithMetadata(fault.FieldErrorsMetadata{
		key: []string{"Key is unknown."},
	})
}

func (s *Server) writeJson(w http.ResponseWriter, status int, data apiResponse, headers http.Header) error {
	js, err := json.Marshal(data)
	if err != nil {
		return err
	}

	js = append(js, '\n')
	for key, value := range headers {
		w.Header()[key] = value
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(js) //nolint:errcheck

	return nil
}
