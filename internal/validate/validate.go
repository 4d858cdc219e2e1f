package validate

import (
	"encoding/json"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validateJSON checks a decoded JSON value against schemaSrc.
func validateJSON(obj any, schemaSrc string) error {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("mem://schema.json", bytesReader(schemaSrc)); err != nil {
		return err
	}
	sch, err := c.Compile("mem://schema.json")
	if err != nil {
		return err
	}
	return sch.Validate(obj)
}

// NodeConfig validates raw node-config.json content.
func NodeConfig(raw []byte) error { return validateRaw(raw, nodeConfigSchema) }

// AppConfig validates raw config.json content.
func AppConfig(raw []byte) error { return validateRaw(raw, appConfigSchema) }

func validateRaw(raw []byte, schema string) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return validateJSON(v, schema)
}

const nodeConfigSchema = `{
  "$schema":"https://json-schema.org/draft/2020-12/schema",
  "type":"object",
  "required":["portable"],
  "properties":{
    "portable":{"type":"boolean"},
    "node_path":{"type":"string"}
  }
}`

const appConfigSchema = `{
  "$schema":"https://json-schema.org/draft/2020-12/schema",
  "type":"object",
  "properties":{
    "auth_token":{"type":["string","null"]},
    "email":{"type":["string","null"]}
  }
}`

// Helper to provide io.ReadSeeker from string for jsonschema compiler
func bytesReader(s string) *bytesReaderT { return &bytesReaderT{b: []byte(s)} }

type bytesReaderT struct {
	b []byte
	i int64
}

func (r *bytesReaderT) Read(p []byte) (int, error) {
	n := copy(p, r.b[r.i:])
	r.i += int64(n)
	if r.i >= int64(len(r.b)) {
		return n, io.EOF
	}
	return n, nil
}

func (r *bytesReaderT) Seek(off int64, whence int) (int64, error) {
	switch whence {
	case 0:
		r.i = off
	case 1:
		r.i += off
	case 2:
		r.i = int64(len(r.b)) + off
	}
	if r.i < 0 {
		r.i = 0
	}
	if r.i > int64(len(r.b)) {
		r.i = int64(len(r.b))
	}
	return r.i, nil
}
