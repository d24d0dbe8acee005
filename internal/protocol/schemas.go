package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	TypeSubscribe: "subscribe.schema.json",
	TypeWelcome:   "welcome.schema.json",
	TypeFrame:     "frame.schema.json",
	TypePaint:     "paint.schema.json",
	TypeError:     "error.schema.json",
}

var ErrUnknownType = errors.New("unknown message type")

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		out := make(map[string]*jsonschema.Schema, len(schemaFiles))
		for typ, name := range schemaFiles {
			raw, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				schemasErr = err
				return
			}
			url := "mem://protocol/" + name
			if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
				schemasErr = fmt.Errorf("%s: %w", name, err)
				return
			}
			s, err := c.Compile(url)
			if err != nil {
				schemasErr = fmt.Errorf("compile %s: %w", name, err)
				return
			}
			out[typ] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// Validate decodes the message type and checks b against that type's schema.
func Validate(b []byte) (BaseMessage, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	all, err := loadSchemas()
	if err != nil {
		return base, err
	}
	s := all[base.Type]
	if s == nil {
		return base, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return base, fmt.Errorf("%s: %w", base.Type, err)
	}
	return base, nil
}
