package capability

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaValidator validates command args against a tool's parameter
// schema. Compiled schemas are cached keyed by their raw bytes, so the
// per-dispatch cost after the first command to a tool is one map read.
type schemaValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{
		cache: make(map[string]*jsonschema.Schema),
	}
}

// Validate validates args against the given JSON-schema document.
// A missing or empty schema means no validation.
func (v *schemaValidator) Validate(schemaDoc json.RawMessage, args map[string]any) error {
	if len(schemaDoc) == 0 || string(schemaDoc) == "{}" || string(schemaDoc) == "null" {
		return nil
	}

	compiled, err := v.compile(schemaDoc)
	if err != nil {
		return fmt.Errorf("compiling parameter schema: %w", err)
	}

	// jsonschema validates generic decoded values; a nil args map is
	// an empty object.
	var doc any = map[string]any{}
	if args != nil {
		doc = args
	}
	return compiled.Validate(doc)
}

func (v *schemaValidator) compile(schemaDoc json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schemaDoc)

	v.mu.RLock()
	if s, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return s, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock
	if s, ok := v.cache[key]; ok {
		return s, nil
	}

	var schemaMap any
	if err := json.Unmarshal(schemaDoc, &schemaMap); err != nil {
		return nil, fmt.Errorf("unmarshalling schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaMap); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}
