package mcp

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const direction = `{"type":"string","enum":["north","south","east","west","n","s","e","w"]}`

// toolSchemas are the argument schemas advertised to clients and enforced
// before an intent is dispatched.
var toolSchemas = map[string]string{
	toolMine: `{
  "type": "object",
  "properties": {
    "material": {"type": "string", "minLength": 1, "description": "block name, e.g. iron_ore"},
    "count": {"type": "integer", "minimum": 1, "maximum": 2304},
    "max_distance": {"type": "integer", "minimum": 1, "maximum": 256}
  },
  "required": ["material", "count"],
  "additionalProperties": false
}`,
	toolDigDown: `{
  "type": "object",
  "properties": {
    "target_y": {"type": "integer", "minimum": -64, "maximum": 320},
    "direction": ` + direction + `
  },
  "required": ["target_y"],
  "additionalProperties": false
}`,
	toolTunnel: `{
  "type": "object",
  "properties": {
    "direction": ` + direction + `,
    "length": {"type": "integer", "minimum": 1, "maximum": 256}
  },
  "required": ["direction", "length"],
  "additionalProperties": false
}`,
	toolBranchMine: `{
  "type": "object",
  "properties": {
    "direction": ` + direction + `,
    "length": {"type": "integer", "minimum": 1, "maximum": 256},
    "interval": {"type": "integer", "minimum": 1, "maximum": 64},
    "branch_length": {"type": "integer", "minimum": 1, "maximum": 64}
  },
  "required": ["direction", "length"],
  "additionalProperties": false
}`,
	toolPlace: `{
  "type": "object",
  "properties": {
    "item": {"type": "string", "minLength": 1},
    "target": {
      "type": "object",
      "properties": {"x": {"type": "integer"}, "y": {"type": "integer"}, "z": {"type": "integer"}},
      "required": ["x", "y", "z"],
      "additionalProperties": false
    }
  },
  "required": ["item"],
  "additionalProperties": false
}`,
	toolBuildShelter: `{
  "type": "object",
  "properties": {"material": {"type": "string", "minLength": 1}},
  "additionalProperties": false
}`,
	toolDigShelter:  `{"type": "object", "properties": {}, "additionalProperties": false}`,
	toolEscapeWater: `{"type": "object", "properties": {}, "additionalProperties": false}`,
	toolAttack: `{
  "type": "object",
  "properties": {"entity": {"type": "string", "description": "entity type; nearest hostile when omitted"}},
  "additionalProperties": false
}`,
	toolAbort: `{"type": "object", "properties": {}, "additionalProperties": false}`,
	toolStatus: `{
  "type": "object",
  "properties": {"recent": {"type": "integer", "minimum": 0, "maximum": 100}},
  "additionalProperties": false
}`,
}

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func schemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = map[string]*jsonschema.Schema{}
		for name, src := range toolSchemas {
			s, err := jsonschema.CompileString("mem://tools/"+name+".schema.json", src)
			if err != nil {
				compileErr = fmt.Errorf("compile %s schema: %w", name, err)
				return
			}
			compiled[name] = s
		}
	})
	return compiled, compileErr
}

// validateArgs checks decoded tool arguments against the tool's schema.
func validateArgs(tool string, args map[string]any) error {
	all, err := schemas()
	if err != nil {
		return err
	}
	s, ok := all[tool]
	if !ok {
		return fmt.Errorf("no schema for %s", tool)
	}
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}
