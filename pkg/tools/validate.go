package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateAndCoerce checks the model-supplied arguments against the tool's
// Parameters schema. When plain validation fails it retries once after
// coercing the type mistakes models habitually make: quoted numbers for
// "number"/"integer" properties, bare numbers for "string" properties, and
// "true"/"false" strings for "boolean" properties. A schema that does not
// compile fails open, returning the arguments untouched.
func ValidateAndCoerce(t Tool, args map[string]any) (map[string]any, error) {
	raw := t.Parameters()
	if len(raw) == 0 {
		return args, nil
	}

	schema, err := compile(raw)
	if err != nil {
		return args, nil
	}

	if check(schema, args) == nil {
		return args, nil
	}

	coerced := make(map[string]any, len(args))
	types := propertyTypes(raw)
	for k, v := range args {
		coerced[k] = coerce(v, types[k])
	}
	if err := check(schema, coerced); err != nil {
		received, _ := json.MarshalIndent(args, "", "  ")
		return nil, fmt.Errorf("tool %q argument validation failed:\n%v\n\nReceived:\n%s",
			t.Name(), err, received)
	}
	return coerced, nil
}

// compile builds a fresh compiler per call; sharing one would collide on the
// resource URL across tools.
func compile(raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	const url = "mem://tool/schema"
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// check round-trips args through JSON so the instance matches what the
// validator expects (json.Number handling, no Go-native ints).
func check(schema *jsonschema.Schema, args map[string]any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}

// propertyTypes reads the declared "type" of each top-level property. Nested
// schemas are not coerced.
func propertyTypes(raw []byte) map[string]string {
	var def struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	_ = json.Unmarshal(raw, &def)

	out := make(map[string]string, len(def.Properties))
	for name, p := range def.Properties {
		out[name] = p.Type
	}
	return out
}

func coerce(v any, want string) any {
	switch want {
	case "number", "integer":
		s, ok := v.(string)
		if !ok {
			return v
		}
		var n float64
		if json.Unmarshal([]byte(s), &n) != nil {
			return v
		}
		if want == "integer" {
			return int64(n)
		}
		return n
	case "string":
		switch n := v.(type) {
		case float64:
			return fmt.Sprintf("%g", n)
		case int64:
			return fmt.Sprintf("%d", n)
		case json.Number:
			return n.String()
		}
	case "boolean":
		if s, ok := v.(string); ok {
			switch strings.ToLower(s) {
			case "true":
				return true
			case "false":
				return false
			}
		}
	}
	return v
}
