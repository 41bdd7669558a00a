package adapter

import (
	"bytes"
	"encoding/json"
	"sync"

	gschema "github.com/google/jsonschema-go/jsonschema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wilhg/toolgate/pkg/errmodel"
)

// ObjectSchema renders an object schema with the given properties as JSON.
func ObjectSchema(props map[string]*gschema.Schema, required ...string) []byte {
	s := &gschema.Schema{Type: "object", Properties: props, Required: required}
	b, err := json.Marshal(s)
	if err != nil {
		// Schemas are built from static literals; a failure is a programming error.
		panic("adapter: marshal schema: " + err.Error())
	}
	return b
}

// StringProp is a string property schema.
func StringProp(desc string) *gschema.Schema {
	return &gschema.Schema{Type: "string", Description: desc}
}

// IntegerProp is an integer property schema.
func IntegerProp(desc string) *gschema.Schema {
	return &gschema.Schema{Type: "integer", Description: desc}
}

// ObjectProp is a free-form object property schema.
func ObjectProp(desc string) *gschema.Schema {
	return &gschema.Schema{Type: "object", Description: desc}
}

// StringListProp is a list-of-strings property schema.
func StringListProp(desc string) *gschema.Schema {
	return &gschema.Schema{Type: "array", Description: desc, Items: &gschema.Schema{Type: "string"}}
}

var compiledSchemas sync.Map // string(schema) -> *jsonschema.Schema

// ValidateArgs checks args against an operation's input schema. Operations
// without a schema accept anything.
func ValidateArgs(op Operation, args map[string]any) error {
	if len(op.InputSchema) == 0 {
		return nil
	}
	sch, err := compileSchema(op.InputSchema)
	if err != nil {
		return errmodel.ExecutionFailed("invalid input schema", map[string]any{"tool": op.Name}, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return errmodel.InvalidArguments("arguments are not JSON-serializable", map[string]any{"tool": op.Name}, err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return errmodel.InvalidArguments("arguments are not valid JSON", map[string]any{"tool": op.Name}, err)
	}
	if err := sch.Validate(inst); err != nil {
		return errmodel.InvalidArguments("arguments do not match input schema", map[string]any{"tool": op.Name, "error": err.Error()}, err)
	}
	return nil
}

func compileSchema(raw []byte) (*jsonschema.Schema, error) {
	key := string(raw)
	if v, ok := compiledSchemas.Load(key); ok {
		return v.(*jsonschema.Schema), nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("mem://schema.json", doc); err != nil {
		return nil, err
	}
	sch, err := c.Compile("mem://schema.json")
	if err != nil {
		return nil, err
	}
	compiledSchemas.Store(key, sch)
	return sch, nil
}

// FindOperation returns the operation named tool from ops.
func FindOperation(ops []Operation, tool string) (Operation, bool) {
	for _, op := range ops {
		if op.Name == tool {
			return op, true
		}
	}
	return Operation{}, false
}
