// Package tools defines tool handlers the model can call during a turn loop,
// along with schema generation for their inputs and a dispatcher that routes
// tool-use requests to handlers.
package tools

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/conversation"
)

// Handler executes one tool call. The returned string becomes the tool
// result content handed back to the model; an error is converted to feedback
// text rather than aborting the turn.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Definition pairs the spec advertised to the model with the handler that
// services calls.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

// SchemaFor generates a JSON schema for a tool input struct. Definitions are
// expanded inline so providers that reject $ref schemas work too.
func SchemaFor(input interface{}) (json.RawMessage, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.Reflect(input)
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal tool schema")
	}
	return data, nil
}

// NewDefinition builds a Definition whose input schema is reflected from the
// given input struct.
func NewDefinition(name string, description string, input interface{}, handler Handler) (*Definition, error) {
	schema, err := SchemaFor(input)
	if err != nil {
		return nil, err
	}
	return &Definition{
		Name:        name,
		Description: description,
		InputSchema: schema,
		Handler:     handler,
	}, nil
}

// Spec converts the definition into the conversation-level tool spec used
// for registration and request preparation.
func (d *Definition) Spec() conversation.ToolSpec {
	return conversation.ToolSpec{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: d.InputSchema,
	}
}
